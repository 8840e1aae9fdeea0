package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/cli/config"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/schema"
	"github.com/conduit-lang/collections/internal/web/auth"
)

var project = entity.MustParseUUID("1d4b6f8a-0c2e-4e6a-8b0d-3f5a7c9e1b42")

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeConfig creates a config for a sqlite file database in a temp dir.
func writeConfig(t *testing.T, secret string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	content := "database:\n  type: sqlite\n  dsn: " + filepath.Join(dir, "test.db") + "\nlog:\n  level: error\n"
	if secret != "" {
		content += "auth:\n  secret: " + secret + "\n"
	}
	return writeFile(t, dir, "collections.yml", content), dir
}

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "collections", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, expected := range []string{"version", "serve", "migrate", "validate", "token", "linked", "ls"} {
		assert.True(t, names[expected], "expected command %s to be registered", expected)
	}
}

func TestVersionCommand(t *testing.T) {
	Version = "1.2.3-test"
	defer func() { Version = "dev" }()

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "1.2.3-test")
	assert.Contains(t, out, "Go version")
}

func TestTokenCommand(t *testing.T) {
	path, _ := writeConfig(t, "cli-secret")

	out, err := run(t, "--config", path, "token", "--project", project.String(), "--subject", "ci")
	require.NoError(t, err)

	claims, err := auth.NewTokenService("cli-secret", time.Hour).Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, project, claims.ProjectID)
	assert.Equal(t, "ci", claims.Subject)

	noSecret, _ := writeConfig(t, "")
	_, err = run(t, "--config", noSecret, "token", "--project", project.String())
	assert.Error(t, err)

	_, err = run(t, "--config", path, "token", "--project", "nope")
	assert.Error(t, err)
}

const pageSchema = `{
	"page": {
		"required": ["title"],
		"properties": {
			"title":  {"type": "string"},
			"status": {"type": "string", "enum": ["draft", "live"]}
		}
	}
}`

func TestMigrateAndValidate(t *testing.T) {
	path, dir := writeConfig(t, "")

	out, err := run(t, "--config", path, "migrate", "up")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Applied")

	out, err = run(t, "--config", path, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending migrations")

	out, err = run(t, "--config", path, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "0 pending")
	assert.Contains(t, out, "applied")

	out, err = run(t, "--config", path, "ls", "--project", project.String())
	require.NoError(t, err)
	assert.Contains(t, out, "No collections")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	a, err := openApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	var types schema.Types
	require.NoError(t, json.Unmarshal([]byte(pageSchema), &types))
	_, err = a.store.CreateCollection(context.Background(), project, entity.CollectionInput{
		Path:    entity.Some(entity.Path("pages")),
		Types:   entity.Some([]string{"page"}),
		Schemas: entity.Some(types),
	})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	out, err = run(t, "--config", path, "ls", "--project", project.String())
	require.NoError(t, err)
	assert.Contains(t, out, "PATH")
	assert.Contains(t, out, "pages")

	good := writeFile(t, dir, "good.yml", "title: Home\nstatus: live\n")
	out, err = run(t, "--config", path, "validate", "--project", project.String(), "pages", good)
	require.NoError(t, err, out)
	assert.Contains(t, out, "document 1 is valid")

	mixed := writeFile(t, dir, "mixed.yml", "- title: Home\n- status: archived\n")
	out, err = run(t, "--config", path, "validate", "--project", project.String(), "pages", mixed)
	require.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out, "document 1 is valid")
	assert.Contains(t, out, "title: ")
	assert.Contains(t, out, "status: ")

	out, err = run(t, "--config", path, "validate", "--project", project.String(), "missing", good)
	assert.Error(t, err)
	assert.Contains(t, out, "NOT FOUND")

	out, err = run(t, "--config", path, "validate", "--project", project.String(), "page", good)
	assert.Error(t, err)
	assert.Contains(t, out, "Did you mean pages?")

	out, err = run(t, "--config", path, "migrate", "reset", "--yes")
	require.NoError(t, err, out)
	assert.Contains(t, out, "All tables dropped")
}

const rulesYAML = `
version: 1
rules:
  - id: images
    match: {domain: product, entity: product}
    target_query:
      type: image
      conditions:
        - {target_field: data.sku, operator: eq, value_source: model_field, value: sku}
  - id: manuals
    enabled: false
    match: {domain: product}
    target_query: {type: document}
`

func TestLinkedCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "rules.yml", rulesYAML)

	out, err := run(t, "linked", "check", good)
	require.NoError(t, err, out)
	assert.Contains(t, out, "2 rule(s)")
	assert.Contains(t, out, "images")
	assert.Contains(t, out, "manuals")
	assert.Contains(t, out, "(disabled)")

	bad := writeFile(t, dir, "bad.yml", "rules:\n  - id: x\n    target_query:\n      conditions:\n        - {target_field: data.a, operator: nope, value: 1}\n")
	_, err = run(t, "linked", "check", bad)
	assert.Error(t, err)
}

func TestLinkedPush(t *testing.T) {
	path, dir := writeConfig(t, "")
	_, err := run(t, "--config", path, "migrate", "up")
	require.NoError(t, err)
	rules := writeFile(t, dir, "rules.yml", rulesYAML)

	out, err := run(t, "--config", path, "linked", "push", "--project", project.String(), "--expect-version", "0", rules)
	require.NoError(t, err, out)
	assert.Contains(t, out, "version 1")

	_, err = run(t, "--config", path, "linked", "push", "--project", project.String(), "--expect-version", "0", rules)
	assert.Error(t, err)

	out, err = run(t, "--config", path, "linked", "push", "--project", project.String(), rules)
	require.NoError(t, err, out)
	assert.Contains(t, out, "version 2")
}
