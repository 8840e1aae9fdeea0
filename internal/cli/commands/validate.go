package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/cli/ui"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
)

var errValidationFailed = errors.New("validation failed")

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	var (
		projectFlag string
		typeFlag    string
	)
	cmd := &cobra.Command{
		Use:   "validate <collection-path> <file>",
		Short: "Check model data against a collection schema",
		Long: `Validate model data from a YAML or JSON file against the schema of a
stored collection, without writing anything. The file holds one data
document or a list of them.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := entity.ParseUUID(projectFlag)
			if err != nil {
				return fmt.Errorf("--project: %w", err)
			}
			path, err := entity.ParsePath(args[0])
			if err != nil {
				return err
			}
			docs, err := readModelData(args[1])
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.store.GetCollectionByPath(cmd.Context(), projectID, path)
			if err != nil {
				msg := ui.ErrorMessage(err, noColor)
				if errors.Is(err, errs.ErrNotFound) {
					for _, s := range suggestPaths(cmd.Context(), a, projectID, path) {
						msg.HelpCommands = append(msg.HelpCommands, "Did you mean "+s+"?")
					}
				}
				ui.Write(cmd.ErrOrStderr(), msg)
				return err
			}

			failed := 0
			for i, doc := range docs {
				if _, err := a.store.ValidateData(cmd.Context(), c, typeFlag, doc); err != nil {
					failed++
					msg := ui.ErrorMessage(err, noColor)
					msg.Problem = fmt.Sprintf("document %d: %s", i+1, msg.Problem)
					ui.Write(cmd.OutOrStdout(), msg)
					continue
				}
				ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("document %d is valid", i+1), noColor)
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d document(s)", errValidationFailed, failed, len(docs))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectFlag, "project", "p", "", "project id (required)")
	cmd.Flags().StringVarP(&typeFlag, "type", "t", "", "model type (default: the collection's default type)")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

// suggestPaths returns stored collection paths close to path.
func suggestPaths(ctx context.Context, a *app, projectID entity.UUID, path entity.Path) []string {
	page, err := a.store.ListCollections(ctx, projectID, nil)
	if err != nil {
		return nil
	}
	paths := make([]string, len(page.Items))
	for i, c := range page.Items {
		paths[i] = string(c.Path)
	}
	return ui.Suggest(string(path), paths, 3)
}

func readModelData(path string) ([]entity.Doc, error) {
	raw, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	var list []entity.Doc
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var one entity.Doc
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("%s must hold an object or a list of objects", path)
	}
	return []entity.Doc{one}, nil
}
