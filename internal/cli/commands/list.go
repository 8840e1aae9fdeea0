package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/cli/ui"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/query"
)

// NewListCommand creates the ls command
func NewListCommand() *cobra.Command {
	var (
		projectFlag string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List the collections of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := entity.ParseUUID(projectFlag)
			if err != nil {
				return fmt.Errorf("--project: %w", err)
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

			page, err := a.store.ListCollections(cmd.Context(), projectID, &query.Syntax{Order: "path", Limit: &limit})
			if err != nil {
				ui.Write(cmd.ErrOrStderr(), ui.ErrorMessage(err, noColor))
				return err
			}
			out := cmd.OutOrStdout()
			if len(page.Items) == 0 {
				fmt.Fprintln(out, ui.Info("No collections", noColor))
				return nil
			}

			tbl := ui.NewTable(noColor, "PATH", "TYPES", "MODELS", "CARDINALITY", "ID")
			for _, c := range page.Items {
				n, err := a.store.CountModels(cmd.Context(), c.CollectionID)
				if err != nil {
					return err
				}
				card := "-"
				if c.Cardinality > 0 {
					card = strconv.Itoa(c.Cardinality)
				}
				tbl.AddRow(string(c.Path), strings.Join(c.Types, ","), strconv.Itoa(n), card, c.CollectionID.String())
			}
			tbl.Render(out)
			if page.HasMore {
				fmt.Fprintf(out, "\n%d of %d shown; raise --limit for more\n", len(page.Items), page.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectFlag, "project", "p", "", "project id (required)")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of collections")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
