package commands

import (
	"fmt"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/collections/internal/cli/ui"
	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/migrate"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the engine tables",
		Long: `Create and inspect the tables of the configured database.

Available subcommands:
  up     - Apply pending migrations (runs the init SQL hooks)
  status - Show migration status
  reset  - Drop every engine table`,
	}

	cmd.AddCommand(newMigrateUpCommand())
	cmd.AddCommand(newMigrateStatusCommand())
	cmd.AddCommand(newMigrateResetCommand())

	return cmd
}

// withMigrator opens the configured database for the duration of fn.
func withMigrator(cmd *cobra.Command, fn func(m *migrate.Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := adapter.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer p.Close()
	return fn(migrate.New(p, logger.Named("migrate")))
}

func newMigrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrator) error {
				var n int
				err := ui.WithSpinner(cmd.ErrOrStderr(), "Applying migrations", noColor, func() error {
					var err error
					n, err = m.Bootstrap(cmd.Context())
					return err
				})
				if err != nil {
					cmd.PrintErr(ui.MigrationError(err, noColor))
					return err
				}
				if n == 0 {
					cmd.Println(ui.Info("No pending migrations", noColor))
					return nil
				}
				ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("Applied %d migration(s)", n), noColor)
				return nil
			})
		},
	}
}

func newMigrateStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrator) error {
				status, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, status.Summary())
				tbl := ui.NewTable(noColor, "VERSION", "NAME", "STATE")
				for _, mg := range status.Applied {
					tbl.AddRow(strconv.FormatInt(mg.Version, 10), mg.Name, "applied")
				}
				for _, mg := range status.Pending {
					tbl.AddRow(strconv.FormatInt(mg.Version, 10), mg.Name, "pending")
				}
				if tbl.Len() > 0 {
					fmt.Fprintln(out)
					tbl.Render(out)
				}
				return nil
			})
		},
	}
}

func newMigrateResetCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every engine table",
		Long:  "Drop all collections, models, relations and config documents. This cannot be undone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				confirmed := false
				prompt := &survey.Confirm{
					Message: "Drop every collection, model and relation?",
					Default: false,
				}
				if err := survey.AskOne(prompt, &confirmed); err != nil {
					return err
				}
				if !confirmed {
					cmd.Println(ui.Warning("Reset cancelled", noColor))
					return nil
				}
			}
			return withMigrator(cmd, func(m *migrate.Migrator) error {
				if err := m.Reset(cmd.Context()); err != nil {
					cmd.PrintErr(ui.MigrationError(err, noColor))
					return err
				}
				ui.WriteSuccess(cmd.OutOrStdout(), "All tables dropped", noColor)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
