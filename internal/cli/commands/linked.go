package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/cli/ui"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/linked"
)

// NewLinkedCommand creates the linked command
func NewLinkedCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linked",
		Short: "Check and publish linked collection rules",
	}
	cmd.AddCommand(newLinkedCheckCommand())
	cmd.AddCommand(newLinkedPushCommand())
	return cmd
}

func newLinkedCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a linked rules file offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readDocument(args[0])
			if err != nil {
				return err
			}
			cfg, err := linked.Parse(raw)
			if err != nil {
				ui.Write(cmd.ErrOrStderr(), ui.ErrorMessage(err, noColor))
				return err
			}
			printRules(cmd, cfg)
			return nil
		},
	}
}

func newLinkedPushCommand() *cobra.Command {
	var (
		projectFlag string
		version     int
	)
	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Store a linked rules file for a project",
		Long: `Validate a linked rules file and store it as the project's linked config.
With --expect-version the write fails unless the stored document is at that
version; 0 means it must not exist yet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := entity.ParseUUID(projectFlag)
			if err != nil {
				return fmt.Errorf("--project: %w", err)
			}
			raw, err := readDocument(args[0])
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

			var expected *int
			if cmd.Flags().Changed("expect-version") {
				expected = &version
			}
			rec, err := a.linked.Save(cmd.Context(), projectID, raw, expected)
			if err != nil {
				ui.Write(cmd.ErrOrStderr(), ui.ErrorMessage(err, noColor))
				return err
			}
			ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("Stored linked rules (version %d)", rec.Version), noColor)
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectFlag, "project", "p", "", "project id (required)")
	cmd.Flags().IntVar(&version, "expect-version", 0, "expected stored version")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func printRules(cmd *cobra.Command, cfg *linked.Config) {
	out := cmd.OutOrStdout()
	id := color.New(color.FgCyan, color.Bold)
	ui.WriteSuccess(out, fmt.Sprintf("%d rule(s)", len(cfg.Rules)), noColor)
	for i := range cfg.Rules {
		r := &cfg.Rules[i]
		state := ""
		if !r.IsEnabled() {
			state = " (disabled)"
		}
		domain, ent := r.TargetQuery.Target()
		id.Fprintf(out, "  %s", r.ID)
		fmt.Fprintf(out, "  %s.%s → %s.%s%s\n", r.Match.Domain, r.Match.Entity, domain, ent, state)
	}
}
