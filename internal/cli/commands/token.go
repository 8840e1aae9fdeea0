package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/web/auth"
)

// NewTokenCommand creates the token command
func NewTokenCommand() *cobra.Command {
	var (
		projectFlag string
		subject     string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := entity.ParseUUID(projectFlag)
			if err != nil {
				return fmt.Errorf("--project: %w", err)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			token, err := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL).Issue(projectID, subject)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&projectFlag, "project", "p", "", "project id (required)")
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}
