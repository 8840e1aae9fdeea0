package commands

import (
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/collections/internal/cli/config"
	"github.com/conduit-lang/collections/internal/cli/ui"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

var (
	configPath string
	noColor    bool
)

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "collections",
		Short: "Collection, model and relation data engine",
		Long: color.CyanString(`collections - schema-driven content storage

Stores collections of JSON models validated against type schemas, keeps
them in hierarchies, links them with typed relations and resolves
rule-based linked collections over a JSON API.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./collections.yml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewValidateCommand())
	rootCmd.AddCommand(NewTokenCommand())
	rootCmd.AddCommand(NewLinkedCommand())
	rootCmd.AddCommand(NewListCommand())

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			titleColor := color.New(color.FgCyan, color.Bold)
			out := cmd.OutOrStdout()

			titleColor.Fprint(out, "collections version: ")
			cmd.Println(Version)
			titleColor.Fprint(out, "Git commit: ")
			cmd.Println(GitCommit)
			titleColor.Fprint(out, "Build date: ")
			cmd.Println(BuildDate)
			titleColor.Fprint(out, "Go version: ")
			cmd.Println(goVer)
		},
	}
}

// loadConfig reads the config named by --config and prints a formatted
// error when it is unusable.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		cmd.PrintErr(ui.ConfigError(err, noColor))
		return nil, err
	}
	return cfg, nil
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}
