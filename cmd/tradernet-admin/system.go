package main

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Tradernet Identity Admin CLI\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.db.Migrate(ctx); err != nil {
				return err
			}
			version, err := a.db.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Schema is at version %d.", version)
			return nil
		})
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the required roles and the super user",
	Long: `bootstrap applies pending migrations, then creates the SUPER USER, ADMIN and
STANDARD roles and the configured super user if they are missing.
Running it again changes nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.db.Migrate(ctx); err != nil {
				return err
			}
			result, err := a.bootstrap.Run(ctx)
			if err != nil {
				return err
			}

			for _, name := range result.CreatedRoles {
				pterm.Success.Printfln("Created role %s", name)
			}
			if result.SuperUserCreated {
				pterm.Success.Printfln("Created super user %s", result.SuperUser.Username)
			} else {
				pterm.Info.Printfln("Super user %s already exists", result.SuperUser.Username)
			}
			if result.GeneratedPassword != "" {
				pterm.Warning.Printfln("Generated password: %s (must be changed at first login)", result.GeneratedPassword)
			}
			return nil
		})
	},
}
