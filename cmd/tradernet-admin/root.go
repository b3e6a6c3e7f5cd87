package main

import (
	"context"
	"errors"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tradernet-admin",
	Short: "Tradernet identity administration",
	Long: `tradernet-admin manages Tradernet user accounts, roles and groups.
It connects directly to the identity database described by the configuration
file and TRADERNET_* environment variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./config.yaml, ./configs, /etc/tradernet)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(roleCmd)
}

// runWithApp wires the services, runs fn and tears everything down.
func runWithApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()

	return fn(ctx, a)
}

// readSecret returns value, or prompts for it with masked input when empty.
func readSecret(value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	return pterm.DefaultInteractiveTextInput.WithMask("*").Show(prompt)
}
