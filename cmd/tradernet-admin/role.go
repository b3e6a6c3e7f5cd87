package main

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage roles",
}

func init() {
	roleCmd.AddCommand(roleCreateCmd, roleListCmd, roleDeleteCmd)
}

var roleCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			role, err := a.roles.Create(ctx, args[0])
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Created role %s (id %s)", role.Name, role.ID)
			return nil
		})
	},
}

var roleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List roles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			roles, err := a.roles.List(ctx)
			if err != nil {
				return err
			}
			table := pterm.TableData{{"ID", "NAME"}}
			for _, r := range roles {
				table = append(table, []string{r.ID.String(), r.Name})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		})
	},
}

var roleDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a role and revoke it from every user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.roles.Delete(ctx, args[0]); err != nil {
				return err
			}
			pterm.Success.Printfln("Deleted role %s", args[0])
			return nil
		})
	},
}
