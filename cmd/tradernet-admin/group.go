package main

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/prn-tf/tradernet-identity/internal/service"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage groups and the group hierarchy",
}

var groupCreateParents []string

func init() {
	groupCreateCmd.Flags().StringSliceVar(&groupCreateParents, "parent", nil, "parent group (repeatable)")

	groupParentCmd.AddCommand(groupParentAddCmd, groupParentRemoveCmd)
	groupCmd.AddCommand(groupCreateCmd, groupListCmd, groupShowCmd, groupParentCmd, groupDeleteCmd)
}

var groupCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			group, err := a.groups.Create(ctx, service.CreateGroupInput{Name: args[0], Parents: groupCreateParents})
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Created group %s (id %s)", group.Name, group.ID)
			return nil
		})
	},
}

var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List groups with their parents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			groups, err := a.groups.List(ctx)
			if err != nil {
				return err
			}
			table := pterm.TableData{{"ID", "NAME", "PARENTS"}}
			for _, g := range groups {
				table = append(table, []string{g.ID.String(), g.Name, groupNames(g.Parents())})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		})
	},
}

var groupShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a group and every ancestor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			group, err := a.groups.Get(ctx, args[0])
			if err != nil {
				return err
			}
			ancestors, err := a.groups.Ancestors(ctx, args[0])
			if err != nil {
				return err
			}
			return pterm.DefaultTable.WithData(pterm.TableData{
				{"ID", group.ID.String()},
				{"Name", group.Name},
				{"Parents", groupNames(group.Parents())},
				{"Ancestors", groupNames(ancestors)},
			}).Render()
		})
	},
}

var groupParentCmd = &cobra.Command{
	Use:   "parent",
	Short: "Edit the parents of a group",
}

var groupParentAddCmd = &cobra.Command{
	Use:   "add <group> <parent>",
	Short: "Make parent a parent of group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.groups.AddParent(ctx, args[0], args[1]); err != nil {
				return err
			}
			pterm.Success.Printfln("%s is now a parent of %s", args[1], args[0])
			return nil
		})
	},
}

var groupParentRemoveCmd = &cobra.Command{
	Use:   "remove <group> <parent>",
	Short: "Remove parent from the parents of group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.groups.RemoveParent(ctx, args[0], args[1]); err != nil {
				return err
			}
			pterm.Success.Printfln("%s is no longer a parent of %s", args[1], args[0])
			return nil
		})
	},
}

var groupDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a group with its memberships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.groups.Delete(ctx, args[0]); err != nil {
				return err
			}
			pterm.Success.Printfln("Deleted group %s", args[0])
			return nil
		})
	},
}
