package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/repository"
	"github.com/prn-tf/tradernet-identity/internal/service"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var (
	userCreateOpts struct {
		password      string
		email         string
		fullName      string
		roles         []string
		groups        []string
		properties    map[string]string
		expires       string
		neverExpires  bool
		mustChange    bool
		bypassLockout bool
		external      bool
	}
	userListOpts struct {
		status string
		offset int
		limit  int
	}
	userPasswdOpts struct {
		oldPassword string
		newPassword string
	}
)

func init() {
	f := userCreateCmd.Flags()
	f.StringVar(&userCreateOpts.password, "password", "", "initial password (prompted if empty)")
	f.StringVar(&userCreateOpts.email, "email", "", "contact email")
	f.StringVar(&userCreateOpts.fullName, "full-name", "", "display name")
	f.StringSliceVar(&userCreateOpts.roles, "role", nil, "role to grant (repeatable)")
	f.StringSliceVar(&userCreateOpts.groups, "group", nil, "group to join (repeatable)")
	f.StringToStringVar(&userCreateOpts.properties, "property", nil, "property name=value (repeatable)")
	f.StringVar(&userCreateOpts.expires, "expires", "", "account expiry (RFC 3339)")
	f.BoolVar(&userCreateOpts.neverExpires, "password-never-expires", false, "exempt the password from ageing")
	f.BoolVar(&userCreateOpts.mustChange, "change-password", false, "require a password change at first login")
	f.BoolVar(&userCreateOpts.bypassLockout, "bypass-lockout", false, "allow login while locked out")
	f.BoolVar(&userCreateOpts.external, "external", false, "identity is managed by an external provider")

	userListCmd.Flags().StringVar(&userListOpts.status, "status", "", "filter by status (STANDARD, SYSTEM, DISABLED, DELETED)")
	userListCmd.Flags().IntVar(&userListOpts.offset, "offset", 0, "records to skip")
	userListCmd.Flags().IntVar(&userListOpts.limit, "limit", 50, "maximum records to return")

	userPasswdCmd.Flags().StringVar(&userPasswdOpts.oldPassword, "old", "", "current password (prompted if empty)")
	userPasswdCmd.Flags().StringVar(&userPasswdOpts.newPassword, "new", "", "new password (prompted if empty)")
	userResetCmd.Flags().StringVar(&userPasswdOpts.newPassword, "new", "", "new password (generated if empty)")

	userGroupsCmd.AddCommand(userGroupsAddCmd, userGroupsRemoveCmd)
	userCmd.AddCommand(
		userCreateCmd,
		userShowCmd,
		userListCmd,
		userLoginCmd,
		userPasswdCmd,
		userResetCmd,
		userRolesCmd,
		userGroupsCmd,
		userPropertyCmd,
		userStatusCmd("enable", "Re-enable a disabled account", domain.UserStatusStandard),
		userStatusCmd("disable", "Disable an account", domain.UserStatusDisabled),
		userUnlockCmd,
		userDeleteCmd,
	)
}

var userCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			opts := userCreateOpts
			input := service.CreateUserInput{
				Username:                args[0],
				Email:                   opts.email,
				FullName:                opts.fullName,
				Roles:                   opts.roles,
				Groups:                  opts.groups,
				Properties:              opts.properties,
				PasswordNeverExpires:    opts.neverExpires,
				ChangePasswordNextLogin: opts.mustChange,
				BypassLockout:           opts.bypassLockout,
				ExternalIdentity:        opts.external,
			}
			if opts.expires != "" {
				expiry, err := time.Parse(time.RFC3339, opts.expires)
				if err != nil {
					return fmt.Errorf("invalid --expires: %w", err)
				}
				input.AccountExpiry = &expiry
			}
			if !opts.external && !a.cfg.Identity.ExternalManagement {
				password, err := readSecret(opts.password, "Password")
				if err != nil {
					return err
				}
				input.Password = password
			}

			user, err := a.users.Create(ctx, input)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Created user %s (id %s)", user.Username, user.ID)
			return nil
		})
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show <username>",
	Short: "Show a user with roles, groups and eligibility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.users.GetByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			effective, err := a.users.EffectiveGroups(ctx, user.ID.Int64())
			if err != nil {
				return err
			}
			printUser(user, effective)
			return nil
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			opts := repository.ListOptions{Offset: userListOpts.offset, Limit: userListOpts.limit}
			if userListOpts.status != "" {
				status, err := domain.ParseUserStatus(userListOpts.status)
				if err != nil {
					return err
				}
				opts.Status = &status
			}

			result, err := a.users.List(ctx, opts)
			if err != nil {
				return err
			}

			table := pterm.TableData{{"ID", "USERNAME", "STATUS", "ROLES", "LOCKED", "PASSWORD EXPIRED"}}
			for _, u := range result.Items {
				table = append(table, []string{
					u.ID.String(),
					u.Username,
					u.Status.String(),
					strings.Join(u.RoleNames(), ","),
					strconv.FormatBool(u.LockedOut),
					strconv.FormatBool(u.PasswordExpired),
				})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(table).Render(); err != nil {
				return err
			}
			pterm.Printfln("%d of %d users", len(result.Items), result.Total)
			return nil
		})
	},
}

var userLoginCmd = &cobra.Command{
	Use:   "login <username> [password]",
	Short: "Check a user's credentials and report the login outcome",
	Long: `login runs a full authentication attempt. A failed attempt counts towards
the lockout threshold exactly as an interactive login would.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			var password string
			if len(args) == 2 {
				password = args[1]
			}
			password, err := readSecret(password, "Password")
			if err != nil {
				return err
			}

			result, err := a.users.Authenticate(ctx, args[0], password)
			if err != nil {
				return err
			}

			switch result.Status {
			case service.LoginSuccess:
				pterm.Success.Println(result.Status)
				if result.PasswordExpiresInDays != nil {
					pterm.Warning.Printfln("Password expires in %d day(s)", *result.PasswordExpiresInDays)
				}
			default:
				if result.Reason != "" {
					pterm.Error.Printfln("%s: %s", result.Status, result.Reason)
				} else {
					pterm.Error.Println(result.Status)
				}
			}
			return nil
		})
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Change a user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			user, err := a.users.GetByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			oldPassword, err := readSecret(userPasswdOpts.oldPassword, "Current password")
			if err != nil {
				return err
			}
			newPassword, err := readSecret(userPasswdOpts.newPassword, "New password")
			if err != nil {
				return err
			}

			err = a.users.ChangePassword(ctx, service.ChangePasswordInput{
				UserID:      user.ID.Int64(),
				OldPassword: oldPassword,
				NewPassword: newPassword,
			})
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Password changed for %s", user.Username)
			return nil
		})
	},
}

var userResetCmd = &cobra.Command{
	Use:   "reset-password <username>",
	Short: "Set a new password without the old one; it must be changed at next login",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(ctx context.Context, a *app) error {
			password, err := a.users.ResetPassword(ctx, args[0], userPasswdOpts.newPassword)
			if err != nil {
				return err
			}
			if userPasswdOpts.newPassword == "" {
				pterm.Warning.Printfln("Generated password: %s", password)
			}
			pterm.Success.Printfln("Password reset for %s", args[0])
			return nil
		})
	},
}

var userRolesCmd = &cobra.Command{
	Use:   "roles <username> [role...]",
	Short: "Replace a user's roles; with no roles, every role is removed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, a *app, user *domain.User) error {
			updated, err := a.users.SetRoles(ctx, user.ID.Int64(), args[1:])
			if err != nil {
				return err
			}
			pterm.Success.Printfln("%s now has roles [%s]", updated.Username, strings.Join(updated.RoleNames(), ", "))
			return nil
		})
	},
}

var userGroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage a user's direct group memberships",
}

var userGroupsAddCmd = &cobra.Command{
	Use:   "add <username> <group>",
	Short: "Add a user to a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, a *app, user *domain.User) error {
			if _, err := a.users.AddToGroup(ctx, user.ID.Int64(), args[1]); err != nil {
				return err
			}
			pterm.Success.Printfln("Added %s to %s", user.Username, args[1])
			return nil
		})
	},
}

var userGroupsRemoveCmd = &cobra.Command{
	Use:   "remove <username> <group>",
	Short: "Remove a user from a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, a *app, user *domain.User) error {
			if _, err := a.users.RemoveFromGroup(ctx, user.ID.Int64(), args[1]); err != nil {
				return err
			}
			pterm.Success.Printfln("Removed %s from %s", user.Username, args[1])
			return nil
		})
	},
}

var userPropertyCmd = &cobra.Command{
	Use:   "property <username> <name> <value>",
	Short: "Set a user property",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, a *app, user *domain.User) error {
			if _, err := a.users.SetProperty(ctx, user.ID.Int64(), args[1], args[2]); err != nil {
				return err
			}
			pterm.Success.Printfln("Set %s on %s", args[1], user.Username)
			return nil
		})
	},
}

func userStatusCmd(use, short string, status domain.UserStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd, args[0], func(ctx context.Context, a *app, user *domain.User) error {
				if _, err := a.users.SetStatus(ctx, user.ID.Int64(), status); err != nil {
					return err
				}
				pterm.Success.Printfln("%s is now %s", user.Username, status)
				return nil
			})
		},
	}
}

var userUnlockCmd = &cobra.Command{
	Use:   "unlock <username>",
	Short: "Clear a user's failed login count",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, a *app, user *domain.User) error {
			if _, err := a.users.Unlock(ctx, user.ID.Int64()); err != nil {
				return err
			}
			pterm.Success.Printfln("Unlocked %s", user.Username)
			return nil
		})
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Soft-delete a user and remove its roles and groups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUser(cmd, args[0], func(ctx context.Context, a *app, user *domain.User) error {
			if err := a.users.Delete(ctx, user.ID.Int64()); err != nil {
				return err
			}
			pterm.Success.Printfln("Deleted %s", user.Username)
			return nil
		})
	},
}

// withUser runs fn with the named user loaded.
func withUser(cmd *cobra.Command, username string, fn func(ctx context.Context, a *app, user *domain.User) error) error {
	return runWithApp(cmd, func(ctx context.Context, a *app) error {
		user, err := a.users.GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		return fn(ctx, a, user)
	})
}

func printUser(u *domain.User, effective []*domain.Group) {
	elig := u.Eligibility(time.Now().UTC())

	rows := pterm.TableData{
		{"ID", u.ID.String()},
		{"Username", u.Username},
		{"Full name", u.FullName},
		{"Email", u.Email},
		{"Status", u.Status.String()},
		{"Roles", strings.Join(u.RoleNames(), ", ")},
		{"Groups", groupNames(u.Groups())},
		{"Effective groups", groupNames(effective)},
		{"Failed logins", strconv.Itoa(u.IncorrectLoginAttempts)},
		{"Locked out", strconv.FormatBool(u.LockedOut)},
		{"Password expired", strconv.FormatBool(u.PasswordExpired)},
		{"Can log in", strconv.FormatBool(elig.CanLogin())},
	}
	if reason := elig.Reason(); reason != "" {
		rows = append(rows, []string{"Reason", reason})
	}
	if u.PasswordExpiresInDays != nil {
		rows = append(rows, []string{"Password expires in", fmt.Sprintf("%d day(s)", *u.PasswordExpiresInDays)})
	}
	if u.LastLogin != nil {
		rows = append(rows, []string{"Last login", u.LastLogin.Format(time.RFC3339)})
	}
	for _, p := range u.Properties() {
		rows = append(rows, []string{"Property " + p.Name, p.Value})
	}
	_ = pterm.DefaultTable.WithData(rows).Render()
}

func groupNames(groups []*domain.Group) string {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Name
	}
	return strings.Join(names, ", ")
}
