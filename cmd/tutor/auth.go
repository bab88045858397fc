package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/tutorline/internal/api"
	"github.com/zulandar/tutorline/internal/config"
	"github.com/zulandar/tutorline/internal/gateway"
)

func newLoginCmd() *cobra.Command {
	return newAuthCmd("login", "Log in and store the access token", false)
}

func newSignupCmd() *cobra.Command {
	return newAuthCmd("signup", "Create an account and log in", true)
}

func newAuthCmd(use, short string, signup bool) *cobra.Command {
	var (
		configPath string
		creds      api.Credentials
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: "Authenticates against the backend and stores the returned token in the\n" +
			"credential store. The password is prompted for when --password is omitted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuth(cmd, configPath, creds, signup)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Username, "username", "", "account username")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password (prompted when empty)")
	return cmd
}

func runAuth(cmd *cobra.Command, configPath string, creds api.Credentials, signup bool) error {
	if creds.Password == "" {
		pw, err := promptPassword(cmd)
		if err != nil {
			return err
		}
		creds.Password = pw
	}

	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		var (
			res *api.AuthResult
			err error
		)
		if signup {
			res, err = a.client.Signup(ctx, creds)
		} else {
			res, err = a.client.Login(ctx, creds)
		}
		if err != nil {
			return err
		}

		name := res.DisplayName
		if name == "" {
			name = res.Email
		}
		if signup {
			fmt.Fprintf(cmd.OutOrStdout(), "Signed up as %s\n", name)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", name)
		}
		return nil
	})
}

func newLogoutCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, configPath, func(_ context.Context, a *app) error {
				if err := a.client.Logout(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	return cmd
}

func newWhoamiCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user's profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	return cmd
}

func runWhoami(cmd *cobra.Command, configPath string) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		p, err := a.client.Me(ctx)
		if err != nil {
			// Any profile failure means the session is unusable.
			return gateway.Redirect(gateway.DestinationLogin, err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User ID:      %s\n", p.UserID)
		fmt.Fprintf(out, "Email:        %s\n", p.Email)
		fmt.Fprintf(out, "Display name: %s\n", p.DisplayName)
		return nil
	})
}

func newProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Profile management commands",
	}

	cmd.AddCommand(newProfileSetNameCmd())
	return cmd
}

func newProfileSetNameCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "set-name <display-name>",
		Short: "Change your display name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfileSetName(cmd, configPath, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to tutor config file")
	return cmd
}

func runProfileSetName(cmd *cobra.Command, configPath, name string) error {
	return withApp(cmd, configPath, func(ctx context.Context, a *app) error {
		stored, err := a.client.UpdateProfile(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Display name updated to %q\n", stored)
		return nil
	})
}
