package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"parceltrack.org/internal/auth"
	"parceltrack.org/internal/client"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		password string
		mock     bool
		name     string
	)
	cmd := &cobra.Command{
		Use:   "login [username-or-email]",
		Short: "Sign in and save the session",
		Long: `Sign in with a username or email and password. With --mock the
server's mock provider signs you in as --name (default demo-user).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			var sess auth.Session
			if mock {
				sess, err = c.LoginMock(ctx, name)
			} else {
				r := bufio.NewReader(a.in)
				login := ""
				if len(args) == 1 {
					login = args[0]
				} else if login, err = readLine(r, a.out, "Username or email: "); err != nil {
					return err
				}
				if password == "" {
					if password, err = promptPassword(r, a.out); err != nil {
						return err
					}
				}
				sess, err = c.Login(ctx, login, password)
			}
			if err != nil {
				return err
			}
			return a.saveSession(sess)
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	cmd.Flags().BoolVar(&mock, "mock", false, "Use the mock login provider")
	cmd.Flags().StringVar(&name, "name", "", "Display name for --mock")
	return cmd
}

func newSignupCmd(a *app) *cobra.Command {
	var (
		in         client.SignupInput
		avatarPath string
	)
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and save the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			r := bufio.NewReader(a.in)
			if in.Username == "" {
				if in.Username, err = readLine(r, a.out, "Username: "); err != nil {
					return err
				}
			}
			if in.Email == "" {
				if in.Email, err = readLine(r, a.out, "Email: "); err != nil {
					return err
				}
			}
			if in.Password == "" {
				if in.Password, err = promptPassword(r, a.out); err != nil {
					return err
				}
			}
			if avatarPath != "" {
				f, err := os.Open(avatarPath)
				if err != nil {
					return fmt.Errorf("open avatar: %w", err)
				}
				defer f.Close()
				in.Avatar = f
				in.AvatarName = filepath.Base(avatarPath)
			}

			ctx, cancel := a.context(cmd)
			defer cancel()
			sess, err := c.Signup(ctx, in)
			if err != nil {
				return err
			}
			return a.saveSession(sess)
		},
	}
	cmd.Flags().StringVar(&in.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&in.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVarP(&in.Username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&in.Email, "email", "e", "", "Email")
	cmd.Flags().StringVarP(&in.Password, "password", "p", "", "Password (prompted when omitted)")
	cmd.Flags().StringVar(&avatarPath, "avatar", "", "Path to an avatar image")
	return cmd
}

func newAdminTokenCmd(a *app) *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Exchange the admin secret for an admin session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			if secret == "" {
				secret = os.Getenv("ADMIN_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("admin secret required: pass --secret or set ADMIN_SECRET")
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			sess, err := c.AdminToken(ctx, secret)
			if err != nil {
				return err
			}
			return a.saveSession(sess)
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Admin secret (or set ADMIN_SECRET)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := removeCredentials(a.stateDir); err != nil {
				return err
			}
			a.printf("Logged out.\n")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, creds, err := a.client()
			if err != nil {
				return err
			}
			if !creds.loggedIn() {
				return errNotLoggedIn
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			u, err := c.Me(ctx)
			if err != nil {
				return err
			}
			a.printUser(u)
			return nil
		},
	}
}

func newDeleteUserCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-user <user-id>",
		Short: "Delete a user and release their packages (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			r, err := c.DeleteUser(ctx, args[0])
			if err != nil {
				return err
			}
			a.printf("Deleted %s: %d auth users, %d users, %d analytics rows removed; %d packages released.\n",
				args[0], r.AuthUsers, r.Users, r.Analytics, r.ReleasedPackages)
			return nil
		},
	}
}

func (a *app) saveSession(sess auth.Session) error {
	err := saveCredentials(a.stateDir, credentials{
		Server:  a.server,
		Token:   sess.Token,
		User:    sess.User,
		SavedAt: a.now().UTC(),
	})
	if err != nil {
		return err
	}
	a.printf("Signed in as %s (%s).\n", sess.User.Name, sess.User.ID)
	return nil
}

func (a *app) printUser(u auth.User) {
	lines := []string{
		"ID:       " + u.ID,
		"Name:     " + u.Name,
		"Role:     " + string(u.Role),
	}
	if u.Username != "" {
		lines = append(lines, "Username: "+u.Username)
	}
	if u.Email != "" {
		lines = append(lines, "Email:    "+u.Email)
	}
	if u.Avatar != nil {
		lines = append(lines, "Avatar:   "+*u.Avatar)
	}
	a.printf("%s\n", strings.Join(lines, "\n"))
}
