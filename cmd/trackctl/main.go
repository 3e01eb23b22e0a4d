// Command trackctl is a terminal client for the parceltrack API: account
// commands, package management and an interactive tracking chat.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"parceltrack.org/internal/client"
	"parceltrack.org/internal/obs"
)

// app carries global flags and IO for every command.
type app struct {
	server   string
	stateDir string
	timeout  time.Duration
	rate     float64
	verbose  bool

	in     io.Reader
	out    io.Writer
	errOut io.Writer
	now    func() time.Time
}

func main() {
	root := newRootCmd(&app{in: os.Stdin, out: os.Stdout, errOut: os.Stderr, now: time.Now})
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "trackctl",
		Short: "Track packages from the terminal",
		Long: `trackctl talks to a parceltrack API server.

Sign in with "login" or "signup", then look packages up with "track",
manage your own with "create", "update" and "delete", or start the
interactive "chat". Credentials and chat history are kept in the state
directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "error"
			if a.verbose {
				level = "debug"
			}
			logger, err := obs.NewLogger(level)
			if err != nil {
				return err
			}
			obs.SetLogger(logger)
			return nil
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVarP(&a.server, "server", "s", envOr("PARCELTRACK_URL", "http://localhost:3000"), "API base URL (or set PARCELTRACK_URL)")
	root.PersistentFlags().StringVar(&a.stateDir, "state-dir", envOr("TRACKCTL_HOME", defaultStateDir()), "Directory for credentials and chat history (or set TRACKCTL_HOME)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 15*time.Second, "Per-command timeout")
	root.PersistentFlags().Float64Var(&a.rate, "rate", 0, "Client-side request rate limit per second (0 disables)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newLoginCmd(a),
		newSignupCmd(a),
		newAdminTokenCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newDeleteUserCmd(a),
		newTrackCmd(a),
		newMineCmd(a),
		newCreateCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newSetOwnerCmd(a),
		newDemoCmd(a),
		newChatCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// client builds an API client carrying the saved token for the current server.
func (a *app) client() (*client.Client, credentials, error) {
	creds, err := loadCredentials(a.stateDir)
	if err != nil {
		return nil, credentials{}, err
	}
	opts := []client.Option{client.WithRateLimit(a.rate, 1)}
	if creds.Server == a.server {
		opts = append(opts, client.WithToken(creds.Token))
	} else {
		creds = credentials{}
	}
	c, err := client.New(a.server, opts...)
	if err != nil {
		return nil, credentials{}, err
	}
	return c, creds, nil
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "parceltrack")
	}
	return ".parceltrack"
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
