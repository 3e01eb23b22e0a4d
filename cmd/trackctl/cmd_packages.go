package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"parceltrack.org/internal/chat"
	"parceltrack.org/internal/client"
	"parceltrack.org/internal/tracking"
)

func newTrackCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "track <tracking-number>",
		Short: "Show a package's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			tn := strings.ToUpper(strings.TrimSpace(args[0]))
			p, err := c.GetPackage(ctx, tn)
			if client.IsNotFound(err) {
				return fmt.Errorf("no package found for %s", tn)
			}
			if err != nil {
				return err
			}
			return a.printPackage(p, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON document")
	return cmd
}

func newMineCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "List packages you own",
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
			pkgs, err := c.MyPackages(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return a.printJSON(pkgs)
			}
			if len(pkgs) == 0 {
				a.printf("No packages.\n")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TRACKING\tCARRIER\tSTATUS\tUPDATED")
			for _, p := range pkgs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.TrackingNumber, p.Carrier, p.Status, p.LastUpdated.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON document")
	return cmd
}

// packageFlags binds the optional package fields and reports which were set.
type packageFlags struct {
	carrier, status string
	lat, lng        float64
}

func (f *packageFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.carrier, "carrier", "", "Carrier name")
	cmd.Flags().StringVar(&f.status, "status", "", "Status text")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "Last known latitude")
	cmd.Flags().Float64Var(&f.lng, "lng", 0, "Last known longitude")
}

func (f *packageFlags) update(cmd *cobra.Command) client.UpdatePackage {
	var u client.UpdatePackage
	if cmd.Flags().Changed("carrier") {
		u.Carrier = &f.carrier
	}
	if cmd.Flags().Changed("status") {
		u.Status = &f.status
	}
	if cmd.Flags().Changed("lat") {
		u.LastLocationLat = &f.lat
	}
	if cmd.Flags().Changed("lng") {
		u.LastLocationLng = &f.lng
	}
	return u
}

func newCreateCmd(a *app) *cobra.Command {
	var (
		fields packageFlags
		owner  string
	)
	cmd := &cobra.Command{
		Use:   "create <tracking-number>",
		Short: "Create a package owned by you (admins pass --owner)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			u := fields.update(cmd)
			in := client.CreatePackage{
				TrackingNumber:  args[0],
				Carrier:         u.Carrier,
				Status:          u.Status,
				LastLocationLat: u.LastLocationLat,
				LastLocationLng: u.LastLocationLng,
			}
			if cmd.Flags().Changed("owner") {
				in.OwnerUserID = &owner
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			p, err := c.CreatePackage(ctx, in)
			if err != nil {
				return err
			}
			return a.printPackage(p, false)
		},
	}
	fields.bind(cmd)
	cmd.Flags().StringVar(&owner, "owner", "", "Owner user id (required for admins)")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var fields packageFlags
	cmd := &cobra.Command{
		Use:   "update <tracking-number>",
		Short: "Update carrier, status or location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			p, err := c.UpdatePackage(ctx, args[0], fields.update(cmd))
			if err != nil {
				return err
			}
			return a.printPackage(p, false)
		},
	}
	fields.bind(cmd)
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <tracking-number>",
		Short: "Delete a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			if err := c.DeletePackage(ctx, args[0]); err != nil {
				return err
			}
			a.printf("Deleted %s.\n", args[0])
			return nil
		},
	}
}

func newSetOwnerCmd(a *app) *cobra.Command {
	var release bool
	cmd := &cobra.Command{
		Use:   "set-owner <tracking-number> [user-id]",
		Short: "Assign or release a package's owner (admin)",
		Args: func(cmd *cobra.Command, args []string) error {
			if release {
				return cobra.ExactArgs(1)(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			var owner *string
			if !release {
				owner = &args[1]
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			p, err := c.SetOwner(ctx, args[0], owner)
			if err != nil {
				return err
			}
			return a.printPackage(p, false)
		},
	}
	cmd.Flags().BoolVar(&release, "release", false, "Clear the owner instead of setting one")
	return cmd
}

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo <username>",
		Short: "Create demo packages for a user (server dev routes only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.client()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()
			created, err := c.CreateDemoPackages(ctx, args[0])
			if err != nil {
				return err
			}
			a.printf("Demo packages: %s\n", strings.Join(created, ", "))
			return nil
		},
	}
}

func (a *app) printPackage(p tracking.Package, asJSON bool) error {
	if asJSON {
		return a.printJSON(p)
	}
	a.printf("%s\n", chat.StatusCard(p, time.Local))
	if p.OwnerUserID != nil {
		a.printf("👤 Owner: %s\n", *p.OwnerUserID)
	}
	if p.HasLocation() {
		a.printf("🗺️ Map: %s\n", chat.MapEmbedURL(*p.LastLocationLat, *p.LastLocationLng, chat.MapDelta))
	}
	return nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
