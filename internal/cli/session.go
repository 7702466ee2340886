package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/utafrali/campusfeed/internal/app"
	"github.com/utafrali/campusfeed/internal/session"
	"github.com/utafrali/campusfeed/pkg/health"
)

func sessionCommand(e *Env) *Command {
	watch := &Command{
		Name:    "watch",
		Summary: "Keep the session fresh and print state changes until interrupted",
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			updates, unsubscribe := c.Session.Subscribe()
			defer unsubscribe()

			done := make(chan error, 1)
			go func() { done <- c.Session.Run(ctx) }()

			for {
				select {
				case snap := <-updates:
					printSnapshot(e, snap)
				case err := <-done:
					return err
				}
			}
		},
	}

	refresh := &Command{
		Name:    "refresh",
		Summary: "Revalidate the stored session now",
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			if err := c.Session.Refresh(ctx); err != nil {
				return fail(err, "Session refresh failed.")
			}
			printSnapshot(e, c.Session.Snapshot())
			return nil
		},
	}

	return &Command{
		Name:        "session",
		Summary:     "Inspect or maintain the stored session",
		Subcommands: []*Command{watch, refresh},
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			printSnapshot(e, c.Session.Snapshot())
			return nil
		},
	}
}

func printSnapshot(e *Env, snap session.Snapshot) {
	if snap.Authenticated() {
		status := "verified"
		if !snap.User.IsVerified {
			status = "unverified"
		}
		fmt.Fprintf(e.Out, "%s: %s (%s)\n", snap.State, snap.User.Username, status)
		return
	}
	fmt.Fprintf(e.Out, "%s\n", snap.State)
}

var errUnhealthy = errors.New("one or more checks failed")

func doctorCommand(e *Env) *Command {
	var asJSON bool
	return &Command{
		Name:    "doctor",
		Summary: "Check the token store, backend and circuit breaker",
		Flags: func() *pflag.FlagSet {
			asJSON = false
			fs := pflag.NewFlagSet("doctor", pflag.ContinueOnError)
			fs.BoolVar(&asJSON, "json", false, "print the report as JSON")
			return fs
		},
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			resp := c.Health.Check(ctx)

			if asJSON {
				enc := json.NewEncoder(e.Out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(resp); err != nil {
					return err
				}
			} else {
				printHealth(e, resp)
			}
			if resp.Status == health.StatusDown {
				return errUnhealthy
			}
			return nil
		},
	}
}

func printHealth(e *Env, resp health.Response) {
	names := make([]string, 0, len(resp.Checks))
	for name := range resp.Checks {
		names = append(names, name)
	}
	slices.Sort(names)

	tw := tabwriter.NewWriter(e.Out, 2, 0, 2, ' ', 0)
	for _, name := range names {
		res := resp.Checks[name]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, res.Status, res.Latency.Round(time.Millisecond), res.Error)
	}
	tw.Flush()
	fmt.Fprintf(e.Out, "overall: %s\n", resp.Status)
}

func versionCommand(e *Env) *Command {
	return &Command{
		Name:    "version",
		Summary: "Print the client version",
		Run: func(ctx context.Context, args []string) error {
			fmt.Fprintf(e.Out, "campusfeed %s\n", app.Version)
			return nil
		},
	}
}
