package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/utafrali/campusfeed/internal/domain"
	"github.com/utafrali/campusfeed/internal/feed"
	"github.com/utafrali/campusfeed/internal/session"
)

// passwordEnv lets scripts log in without a prompt.
const passwordEnv = "CAMPUSFEED_PASSWORD"

func (e *Env) password(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(passwordEnv); v != "" {
		return v, nil
	}
	return e.readLine("Password: ")
}

func loginCommand(e *Env) *Command {
	var username, password string
	return &Command{
		Name:    "login",
		Summary: "Log in and store the session",
		Usage:   "campusfeed login --username <name> [--password <password>]",
		Flags: func() *pflag.FlagSet {
			username, password = "", ""
			fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
			fs.StringVarP(&username, "username", "u", "", "account username")
			fs.StringVarP(&password, "password", "p", "", "account password (default: $"+passwordEnv+" or prompt)")
			return fs
		},
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			if u := c.Session.User(); u != nil && c.Session.Snapshot().Authenticated() {
				fmt.Fprintf(e.Out, "Already logged in as %s.\n", u.Username)
				return nil
			}
			if username == "" {
				if username, err = e.readLine("Username: "); err != nil {
					return err
				}
			}
			pw, err := e.password(password)
			if err != nil {
				return err
			}

			if err := c.Session.Login(ctx, domain.Credentials{Username: username, Password: pw}); err != nil {
				return fail(err, session.MsgInvalidCredentials)
			}
			u := c.Session.User()
			fmt.Fprintf(e.Out, "Logged in as %s.\n", u.Username)
			if !u.IsVerified {
				fmt.Fprintln(e.Out, feed.MsgPendingApproval)
			}
			return nil
		},
	}
}

func registerCommand(e *Env) *Command {
	var in domain.RegisterInput
	return &Command{
		Name:    "register",
		Summary: "Create a student account",
		Usage:   "campusfeed register --username <name> --email <email> [--first-name ..] [--last-name ..] [--password ..]",
		Flags: func() *pflag.FlagSet {
			in = domain.RegisterInput{}
			fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
			fs.StringVarP(&in.Username, "username", "u", "", "username")
			fs.StringVar(&in.Email, "email", "", "campus email address")
			fs.StringVar(&in.FirstName, "first-name", "", "first name")
			fs.StringVar(&in.LastName, "last-name", "", "last name")
			fs.StringVarP(&in.Password, "password", "p", "", "password, at least 8 characters (default: $"+passwordEnv+" or prompt)")
			return fs
		},
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			if in.Password, err = e.password(in.Password); err != nil {
				return err
			}
			if err := c.Session.Register(ctx, in); err != nil {
				return fail(err, session.MsgRegistrationFailed)
			}
			fmt.Fprintln(e.Out, session.MsgRegistered)
			return nil
		},
	}
}

func logoutCommand(e *Env) *Command {
	return &Command{
		Name:    "logout",
		Summary: "Forget the stored session",
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			return c.Session.Logout(ctx)
		},
	}
}

func whoamiCommand(e *Env) *Command {
	return &Command{
		Name:    "whoami",
		Summary: "Show the logged-in user",
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			snap := c.Session.Snapshot()
			if !snap.Authenticated() {
				fmt.Fprintln(e.Out, "Not logged in.")
				return nil
			}
			printUser(e, snap.User, true)
			return nil
		},
	}
}

func profileCommand(e *Env) *Command {
	var (
		bio    string
		avatar string
	)
	edit := &Command{
		Name:    "edit",
		Summary: "Change your bio or avatar",
		Usage:   "campusfeed profile edit [--bio <text>] [--avatar <image file>]",
		Flags: func() *pflag.FlagSet {
			bio, avatar = "", ""
			fs := pflag.NewFlagSet("edit", pflag.ContinueOnError)
			fs.StringVar(&bio, "bio", "", "new bio")
			fs.StringVar(&avatar, "avatar", "", "path to an image to upload as avatar")
			return fs
		},
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			current := c.Session.User()
			if current == nil {
				return fail(errLoginRequired(), "")
			}

			update := domain.ProfileUpdate{Bio: current.Bio}
			if bio != "" {
				update.Bio = bio
			}
			if avatar != "" {
				f, err := os.Open(avatar)
				if err != nil {
					return fmt.Errorf("open avatar: %w", err)
				}
				defer f.Close()
				update.Avatar = &domain.File{Name: filepath.Base(avatar), Reader: f}
			}

			u, err := c.Session.UpdateProfile(ctx, update)
			if err != nil {
				return fail(err, session.MsgProfileUpdateFailed)
			}
			fmt.Fprintln(e.Out, session.MsgProfileUpdated)
			printUser(e, u, true)
			return nil
		},
	}

	return &Command{
		Name:    "profile",
		Summary: "Show or edit your profile",
		Run: func(ctx context.Context, args []string) error {
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			u := c.Session.User()
			if u == nil {
				return fail(errLoginRequired(), "")
			}
			printUser(e, u, true)
			return nil
		},
		Subcommands: []*Command{edit},
	}
}

func userCommand(e *Env) *Command {
	return &Command{
		Name:    "user",
		Summary: "Show another student's public profile",
		Usage:   "campusfeed user <id>",
		Run: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "a user id"); err != nil {
				return err
			}
			id, err := parseID(args[0], "user id")
			if err != nil {
				return err
			}
			c, err := e.Client(ctx)
			if err != nil {
				return err
			}
			u, err := c.API.PublicProfile(ctx, id)
			if err != nil {
				return fail(err, "Failed to load profile.")
			}
			printUser(e, u, false)
			return nil
		},
	}
}

func printUser(e *Env, u *domain.User, private bool) {
	fmt.Fprintf(e.Out, "%s (@%s)\n", u.DisplayName(), u.Username)
	if private && u.Email != "" {
		fmt.Fprintf(e.Out, "Email:    %s\n", u.Email)
	}
	if u.Bio != "" {
		fmt.Fprintf(e.Out, "Bio:      %s\n", u.Bio)
	}
	if u.Avatar != "" {
		fmt.Fprintf(e.Out, "Avatar:   %s\n", u.Avatar)
	}
	status := "pending admin approval"
	if u.IsVerified {
		status = "verified"
	}
	fmt.Fprintf(e.Out, "Status:   %s\n", status)
}
