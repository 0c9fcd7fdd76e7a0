package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/sublet/internal/core/auth"
	"github.com/hay-kot/sublet/internal/core/validate"
	"github.com/hay-kot/sublet/internal/printer"
	"github.com/hay-kot/sublet/internal/session"
	"github.com/hay-kot/sublet/internal/styles"
)

type LoginCmd struct {
	flags    *Flags
	email    string
	password string
	name     string
	register bool
}

// NewLoginCmd creates a new login command.
func NewLoginCmd(flags *Flags) *LoginCmd {
	return &LoginCmd{flags: flags}
}

// Register adds the login command to the application.
func (cmd *LoginCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "login",
		Usage:     "Log in and store a session token",
		UsageText: "sublet login [options]",
		Description: `Exchanges an email and password for a session token and stores it.

Missing values are prompted for when stdin is a terminal. With --register the
account is created first; an account that already exists is not an error.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "email",
				Aliases:     []string{"e"},
				Usage:       "account email",
				Sources:     cli.EnvVars("SUBLET_EMAIL"),
				Destination: &cmd.email,
			},
			&cli.StringFlag{
				Name:        "password",
				Usage:       "account password",
				Sources:     cli.EnvVars("SUBLET_PASSWORD"),
				Destination: &cmd.password,
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "display name used when registering",
				Destination: &cmd.name,
			},
			&cli.BoolFlag{
				Name:        "register",
				Usage:       "create the account before logging in",
				Destination: &cmd.register,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *LoginCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	creds := auth.Credentials{
		Email:    strings.TrimSpace(cmd.email),
		Password: cmd.password,
		Name:     cmd.name,
	}

	if creds.Email == "" || creds.Password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("%w: pass --email and --password (or SUBLET_PASSWORD) when stdin is not a terminal", auth.ErrMissingCredentials)
		}
		if err := promptCredentials(&creds, cmd.register); err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return cli.Exit("", 130)
			}
			return fmt.Errorf("prompt credentials: %w", err)
		}
	}

	if err := validate.Email(creds.Email); err != nil {
		return err
	}

	_, err := cmd.flags.Manager.Authenticate(ctx, creds, session.AuthenticateOptions{Register: cmd.register})
	switch {
	case err == nil:
		p.Success("Logged in as "+creds.Email, "token saved to "+cmd.flags.Store.Path())
		return nil
	case errors.Is(err, auth.ErrAlreadyAuthenticated):
		p.Warnf("Already logged in; run 'sublet logout' first")
		return nil
	default:
		return err
	}
}

// promptCredentials asks for the values not supplied by flags.
func promptCredentials(creds *auth.Credentials, register bool) error {
	var fields []huh.Field

	if creds.Email == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Value(&creds.Email).
			Validate(validate.Email))
	}

	if creds.Password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&creds.Password).
			Validate(func(s string) error { return validate.Required("password", s) }))
	}

	if register && creds.Name == "" {
		fields = append(fields, huh.NewInput().
			Title("Name").
			Placeholder("optional").
			Value(&creds.Name))
	}

	if len(fields) == 0 {
		return nil
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).WithTheme(styles.FormTheme()).Run(); err != nil {
		return err
	}

	creds.Email = strings.TrimSpace(creds.Email)
	return nil
}
