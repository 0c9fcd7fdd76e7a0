package commands

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/sublet/internal/core/auth"
	"github.com/hay-kot/sublet/internal/printer"
)

type WhoamiCmd struct {
	flags  *Flags
	format string
}

// NewWhoamiCmd creates a new whoami command.
func NewWhoamiCmd(flags *Flags) *WhoamiCmd {
	return &WhoamiCmd{flags: flags}
}

// Register adds the whoami command to the application.
func (cmd *WhoamiCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "whoami",
		Usage:       "Show the account that owns the stored token",
		UsageText:   "sublet whoami [options]",
		Description: "Asks the API which account the stored token belongs to.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *WhoamiCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	user, err := cmd.flags.Manager.WhoAmI(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			p.Errorf("Not logged in; run 'sublet login'")
			return cli.Exit("", 1)
		}
		return err
	}

	if cmd.format == "json" {
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(user)
	}

	p.KeyValue("id", strconv.Itoa(user.ID))
	p.KeyValue("email", user.Email)
	if user.Name != "" {
		p.KeyValue("name", user.Name)
	}
	return nil
}
