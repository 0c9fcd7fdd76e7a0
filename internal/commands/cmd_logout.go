package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/sublet/internal/printer"
)

type LogoutCmd struct {
	flags *Flags
}

// NewLogoutCmd creates a new logout command.
func NewLogoutCmd(flags *Flags) *LogoutCmd {
	return &LogoutCmd{flags: flags}
}

// Register adds the logout command to the application.
func (cmd *LogoutCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "logout",
		Usage:       "Remove the stored session token",
		UsageText:   "sublet logout",
		Description: "Clears the stored token. Running it while logged out is not an error.",
		Action:      cmd.run,
	})
	return app
}

func (cmd *LogoutCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if err := cmd.flags.Manager.SignOut(ctx); err != nil {
		p.Warnf("Logged out, but the token store could not be cleared: %v", err)
		return nil
	}

	p.Successf("Logged out")
	return nil
}
