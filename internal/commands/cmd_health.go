package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/sublet/internal/printer"
)

type HealthCmd struct {
	flags *Flags
}

// NewHealthCmd creates a new health command.
func NewHealthCmd(flags *Flags) *HealthCmd {
	return &HealthCmd{flags: flags}
}

// Register adds the health command to the application.
func (cmd *HealthCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "health",
		Usage:       "Check that the API is reachable",
		UsageText:   "sublet health",
		Description: "Calls the API health endpoint and prints \"connected\" on success.",
		Action:      cmd.run,
	})
	return app
}

func (cmd *HealthCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	status, err := cmd.flags.Manager.CheckHealth(ctx)
	if err != nil {
		p.Errorf("%s", err)
		return cli.Exit("", 1)
	}

	p.Successf("%s (%s)", status, cmd.flags.Client.BaseURL())
	return nil
}
