package commands

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/sublet/internal/core/auth"
	"github.com/hay-kot/sublet/internal/printer"
)

type WatchCmd struct {
	flags  *Flags
	format string
}

// NewWatchCmd creates a new watch command.
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application.
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Print session state changes as they happen",
		UsageText: "sublet watch [options]",
		Description: `Prints the current session state, then every change until interrupted.

Logins and logouts made by other sublet processes sharing the same data
directory are picked up through the token store.`,
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

type stateEvent struct {
	Time  time.Time  `json:"time"`
	State auth.State `json:"state"`
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		p    = printer.Ctx(ctx)
		enc  = json.NewEncoder(c.Root().Writer)
		last string
	)

	log.Debug().Str("component", "watch").Msg("watching session state")

	for s := range cmd.flags.Manager.Observe(ctx) {
		if cmd.format == "json" {
			if err := enc.Encode(stateEvent{Time: time.Now(), State: s.State}); err != nil {
				return err
			}
			continue
		}

		p.Transition(last, s.State.String())
		last = s.State.String()
	}

	return nil
}
