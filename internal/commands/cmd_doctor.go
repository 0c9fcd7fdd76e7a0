package commands

import (
	"context"
	"encoding/json"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/sublet/internal/commands/doctor"
	"github.com/hay-kot/sublet/internal/printer"
)

type DoctorCmd struct {
	flags  *Flags
	format string
}

func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "doctor",
		Usage:       "Run health checks on your sublet setup",
		UsageText:   "sublet doctor [options]",
		Description: "Checks the configuration, the token store, and that the API is reachable.",
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

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	results := doctor.RunAll(ctx, cmd.checks())

	if cmd.format == "json" {
		return cmd.outputJSON(c, results)
	}

	return cmd.outputText(ctx, results)
}

// checks lists the diagnostics to run. Checks that need the session manager
// are skipped when an invalid configuration kept it from being built.
func (cmd *DoctorCmd) checks() []doctor.Check {
	checks := []doctor.Check{
		doctor.NewConfigCheck(cmd.flags.Config, cmd.flags.ConfigPath),
	}

	if !cmd.flags.Connected() {
		const reason = "configuration is invalid"
		return append(checks,
			doctor.Skipped("Token Store", reason),
			doctor.Skipped("API", reason),
		)
	}

	return append(checks,
		doctor.NewStoreCheck(cmd.flags.Store),
		doctor.NewAPICheck(cmd.flags.Manager, cmd.flags.Client.BaseURL()),
	)
}

func (cmd *DoctorCmd) outputJSON(c *cli.Command, results []doctor.Result) error {
	out := struct {
		Healthy bool            `json:"healthy"`
		Summary doctor.Tally    `json:"summary"`
		Checks  []doctor.Result `json:"checks"`
	}{
		Healthy: doctor.Healthy(results),
		Summary: doctor.Count(results),
		Checks:  results,
	}

	enc := json.NewEncoder(c.Root().Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	if !out.Healthy {
		return cli.Exit("", 1)
	}
	return nil
}

func (cmd *DoctorCmd) outputText(ctx context.Context, results []doctor.Result) error {
	p := printer.Ctx(ctx)

	for _, result := range results {
		p.Section(result.Name)

		for _, item := range result.Items {
			switch item.Status {
			case doctor.StatusPass:
				p.CheckItem(item.Label, item.Detail)
			case doctor.StatusWarn:
				p.WarnItem(item.Label, item.Detail)
			case doctor.StatusFail:
				p.FailItem(item.Label, item.Detail)
			case doctor.StatusSkip:
				p.Infof("%s: %s", item.Label, item.Detail)
			}
		}

		p.Printf("")
	}

	tally := doctor.Count(results)
	p.Printf("Summary: %d passed, %d warnings, %d failed, %d skipped", tally.Passed, tally.Warned, tally.Failed, tally.Skipped)

	if tally.Failed > 0 {
		return cli.Exit("", 1)
	}

	return nil
}
