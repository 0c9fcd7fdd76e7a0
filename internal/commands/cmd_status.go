package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/sublet/internal/core/auth"
	"github.com/hay-kot/sublet/internal/printer"
	"github.com/hay-kot/sublet/internal/styles"
)

type StatusCmd struct {
	flags  *Flags
	format string
}

// NewStatusCmd creates a new status command.
func NewStatusCmd(flags *Flags) *StatusCmd {
	return &StatusCmd{flags: flags}
}

// Register adds the status command to the application.
func (cmd *StatusCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "status",
		Usage:       "Show the current session state",
		UsageText:   "sublet status [options]",
		Description: "Prints the session state and, when logged in, the unverified claims of the stored token.",
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

// statusReport is the rendered view of a session. The token itself is never
// included.
type statusReport struct {
	State   auth.State   `json:"state"`
	BaseURL string       `json:"base_url"`
	Store   string       `json:"store"`
	Claims  *auth.Claims `json:"claims,omitempty"`
	Expired bool         `json:"expired,omitempty"`
}

func (cmd *StatusCmd) run(ctx context.Context, c *cli.Command) error {
	report := cmd.report(time.Now())

	if cmd.format == "json" {
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printer.Ctx(ctx).Raw(renderStatus(report))
	return nil
}

func (cmd *StatusCmd) report(now time.Time) statusReport {
	s := cmd.flags.Manager.State()

	report := statusReport{
		State:   s.State,
		BaseURL: cmd.flags.Client.BaseURL(),
		Store:   cmd.flags.Store.Path(),
	}

	if s.IsAuthenticated() {
		if claims, err := cmd.flags.Manager.Claims(); err == nil {
			report.Claims = &claims
			report.Expired = claims.Expired(now)
		}
	}

	return report
}

func renderStatus(r statusReport) string {
	rows := []string{
		styles.TitleStyle.Render("Session"),
		row("state", styles.StateStyle(r.State).Render(r.State.String())),
		row("api", r.BaseURL),
		row("store", r.Store),
	}

	if r.Claims != nil {
		if r.Claims.Subject != "" {
			rows = append(rows, row("subject", r.Claims.Subject))
		}
		if !r.Claims.IssuedAt.IsZero() {
			rows = append(rows, row("issued", r.Claims.IssuedAt.Local().Format(time.RFC1123)))
		}
		if !r.Claims.ExpiresAt.IsZero() {
			expiry := r.Claims.ExpiresAt.Local().Format(time.RFC1123)
			if r.Expired {
				expiry = styles.StateStyle(auth.StateUnauthenticated).Render(expiry + " (expired)")
			}
			rows = append(rows, row("expires", expiry))
		}
	}

	return styles.CardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, styles.LabelStyle.Render(label), styles.ValueStyle.Render(value))
}
