// Command expertctl is a terminal client for the expert panel API. It can
// also seed expert plugins and decision trees directly into the database.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	server  string
	timeout time.Duration
	noColor bool
}

func main() {
	var g globalOptions

	root := &cobra.Command{
		Use:           "expertctl",
		Short:         "Ask grounded questions of expert plugins, run collaborations and review documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if g.noColor {
				color.NoColor = true
			}
		},
	}

	defaultServer := os.Getenv("EXPERTPANEL_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", defaultServer, "expert panel API base URL")
	pf.DurationVar(&g.timeout, "timeout", 10*time.Minute, "overall request timeout")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newExpertsCmd(&g),
		newAskCmd(&g),
		newCollaborateCmd(&g),
		newReviewCmd(&g),
		newSeedCmd(),
	)

	if err := root.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func (g *globalOptions) client() *client {
	return newClient(g.server, g.timeout)
}

// streamError converts a terminal error event into a Go error
func streamError(ev sseEvent) error {
	var e apiError
	if err := decodeEvent(ev, &e); err != nil {
		return err
	}
	return fmt.Errorf("%s: %s", e.Code, e.Message)
}

// stderrIsTerminal reports whether progress output would reach a terminal.
// Bars are hidden when stderr is piped or redirected.
func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
