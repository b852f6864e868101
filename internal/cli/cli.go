// Package cli implements the httpsession command-line interface.
//
// The commands exercise a session built from a TOML configuration file:
//   - get: fetch a URL, optionally several times to observe caching
//   - watch: poll a URL and serve Prometheus metrics while doing so
//   - cache: manage the configured cache backend
//
// All commands accept --verbose (-v) for debug logging and --config (-c)
// to load session settings. Loggers are passed through context.Context.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/canonical/httpsession"
)

const appName = "httpsession"

// globals holds the persistent flags shared by every command.
type globals struct {
	verbose    bool
	configPath string
}

// Execute runs the command line with args against ctx.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// NewRootCommand builds the root command with all subcommands registered.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Fetch HTTP resources through a caching, circuit-breaking session",
		Version:       httpsession.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := log.InfoLevel
			if g.verbose {
				level = log.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), newLogger(cmd.ErrOrStderr(), level)))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate(httpsession.GetVersion() + "\n")

	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "session configuration file (TOML)")

	root.AddCommand(newGetCmd(g))
	root.AddCommand(newWatchCmd(g))
	root.AddCommand(newCacheCmd(g))

	return root
}

// loadConfig reads the configuration file, or returns the defaults when
// none was given.
func (g *globals) loadConfig() (httpsession.Config, error) {
	if g.configPath == "" {
		return httpsession.DefaultConfig(), nil
	}
	return httpsession.LoadConfig(g.configPath)
}

// newSession builds a session from the configuration and the command's
// logger. extra options are applied last.
func (g *globals) newSession(ctx context.Context, extra ...httpsession.Option) (*httpsession.Session, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}

	opts := []httpsession.Option{
		httpsession.WithUserAgent(httpsession.DefaultUserAgent()),
		httpsession.WithLogger(loggerFromContext(ctx)),
	}
	s, err := httpsession.NewFromConfig(ctx, cfg, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}
