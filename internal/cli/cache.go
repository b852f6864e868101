package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonical/httpsession"
)

func newCacheCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the configured cache backend",
	}

	cmd.AddCommand(newCacheClearCmd(g))
	cmd.AddCommand(newCacheInfoCmd(g))

	return cmd
}

func newCacheClearCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.ClearCache(cmd.Context()); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			loggerFromContext(cmd.Context()).Info("cache cleared")
			return nil
		},
	}
}

func newCacheInfoCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the cache configuration in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			c := cfg.Cache
			fmt.Fprintf(out, "backend:          %s\n", c.Backend)
			switch c.Backend {
			case httpsession.BackendFile:
				fmt.Fprintf(out, "directory:        %s\n", c.Directory)
			case httpsession.BackendRedis:
				fmt.Fprintf(out, "redis:            %s (db %d)\n", c.Redis.Addr, c.Redis.DB)
			}
			if c.KeyPrefix != "" {
				fmt.Fprintf(out, "key prefix:       %s\n", c.KeyPrefix)
			}
			fmt.Fprintf(out, "fallback ttl:     %s\n", time.Duration(c.FallbackDuration))
			fmt.Fprintf(out, "failure policy:   %s\n", c.FailurePolicy)
			return nil
		},
	}
}
