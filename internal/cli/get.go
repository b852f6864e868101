package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/canonical/httpsession"
)

type getOptions struct {
	method   string
	headers  []string
	repeat   int
	interval time.Duration
	include  bool
	fail     bool
	noCache  bool
}

func newGetCmd(g *globals) *cobra.Command {
	var opts getOptions

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Fetch a URL through the session",
		Long: `Fetch a URL through a session built from the configuration file.

With --repeat the request is sent several times so that caching and the
circuit breaker can be observed; the cache status of every response is
logged.`,
		Example: `  httpsession get https://example.com/feed.xml
  httpsession get -c session.toml --repeat 3 --interval 1s -i https://example.com/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), g, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.method, "method", "X", http.MethodGet, "request method")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, `request header "Name: value" (repeatable)`)
	cmd.Flags().IntVarP(&opts.repeat, "repeat", "n", 1, "number of times to send the request")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "pause between repeated requests")
	cmd.Flags().BoolVarP(&opts.include, "include", "i", false, "print the status line and response headers")
	cmd.Flags().BoolVarP(&opts.fail, "fail", "f", false, "exit with an error on 4xx and 5xx responses")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "bypass the cache for these requests")

	return cmd
}

func runGet(ctx context.Context, g *globals, url string, opts getOptions, out io.Writer) error {
	if opts.repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1")
	}
	header, err := parseHeaders(opts.headers)
	if err != nil {
		return err
	}

	s, err := g.newSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	logger := loggerFromContext(ctx)
	if opts.noCache {
		ctx = httpsession.WithContextCacheDisabled(ctx)
	}

	for i := 0; i < opts.repeat; i++ {
		if i > 0 && opts.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interval):
			}
		}

		start := time.Now()
		resp, err := s.Request(ctx, strings.ToUpper(opts.method), url, nil, header)
		if err != nil {
			return err
		}
		logger.Info("response",
			"status", resp.StatusCode,
			"cache", resp.Header.Get(httpsession.CacheStatusHeader),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)

		if err := writeResponse(out, resp, opts.include); err != nil {
			return err
		}
		if opts.fail {
			if err := httpsession.CheckStatus(resp); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeResponse copies resp to out, preceded by its status line and
// headers when include is set. The body is always closed.
func writeResponse(out io.Writer, resp *http.Response, include bool) error {
	defer resp.Body.Close()

	if include {
		fmt.Fprintf(out, "%s %s\n", resp.Proto, resp.Status)
		if err := resp.Header.Write(out); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	return nil
}

// parseHeaders turns "Name: value" flags into a header.
func parseHeaders(values []string) (http.Header, error) {
	header := make(http.Header, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: expected \"Name: value\"", v)
		}
		header.Add(name, strings.TrimSpace(value))
	}
	return header, nil
}
