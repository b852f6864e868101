package cli

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/canonical/httpsession"
)

type watchOptions struct {
	interval    time.Duration
	metricsAddr string
	count       int
}

func newWatchCmd(g *globals) *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch <url>",
		Short: "Poll a URL and log when its content changes",
		Long: `Poll a URL at a fixed interval through the session and log every change
of the response body. With --metrics-addr the session metrics are served
at /metrics in the Prometheus text format, next to a /healthz health check.`,
		Example: `  httpsession watch --interval 10s --metrics-addr :9100 https://example.com/feed.xml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), g, args[0], opts)
		},
	}

	cmd.Flags().DurationVar(&opts.interval, "interval", 5*time.Second, "time between polls")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve metrics on this address")
	cmd.Flags().IntVar(&opts.count, "count", 0, "stop after this many polls (0 polls until interrupted)")

	return cmd
}

func runWatch(ctx context.Context, g *globals, url string, opts watchOptions) error {
	if opts.interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	logger := loggerFromContext(ctx)

	registry := prometheus.NewRegistry()
	s, err := g.newSession(ctx, httpsession.WithMetrics(registry))
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           newMetricsRouter(registry, s),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("serving metrics", "addr", opts.metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	var last string
	for polls := 0; opts.count == 0 || polls < opts.count; polls++ {
		if polls > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}

		digest, resp, err := poll(ctx, s, url)
		switch {
		case err != nil:
			logger.Warn("poll failed", "url", url, "kind", httpsession.KindOf(err), "error", err)
		case digest != last:
			logger.Info("content changed", "url", url, "status", resp.StatusCode, "sha256", digest[:12],
				"cache", resp.Header.Get(httpsession.CacheStatusHeader))
			last = digest
		default:
			logger.Debug("content unchanged", "url", url, "cache", resp.Header.Get(httpsession.CacheStatusHeader))
		}
	}
	return nil
}

// poll fetches url and returns the hex SHA-256 of its body.
func poll(ctx context.Context, s *httpsession.Session, url string) (string, *http.Response, error) {
	resp, err := s.Get(ctx, url)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, resp.Body); err != nil {
		return "", nil, fmt.Errorf("read response body: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), resp, nil
}

// newMetricsRouter serves the registry at /metrics and the circuit state
// of s at /healthz.
func newMetricsRouter(registry *prometheus.Registry, s *httpsession.Session) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := s.CircuitState()
		if state == httpsession.StateOpen {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "circuit %s\n", state)
	})
	return r
}
