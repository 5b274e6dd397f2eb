package main

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/dev"
	"github.com/vango-dev/pages/internal/errors"
	"github.com/vango-dev/pages/internal/metrics"
	"github.com/vango-dev/pages/internal/vfs"
)

func serveCmd() *cobra.Command {
	var (
		host    string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "serve [port]",
		Short: "Serve the built site",
		Long: `Serve the dist directory written by "pages build" from disk,
under the configured base path and without live reload.

Examples:
  pages serve
  pages serve 8080`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args, 0)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err != nil {
				return errors.New("E130").Wrap(err)
			}

			ctx, cancel := signalContext()
			defer cancel()
			return serveDist(ctx, cfg, ln, verbose)
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "localhost", "Host to bind to")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every request")

	return cmd
}

// distHandler serves the built dist tree of cfg.
func distHandler(cfg *config.SiteConfig, verbose bool) http.Handler {
	log := logger()
	m := metrics.New()
	router := dev.NewRouter(dev.RouterOptions{
		FS:      vfs.NewDisk(cfg.Dir()),
		DistDir: cfg.DistPath(),
		Logger:  log,
		Metrics: m,
	})
	return dev.NewHandler(dev.HandlerOptions{
		BasePath: cfg.BasePath(),
		Static:   router,
		Metrics:  m,
		Verbose:  verbose,
	})
}

// serveDist serves until ctx is cancelled.
func serveDist(ctx context.Context, cfg *config.SiteConfig, ln net.Listener, verbose bool) error {
	srv := &http.Server{
		Handler:           distHandler(cfg, verbose),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	success("Serving %s at http://%s%s", cfg.DistDirectory, ln.Addr(), cfg.BasePath())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New("E130").Wrap(err)
	}
}
