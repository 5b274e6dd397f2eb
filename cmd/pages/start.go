package main

import (
	"github.com/spf13/cobra"

	"github.com/vango-dev/pages/internal/dev"
)

func startCmd() *cobra.Command {
	var (
		host    string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "start <entry> [port]",
		Short: "Start the development server",
		Long: `Start the development server with live reload.

The server bundles the entry into memory, prerenders every page and
reloads connected browsers when sources, content or pages.json change.
Build and prerender errors are reported and the server keeps running.

Examples:
  pages start src/index.jsx
  pages start src/index.jsx 8080
  pages start src/index.jsx --host 0.0.0.0`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args, 1)
			if err != nil {
				return err
			}
			return runStart(args[0], host, port, verbose)
		},
	}

	cmd.Flags().StringVarP(&host, "host", "H", "localhost", "Host to bind to")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every request")

	return cmd
}

func runStart(entryArg, host string, port int, verbose bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	entry, err := resolveEntry(entryArg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	server := dev.NewServer(dev.ServerOptions{
		Config:  cfg,
		Entry:   entry,
		Host:    host,
		Port:    port,
		Logger:  logger(),
		Verbose: verbose,
	})

	return server.Start(ctx)
}
