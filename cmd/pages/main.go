package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/console"
	"github.com/vango-dev/pages/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Output streams, swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// configPath is the global --config flag.
var configPath string

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and returns the process exit code.
func run(args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		errors.FprintError(stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	configPath = ""

	rootCmd := &cobra.Command{
		Use:   "pages",
		Short: "Build and serve prerendered static sites",
		Long: `Pages compiles a site's entry module for the browser and for
prerendering, writes every page the site exports as static HTML and
serves the result with live reload while you edit.

Configuration is read from pages.json in the project root.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadDotEnv()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to pages.json (default: search upward from the working directory)")

	rootCmd.AddCommand(
		startCmd(),
		buildCmd(),
		deployCmd(),
		serveCmd(),
		versionCmd(),
	)
	return rootCmd
}

// loadDotEnv loads .env from the working directory when present.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return errors.New("E101").WithDetail("Failed to read .env").Wrap(err)
	}
	return nil
}

// loadConfig reads the --config file, or the nearest pages.json.
func loadConfig() (*config.SiteConfig, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err := config.FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}
	return config.Load(root)
}

// resolveEntry returns the absolute path of an existing entry module.
func resolveEntry(entry string) (string, error) {
	abs, err := filepath.Abs(entry)
	if err != nil {
		return "", errors.New("E150").Wrap(err)
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return "", errors.New("E150").
			WithDetail("No file at " + abs).
			WithSuggestion("Pass the site's entry module, e.g. pages build src/index.jsx")
	}
	return abs, nil
}

// parsePort parses an optional port argument.
func parsePort(args []string, index int) (int, error) {
	if len(args) <= index {
		return 0, nil
	}
	port, err := strconv.Atoi(args[index])
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", args[index])
	}
	return port, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// logger writes to the CLI's output streams.
func logger() *console.Logger {
	return console.NewWriter(stdout, stderr)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Fprintf(stdout, "\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Fprintf(stdout, "  %s\n", fmt.Sprintf(format, args...))
}
