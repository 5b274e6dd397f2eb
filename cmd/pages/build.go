package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pages/internal/build"
)

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <entry>",
		Short: "Build the site for production",
		Long: `Build the site into its dist directory.

This command:
  • Cleans the dist directory
  • Bundles the entry for the browser with content-hashed names
  • Writes the asset manifest
  • Copies the public directory
  • Prerenders every page the entry exports

Any compile or prerender error fails the build.

Examples:
  pages build src/index.jsx
  pages build src/index.jsx --config site/pages.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runBuild(args[0])
			return err
		},
	}
	return cmd
}

func runBuild(entryArg string) (*build.Result, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	entry, err := resolveEntry(entryArg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Fprintln(stdout, "  Building for production...")
	fmt.Fprintln(stdout)

	builder := build.New(cfg, build.Options{
		Entry:      entry,
		Logger:     logger(),
		OnProgress: progressReporter(),
	})
	result, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}

	printBuildResult(result, cfg.Dir())
	return result, nil
}

// progressReporter prints build steps as info lines.
func progressReporter() func(step string) {
	return func(step string) {
		info("%s", step)
	}
}

func printBuildResult(result *build.Result, root string) {
	out := result.OutputDir
	if rel, err := filepath.Rel(root, out); err == nil {
		out = rel
	}

	fmt.Fprintln(stdout)
	success("Build complete in %s", result.Duration.Round(1000000))
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "  Output:")
	fmt.Fprintf(stdout, "    %s/\n", filepath.ToSlash(out))
	fmt.Fprintf(stdout, "    ├── %d pages\n", result.Pages)
	fmt.Fprintf(stdout, "    ├── %d public files\n", result.PublicFiles)
	fmt.Fprintf(stdout, "    └── _assets/ (%d files)\n", result.Assets)

	entries := make([]string, 0, len(result.Manifest))
	for entry := range result.Manifest {
		entries = append(entries, entry)
	}
	sort.Strings(entries)
	for _, entry := range entries {
		fmt.Fprintf(stdout, "        %s → %s\n", entry, result.Manifest[entry])
	}
	fmt.Fprintln(stdout)
}
