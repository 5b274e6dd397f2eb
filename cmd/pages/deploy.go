package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/deploy"
)

// deployOptions holds the deploy command's flags.
type deployOptions struct {
	branch     string
	message    string
	skipBuild  bool
	s3Bucket   string
	s3Prefix   string
	s3Endpoint string
	s3Region   string
}

func deployCmd() *cobra.Command {
	var opts deployOptions

	cmd := &cobra.Command{
		Use:   "deploy <entry> [branch]",
		Short: "Build the site and publish it",
		Long: `Build the site and publish the dist directory.

By default the tree is committed as the only content of a branch
(gh-pages unless given) and force-pushed to the project's origin.
Set PAGES_GIT_TOKEN for HTTPS remotes. With --s3-bucket the files are
uploaded to S3, or to an S3-compatible service with --s3-endpoint.

Examples:
  pages deploy src/index.jsx
  pages deploy src/index.jsx docs-site
  pages deploy src/index.jsx --s3-bucket my-site --s3-prefix docs`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				opts.branch = args[1]
			}
			return runDeploy(args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "Commit message for the published branch")
	cmd.Flags().BoolVar(&opts.skipBuild, "skip-build", false, "Publish the existing dist directory")
	cmd.Flags().StringVar(&opts.s3Bucket, "s3-bucket", "", "Upload to this S3 bucket instead of a git branch")
	cmd.Flags().StringVar(&opts.s3Prefix, "s3-prefix", "", "Key prefix for uploaded files")
	cmd.Flags().StringVar(&opts.s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL")
	cmd.Flags().StringVar(&opts.s3Region, "s3-region", "", "AWS region")

	return cmd
}

func runDeploy(entryArg string, opts deployOptions) error {
	if !opts.skipBuild {
		if _, err := runBuild(entryArg); err != nil {
			return err
		}
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	pub, err := newPublisher(ctx, cfg, opts)
	if err != nil {
		return err
	}
	info("Publishing %s...", cfg.DistDirectory)
	return pub.Publish(ctx, cfg.DistPath())
}

// newPublisher selects S3 when a bucket is given, a git branch otherwise.
func newPublisher(ctx context.Context, cfg *config.SiteConfig, opts deployOptions) (deploy.Publisher, error) {
	if opts.s3Bucket != "" {
		pub, err := deploy.NewS3Publisher(ctx, deploy.S3Options{
			Bucket:   opts.s3Bucket,
			Prefix:   opts.s3Prefix,
			Region:   opts.s3Region,
			Endpoint: opts.s3Endpoint,
			Logger:   logger(),
		})
		if err != nil {
			return nil, err
		}
		return pub, nil
	}
	return &deploy.GitPublisher{
		RepoDir: cfg.Dir(),
		Branch:  opts.branch,
		Message: opts.message,
		Logger:  logger(),
	}, nil
}
