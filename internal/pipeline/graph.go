package pipeline

import (
	"path/filepath"

	"github.com/vango-dev/pages/internal/bundler"
	"github.com/vango-dev/pages/internal/config"
)

const (
	// AssetsDir is the directory below the dist root holding browser assets.
	AssetsDir = "_assets"

	// ManifestFile maps entry modules to their hashed output in production.
	ManifestFile = "manifest.json"

	// ServerDir is the directory below the cache root holding server bundles.
	ServerDir = "server"
)

// Graph builds the job graph for cfg: one browser job and one server job,
// both compiling entry.
func Graph(cfg *config.SiteConfig, entry string, mode config.Mode) bundler.Graph {
	prod := mode.IsProduction()
	nodeEnv := `"` + string(mode) + `"`

	browser := bundler.Job{
		Name:        "browser",
		Target:      bundler.TargetBrowser,
		WorkingDir:  cfg.Dir(),
		EntryPoints: []string{entry},
		Outdir:      filepath.Join(cfg.DistPath(), AssetsDir),
		PublicPath:  cfg.BasePath() + AssetsDir + "/",
		Define:      map[string]string{"process.env.NODE_ENV": nodeEnv},
		Splitting:   true,
		Minify:      prod,
		Sourcemap:   !prod,
	}
	if prod {
		browser.EntryNames = "[name]-[hash]"
	}

	server := bundler.Job{
		Name:             "server",
		Target:           bundler.TargetServer,
		WorkingDir:       cfg.Dir(),
		EntryPoints:      []string{entry},
		Outdir:           filepath.Join(cfg.CachePath(), ServerDir),
		Define:           map[string]string{"process.env.NODE_ENV": nodeEnv},
		ExternalPackages: true,
	}

	return bundler.Graph{Jobs: []bundler.Job{browser, server}}
}
