// Package build provides the production build.
//
// A build runs in two steps:
//
//	1/2 Bundling assets       browser and server bundles, written to disk
//	2/2 Prerendering pages    every page of every variant
//
// Any failure aborts the build; the CLI prints the formatted error and exits
// with status 1.
//
// # Usage
//
//	builder := build.New(cfg, build.Options{Entry: entry})
//	result, err := builder.Build(ctx)
//	if err != nil {
//	    errors.PrintError(err)
//	    os.Exit(1)
//	}
//
// # Output Structure
//
//	dist/
//	├── index.html
//	├── about/index.html
//	├── 404.html
//	└── _assets/
//	    ├── index-5TBOKSQZ.js
//	    └── manifest.json
//
//	.pages/server/g1/index.js    compiled server entry
package build
