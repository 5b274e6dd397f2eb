// Package config provides the site configuration model.
//
// The configuration lives in pages.json (or pages.yaml) at the project root.
// All directories are relative to that root.
//
// # Configuration File Structure
//
//	{
//	  "baseUrl": "https://example.com/docs/",
//	  "distDirectory": "dist",
//	  "publicDirectory": "public",
//	  "localeFile": "locales.json",
//	  "variants": [
//	    {"contentDirectory": "content/en"},
//	    {"contentDirectory": "content/fr", "routePrefix": "fr"}
//	  ]
//	}
//
// PAGES_BASE_URL and PAGES_DIST_DIRECTORY override the file values.
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Serving under", cfg.BasePath())
package config
