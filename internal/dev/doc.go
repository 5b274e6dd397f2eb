// Package dev provides the development server and live reload.
//
// # Architecture
//
// The development server wires these components together:
//
//   - pipeline.Watching recompiles when source files change
//   - prerender.Driver writes pages after each settled compile
//   - watch.ContentWatcher observes content and public directories
//   - Router serves the in-memory dist tree
//   - ReloadServer tells browsers to reload
//
// Compile settles and content changes each go through their own
// debounce.Trigger, so bursts collapse into one prerender-and-broadcast.
//
// # Routes
//
//	<basePath>*        static files from the dist tree
//	/_pages/reload     live-reload websocket
//	/_pages/metrics    Prometheus metrics
//
// # Live-Reload Protocol
//
// The server sends the text message "change" after every consistent
// rebuild except the first. Browsers reload on receipt. DevClientScript is
// appended to every .html response, including the 404 page.
package dev
