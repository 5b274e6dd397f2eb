// Package prerender writes the static page set of a site.
//
// A Driver resolves the newest compiled server entry from the registry,
// asks an Enumerator for every (path, content) pair the entry produces and
// writes each page into the output store. Passes that start while a compile
// is in flight are skipped; passes overtaken by a newer generation stop
// writing as soon as the registry reports the entry is no longer current.
//
// # Path normalization
//
// Page paths are relative to the dist directory. A path ending in ".html"
// or starting with the API prefix is written verbatim; any other path is a
// directory route and is written to <path>/index.html:
//
//	about          -> dist/about/index.html
//	about.html     -> dist/about.html
//	api/users      -> dist/api/users
//
// # Node enumerator
//
// NodeEnumerator runs the compiled server entry in a fresh Node.js process
// for every call, so no module cache survives between passes.
package prerender
