// Package registry tracks compiled server entries by build generation.
//
// Every compile pass begins a new generation. A pass that succeeds publishes
// its server entry; the registry then hands that entry to the prerender
// driver. While a newer generation is in flight, Resolve reports ErrNotReady
// instead of returning stale output, and Current lets a running prerender
// pass notice it has been superseded.
//
// # Usage
//
//	gen := reg.Begin()
//	// ... compile into <cache>/server/g<gen>/ ...
//	entry, err := reg.Publish(gen, entryPath)
//
//	entry, err := reg.Resolve()
//	if errors.Is(err, registry.ErrNotReady) {
//	    return // next settle re-triggers
//	}
package registry
