package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrNotReady means no entry is available for the latest generation yet.
	ErrNotReady = errors.New("registry: server entry not ready")

	// ErrSuperseded means a newer generation began before this one published.
	ErrSuperseded = errors.New("registry: generation superseded")
)

// DefaultKeep is the number of published generation directories kept on disk.
const DefaultKeep = 2

// Entry identifies one compiled server entry.
type Entry struct {
	// Generation is the compile pass that produced the entry.
	Generation uint64

	// Path is the absolute path of the compiled entry module.
	Path string

	// Dir is the generation directory holding the entry and its chunks.
	Dir string

	// Digest is the sha256 checksum of the entry module.
	Digest string

	// PublishedAt is when the entry was published.
	PublishedAt time.Time
}

// Registry hands out the newest published server entry.
type Registry struct {
	mu       sync.Mutex
	latest   uint64
	inFlight bool
	entry    *Entry
	dirs     []string
	keep     int

	// leases counts Acquire calls not yet released, per generation
	// directory. stale holds pruned directories waiting for their last
	// lease.
	leases map[string]int
	stale  map[string]bool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		keep:   DefaultKeep,
		leases: make(map[string]int),
		stale:  make(map[string]bool),
	}
}

// Begin starts a new generation and returns it. Generations strictly increase.
func (r *Registry) Begin() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest++
	r.inFlight = true
	return r.latest
}

// Latest returns the most recently begun generation.
func (r *Registry) Latest() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Publish records path as the entry of generation gen. It fails with
// ErrSuperseded when a newer generation has begun; the caller discards its
// output in that case.
func (r *Registry) Publish(gen uint64, path string) (Entry, error) {
	digest, err := checksum(path)
	if err != nil {
		return Entry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.latest {
		return Entry{}, fmt.Errorf("%w: generation %d, latest %d", ErrSuperseded, gen, r.latest)
	}

	e := Entry{
		Generation:  gen,
		Path:        path,
		Dir:         filepath.Dir(path),
		Digest:      digest,
		PublishedAt: time.Now(),
	}
	r.entry = &e
	r.inFlight = false
	r.dirs = append(r.dirs, e.Dir)
	r.prune()
	return e, nil
}

// Fail settles generation gen without an entry. The previously published
// entry stays current.
func (r *Registry) Fail(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen == r.latest {
		r.inFlight = false
	}
}

// Resolve returns the newest published entry. It returns ErrNotReady while
// the latest generation is still compiling or before anything was published.
func (r *Registry) Resolve() (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight || r.entry == nil {
		return Entry{}, ErrNotReady
	}
	return *r.entry, nil
}

// Acquire is Resolve for callers that run the entry. The entry's
// directory is not removed from disk until Release is called for it.
func (r *Registry) Acquire() (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight || r.entry == nil {
		return Entry{}, ErrNotReady
	}
	r.leases[r.entry.Dir]++
	return *r.entry, nil
}

// Release ends a lease taken by Acquire. A directory pruned while leased
// is removed when its last lease ends.
func (r *Registry) Release(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.leases[e.Dir] == 0 {
		return
	}
	r.leases[e.Dir]--
	if r.leases[e.Dir] > 0 {
		return
	}
	delete(r.leases, e.Dir)
	if r.stale[e.Dir] {
		delete(r.stale, e.Dir)
		os.RemoveAll(e.Dir)
	}
}

// Current reports whether e is still the entry Resolve would return.
func (r *Registry) Current(e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.inFlight && r.entry != nil && r.entry.Generation == e.Generation
}

// SetKeep sets how many published generation directories are kept on disk.
func (r *Registry) SetKeep(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n < 1 {
		n = 1
	}
	r.keep = n
}

// prune removes generation directories beyond the keep limit. Leased
// directories are left for Release. Called with r.mu held.
func (r *Registry) prune() {
	for len(r.dirs) > r.keep {
		old := r.dirs[0]
		r.dirs = r.dirs[1:]
		switch {
		case old == r.entry.Dir:
		case r.leases[old] > 0:
			r.stale[old] = true
		default:
			os.RemoveAll(old)
		}
	}
}

func checksum(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(content)
	return "sha256:" + hex.EncodeToString(hash[:]), nil
}
