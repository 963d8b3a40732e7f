package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Extension is Go code shipped with the binary for a plugin slug. It only
// runs while a plugin with the same slug is installed and active.
type Extension interface {
	Slug() string
}

// Activator is implemented by extensions that need setup on activation.
type Activator interface {
	Activate(ctx context.Context) error
}

// Deactivator is implemented by extensions that clean up on deactivation.
type Deactivator interface {
	Deactivate(ctx context.Context) error
}

// ContentFilter rewrites rendered post and page HTML.
type ContentFilter interface {
	FilterContent(ctx context.Context, html string) string
}

// Registry holds compiled-in extensions keyed by slug.
type Registry struct {
	mu   sync.RWMutex
	exts map[string]Extension
}

// NewRegistry returns a registry holding exts.
func NewRegistry(exts ...Extension) *Registry {
	r := &Registry{exts: make(map[string]Extension)}
	for _, e := range exts {
		r.Register(e)
	}
	return r
}

// Register adds an extension. Registering the same slug twice panics, like
// database/sql drivers.
func (r *Registry) Register(e Extension) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.exts[e.Slug()]; dup {
		panic(fmt.Sprintf("plugin: extension %q registered twice", e.Slug()))
	}
	r.exts[e.Slug()] = e
}

// Lookup returns the extension for slug.
func (r *Registry) Lookup(slug string) (Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exts[slug]
	return e, ok
}

// filters returns the content filters among slugs, in slug order.
func (r *Registry) filters(slugs []string) []ContentFilter {
	sorted := append([]string(nil), slugs...)
	sort.Strings(sorted)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ContentFilter
	for _, s := range sorted {
		if f, ok := r.exts[s].(ContentFilter); ok {
			out = append(out, f)
		}
	}
	return out
}
