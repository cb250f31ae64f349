package exchange

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/alanyoungcy/cryptotax/internal/domain"
)

// Registry maps exchange names to their normalizers. Names are matched
// case-insensitively. It is safe for concurrent use.
type Registry struct {
	normalizers map[string]Normalizer
	mu          sync.RWMutex
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{normalizers: make(map[string]Normalizer)}
}

// Register adds n under name, replacing any previous entry.
func (r *Registry) Register(name string, n Normalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normalizers[strings.ToLower(name)] = n
}

// Get returns the normalizer registered under name or
// domain.ErrUnsupportedExchange.
func (r *Registry) Get(name string) (Normalizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.normalizers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("exchange %q: %w", name, domain.ErrUnsupportedExchange)
	}
	return n, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.normalizers))
	for n := range r.normalizers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns the registered normalizers ordered by name.
func (r *Registry) All() []Normalizer {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Normalizer, 0, len(names))
	for _, n := range names {
		out = append(out, r.normalizers[n])
	}
	return out
}
