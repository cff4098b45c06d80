package bridge

import (
	"sort"
	"strings"
	"sync"

	"github.com/Tek-Fly/ide-mesh-suite/internal/transport"
)

// Registry is an explicit lookup of named bridges. Callers that need
// multiple multiplexed backends hold a registry instead of a
// process-global table; lifecycle is create-on-miss and explicit dispose.
type Registry struct {
	base   Config
	dialer transport.Dialer

	mu      sync.Mutex
	bridges map[string]*Bridge
}

func NewRegistry(base Config, dialer transport.Dialer) *Registry {
	return &Registry{
		base:    base,
		dialer:  dialer,
		bridges: make(map[string]*Bridge),
	}
}

// Get returns the named bridge, creating it from the registry's base
// config on miss.
func (r *Registry) Get(name string) (*Bridge, error) {
	key := strings.TrimSpace(name)
	if key == "" {
		return nil, ErrNameRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bridges[key]; ok {
		return b, nil
	}
	cfg := r.base
	cfg.Name = key
	b, err := New(cfg, r.dialer)
	if err != nil {
		return nil, err
	}
	r.bridges[key] = b
	return b, nil
}

// Dispose closes and forgets the named bridge; unknown names are a no-op.
func (r *Registry) Dispose(name string) {
	key := strings.TrimSpace(name)
	r.mu.Lock()
	b, ok := r.bridges[key]
	if ok {
		delete(r.bridges, key)
	}
	r.mu.Unlock()
	if ok {
		_ = b.Close()
	}
}

// DisposeAll closes every bridge in the registry.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	bridges := make([]*Bridge, 0, len(r.bridges))
	for key, b := range r.bridges {
		delete(r.bridges, key)
		bridges = append(bridges, b)
	}
	r.mu.Unlock()
	for _, b := range bridges {
		_ = b.Close()
	}
}

// Names lists the registered bridge names in stable order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.bridges))
	for key := range r.bridges {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
