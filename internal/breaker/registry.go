package breaker

import (
	"sort"
	"sync"
	"time"
)

// Service names for the breakers the enrichment pipeline uses.
const (
	ServiceEmbedding    = "embedding"
	ServiceSummary      = "summary"
	ServiceKeywords     = "keywords"
	ServiceTags         = "tag_extraction"
	ServicePropositions = "proposition_extraction"
)

// Registry holds one breaker per external model service. Breakers are
// created lazily with shared thresholds; state is per-service.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	opts     []Option
}

// NewRegistry creates a registry whose breakers share the given options.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		opts:     opts,
	}
}

// Get returns the breaker for a service, creating it on first use.
func (r *Registry) Get(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[service]; ok {
		return b
	}
	b := New(service, r.opts...)
	r.breakers[service] = b
	return b
}

// Stats returns snapshots for all known breakers, sorted by name.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// ResetAll forces every breaker back to closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

// RegistryConfig carries the shared thresholds from configuration.
type RegistryConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	HalfOpenMaxCalls int
}

// NewRegistryFromConfig builds a registry with thresholds from config,
// falling back to defaults for zero values.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	var opts []Option
	if cfg.FailureThreshold > 0 {
		opts = append(opts, WithFailureThreshold(cfg.FailureThreshold))
	}
	if cfg.ResetTimeout > 0 {
		opts = append(opts, WithResetTimeout(cfg.ResetTimeout))
	}
	if cfg.HalfOpenMaxCalls > 0 {
		opts = append(opts, WithHalfOpenMaxCalls(cfg.HalfOpenMaxCalls))
	}
	return NewRegistry(opts...)
}
