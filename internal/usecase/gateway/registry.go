package gateway

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kailas-cloud/askdex/internal/domain"
	"github.com/kailas-cloud/askdex/internal/metrics"
)

// Descriptor configures one model.
type Descriptor struct {
	ID            string
	Provider      string
	Name          string
	Modality      domain.Modality
	ContextWindow int
	Fallback      string
	// Timeout bounds a single attempt. Zero uses the gateway default.
	Timeout time.Duration
}

// ProviderOptions tune one provider registration.
type ProviderOptions struct {
	// RPS caps calls per second across all of the provider's models. Zero is unlimited.
	RPS   float64
	Burst int
	// Budget may be nil.
	Budget *BudgetTracker
}

type providerEntry struct {
	name    string
	client  Provider
	limiter *rate.Limiter
	budget  *BudgetTracker
}

const (
	healthUnknown int32 = iota
	healthHealthy
	healthUnhealthy
)

// model is a registered descriptor. Health fields are atomics so the request
// path never takes a registry-wide lock.
type model struct {
	desc      Descriptor
	provider  *providerEntry
	health    atomic.Int32
	downUntil atomic.Int64 // unix nanos
}

func (m *model) status() domain.HealthStatus {
	switch m.health.Load() {
	case healthHealthy:
		return domain.HealthHealthy
	case healthUnhealthy:
		return domain.HealthUnhealthy
	default:
		return domain.HealthUnknown
	}
}

// available is false only while a failure cooldown is running.
func (m *model) available(now time.Time) bool {
	if m.health.Load() != healthUnhealthy {
		return true
	}
	return now.UnixNano() >= m.downUntil.Load()
}

func (m *model) markHealthy() {
	m.health.Store(healthHealthy)
	m.downUntil.Store(0)
	metrics.ModelHealthy.WithLabelValues(m.desc.ID).Set(1)
}

func (m *model) markUnhealthy(until time.Time) {
	m.downUntil.Store(until.UnixNano())
	m.health.Store(healthUnhealthy)
	metrics.ModelHealthy.WithLabelValues(m.desc.ID).Set(0)
}

// Registry holds providers and model descriptors. It is built once at
// startup and read-only afterwards.
type Registry struct {
	providers map[string]*providerEntry
	models    map[string]*model
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]*providerEntry),
		models:    make(map[string]*model),
	}
}

// AddProvider registers a back-end under name.
func (r *Registry) AddProvider(name string, client Provider, opts ProviderOptions) error {
	if _, dup := r.providers[name]; dup {
		return fmt.Errorf("provider %q registered twice", name)
	}
	p := &providerEntry{name: name, client: client, budget: opts.Budget}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	r.providers[name] = p
	return nil
}

// AddModel registers a descriptor. Its provider must already be registered.
func (r *Registry) AddModel(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("model id is required: %w", domain.ErrInvalidInput)
	}
	if _, dup := r.models[d.ID]; dup {
		return fmt.Errorf("model %q registered twice", d.ID)
	}
	p, ok := r.providers[d.Provider]
	if !ok {
		return fmt.Errorf("model %q: unknown provider %q", d.ID, d.Provider)
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	r.models[d.ID] = &model{desc: d, provider: p}
	return nil
}

// Validate checks fallback links: each points at another registered model
// of the same modality.
func (r *Registry) Validate() error {
	for id, m := range r.models {
		fb := m.desc.Fallback
		if fb == "" {
			continue
		}
		if fb == id {
			return fmt.Errorf("model %q falls back to itself", id)
		}
		target, ok := r.models[fb]
		if !ok {
			return fmt.Errorf("model %q: fallback %q: %w", id, fb, domain.ErrModelNotFound)
		}
		if target.desc.Modality != m.desc.Modality {
			return fmt.Errorf("model %q (%s) cannot fall back to %q (%s)",
				id, m.desc.Modality, fb, target.desc.Modality)
		}
	}
	return nil
}

func (r *Registry) model(id string) (*model, error) {
	m, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", id, domain.ErrModelNotFound)
	}
	return m, nil
}

// Descriptors lists models with live health, sorted by id.
func (r *Registry) Descriptors() []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, domain.ModelDescriptor{
			ID:            m.desc.ID,
			Provider:      m.desc.Provider,
			Name:          m.desc.Name,
			Modality:      m.desc.Modality,
			ContextWindow: m.desc.ContextWindow,
			Fallback:      m.desc.Fallback,
			Health:        m.status(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Budgets reports every provider budget, sorted by provider.
func (r *Registry) Budgets() []BudgetReport {
	var out []BudgetReport
	for _, p := range r.providers {
		if p.budget != nil {
			out = append(out, p.budget.Report())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
