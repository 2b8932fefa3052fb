// Package metrics exports cache counters to Prometheus.
//
// Metrics (all labelled by cache name):
//   - folio_cache_hits_total
//   - folio_cache_misses_total
//   - folio_cache_evictions_total
//   - folio_cache_fetch_errors_total
//   - folio_cache_entries (gauge)
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives cache events.
type Recorder interface {
	Hit(cache string)
	Miss(cache string)
	Evict(cache string, n int)
	FetchError(cache string)
	Entries(cache string, n int)
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) Hit(string)          {}
func (Nop) Miss(string)         {}
func (Nop) Evict(string, int)   {}
func (Nop) FetchError(string)   {}
func (Nop) Entries(string, int) {}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	evictions   *prometheus.CounterVec
	fetchErrors *prometheus.CounterVec
	entries     *prometheus.GaugeVec
}

// NewPrometheus creates the collectors and registers them on reg.
// Collectors already registered on reg are reused.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_cache_hits_total",
			Help: "Cache lookups answered by a live entry.",
		}, []string{"cache"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_cache_misses_total",
			Help: "Cache lookups that found no live entry.",
		}, []string{"cache"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_cache_evictions_total",
			Help: "Entries removed by expiry, invalidation or size bounding.",
		}, []string{"cache"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_cache_fetch_errors_total",
			Help: "Upstream fetches that failed while populating a cache.",
		}, []string{"cache"}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "folio_cache_entries",
			Help: "Entries currently held.",
		}, []string{"cache"}),
	}

	if reg == nil {
		return p, nil
	}

	var err error
	p.hits, err = register(reg, p.hits)
	if err != nil {
		return nil, err
	}
	p.misses, err = register(reg, p.misses)
	if err != nil {
		return nil, err
	}
	p.evictions, err = register(reg, p.evictions)
	if err != nil {
		return nil, err
	}
	p.fetchErrors, err = register(reg, p.fetchErrors)
	if err != nil {
		return nil, err
	}
	p.entries, err = register(reg, p.entries)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("failed to register collector: %w", err)
	}
	return c, nil
}

func (p *Prometheus) Hit(cache string)  { p.hits.WithLabelValues(cache).Inc() }
func (p *Prometheus) Miss(cache string) { p.misses.WithLabelValues(cache).Inc() }

func (p *Prometheus) Evict(cache string, n int) {
	if n > 0 {
		p.evictions.WithLabelValues(cache).Add(float64(n))
	}
}

func (p *Prometheus) FetchError(cache string) { p.fetchErrors.WithLabelValues(cache).Inc() }

func (p *Prometheus) Entries(cache string, n int) {
	p.entries.WithLabelValues(cache).Set(float64(n))
}
