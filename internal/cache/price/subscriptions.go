package price

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goflare.io/folio/internal/models"
)

// Listener receives price updates for a subscribed symbol.
type Listener func(models.PriceData)

// registry maps symbol -> subscription id -> listener. Empty symbol sets are removed.
type registry struct {
	mu        sync.RWMutex
	listeners map[string]map[uuid.UUID]Listener
	logger    *zap.Logger
}

func newRegistry(logger *zap.Logger) *registry {
	return &registry{
		listeners: make(map[string]map[uuid.UUID]Listener),
		logger:    logger,
	}
}

func (r *registry) add(symbol string, listener Listener) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	set, ok := r.listeners[symbol]
	if !ok {
		set = make(map[uuid.UUID]Listener)
		r.listeners[symbol] = set
	}
	set[id] = listener
	r.mu.Unlock()
	return id
}

func (r *registry) remove(symbol string, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.listeners[symbol]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.listeners, symbol)
	}
}

// publish calls every listener of data.Symbol outside the lock. A panicking listener
// is logged and does not stop the others.
func (r *registry) publish(data models.PriceData) int {
	r.mu.RLock()
	set := r.listeners[data.Symbol]
	targets := make([]Listener, 0, len(set))
	for _, l := range set {
		targets = append(targets, l)
	}
	r.mu.RUnlock()

	for _, l := range targets {
		r.notify(data, l)
	}
	return len(targets)
}

func (r *registry) notify(data models.PriceData, l Listener) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Price listener panicked", zap.String("symbol", data.Symbol), zap.Any("panic", rec))
		}
	}()
	l(data)
}

// symbols returns every symbol with at least one listener, sorted.
func (r *registry) symbols() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.listeners))
	for s := range r.listeners {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// count returns the total number of listeners.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.listeners {
		n += len(set)
	}
	return n
}
