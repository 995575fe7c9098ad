// Package connectivity tracks whether the hosted model is reachable. The gate
// is driven purely by transition events; Transport raises them from the
// outcome of real outbound requests.
package connectivity

import (
	"sync"
	"time"
)

// Gate holds the last known reachability transition.
type Gate struct {
	mu         sync.RWMutex
	online     bool
	changedAt  time.Time
	retryAfter time.Duration
	listeners  []func(online bool)
	now        func() time.Time
}

// NewGate returns a gate in the online state. While offline, CanSubmit admits
// one trial submission per retryAfter interval; zero disables retrying so only
// an Online event reopens the gate.
func NewGate(retryAfter time.Duration) *Gate {
	return &Gate{
		online:     true,
		retryAfter: retryAfter,
		now:        time.Now,
	}
}

// Subscribe registers fn to be called synchronously on every transition.
func (g *Gate) Subscribe(fn func(online bool)) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.listeners = append(g.listeners, fn)
	g.mu.Unlock()
}

func (g *Gate) Online()  { g.set(true) }
func (g *Gate) Offline() { g.set(false) }

func (g *Gate) set(online bool) {
	g.mu.Lock()
	if g.online == online {
		g.mu.Unlock()
		return
	}
	g.online = online
	g.changedAt = g.now()
	listeners := append([]func(bool){}, g.listeners...)
	g.mu.Unlock()

	for _, fn := range listeners {
		fn(online)
	}
}

func (g *Gate) IsOnline() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.online
}

// CanSubmit reports whether a new submission may reach the network.
func (g *Gate) CanSubmit() bool {
	g.mu.RLock()
	if g.online {
		g.mu.RUnlock()
		return true
	}
	g.mu.RUnlock()

	if g.retryAfter <= 0 {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.online {
		return true
	}
	now := g.now()
	if now.Sub(g.changedAt) < g.retryAfter {
		return false
	}
	// Restart the window so concurrent callers do not all retry at once.
	g.changedAt = now
	return true
}
