package configuration

import (
	"context"
	"log/slog"
	"sync"
)

// Fetcher retrieves the remote configuration, typically a GET against the
// config URL embedded in the client token.
type Fetcher func(ctx context.Context) (*Configuration, error)

// Callback receives either the configuration or the fetch error, never both.
type Callback func(*Configuration, error)

// Gate holds the session's configuration snapshot and defers callers until it
// is available. Ensure triggers at most one fetch regardless of how many
// callers queue up behind it; every queued callback fires in registration
// order once the fetch settles. A failed fetch is fanned out to the queued
// callers and the next Ensure call retries.
type Gate struct {
	mu       sync.Mutex
	fetch    Fetcher
	config   *Configuration
	waiters  []Callback
	fetching bool
	logger   *slog.Logger
}

func NewGate(fetch Fetcher, logger *slog.Logger) *Gate {
	return &Gate{
		fetch:  fetch,
		logger: logger,
	}
}

// Ensure invokes ready with the cached configuration synchronously when
// available; otherwise queues ready and starts the fetch if one is not
// already in flight.
func (g *Gate) Ensure(ctx context.Context, ready Callback) {
	g.mu.Lock()
	if g.config != nil {
		cfg := g.config
		g.mu.Unlock()
		ready(cfg, nil)
		return
	}

	g.waiters = append(g.waiters, ready)
	if g.fetching {
		g.mu.Unlock()
		return
	}
	g.fetching = true
	g.mu.Unlock()

	go g.run(ctx)
}

func (g *Gate) run(ctx context.Context) {
	cfg, err := g.fetch(ctx)

	g.mu.Lock()
	if err == nil {
		g.config = cfg
	} else {
		g.logger.Error("configuration fetch failed", "error", err)
	}
	waiters := g.waiters
	g.waiters = nil
	g.fetching = false
	g.mu.Unlock()

	for _, w := range waiters {
		w(cfg, err)
	}
}

// Current returns the cached configuration, or nil before the first
// successful fetch.
func (g *Gate) Current() *Configuration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.config
}
