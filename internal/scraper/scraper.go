package scraper

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Session is one isolated acquisition session. Fetch returns once the
// compressed payload for (symbol, year) exists at the returned path; the file
// may still be growing when Fetch returns.
type Session interface {
	Fetch(ctx context.Context, symbol string, year int) (string, error)
	Close() error
}

// SessionConfig describes the resources leased to one session.
type SessionConfig struct {
	// Port is the exclusive local port leased to the session.
	Port int
	// DownloadDir is a directory owned by this session alone.
	DownloadDir string
}

// Opener creates sessions. Each mode of acquisition registers one.
type Opener interface {
	Mode() string
	Open(ctx context.Context, cfg SessionConfig) (Session, error)
}

type Registry struct {
	mu      sync.RWMutex
	openers map[string]Opener
}

func NewRegistry() *Registry {
	return &Registry{
		openers: make(map[string]Opener),
	}
}

func (r *Registry) Register(o Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[o.Mode()] = o
}

func (r *Registry) Get(mode string) (Opener, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.openers[mode]
	if !ok {
		return nil, fmt.Errorf("session opener not found for mode: %s", mode)
	}
	return o, nil
}

func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	modes := make([]string, 0, len(r.openers))
	for m := range r.openers {
		modes = append(modes, m)
	}
	slices.Sort(modes)
	return modes
}
