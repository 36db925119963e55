// Package ai holds the AI provider registry and the gateway every provider
// call goes through.
package ai

import (
	"fmt"
	"sort"
	"sync"

	"github.com/guilherme-santos/smartcal"
)

type Mux struct {
	mu        sync.Mutex
	providers map[string]smartcal.Provider
}

func NewMux() *Mux {
	return &Mux{
		providers: make(map[string]smartcal.Provider),
	}
}

func (m *Mux) Get(name string) (smartcal.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("ai provider %q is not configured", name)
	}
	return p, nil
}

func (m *Mux) Register(p smartcal.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers[p.Name()] = p
}

// Chain resolves names in order, skipping empty ones.
func (m *Mux) Chain(names ...string) ([]smartcal.Provider, error) {
	var chain []smartcal.Provider
	for _, name := range names {
		if name == "" {
			continue
		}
		p, err := m.Get(name)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no ai provider configured")
	}
	return chain, nil
}

func (m *Mux) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
