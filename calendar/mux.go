package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/guilherme-santos/smartcal"
)

type Mux struct {
	mu       sync.RWMutex
	backends map[string]smartcal.CalendarAPI
}

func NewMux() *Mux {
	return &Mux{
		backends: make(map[string]smartcal.CalendarAPI),
	}
}

func (m *Mux) Get(platform string) (smartcal.CalendarAPI, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	backend, ok := m.backends[platform]
	if !ok {
		return nil, fmt.Errorf("calendar %q is not implemented", platform)
	}
	return backend, nil
}

func (m *Mux) Register(platform string, backend smartcal.CalendarAPI) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.backends[platform] = backend
}

func (m *Mux) Platforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	platforms := make([]string, 0, len(m.backends))
	for p := range m.backends {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	return platforms
}

// Authenticator returns the platform backend when it speaks OAuth.
func (m *Mux) Authenticator(platform string) (smartcal.Authenticator, bool) {
	backend, err := m.Get(platform)
	if err != nil {
		return nil, false
	}
	auth, ok := backend.(smartcal.Authenticator)
	return auth, ok
}

// Refresh dispatches a token refresh to the platform backend.
func (m *Mux) Refresh(ctx context.Context, platform, refreshToken string) (*smartcal.Grant, error) {
	auth, ok := m.Authenticator(platform)
	if !ok {
		return nil, fmt.Errorf("calendar %q does not support oauth", platform)
	}
	return auth.Refresh(ctx, refreshToken)
}
