package directory

import (
	"context"
	"sort"
	"sync"
)

// MemoryDirectory keeps entries in process memory. It is safe for
// concurrent use.
type MemoryDirectory struct {
	mu        sync.RWMutex
	apps      map[string][]string
	endpoints map[endpointKey][]string
}

type endpointKey struct {
	service, app string
}

var _ Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		apps:      make(map[string][]string),
		endpoints: make(map[endpointKey][]string),
	}
}

func (m *MemoryDirectory) Register(_ context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.apps[e.ServiceName], _ = appendUnique(m.apps[e.ServiceName], e.ApplicationName)
	key := endpointKey{e.ServiceName, e.ApplicationName}
	m.endpoints[key] = append(m.endpoints[key], e.Address)
	return nil
}

func (m *MemoryDirectory) Deregister(_ context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := endpointKey{e.ServiceName, e.ApplicationName}
	m.endpoints[key], _ = removeAll(m.endpoints[key], e.Address)
	return nil
}

func (m *MemoryDirectory) Services(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.apps))
	for name := range m.apps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryDirectory) Applications(_ context.Context, serviceName string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.apps[serviceName]...), nil
}

func (m *MemoryDirectory) Endpoints(_ context.Context, serviceName, applicationName string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.endpoints[endpointKey{serviceName, applicationName}]...), nil
}
