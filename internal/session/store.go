package session

import (
	"context"
	"sync"
)

// Store persists session state so a restarted registry can restore it.
// Saves are full snapshots of one session.
type Store interface {
	SaveRadio(ctx context.Context, r Radio) error
	DeleteRadio(ctx context.Context, id string) error
	SaveJam(ctx context.Context, j Jam) error
	DeleteJam(ctx context.Context, id string) error
	Load(ctx context.Context) ([]Radio, []Jam, error)
}

// MemoryStore keeps snapshots in process. It is the default store.
type MemoryStore struct {
	mu     sync.Mutex
	radios map[string]Radio
	jams   map[string]Jam
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		radios: make(map[string]Radio),
		jams:   make(map[string]Jam),
	}
}

func (m *MemoryStore) SaveRadio(ctx context.Context, r Radio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.radios[r.ID] = r.clone()
	return nil
}

func (m *MemoryStore) DeleteRadio(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.radios, id)
	return nil
}

func (m *MemoryStore) SaveJam(ctx context.Context, j Jam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jams[j.ID] = j.clone()
	return nil
}

func (m *MemoryStore) DeleteJam(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jams, id)
	return nil
}

func (m *MemoryStore) Load(ctx context.Context) ([]Radio, []Jam, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	radios := make([]Radio, 0, len(m.radios))
	for _, r := range m.radios {
		radios = append(radios, r.clone())
	}
	jams := make([]Jam, 0, len(m.jams))
	for _, j := range m.jams {
		jams = append(jams, j.clone())
	}
	return radios, jams, nil
}
