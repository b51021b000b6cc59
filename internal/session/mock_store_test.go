package session

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"aural-realtime/internal/protocol"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveRadio(ctx context.Context, r Radio) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockStore) DeleteRadio(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) SaveJam(ctx context.Context, j Jam) error {
	args := m.Called(ctx, j)
	return args.Error(0)
}

func (m *MockStore) DeleteJam(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) Load(ctx context.Context) ([]Radio, []Jam, error) {
	args := m.Called(ctx)
	var radios []Radio
	if v := args.Get(0); v != nil {
		radios = v.([]Radio)
	}
	var jams []Jam
	if v := args.Get(1); v != nil {
		jams = v.([]Jam)
	}
	return radios, jams, args.Error(2)
}

// recorder is a Publisher that keeps every broadcast.
type recorder struct {
	mu  sync.Mutex
	got []protocol.Broadcast
}

func (r *recorder) Publish(ctx context.Context, b protocol.Broadcast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, b)
}

func (r *recorder) all() []protocol.Broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Broadcast(nil), r.got...)
}

func (r *recorder) names() []string {
	var out []string
	for _, b := range r.all() {
		out = append(out, b.Frame.Event)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = nil
}

func ids(list ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := list[i%len(list)]
		i++
		return id
	}
}
