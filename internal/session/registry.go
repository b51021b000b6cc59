package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"aural-realtime/internal/protocol"
)

// Publisher delivers broadcasts to topic subscribers. The registry calls it
// while holding the session lock, so broadcasts of one session reach the
// publisher in mutation order.
type Publisher interface {
	Publish(ctx context.Context, b protocol.Broadcast)
}

// Registry owns every live radio and jam. Mutations of one session are
// serialized by that session's lock; different sessions proceed in parallel.
type Registry struct {
	mu     sync.RWMutex
	radios map[string]*radioEntry
	jams   map[string]*jamEntry

	store Store
	pub   Publisher
	newID func() string
	now   func() time.Time
}

type radioEntry struct {
	mu      sync.Mutex
	radio   Radio
	deleted bool
}

type jamEntry struct {
	mu      sync.Mutex
	jam     Jam
	deleted bool
}

// pending is an event produced by a mutation, published with the session's
// new sequence number once the mutation is committed.
type pending struct {
	name    string
	topics  []string
	payload any
}

type Option func(*Registry)

func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.pub = p }
}

func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		radios: make(map[string]*radioEntry),
		jams:   make(map[string]*jamEntry),
		store:  NewMemoryStore(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore loads persisted sessions. Sessions live until explicitly deleted,
// so a restarted registry picks up where it left off.
func (r *Registry) Restore(ctx context.Context) error {
	radios, jams, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rd := range radios {
		r.radios[rd.ID] = &radioEntry{radio: rd}
	}
	for _, j := range jams {
		r.jams[j.ID] = &jamEntry{jam: j}
	}
	log.Printf("session: restored %d radios and %d jams", len(radios), len(jams))
	return nil
}

func (r *Registry) publish(ctx context.Context, seq uint64, events []pending) {
	if r.pub == nil {
		return
	}
	for _, ev := range events {
		frame, err := protocol.NewEvent(ev.name, ev.topics[0], seq, ev.payload)
		if err != nil {
			log.Printf("session: encode %s: %v", ev.name, err)
			continue
		}
		r.pub.Publish(ctx, protocol.Broadcast{Topics: ev.topics, Frame: frame})
	}
}

func (r *Registry) radioEntry(id string) (*radioEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.radios[id]
	return e, ok
}

func (r *Registry) jamEntry(id string) (*jamEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jams[id]
	return e, ok
}

// mutateRadio applies fn under the radio's lock to a copy already carrying the
// next sequence number. When fn returns no events the copy is dropped.
// Otherwise it is persisted, committed and its events published.
func (r *Registry) mutateRadio(ctx context.Context, id, userID string, creatorOnly bool, fn func(next *Radio) ([]pending, error)) (protocol.RadioInfo, error) {
	e, ok := r.radioEntry(id)
	if !ok {
		return protocol.RadioInfo{}, radioNotFound(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return protocol.RadioInfo{}, radioNotFound(id)
	}
	if creatorOnly && e.radio.Creator != userID {
		log.Printf("session: rejected command on radio %s from %q (creator %q)", id, userID, e.radio.Creator)
		return protocol.RadioInfo{}, forbidden("only the radio creator can control playback")
	}

	next := e.radio.clone()
	next.Seq++
	next.UpdatedAt = r.now()
	events, err := fn(&next)
	if err != nil {
		return protocol.RadioInfo{}, err
	}
	if len(events) == 0 {
		return e.radio.Info(), nil
	}
	if err := r.store.SaveRadio(ctx, next); err != nil {
		log.Printf("session: save radio %s: %v", id, err)
		return protocol.RadioInfo{}, &Error{Code: protocol.CodeInternal, Msg: "could not persist radio"}
	}
	e.radio = next
	r.publish(ctx, next.Seq, events)
	return next.Info(), nil
}

// mutateJam is mutateRadio for jams.
func (r *Registry) mutateJam(ctx context.Context, id, userID string, creatorOnly bool, fn func(next *Jam) ([]pending, error)) (protocol.JamInfo, error) {
	e, ok := r.jamEntry(id)
	if !ok {
		return protocol.JamInfo{}, jamNotFound(id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return protocol.JamInfo{}, jamNotFound(id)
	}
	if creatorOnly && e.jam.Creator != userID {
		log.Printf("session: rejected command on jam %s from %q (creator %q)", id, userID, e.jam.Creator)
		return protocol.JamInfo{}, forbidden("only the jam creator can do this")
	}

	next := e.jam.clone()
	next.Seq++
	next.UpdatedAt = r.now()
	events, err := fn(&next)
	if err != nil {
		return protocol.JamInfo{}, err
	}
	if len(events) == 0 {
		return e.jam.Info(), nil
	}
	if err := r.store.SaveJam(ctx, next); err != nil {
		log.Printf("session: save jam %s: %v", id, err)
		return protocol.JamInfo{}, &Error{Code: protocol.CodeInternal, Msg: "could not persist jam"}
	}
	e.jam = next
	r.publish(ctx, next.Seq, events)
	return next.Info(), nil
}

func sortRadios(out []protocol.RadioInfo, created map[string]time.Time) {
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := created[out[i].RadioID], created[out[j].RadioID]
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return out[i].RadioID < out[j].RadioID
	})
}

func sortJams(out []protocol.JamInfo, created map[string]time.Time) {
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := created[out[i].JamID], created[out[j].JamID]
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return out[i].JamID < out[j].JamID
	})
}
