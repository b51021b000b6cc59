// Package playback keeps the locally displayed position of a shared
// session. While playing, the position advances by one every second on the
// client loop. Server events overwrite it unconditionally, so the display
// may jump by up to one correction interval plus network latency.
package playback

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"aural-realtime/internal/client"
)

const tickInterval = time.Second

// Synchronizer extrapolates the display time of one joined session. All
// methods must be called on the loop.
type Synchronizer struct {
	loop  *client.Loop
	clock clock.Clock

	displayTime float64
	playing     bool

	// gen invalidates ticks queued by a timer that has since stopped.
	gen  uint64
	stop chan struct{}

	mu       sync.Mutex
	nextID   int
	watchers map[int]func(float64)
	closed   bool
}

// New returns a stopped synchronizer at position 0. A nil clk uses the wall
// clock.
func New(loop *client.Loop, clk clock.Clock) *Synchronizer {
	if clk == nil {
		clk = clock.New()
	}
	return &Synchronizer{loop: loop, clock: clk, watchers: make(map[int]func(float64))}
}

func (s *Synchronizer) DisplayTime() float64 { return s.displayTime }

func (s *Synchronizer) IsPlaying() bool { return s.playing }

// Correct overwrites the display time with an authoritative position.
func (s *Synchronizer) Correct(seconds float64) {
	if s.closed {
		return
	}
	s.displayTime = seconds
	s.notify()
}

// SetPlaying starts or stops the 1 Hz timer.
func (s *Synchronizer) SetPlaying(playing bool) {
	if s.closed || playing == s.playing {
		return
	}
	s.playing = playing
	if playing {
		s.start()
	} else {
		s.halt()
	}
}

// Reset applies a full session snapshot: position and play state together.
func (s *Synchronizer) Reset(seconds float64, playing bool) {
	s.Correct(seconds)
	s.SetPlaying(playing)
}

// Watch registers fn for every display time change.
func (s *Synchronizer) Watch(fn func(float64)) *client.Subscription {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()
	return client.NewSubscription(func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	})
}

// Close stops the timer and drops every watcher. The synchronizer ignores
// further calls.
func (s *Synchronizer) Close() {
	if s.closed {
		return
	}
	s.halt()
	s.playing = false
	s.closed = true
	s.mu.Lock()
	s.watchers = make(map[int]func(float64))
	s.mu.Unlock()
}

func (s *Synchronizer) start() {
	s.gen++
	gen := s.gen
	stop := make(chan struct{})
	s.stop = stop
	ticker := s.clock.Ticker(tickInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.loop.Post(func() { s.tick(gen) })
			case <-stop:
				return
			}
		}
	}()
}

func (s *Synchronizer) halt() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.gen++
}

func (s *Synchronizer) tick(gen uint64) {
	if gen != s.gen || !s.playing {
		return
	}
	s.displayTime++
	s.notify()
}

func (s *Synchronizer) notify() {
	s.mu.Lock()
	fns := make([]func(float64), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(s.displayTime)
	}
}
