// Package room binds a shared session to the user's own playback device.
// There is no audio relay: every participant's device follows the session
// timeline on its own and may drift by local start-up and network latency.
package room

import (
	"context"
	"errors"
	"fmt"
	"log"

	"aural-realtime/internal/catalog"
	"aural-realtime/internal/client"
)

// Device is the local catalog-playback device.
type Device interface {
	Play(ctx context.Context, songID string, offset float64) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Seek(ctx context.Context, offset float64) error
	State(ctx context.Context) (catalog.PlaybackState, error)
}

// Catalog looks up display metadata for a song id.
type Catalog interface {
	Track(ctx context.Context, id string) (catalog.Track, error)
}

// Alerter shows a dismissible alert to the user.
type Alerter interface {
	Alert(err error)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(error)

func (f AlertFunc) Alert(err error) { f(err) }

var (
	ErrNotCreator = errors.New("room: only the creator controls this radio")
	ErrClosed     = errors.New("room: closed")
)

// PlaybackError is a failed device operation. Shared session state is not
// affected.
type PlaybackError struct {
	Op  string
	Err error
}

func (e *PlaybackError) Error() string { return fmt.Sprintf("playback %s: %v", e.Op, e.Err) }

func (e *PlaybackError) Unwrap() error { return e.Err }

// MetadataError is a failed metadata lookup. The room falls back to showing
// the song id.
type MetadataError struct {
	SongID string
	Err    error
}

func (e *MetadataError) Error() string { return fmt.Sprintf("metadata %s: %v", e.SongID, e.Err) }

func (e *MetadataError) Unwrap() error { return e.Err }

const deviceQueue = 16

type deviceJob struct {
	op   string
	run  func(ctx context.Context, d Device) error
	then func(error)
}

// deviceWorker runs device calls one at a time off the loop and posts each
// outcome back to it, so device commands keep their issue order without
// blocking the loop.
type deviceWorker struct {
	loop   *client.Loop
	device Device
	alert  func(error)
	jobs   chan deviceJob
	cancel context.CancelFunc
	closed bool
}

func newDeviceWorker(loop *client.Loop, device Device, alert func(error)) *deviceWorker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &deviceWorker{
		loop:   loop,
		device: device,
		alert:  alert,
		jobs:   make(chan deviceJob, deviceQueue),
		cancel: cancel,
	}
	go w.run(ctx)
	return w
}

// submit queues a device call. then, if set, runs on the loop with the
// outcome; failures are alerted before it runs.
func (w *deviceWorker) submit(op string, run func(ctx context.Context, d Device) error, then func(error)) {
	if w.closed {
		return
	}
	select {
	case w.jobs <- deviceJob{op: op, run: run, then: then}:
	default:
		log.Printf("room: device queue full, dropping %s", op)
	}
}

func (w *deviceWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-w.jobs:
			err := j.run(ctx, w.device)
			if ctx.Err() != nil {
				return
			}
			w.loop.Post(func() { w.finish(j, err) })
		}
	}
}

func (w *deviceWorker) finish(j deviceJob, err error) {
	if w.closed {
		return
	}
	if err != nil {
		perr := &PlaybackError{Op: j.op, Err: err}
		log.Printf("room: %v", perr)
		w.alert(perr)
	}
	if j.then != nil {
		j.then(err)
	}
}

func (w *deviceWorker) close() {
	if w.closed {
		return
	}
	w.closed = true
	w.cancel()
}
