package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aural-realtime/internal/catalog"
	"aural-realtime/internal/client"
	"aural-realtime/internal/client/clienttest"
	"aural-realtime/internal/protocol"
)

type fakeDevice struct {
	mu      sync.Mutex
	calls   []string
	state   catalog.PlaybackState
	playErr error
}

func (d *fakeDevice) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *fakeDevice) Play(_ context.Context, songID string, offset float64) error {
	d.record(fmt.Sprintf("play %s %.1f", songID, offset))
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.playErr
}

func (d *fakeDevice) Pause(context.Context) error {
	d.record("pause")
	return nil
}

func (d *fakeDevice) Resume(context.Context) error {
	d.record("resume")
	return nil
}

func (d *fakeDevice) Seek(_ context.Context, offset float64) error {
	d.record(fmt.Sprintf("seek %.1f", offset))
	return nil
}

func (d *fakeDevice) State(context.Context) (catalog.PlaybackState, error) {
	d.record("state")
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, nil
}

func (d *fakeDevice) setState(st catalog.PlaybackState) {
	d.mu.Lock()
	d.state = st
	d.mu.Unlock()
}

func (d *fakeDevice) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Track(ctx context.Context, id string) (catalog.Track, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(catalog.Track), args.Error(1)
}

type env struct {
	t      *testing.T
	loop   *client.Loop
	ch     *clienttest.Channel
	proxy  *client.Proxy
	dev    *fakeDevice
	clk    *clock.Mock
	radio  *RadioController
	alerts []error
	closes int
	tracks []catalog.Track
}

func newEnv(t *testing.T, userID string) *env {
	t.Helper()
	loop := client.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)

	e := &env{t: t, loop: loop, ch: clienttest.New(loop), dev: &fakeDevice{}, clk: clock.NewMock()}
	e.do(func() { e.proxy = client.NewProxy(loop, e.ch, userID) })
	return e
}

func (e *env) do(fn func()) {
	e.t.Helper()
	require.NoError(e.t, e.loop.Do(context.Background(), fn))
}

func (e *env) flush() {
	e.t.Helper()
	for i := 0; i < 3; i++ {
		e.do(func() {})
	}
}

func (e *env) ack(op string, payload any) {
	e.t.Helper()
	require.NoError(e.t, e.ch.Ack(op, payload))
	e.flush()
}

func (e *env) emit(name string, seq uint64, payload any) {
	e.t.Helper()
	require.NoError(e.t, e.ch.Emit(name, seq, payload))
	e.flush()
}

// openRadio joins info and opens a room on it.
func (e *env) openRadio(info protocol.RadioInfo, cat Catalog) {
	e.t.Helper()
	e.do(func() { e.proxy.JoinRadio(info.RadioID, nil) })
	e.ack(protocol.OpJoinRadio, info)

	var err error
	e.do(func() {
		e.radio, err = NewRadioController(e.loop, e.proxy, RadioOptions{
			Device:  e.dev,
			Catalog: cat,
			Alerter: AlertFunc(func(err error) { e.alerts = append(e.alerts, err) }),
			Clock:   e.clk,
			OnClose: func() { e.closes++ },
			OnTrack: func(t catalog.Track) { e.tracks = append(e.tracks, t) },
		})
	})
	require.NoError(e.t, err)
}

func (e *env) waitCalls(want ...string) {
	e.t.Helper()
	require.Eventually(e.t, func() bool {
		return assert.ObjectsAreEqual(want, e.dev.Calls())
	}, time.Second, 5*time.Millisecond, "device calls: %v", e.dev.Calls())
}

func (e *env) displayTime() (float64, bool) {
	var v float64
	var playing bool
	e.do(func() { v, playing = e.radio.DisplayTime(), e.radio.IsPlaying() })
	return v, playing
}

func radioInfo(seq uint64, song string, at float64, playing bool) protocol.RadioInfo {
	info := protocol.RadioInfo{
		RadioID:      "r1",
		Name:         "Radio de u1",
		Creator:      "u1",
		Participants: []protocol.Participant{{UserID: "u1", Admin: true}, {UserID: "u2"}},
		CurrentTime:  at,
		IsPlaying:    playing,
		Seq:          seq,
	}
	if song != "" {
		info.CurrentSong = &protocol.Song{ID: song}
	}
	return info
}

func TestRadio_RequiresSession(t *testing.T) {
	e := newEnv(t, "u2")
	var err error
	e.do(func() { _, err = NewRadioController(e.loop, e.proxy, RadioOptions{Device: e.dev}) })
	assert.ErrorIs(t, err, client.ErrNoSession)

	e.do(func() { _, err = NewRadioController(e.loop, e.proxy, RadioOptions{}) })
	assert.Error(t, err)
}

func TestRadio_ListenerJoinsPlayingRadio(t *testing.T) {
	e := newEnv(t, "u2")
	e.openRadio(radioInfo(5, "abc", 12, true), nil)

	e.waitCalls("play abc 12.0")
	at, playing := e.displayTime()
	assert.Equal(t, 12.0, at)
	assert.True(t, playing)

	e.clk.Add(time.Second)
	require.Eventually(t, func() bool {
		at, _ := e.displayTime()
		return at == 13
	}, time.Second, 5*time.Millisecond)
}

func TestRadio_ListenerJoinsEmptyRadio(t *testing.T) {
	e := newEnv(t, "u2")
	e.openRadio(radioInfo(2, "", 0, false), nil)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, e.dev.Calls())
	at, playing := e.displayTime()
	assert.Zero(t, at)
	assert.False(t, playing)
}

func TestRadio_ListenerFollowsCreatorSequence(t *testing.T) {
	cat := new(MockCatalog)
	cat.On("Track", mock.Anything, "abc").Return(catalog.Track{ID: "abc", Title: "Song", Artist: "Artist"}, nil)

	e := newEnv(t, "u2")
	e.openRadio(radioInfo(2, "", 0, false), cat)

	e.emit(protocol.EventSongUpdated, 3, protocol.SongUpdated{RadioID: "r1", CurrentSong: &protocol.Song{ID: "abc"}})
	e.emit(protocol.EventTimeSynced, 4, protocol.TimeSynced{RadioID: "r1", CurrentTime: 0})
	e.emit(protocol.EventRadioPlay, 5, protocol.Transport{RadioID: "r1", CurrentTime: 0})

	e.waitCalls("play abc 0.0")
	at, playing := e.displayTime()
	assert.Zero(t, at)
	assert.True(t, playing)

	require.Eventually(t, func() bool {
		var title string
		e.do(func() { title = e.radio.Track().Title })
		return title == "Song"
	}, time.Second, 5*time.Millisecond)
	cat.AssertExpectations(t)
}

func TestRadio_ListenerPauseResume(t *testing.T) {
	e := newEnv(t, "u2")
	e.openRadio(radioInfo(5, "abc", 10, true), nil)
	e.waitCalls("play abc 10.0")

	e.emit(protocol.EventSongPaused, 6, protocol.Transport{RadioID: "r1", CurrentTime: 14})
	e.waitCalls("play abc 10.0", "pause")
	at, playing := e.displayTime()
	assert.Equal(t, 14.0, at)
	assert.False(t, playing)

	e.emit(protocol.EventSongResumed, 7, protocol.Transport{RadioID: "r1", CurrentTime: 14})
	e.waitCalls("play abc 10.0", "pause", "resume")

	// A new song pauses the device until play arrives.
	e.emit(protocol.EventSongUpdated, 8, protocol.SongUpdated{RadioID: "r1", CurrentSong: &protocol.Song{ID: "def"}})
	e.emit(protocol.EventRadioPlay, 9, protocol.Transport{RadioID: "r1", CurrentTime: 0})
	e.waitCalls("play abc 10.0", "pause", "resume", "pause", "play def 0.0")
}

func TestRadio_ListenerDriftCorrection(t *testing.T) {
	e := newEnv(t, "u2")
	e.openRadio(radioInfo(5, "abc", 20, true), nil)
	e.waitCalls("play abc 20.0")

	e.dev.setState(catalog.PlaybackState{IsPlaying: true, ProgressMs: 29500, TrackID: "abc"})
	e.emit(protocol.EventTimeSynced, 6, protocol.TimeSynced{RadioID: "r1", CurrentTime: 30})
	e.waitCalls("play abc 20.0", "state")

	e.dev.setState(catalog.PlaybackState{IsPlaying: true, ProgressMs: 20000, TrackID: "abc"})
	e.emit(protocol.EventTimeSynced, 7, protocol.TimeSynced{RadioID: "r1", CurrentTime: 40})
	e.waitCalls("play abc 20.0", "state", "state", "seek 40.0")

	at, _ := e.displayTime()
	assert.Equal(t, 40.0, at)
}

func TestRadio_CreatorPlaySong(t *testing.T) {
	e := newEnv(t, "u1")
	e.openRadio(radioInfo(2, "", 0, false), nil)

	var done error = errors.New("not called")
	var err error
	e.do(func() { err = e.radio.PlaySong("abc", "Song", func(e error) { done = e }) })
	require.NoError(t, err)

	reqs := e.ch.Requests(protocol.OpUpdateSong)
	require.Len(t, reqs, 1)
	var upd protocol.UpdateSongRequest
	require.NoError(t, reqs[0].Decode(&upd))
	assert.Equal(t, protocol.UpdateSongRequest{RadioID: "r1", UserID: "u1", SongID: "abc", SongName: "Song"}, upd)

	loaded := radioInfo(3, "abc", 0, false)
	e.ack(protocol.OpUpdateSong, loaded)
	require.Len(t, e.ch.Requests(protocol.OpSyncTime), 1)
	assert.Empty(t, e.dev.Calls())

	synced := loaded.Clone()
	synced.Seq = 4
	e.ack(protocol.OpSyncTime, synced)
	e.waitCalls("play abc 0.0")
	require.Eventually(t, func() bool { return len(e.ch.Requests(protocol.OpRadioPlay)) == 1 }, time.Second, 5*time.Millisecond)

	playing := synced.Clone()
	playing.Seq = 5
	playing.IsPlaying = true
	e.ack(protocol.OpRadioPlay, playing)
	assert.NoError(t, done)
	_, isPlaying := e.displayTime()
	assert.True(t, isPlaying)

	// The creator pushes its device position every sync interval.
	e.dev.setState(catalog.PlaybackState{IsPlaying: true, ProgressMs: 4200, TrackID: "abc"})
	e.clk.Add(DefaultSyncInterval)
	require.Eventually(t, func() bool { return len(e.ch.Requests(protocol.OpSyncTime)) == 2 }, time.Second, 5*time.Millisecond)
	var push protocol.SyncTimeRequest
	require.NoError(t, e.ch.Requests(protocol.OpSyncTime)[1].Decode(&push))
	assert.Equal(t, 4.2, push.CurrentTime)
}

func TestRadio_CreatorTransport(t *testing.T) {
	e := newEnv(t, "u1")
	e.openRadio(radioInfo(5, "abc", 30, false), nil)

	var err error
	e.do(func() { err = e.radio.Resume(nil) })
	require.NoError(t, err)
	e.waitCalls("play abc 30.0")
	e.do(func() { err = e.radio.Pause(nil) })
	require.NoError(t, err)
	e.waitCalls("play abc 30.0", "pause")
	e.do(func() { err = e.radio.Seek(45, nil) })
	require.NoError(t, err)
	e.waitCalls("play abc 30.0", "pause", "seek 45.0")

	assert.Len(t, e.ch.Requests(protocol.OpRadioPlay), 1)
	assert.Len(t, e.ch.Requests(protocol.OpPauseSong), 1)
	reqs := e.ch.Requests(protocol.OpSyncTime)
	require.Len(t, reqs, 1)
	var seek protocol.SyncTimeRequest
	require.NoError(t, reqs[0].Decode(&seek))
	assert.Equal(t, 45.0, seek.CurrentTime)
}

func TestRadio_ListenerCannotControl(t *testing.T) {
	e := newEnv(t, "u2")
	e.openRadio(radioInfo(2, "abc", 0, false), nil)
	before := len(e.ch.Ops())

	var errs []error
	e.do(func() {
		errs = append(errs,
			e.radio.PlaySong("x", "", nil),
			e.radio.Pause(nil),
			e.radio.Resume(nil),
			e.radio.Seek(3, nil),
			e.radio.Delete(nil),
		)
	})
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrNotCreator)
	}
	assert.Len(t, e.ch.Ops(), before)
}

func TestRadio_DeviceFailureAlerts(t *testing.T) {
	e := newEnv(t, "u1")
	e.dev.playErr = errors.New("no active device")
	e.openRadio(radioInfo(2, "", 0, false), nil)

	var err error
	e.do(func() { err = e.radio.PlaySong("abc", "", nil) })
	require.NoError(t, err)
	e.ack(protocol.OpUpdateSong, radioInfo(3, "abc", 0, false))
	e.ack(protocol.OpSyncTime, radioInfo(4, "abc", 0, false))

	// The session still plays for everyone else.
	require.Eventually(t, func() bool { return len(e.ch.Requests(protocol.OpRadioPlay)) == 1 }, time.Second, 5*time.Millisecond)

	var alerts []error
	e.do(func() { alerts = append(alerts, e.alerts...) })
	require.Len(t, alerts, 1)
	var perr *PlaybackError
	require.ErrorAs(t, alerts[0], &perr)
	assert.Equal(t, "play", perr.Op)
	assert.EqualError(t, perr.Unwrap(), "no active device")
}

func TestRadio_MetadataFailureFallsBack(t *testing.T) {
	cat := new(MockCatalog)
	cat.On("Track", mock.Anything, "abc").Return(catalog.Track{}, errors.New("catalog down"))

	e := newEnv(t, "u2")
	info := radioInfo(2, "abc", 0, false)
	info.CurrentSong.Name = "Known Name"
	e.openRadio(info, cat)

	require.Eventually(t, func() bool {
		var n int
		e.do(func() { n = len(e.tracks) })
		return n == 1
	}, time.Second, 5*time.Millisecond)

	var track catalog.Track
	var alerts int
	e.do(func() { track, alerts = e.radio.Track(), len(e.alerts) })
	assert.Equal(t, catalog.Track{ID: "abc", Title: "Known Name"}, track)
	assert.Zero(t, alerts)
}

func TestRadio_DeleteBroadcastCloses(t *testing.T) {
	e := newEnv(t, "u2")
	e.openRadio(radioInfo(5, "abc", 12, true), nil)
	e.waitCalls("play abc 12.0")

	e.emit(protocol.EventRadioDeleted, 6, protocol.RadioDeleted{RadioID: "r1"})

	var closed bool
	var closes int
	e.do(func() { closed, closes = e.radio.Closed(), e.closes })
	assert.True(t, closed)
	assert.Equal(t, 1, closes)

	at, playing := e.displayTime()
	assert.False(t, playing)
	e.clk.Add(3 * time.Second)
	time.Sleep(20 * time.Millisecond)
	after, _ := e.displayTime()
	assert.Equal(t, at, after)

	var err error
	e.do(func() {
		e.radio.Close()
		err = e.radio.Leave(nil)
	})
	assert.ErrorIs(t, err, ErrClosed)
	e.do(func() { closes = e.closes })
	assert.Equal(t, 1, closes)
}

func TestRadio_CreatorDeleteClosesOwnRoom(t *testing.T) {
	e := newEnv(t, "u1")
	e.openRadio(radioInfo(2, "", 0, false), nil)

	var err error
	e.do(func() { err = e.radio.Delete(nil) })
	require.NoError(t, err)
	e.ack(protocol.OpDeleteRadio, protocol.RadioDeleted{RadioID: "r1"})

	var closed bool
	e.do(func() { closed = e.radio.Closed() })
	assert.True(t, closed)
}

func TestRadio_LeaveClosesRoom(t *testing.T) {
	e := newEnv(t, "u2")
	e.openRadio(radioInfo(2, "", 0, false), nil)

	var err error
	e.do(func() { err = e.radio.Leave(nil) })
	require.NoError(t, err)
	var closed bool
	e.do(func() { closed = e.radio.Closed() })
	assert.True(t, closed)
	assert.Len(t, e.ch.Requests(protocol.OpLeaveRadio), 1)
}

func TestJam_Controller(t *testing.T) {
	e := newEnv(t, "u2")
	e.do(func() { e.proxy.JoinJam("j1", nil) })
	e.ack(protocol.OpJoinJam, protocol.JamInfo{JamID: "j1", Creator: "u1", Participants: []string{"u1", "u2"}, Playlist: []string{"t1", "t2"}, Seq: 2})

	var ctrl *JamController
	var changes [][]string
	closes := 0
	var err error
	e.do(func() {
		ctrl, err = NewJamController(e.proxy, JamOptions{
			OnChange: func(j protocol.JamInfo) { changes = append(changes, j.Playlist) },
			OnClose:  func() { closes++ },
		})
	})
	require.NoError(t, err)

	e.do(func() {
		assert.Equal(t, []string{"t1", "t2"}, ctrl.Playlist())
		assert.False(t, ctrl.IsCreator())
		assert.ErrorIs(t, ctrl.AddSong("  ", nil), ErrEmptyTrack)
		assert.ErrorIs(t, ctrl.Delete(nil), ErrNotCreator)
		assert.NoError(t, ctrl.AddSong("t3", nil))
	})
	require.Len(t, e.ch.Requests(protocol.OpAddSongToJam), 1)

	e.ack(protocol.OpAddSongToJam, protocol.JamInfo{JamID: "j1", Creator: "u1", Participants: []string{"u1", "u2"}, Playlist: []string{"t1", "t2", "t3"}, Seq: 3})
	e.do(func() {
		assert.Equal(t, []string{"t1", "t2", "t3"}, ctrl.Playlist())
	})

	e.emit(protocol.EventJamDeleted, 4, protocol.JamDeleted{JamID: "j1"})
	var closed bool
	var got [][]string
	e.do(func() { closed, got = ctrl.Closed(), changes })
	assert.True(t, closed)
	assert.Equal(t, 1, closes)
	assert.Equal(t, [][]string{{"t1", "t2", "t3"}}, got)
}

func TestJam_RequiresSession(t *testing.T) {
	e := newEnv(t, "u2")
	var err error
	e.do(func() { _, err = NewJamController(e.proxy, JamOptions{}) })
	assert.ErrorIs(t, err, client.ErrNoSession)
}

func TestRadio_ListenerResumesAtMovedPosition(t *testing.T) {
	e := newEnv(t, "u2")
	e.openRadio(radioInfo(5, "abc", 10, true), nil)
	e.waitCalls("play abc 10.0")

	e.emit(protocol.EventSongPaused, 6, protocol.Transport{RadioID: "r1", CurrentTime: 14})
	e.emit(protocol.EventTimeSynced, 7, protocol.TimeSynced{RadioID: "r1", CurrentTime: 100})
	e.emit(protocol.EventSongResumed, 8, protocol.Transport{RadioID: "r1", CurrentTime: 100})

	e.waitCalls("play abc 10.0", "pause", "play abc 100.0")
	at, playing := e.displayTime()
	assert.Equal(t, 100.0, at)
	assert.True(t, playing)

	// A small move while paused stays within tolerance and resumes in place.
	e.emit(protocol.EventSongPaused, 9, protocol.Transport{RadioID: "r1", CurrentTime: 120})
	e.emit(protocol.EventTimeSynced, 10, protocol.TimeSynced{RadioID: "r1", CurrentTime: 121})
	e.emit(protocol.EventSongResumed, 11, protocol.Transport{RadioID: "r1", CurrentTime: 121})
	e.waitCalls("play abc 10.0", "pause", "play abc 100.0", "pause", "resume")
}

func TestRadio_CreatorResumesAfterSeekWhilePaused(t *testing.T) {
	e := newEnv(t, "u1")
	e.openRadio(radioInfo(5, "abc", 30, false), nil)

	var errs []error
	e.do(func() { errs = append(errs, e.radio.Resume(nil)) })
	e.waitCalls("play abc 30.0")
	e.do(func() { errs = append(errs, e.radio.Pause(nil)) })
	e.do(func() { errs = append(errs, e.radio.Seek(90, nil)) })
	e.waitCalls("play abc 30.0", "pause", "seek 90.0")

	// The device already sits at 90, so resuming there continues in place.
	e.ack(protocol.OpRadioPlay, radioInfo(6, "abc", 30, true))
	e.ack(protocol.OpPauseSong, radioInfo(7, "abc", 30, false))
	e.ack(protocol.OpSyncTime, radioInfo(8, "abc", 90, false))
	e.do(func() { errs = append(errs, e.radio.Resume(nil)) })
	e.waitCalls("play abc 30.0", "pause", "seek 90.0", "resume")
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

type blockingCatalog struct {
	started chan struct{}
	done    chan error
}

func (c *blockingCatalog) Track(ctx context.Context, id string) (catalog.Track, error) {
	close(c.started)
	<-ctx.Done()
	c.done <- ctx.Err()
	return catalog.Track{}, ctx.Err()
}

func TestRadio_CloseCancelsMetadataLookup(t *testing.T) {
	cat := &blockingCatalog{started: make(chan struct{}), done: make(chan error, 1)}
	e := newEnv(t, "u2")
	e.openRadio(radioInfo(2, "abc", 0, false), cat)

	select {
	case <-cat.started:
	case <-time.After(time.Second):
		t.Fatal("metadata lookup did not start")
	}
	e.do(func() { e.radio.Close() })

	select {
	case err := <-cat.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("metadata lookup was not cancelled")
	}

	e.flush()
	var tracks int
	e.do(func() { tracks = len(e.tracks) })
	assert.Zero(t, tracks)
}
