package room

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"aural-realtime/internal/catalog"
	"aural-realtime/internal/client"
	"aural-realtime/internal/playback"
	"aural-realtime/internal/protocol"
)

const (
	DefaultSyncInterval   = 5 * time.Second
	DefaultDriftTolerance = 2.0
)

type RadioOptions struct {
	Device  Device
	Catalog Catalog
	Alerter Alerter
	Clock   clock.Clock

	// SyncInterval is how often the creator pushes its device position.
	SyncInterval time.Duration
	// DriftTolerance is the device drift, in seconds, a listener accepts
	// before seeking on timeSynced.
	DriftTolerance float64

	// OnClose runs once when the room closes.
	OnClose func()
	// OnTrack runs when display metadata for the current song is known.
	OnTrack func(catalog.Track)
}

// RadioController is the room view of the current radio. The creator's
// transport commands drive the session and its own device; every other
// participant's device follows the session events. All methods must be
// called on the loop.
type RadioController struct {
	loop  *client.Loop
	proxy *client.Proxy
	opts  RadioOptions
	sync  *playback.Synchronizer
	dev   *deviceWorker
	subs  client.Subscriptions

	radio   protocol.RadioInfo
	track   catalog.Track
	creator bool

	// Song currently loaded on the device, whether it is playing there, and
	// the session position it was paused at.
	loaded   string
	playing  bool
	pausedAt float64

	// ctx is cancelled by Close and bounds metadata lookups.
	ctx    context.Context
	cancel context.CancelFunc

	syncGen  uint64
	syncStop chan struct{}

	closed bool
}

// NewRadioController opens the room for the proxy's current radio and
// brings the device in line with it.
func NewRadioController(loop *client.Loop, proxy *client.Proxy, opts RadioOptions) (*RadioController, error) {
	if opts.Device == nil {
		return nil, errors.New("room: device is required")
	}
	radio, ok := proxy.CurrentRadio()
	if !ok {
		return nil, client.ErrNoSession
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.DriftTolerance <= 0 {
		opts.DriftTolerance = DefaultDriftTolerance
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &RadioController{
		ctx:     ctx,
		cancel:  cancel,
		loop:    loop,
		proxy:   proxy,
		opts:    opts,
		sync:    playback.New(loop, opts.Clock),
		radio:   radio,
		creator: radio.Creator == proxy.UserID(),
	}
	c.dev = newDeviceWorker(loop, opts.Device, c.alert)
	c.subs.Add(proxy.Watch(c.onUpdate))

	c.sync.Reset(radio.CurrentTime, radio.IsPlaying)
	c.loadMetadata(radio.CurrentSong)
	if !c.creator && radio.CurrentSong != nil && radio.IsPlaying {
		c.playOnDevice(radio.CurrentSong.ID, radio.CurrentTime, nil)
	}
	c.updateSyncLoop()
	return c, nil
}

func (c *RadioController) Radio() protocol.RadioInfo { return c.radio.Clone() }

func (c *RadioController) Track() catalog.Track { return c.track }

func (c *RadioController) IsCreator() bool { return c.creator }

func (c *RadioController) DisplayTime() float64 { return c.sync.DisplayTime() }

func (c *RadioController) IsPlaying() bool { return c.sync.IsPlaying() }

func (c *RadioController) Closed() bool { return c.closed }

// WatchTime registers fn for every display time change.
func (c *RadioController) WatchTime(fn func(float64)) *client.Subscription {
	return c.sync.Watch(fn)
}

// PlaySong loads a song into the radio and starts it for everyone: the song
// is pushed with position 0, the creator's device starts at 0, then play is
// sent.
func (c *RadioController) PlaySong(songID, songName string, done client.DoneFunc) error {
	if err := c.checkCreator(); err != nil {
		return err
	}
	c.proxy.UpdateSong(songID, songName, func(err error) {
		if err != nil {
			finish(done, err)
			return
		}
		c.proxy.SyncTime(0, func(err error) {
			if err != nil {
				finish(done, err)
				return
			}
			// Play is sent once the device has been asked, whatever it answered.
			c.playOnDevice(songID, 0, func(error) { c.proxy.Play(done) })
		})
	})
	return nil
}

// Pause pauses the radio and the creator's device.
func (c *RadioController) Pause(done client.DoneFunc) error {
	if err := c.checkCreator(); err != nil {
		return err
	}
	c.pauseDevice(c.sync.DisplayTime())
	c.proxy.Pause(done)
	return nil
}

// Resume continues the loaded song for everyone.
func (c *RadioController) Resume(done client.DoneFunc) error {
	if err := c.checkCreator(); err != nil {
		return err
	}
	if song := c.radio.CurrentSong; song != nil {
		c.resumeDevice(song.ID, c.radio.CurrentTime)
	}
	c.proxy.Play(done)
	return nil
}

// Seek moves the radio and the creator's device to seconds.
func (c *RadioController) Seek(seconds float64, done client.DoneFunc) error {
	if err := c.checkCreator(); err != nil {
		return err
	}
	c.dev.submit("seek", func(ctx context.Context, d Device) error { return d.Seek(ctx, seconds) }, nil)
	if !c.playing {
		c.pausedAt = seconds
	}
	c.proxy.SyncTime(seconds, done)
	return nil
}

// Leave leaves the radio; the room closes at once.
func (c *RadioController) Leave(done client.DoneFunc) error {
	if c.closed {
		return ErrClosed
	}
	c.proxy.LeaveRadio(done)
	return nil
}

// Delete deletes the radio. The room closes when the deletion lands.
func (c *RadioController) Delete(done client.DoneFunc) error {
	if err := c.checkCreator(); err != nil {
		return err
	}
	c.proxy.DeleteRadio(done)
	return nil
}

// Close cancels the timers, releases every listener and fires OnClose. It
// does not leave the radio.
func (c *RadioController) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	c.subs.ReleaseAll()
	c.stopSyncLoop()
	c.sync.Close()
	c.dev.close()
	if c.opts.OnClose != nil {
		c.opts.OnClose()
	}
}

func (c *RadioController) checkCreator() error {
	if c.closed {
		return ErrClosed
	}
	if !c.creator {
		return ErrNotCreator
	}
	return nil
}

func (c *RadioController) onUpdate(u client.Update) {
	if c.closed || u.Radio == nil || u.Radio.RadioID != c.radio.RadioID {
		return
	}
	if u.Closed {
		c.Close()
		return
	}

	prev := c.radio
	c.radio = u.Radio.Clone()
	r := c.radio

	switch u.Event {
	case protocol.EventSongUpdated:
		c.sync.Reset(r.CurrentTime, r.IsPlaying)
		c.loadMetadata(r.CurrentSong)
		if !c.creator {
			// The new song is cued; it starts on radioPlay.
			c.pauseDevice(r.CurrentTime)
			c.loaded = ""
		}

	case protocol.EventRadioJoined:
		c.sync.Reset(r.CurrentTime, r.IsPlaying)
		c.loadMetadata(r.CurrentSong)
		if !c.creator && r.CurrentSong != nil && r.IsPlaying {
			c.playOnDevice(r.CurrentSong.ID, r.CurrentTime, nil)
		}

	case protocol.EventTimeSynced:
		c.sync.Correct(r.CurrentTime)
		if !c.creator && r.IsPlaying {
			c.correctDrift(r.CurrentTime)
		}

	case protocol.EventRadioPlay, protocol.EventSongResumed:
		c.sync.Reset(r.CurrentTime, true)
		if !c.creator && r.CurrentSong != nil {
			c.resumeDevice(r.CurrentSong.ID, r.CurrentTime)
		}

	case protocol.EventSongPaused:
		c.sync.Reset(r.CurrentTime, false)
		if !c.creator {
			c.pauseDevice(r.CurrentTime)
		}

	default:
		// Membership changes and snapshots: keep the timer in step with the
		// play state without moving the display.
		c.sync.SetPlaying(r.IsPlaying)
		if songID(prev.CurrentSong) != songID(r.CurrentSong) {
			c.loadMetadata(r.CurrentSong)
		}
		if !c.creator {
			if r.IsPlaying && r.CurrentSong != nil {
				c.resumeDevice(r.CurrentSong.ID, r.CurrentTime)
			} else if !r.IsPlaying {
				c.pauseDevice(r.CurrentTime)
			}
		}
	}
	c.updateSyncLoop()
}

// loadMetadata fetches display metadata off the loop. On failure the track
// shows the session's song name, or its id.
func (c *RadioController) loadMetadata(song *protocol.Song) {
	if song == nil {
		c.track = catalog.Track{}
		return
	}
	if c.track.ID == song.ID && c.track.Title != "" {
		return
	}
	fallback := catalog.Track{ID: song.ID, Title: song.Name}
	if fallback.Title == "" {
		fallback.Title = song.ID
	}
	c.track = fallback
	if c.opts.Catalog == nil {
		c.emitTrack()
		return
	}

	id := song.ID
	cat := c.opts.Catalog
	ctx := c.ctx
	go func() {
		t, err := cat.Track(ctx, id)
		c.loop.Post(func() {
			if c.closed || songID(c.radio.CurrentSong) != id {
				return
			}
			if err != nil {
				log.Printf("room: %v", &MetadataError{SongID: id, Err: err})
				c.emitTrack()
				return
			}
			c.track = t
			c.emitTrack()
		})
	}()
}

func (c *RadioController) emitTrack() {
	if c.opts.OnTrack != nil {
		c.opts.OnTrack(c.track)
	}
}

func (c *RadioController) playOnDevice(id string, offset float64, then func(error)) {
	c.loaded = id
	c.playing = true
	c.dev.submit("play", func(ctx context.Context, d Device) error { return d.Play(ctx, id, offset) }, then)
}

// resumeDevice continues the loaded song, or starts id at offset when the
// device has something else loaded or the session moved while it was paused.
func (c *RadioController) resumeDevice(id string, offset float64) {
	if c.loaded != id {
		c.playOnDevice(id, offset, nil)
		return
	}
	if c.playing {
		return
	}
	if math.Abs(offset-c.pausedAt) > c.opts.DriftTolerance {
		c.playOnDevice(id, offset, nil)
		return
	}
	c.playing = true
	c.dev.submit("resume", func(ctx context.Context, d Device) error { return d.Resume(ctx) }, nil)
}

func (c *RadioController) pauseDevice(at float64) {
	if !c.playing {
		return
	}
	c.playing = false
	c.pausedAt = at
	c.dev.submit("pause", func(ctx context.Context, d Device) error { return d.Pause(ctx) }, nil)
}

// correctDrift seeks the device when it is further than DriftTolerance from
// the session position.
func (c *RadioController) correctDrift(target float64) {
	if c.loaded == "" || !c.playing {
		return
	}
	tolerance := c.opts.DriftTolerance
	c.dev.submit("drift", func(ctx context.Context, d Device) error {
		st, err := d.State(ctx)
		if err != nil {
			return err
		}
		if math.Abs(st.Position()-target) <= tolerance {
			return nil
		}
		return d.Seek(ctx, target)
	}, nil)
}

// updateSyncLoop runs the creator's position push while the radio plays.
func (c *RadioController) updateSyncLoop() {
	want := c.creator && !c.closed && c.radio.IsPlaying
	switch {
	case want && c.syncStop == nil:
		c.startSyncLoop()
	case !want && c.syncStop != nil:
		c.stopSyncLoop()
	}
}

func (c *RadioController) startSyncLoop() {
	c.syncGen++
	gen := c.syncGen
	stop := make(chan struct{})
	c.syncStop = stop
	ticker := c.opts.Clock.Ticker(c.opts.SyncInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.loop.Post(func() { c.pushPosition(gen) })
			}
		}
	}()
}

func (c *RadioController) stopSyncLoop() {
	if c.syncStop != nil {
		close(c.syncStop)
		c.syncStop = nil
	}
	c.syncGen++
}

// pushPosition reads the creator's device and sends its position as the
// authoritative time.
func (c *RadioController) pushPosition(gen uint64) {
	if gen != c.syncGen || c.closed {
		return
	}
	want := songID(c.radio.CurrentSong)
	var st catalog.PlaybackState
	c.dev.submit("state", func(ctx context.Context, d Device) error {
		var err error
		st, err = d.State(ctx)
		return err
	}, func(err error) {
		if err != nil || gen != c.syncGen || !st.IsPlaying {
			return
		}
		if st.TrackID != "" && st.TrackID != want {
			return
		}
		c.proxy.SyncTime(st.Position(), nil)
	})
}

func (c *RadioController) alert(err error) {
	if c.opts.Alerter != nil {
		c.opts.Alerter.Alert(err)
	}
}

func songID(s *protocol.Song) string {
	if s == nil {
		return ""
	}
	return s.ID
}

func finish(done client.DoneFunc, err error) {
	if done != nil {
		done(err)
	}
}
