package room

import (
	"errors"
	"strings"

	"aural-realtime/internal/client"
	"aural-realtime/internal/protocol"
)

var ErrEmptyTrack = errors.New("room: track id is required")

type JamOptions struct {
	// OnChange runs with the jam after every accepted update.
	OnChange func(protocol.JamInfo)
	// OnClose runs once when the room closes.
	OnClose func()
}

// JamController is the room view of the current jam: a shared playlist
// anyone can append to. It has no transport.
type JamController struct {
	proxy   *client.Proxy
	opts    JamOptions
	subs    client.Subscriptions
	jam     protocol.JamInfo
	creator bool
	closed  bool
}

func NewJamController(proxy *client.Proxy, opts JamOptions) (*JamController, error) {
	jam, ok := proxy.CurrentJam()
	if !ok {
		return nil, client.ErrNoSession
	}
	c := &JamController{
		proxy:   proxy,
		opts:    opts,
		jam:     jam,
		creator: jam.Creator == proxy.UserID(),
	}
	c.subs.Add(proxy.Watch(c.onUpdate))
	return c, nil
}

func (c *JamController) Jam() protocol.JamInfo { return c.jam.Clone() }

// Playlist returns the jam's tracks in order.
func (c *JamController) Playlist() []string { return append([]string(nil), c.jam.Playlist...) }

func (c *JamController) IsCreator() bool { return c.creator }

func (c *JamController) Closed() bool { return c.closed }

// AddSong appends trackID to the playlist.
func (c *JamController) AddSong(trackID string, done client.DoneFunc) error {
	if c.closed {
		return ErrClosed
	}
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		return ErrEmptyTrack
	}
	c.proxy.AddSongToJam(trackID, done)
	return nil
}

func (c *JamController) Leave(done client.DoneFunc) error {
	if c.closed {
		return ErrClosed
	}
	c.proxy.LeaveJam(done)
	return nil
}

func (c *JamController) Delete(done client.DoneFunc) error {
	if c.closed {
		return ErrClosed
	}
	if !c.creator {
		return ErrNotCreator
	}
	c.proxy.DeleteJam(done)
	return nil
}

// Close releases the room's listeners and fires OnClose. It does not leave
// the jam.
func (c *JamController) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.subs.ReleaseAll()
	if c.opts.OnClose != nil {
		c.opts.OnClose()
	}
}

func (c *JamController) onUpdate(u client.Update) {
	if c.closed || u.Jam == nil || u.Jam.JamID != c.jam.JamID {
		return
	}
	if u.Closed {
		c.Close()
		return
	}
	c.jam = u.Jam.Clone()
	if c.opts.OnChange != nil {
		c.opts.OnChange(c.Jam())
	}
}
