package client

import (
	"errors"
	"log"

	"aural-realtime/internal/protocol"
)

var (
	ErrNoSession = errors.New("client: no current session")
	ErrClosed    = errors.New("client: proxy closed")
)

// maxEarlyFrames bounds the events buffered while a join is in flight.
const maxEarlyFrames = 64

// Update describes a change to the current session. Event is the event that
// caused it, or the op for purely local transitions such as leaving.
// Exactly one of Radio and Jam is set.
type Update struct {
	Event  string
	Radio  *protocol.RadioInfo
	Jam    *protocol.JamInfo
	Closed bool
}

// DoneFunc receives the outcome of a command. It runs on the loop.
type DoneFunc func(error)

type currentKind int

const (
	noSession currentKind = iota
	radioSession
	jamSession
)

// Proxy mirrors the live session lists and at most one current session for
// one client. All methods must be called on the Loop the Channel delivers
// to. Acks and events go through the same apply path: a session snapshot or
// patch is applied only when its seq is newer than what is held, so applying
// the same state twice changes nothing and observers hear about every seq
// once.
type Proxy struct {
	loop   *Loop
	ch     Channel
	userID string
	subs   Subscriptions
	closed bool

	radios        []protocol.RadioInfo
	jams          []protocol.JamInfo
	deletedRadios map[string]bool
	deletedJams   map[string]bool

	current currentKind
	radio   protocol.RadioInfo
	jam     protocol.JamInfo

	// Radio-topic events that arrive before the join ack.
	joiningRadio string
	early        []protocol.Frame

	updates listeners[Update]
	lists   listeners[struct{}]
}

// NewProxy subscribes to every session event on ch and requests the initial
// snapshot of both lists.
func NewProxy(loop *Loop, ch Channel, userID string) *Proxy {
	p := &Proxy{
		loop:          loop,
		ch:            ch,
		userID:        userID,
		deletedRadios: make(map[string]bool),
		deletedJams:   make(map[string]bool),
	}

	p.listen(protocol.EventLiveRadios, p.onLiveRadios)
	p.listen(protocol.EventRadioListUpdated, p.onRadioListUpdated)
	p.listen(protocol.EventRadioCreated, p.onRadioInfo)
	p.listen(protocol.EventRadioJoined, p.onRadioInfo)
	p.listen(protocol.EventRadioUpdated, p.onRadioInfo)
	p.listen(protocol.EventRadioDeleted, p.onRadioDeleted)
	for _, ev := range []string{
		protocol.EventSongUpdated,
		protocol.EventTimeSynced,
		protocol.EventRadioPlay,
		protocol.EventSongPaused,
		protocol.EventSongResumed,
	} {
		p.listen(ev, p.onTransport)
	}
	p.listen(protocol.EventJamCreated, p.onJamInfo)
	p.listen(protocol.EventJamUpdated, p.onJamInfo)
	p.listen(protocol.EventJamDeleted, p.onJamDeleted)

	p.Refresh()
	return p
}

func (p *Proxy) listen(event string, fn func(protocol.Frame)) {
	p.subs.Add(p.ch.Listen(event, func(f protocol.Frame) {
		if !p.closed {
			fn(f)
		}
	}))
}

// Close releases every listener and observer. It does not leave the current
// session on the server.
func (p *Proxy) Close() {
	if p.closed {
		return
	}
	p.closed = true
	p.subs.ReleaseAll()
	p.updates.clear()
	p.lists.clear()
}

// Watch registers fn for changes to the current session.
func (p *Proxy) Watch(fn func(Update)) *Subscription {
	return p.updates.add(fn)
}

// WatchLists registers fn for changes to either session list.
func (p *Proxy) WatchLists(fn func()) *Subscription {
	return p.lists.add(func(struct{}) { fn() })
}

func (p *Proxy) UserID() string { return p.userID }

// Radios returns a copy of the live radio list.
func (p *Proxy) Radios() []protocol.RadioInfo {
	out := make([]protocol.RadioInfo, len(p.radios))
	for i, r := range p.radios {
		out[i] = r.Clone()
	}
	return out
}

// Jams returns a copy of the live jam list.
func (p *Proxy) Jams() []protocol.JamInfo {
	out := make([]protocol.JamInfo, len(p.jams))
	for i, j := range p.jams {
		out[i] = j.Clone()
	}
	return out
}

func (p *Proxy) CurrentRadio() (protocol.RadioInfo, bool) {
	if p.current != radioSession {
		return protocol.RadioInfo{}, false
	}
	return p.radio.Clone(), true
}

func (p *Proxy) CurrentJam() (protocol.JamInfo, bool) {
	if p.current != jamSession {
		return protocol.JamInfo{}, false
	}
	return p.jam.Clone(), true
}

// Refresh requests fresh snapshots of both lists.
func (p *Proxy) Refresh() {
	p.refreshRadios()
	p.request(protocol.OpGetJams, nil, func(ack protocol.Frame) error {
		var list []protocol.JamInfo
		if err := ack.Decode(&list); err != nil {
			return err
		}
		p.replaceJams(list)
		return nil
	}, nil)
}

func (p *Proxy) refreshRadios() {
	p.request(protocol.OpGetLiveRadios, nil, func(ack protocol.Frame) error {
		var list []protocol.RadioInfo
		if err := ack.Decode(&list); err != nil {
			return err
		}
		p.replaceRadios(list)
		return nil
	}, nil)
}

// Radio commands.

// CreateRadio creates a radio owned by this client, which becomes the
// current session.
func (p *Proxy) CreateRadio(name, playlistID string, done DoneFunc) {
	req := protocol.CreateRadioRequest{Name: name, CreatorID: p.userID, PlaylistID: playlistID}
	p.request(protocol.OpCreateRadio, req, func(ack protocol.Frame) error {
		var info protocol.RadioInfo
		if err := ack.Decode(&info); err != nil {
			return err
		}
		p.upsertRadio(info)
		p.leaveCurrent()
		p.setCurrentRadio(info, protocol.EventRadioCreated)
		return nil
	}, done)
}

// JoinRadio joins radioID and makes it the current session. On failure the
// current session is left as it was.
func (p *Proxy) JoinRadio(radioID string, done DoneFunc) {
	p.joiningRadio = radioID
	p.early = nil
	p.request(protocol.OpJoinRadio, protocol.RadioRef{RadioID: radioID, UserID: p.userID}, func(ack protocol.Frame) error {
		var info protocol.RadioInfo
		if err := ack.Decode(&info); err != nil {
			return err
		}
		if p.deletedRadios[info.RadioID] {
			return &RemoteError{Op: protocol.OpJoinRadio, Code: protocol.CodeNotFound, Message: "radio deleted"}
		}
		p.upsertRadio(info)
		if p.current != radioSession || p.radio.RadioID != info.RadioID {
			p.leaveCurrent()
		}
		p.setCurrentRadio(info, protocol.EventRadioJoined)
		return nil
	}, func(err error) {
		if p.joiningRadio == radioID {
			p.joiningRadio = ""
			p.early = nil
		}
		finish(done, err)
	})
}

// LeaveRadio leaves the current radio. The local session closes at once.
func (p *Proxy) LeaveRadio(done DoneFunc) {
	if p.current != radioSession {
		p.fail(done, ErrNoSession)
		return
	}
	id := p.radio.RadioID
	p.closeCurrent(protocol.OpLeaveRadio)
	p.request(protocol.OpLeaveRadio, protocol.RadioRef{RadioID: id, UserID: p.userID}, nil, done)
}

// DeleteRadio deletes the current radio. The session closes when either the
// ack or the deletion broadcast arrives, whichever is first.
func (p *Proxy) DeleteRadio(done DoneFunc) {
	if p.current != radioSession {
		p.fail(done, ErrNoSession)
		return
	}
	id := p.radio.RadioID
	p.request(protocol.OpDeleteRadio, protocol.RadioRef{RadioID: id, UserID: p.userID}, func(protocol.Frame) error {
		p.removeRadio(id)
		return nil
	}, done)
}

func (p *Proxy) Play(done DoneFunc) {
	p.radioCommand(protocol.OpRadioPlay, protocol.EventRadioPlay, func(id string) any {
		return protocol.RadioRef{RadioID: id, UserID: p.userID}
	}, done)
}

func (p *Proxy) Pause(done DoneFunc) {
	p.radioCommand(protocol.OpPauseSong, protocol.EventSongPaused, func(id string) any {
		return protocol.RadioRef{RadioID: id, UserID: p.userID}
	}, done)
}

// SyncTime moves the current radio to seconds.
func (p *Proxy) SyncTime(seconds float64, done DoneFunc) {
	p.radioCommand(protocol.OpSyncTime, protocol.EventTimeSynced, func(id string) any {
		return protocol.SyncTimeRequest{RadioID: id, UserID: p.userID, CurrentTime: seconds}
	}, done)
}

// UpdateSong loads songID into the current radio, rewound and paused.
func (p *Proxy) UpdateSong(songID, songName string, done DoneFunc) {
	p.radioCommand(protocol.OpUpdateSong, protocol.EventSongUpdated, func(id string) any {
		return protocol.UpdateSongRequest{RadioID: id, UserID: p.userID, SongID: songID, SongName: songName}
	}, done)
}

// radioCommand sends a command on the current radio and applies the acked
// state as if it were event.
func (p *Proxy) radioCommand(op, event string, payload func(radioID string) any, done DoneFunc) {
	if p.current != radioSession {
		p.fail(done, ErrNoSession)
		return
	}
	p.request(op, payload(p.radio.RadioID), func(ack protocol.Frame) error {
		var info protocol.RadioInfo
		if err := ack.Decode(&info); err != nil {
			return err
		}
		p.applyRadio(info, event)
		return nil
	}, done)
}

// Jam commands.

// CreateJam creates a jam seeded with trackIDs, which becomes the current
// session.
func (p *Proxy) CreateJam(name string, trackIDs []string, done DoneFunc) {
	req := protocol.CreateJamRequest{Name: name, CreatorID: p.userID, TrackIDs: trackIDs}
	p.request(protocol.OpCreateJam, req, func(ack protocol.Frame) error {
		var info protocol.JamInfo
		if err := ack.Decode(&info); err != nil {
			return err
		}
		p.upsertJam(info)
		p.leaveCurrent()
		p.setCurrentJam(info, protocol.EventJamCreated)
		return nil
	}, done)
}

func (p *Proxy) JoinJam(jamID string, done DoneFunc) {
	p.request(protocol.OpJoinJam, protocol.JamRef{JamID: jamID, UserID: p.userID}, func(ack protocol.Frame) error {
		var info protocol.JamInfo
		if err := ack.Decode(&info); err != nil {
			return err
		}
		if p.deletedJams[info.JamID] {
			return &RemoteError{Op: protocol.OpJoinJam, Code: protocol.CodeNotFound, Message: "jam deleted"}
		}
		p.upsertJam(info)
		if p.current != jamSession || p.jam.JamID != info.JamID {
			p.leaveCurrent()
		}
		p.setCurrentJam(info, protocol.OpJoinJam)
		return nil
	}, done)
}

// AddSongToJam appends songID to the current jam's playlist.
func (p *Proxy) AddSongToJam(songID string, done DoneFunc) {
	if p.current != jamSession {
		p.fail(done, ErrNoSession)
		return
	}
	req := protocol.AddSongRequest{JamID: p.jam.JamID, SongID: songID, UserID: p.userID}
	p.request(protocol.OpAddSongToJam, req, func(ack protocol.Frame) error {
		var info protocol.JamInfo
		if err := ack.Decode(&info); err != nil {
			return err
		}
		p.applyJam(info, protocol.EventJamUpdated)
		return nil
	}, done)
}

func (p *Proxy) LeaveJam(done DoneFunc) {
	if p.current != jamSession {
		p.fail(done, ErrNoSession)
		return
	}
	id := p.jam.JamID
	p.closeCurrent(protocol.OpLeaveJam)
	p.request(protocol.OpLeaveJam, protocol.JamRef{JamID: id, UserID: p.userID}, nil, done)
}

func (p *Proxy) DeleteJam(done DoneFunc) {
	if p.current != jamSession {
		p.fail(done, ErrNoSession)
		return
	}
	id := p.jam.JamID
	p.request(protocol.OpDeleteJam, protocol.JamRef{JamID: id, UserID: p.userID}, func(protocol.Frame) error {
		p.removeJam(id)
		return nil
	}, done)
}

// request sends op and routes the ack through onOK. Failures are logged and
// passed to done; they never touch the mirror.
func (p *Proxy) request(op string, payload any, onOK func(protocol.Frame) error, done DoneFunc) {
	if p.closed {
		p.fail(done, ErrClosed)
		return
	}
	err := p.ch.Request(op, payload, func(ack protocol.Frame, err error) {
		if p.closed {
			return
		}
		if err == nil && onOK != nil {
			err = onOK(ack)
		}
		if err != nil {
			log.Printf("client: %s: %v", op, err)
		}
		finish(done, err)
	})
	if err != nil {
		log.Printf("client: %s: %v", op, err)
		p.fail(done, err)
	}
}

// fail reports err to done on a later loop turn, so callers never see
// their continuation run before the command method returns.
func (p *Proxy) fail(done DoneFunc, err error) {
	if done == nil {
		return
	}
	p.loop.Post(func() { done(err) })
}

func finish(done DoneFunc, err error) {
	if done != nil {
		done(err)
	}
}

// Event handlers.

func (p *Proxy) onLiveRadios(f protocol.Frame) {
	var list []protocol.RadioInfo
	if decode(f, &list) {
		p.replaceRadios(list)
	}
}

// onRadioListUpdated re-fetches the list unless the mirror already holds
// the announced state.
func (p *Proxy) onRadioListUpdated(f protocol.Frame) {
	var ev protocol.RadioListUpdated
	if !decode(f, &ev) || p.deletedRadios[ev.RadioID] {
		return
	}
	if i := p.radioIndex(ev.RadioID); ev.RadioID != "" && i >= 0 && p.radios[i].Seq >= f.Seq {
		return
	}
	p.refreshRadios()
}

func (p *Proxy) onRadioInfo(f protocol.Frame) {
	var info protocol.RadioInfo
	if !decode(f, &info) || p.bufferEarly(f, info.RadioID) {
		return
	}
	p.applyRadio(info, f.Event)
}

func (p *Proxy) onRadioDeleted(f protocol.Frame) {
	var ev protocol.RadioDeleted
	if decode(f, &ev) {
		p.removeRadio(ev.RadioID)
	}
}

// onTransport applies a partial radio event. A gap in the list entry's
// sequence means list-only updates were missed, so the list is re-fetched.
func (p *Proxy) onTransport(f protocol.Frame) {
	var ev protocol.SongUpdated
	if !decode(f, &ev) || p.deletedRadios[ev.RadioID] || p.bufferEarly(f, ev.RadioID) {
		return
	}

	patch := func(r *protocol.RadioInfo) {
		switch f.Event {
		case protocol.EventSongUpdated:
			if ev.CurrentSong != nil {
				s := *ev.CurrentSong
				r.CurrentSong = &s
			} else {
				r.CurrentSong = nil
			}
			r.IsPlaying = false
		case protocol.EventRadioPlay, protocol.EventSongResumed:
			r.IsPlaying = true
		case protocol.EventSongPaused:
			r.IsPlaying = false
		}
		r.CurrentTime = ev.CurrentTime
		r.Seq = f.Seq
	}

	if i := p.radioIndex(ev.RadioID); i >= 0 && f.Seq > p.radios[i].Seq {
		gap := f.Seq > p.radios[i].Seq+1
		patch(&p.radios[i])
		p.lists.each(struct{}{})
		if gap {
			p.refreshRadios()
		}
	}
	if p.current == radioSession && p.radio.RadioID == ev.RadioID && f.Seq > p.radio.Seq {
		patch(&p.radio)
		p.notifyRadio(f.Event)
	}
}

func (p *Proxy) onJamInfo(f protocol.Frame) {
	var info protocol.JamInfo
	if decode(f, &info) {
		p.applyJam(info, f.Event)
	}
}

func (p *Proxy) onJamDeleted(f protocol.Frame) {
	var ev protocol.JamDeleted
	if decode(f, &ev) {
		p.removeJam(ev.JamID)
	}
}

func decode(f protocol.Frame, v any) bool {
	if err := f.Decode(v); err != nil {
		log.Printf("client: decode %s: %v", f.Event, err)
		return false
	}
	return true
}

// bufferEarly holds events for a radio whose join ack has not arrived yet.
func (p *Proxy) bufferEarly(f protocol.Frame, radioID string) bool {
	if p.joiningRadio == "" || p.joiningRadio != radioID {
		return false
	}
	if p.current == radioSession && p.radio.RadioID == radioID {
		return false
	}
	if len(p.early) < maxEarlyFrames {
		p.early = append(p.early, f)
	}
	return true
}

// Radio state.

func (p *Proxy) radioIndex(id string) int {
	for i := range p.radios {
		if p.radios[i].RadioID == id {
			return i
		}
	}
	return -1
}

// upsertRadio stores info in the list when it is newer than the entry.
func (p *Proxy) upsertRadio(info protocol.RadioInfo) {
	if p.deletedRadios[info.RadioID] {
		return
	}
	i := p.radioIndex(info.RadioID)
	switch {
	case i < 0:
		p.radios = append(p.radios, info.Clone())
	case info.Seq > p.radios[i].Seq:
		p.radios[i] = info.Clone()
	default:
		return
	}
	p.lists.each(struct{}{})
}

func (p *Proxy) applyRadio(info protocol.RadioInfo, event string) {
	if p.deletedRadios[info.RadioID] {
		return
	}
	p.upsertRadio(info)
	if p.current == radioSession && p.radio.RadioID == info.RadioID && info.Seq > p.radio.Seq {
		p.radio = info.Clone()
		p.notifyRadio(event)
	}
}

func (p *Proxy) setCurrentRadio(info protocol.RadioInfo, event string) {
	if p.current == radioSession && p.radio.RadioID == info.RadioID {
		p.applyRadio(info, event)
	} else {
		p.current = radioSession
		p.radio = info.Clone()
		p.notifyRadio(event)
	}

	early := p.early
	p.joiningRadio = ""
	p.early = nil
	for _, f := range early {
		switch f.Event {
		case protocol.EventRadioJoined, protocol.EventRadioUpdated:
			p.onRadioInfo(f)
		default:
			p.onTransport(f)
		}
	}
}

// replaceRadios installs a list snapshot, keeping entries the mirror holds
// at a newer seq.
func (p *Proxy) replaceRadios(list []protocol.RadioInfo) {
	next := make([]protocol.RadioInfo, 0, len(list))
	listed := make(map[string]bool, len(list))
	for _, info := range list {
		listed[info.RadioID] = true
		if p.deletedRadios[info.RadioID] {
			continue
		}
		if i := p.radioIndex(info.RadioID); i >= 0 && p.radios[i].Seq > info.Seq {
			next = append(next, p.radios[i])
			continue
		}
		next = append(next, info.Clone())
	}
	p.radios = next
	pruneTombstones(p.deletedRadios, listed)
	p.lists.each(struct{}{})

	if p.current == radioSession {
		if i := p.radioIndex(p.radio.RadioID); i >= 0 && p.radios[i].Seq > p.radio.Seq {
			p.radio = p.radios[i].Clone()
			p.notifyRadio(protocol.EventRadioUpdated)
		}
	}
}

// removeRadio applies a deletion. Deletion is terminal: later events and
// acks for the radio are ignored.
func (p *Proxy) removeRadio(id string) {
	if p.deletedRadios[id] {
		return
	}
	p.deletedRadios[id] = true
	if i := p.radioIndex(id); i >= 0 {
		p.radios = append(p.radios[:i], p.radios[i+1:]...)
		p.lists.each(struct{}{})
	}
	if p.joiningRadio == id {
		p.joiningRadio = ""
		p.early = nil
	}
	if p.current == radioSession && p.radio.RadioID == id {
		p.closeCurrent(protocol.EventRadioDeleted)
	}
}

// pruneTombstones drops deletion marks for ids a snapshot no longer lists.
// Frames arrive in the order the server sent them, so no older frame for
// such an id is still in flight.
func pruneTombstones(deleted, listed map[string]bool) {
	for id := range deleted {
		if !listed[id] {
			delete(deleted, id)
		}
	}
}

func (p *Proxy) notifyRadio(event string) {
	r := p.radio.Clone()
	p.updates.each(Update{Event: event, Radio: &r})
}

// Jam state.

func (p *Proxy) jamIndex(id string) int {
	for i := range p.jams {
		if p.jams[i].JamID == id {
			return i
		}
	}
	return -1
}

func (p *Proxy) upsertJam(info protocol.JamInfo) {
	if p.deletedJams[info.JamID] {
		return
	}
	i := p.jamIndex(info.JamID)
	switch {
	case i < 0:
		p.jams = append(p.jams, info.Clone())
	case info.Seq > p.jams[i].Seq:
		p.jams[i] = info.Clone()
	default:
		return
	}
	p.lists.each(struct{}{})
}

func (p *Proxy) applyJam(info protocol.JamInfo, event string) {
	if p.deletedJams[info.JamID] {
		return
	}
	p.upsertJam(info)
	if p.current == jamSession && p.jam.JamID == info.JamID && info.Seq > p.jam.Seq {
		p.jam = info.Clone()
		p.notifyJam(event)
	}
}

// setCurrentJam makes info current. Jam updates also travel on the jams
// list topic, so the list entry may already be newer than the ack.
func (p *Proxy) setCurrentJam(info protocol.JamInfo, event string) {
	if i := p.jamIndex(info.JamID); i >= 0 && p.jams[i].Seq > info.Seq {
		info = p.jams[i]
	}
	if p.current == jamSession && p.jam.JamID == info.JamID {
		p.applyJam(info, event)
		return
	}
	p.current = jamSession
	p.jam = info.Clone()
	p.notifyJam(event)
}

func (p *Proxy) replaceJams(list []protocol.JamInfo) {
	next := make([]protocol.JamInfo, 0, len(list))
	listed := make(map[string]bool, len(list))
	for _, info := range list {
		listed[info.JamID] = true
		if p.deletedJams[info.JamID] {
			continue
		}
		if i := p.jamIndex(info.JamID); i >= 0 && p.jams[i].Seq > info.Seq {
			next = append(next, p.jams[i])
			continue
		}
		next = append(next, info.Clone())
	}
	p.jams = next
	pruneTombstones(p.deletedJams, listed)
	p.lists.each(struct{}{})

	if p.current == jamSession {
		if i := p.jamIndex(p.jam.JamID); i >= 0 && p.jams[i].Seq > p.jam.Seq {
			p.jam = p.jams[i].Clone()
			p.notifyJam(protocol.EventJamUpdated)
		}
	}
}

func (p *Proxy) removeJam(id string) {
	if p.deletedJams[id] {
		return
	}
	p.deletedJams[id] = true
	if i := p.jamIndex(id); i >= 0 {
		p.jams = append(p.jams[:i], p.jams[i+1:]...)
		p.lists.each(struct{}{})
	}
	if p.current == jamSession && p.jam.JamID == id {
		p.closeCurrent(protocol.EventJamDeleted)
	}
}

func (p *Proxy) notifyJam(event string) {
	j := p.jam.Clone()
	p.updates.each(Update{Event: event, Jam: &j})
}

// Current session.

// leaveCurrent leaves whatever session is current before another one
// replaces it.
func (p *Proxy) leaveCurrent() {
	switch p.current {
	case radioSession:
		id := p.radio.RadioID
		p.closeCurrent(protocol.OpLeaveRadio)
		p.request(protocol.OpLeaveRadio, protocol.RadioRef{RadioID: id, UserID: p.userID}, nil, nil)
	case jamSession:
		id := p.jam.JamID
		p.closeCurrent(protocol.OpLeaveJam)
		p.request(protocol.OpLeaveJam, protocol.JamRef{JamID: id, UserID: p.userID}, nil, nil)
	}
}

func (p *Proxy) closeCurrent(event string) {
	u := Update{Event: event, Closed: true}
	switch p.current {
	case radioSession:
		r := p.radio.Clone()
		u.Radio = &r
	case jamSession:
		j := p.jam.Clone()
		u.Jam = &j
	default:
		return
	}
	p.current = noSession
	p.radio = protocol.RadioInfo{}
	p.jam = protocol.JamInfo{}
	p.updates.each(u)
}
