package session

import (
	"time"

	"aural-realtime/internal/protocol"
)

// RadioState is the transport state of a radio.
type RadioState int

const (
	Stopped RadioState = iota
	Paused
	Playing
)

func (s RadioState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	}
	return "unknown"
}

// Radio is the authoritative state of a radio session. Creator is fixed for
// the lifetime of the radio.
type Radio struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Creator      string                 `json:"creator"`
	PlaylistID   string                 `json:"playlistId,omitempty"`
	Participants []protocol.Participant `json:"participants"`
	CurrentSong  *protocol.Song         `json:"currentSong,omitempty"`
	CurrentTime  float64                `json:"currentTime"`
	State        RadioState             `json:"state"`
	Seq          uint64                 `json:"seq"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

func (r Radio) clone() Radio {
	out := r
	out.Participants = append([]protocol.Participant{}, r.Participants...)
	if r.CurrentSong != nil {
		s := *r.CurrentSong
		out.CurrentSong = &s
	}
	return out
}

// Info returns the client-visible view of the radio.
func (r Radio) Info() protocol.RadioInfo {
	c := r.clone()
	return protocol.RadioInfo{
		RadioID:      c.ID,
		Name:         c.Name,
		Creator:      c.Creator,
		PlaylistID:   c.PlaylistID,
		Participants: c.Participants,
		CurrentSong:  c.CurrentSong,
		CurrentTime:  c.CurrentTime,
		IsPlaying:    c.State == Playing,
		Seq:          c.Seq,
	}
}

func (r *Radio) hasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (r *Radio) removeParticipant(userID string) bool {
	for i, p := range r.Participants {
		if p.UserID == userID {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// Jam is the authoritative state of a jam session. Playlist only grows.
type Jam struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Creator      string         `json:"creator"`
	Participants []string       `json:"participants"`
	Playlist     []string       `json:"playlist"`
	CurrentTrack *protocol.Song `json:"currentTrack,omitempty"`
	CurrentTime  float64        `json:"currentTime"`
	Seq          uint64         `json:"seq"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func (j Jam) clone() Jam {
	out := j
	out.Participants = append([]string{}, j.Participants...)
	out.Playlist = append([]string{}, j.Playlist...)
	if j.CurrentTrack != nil {
		t := *j.CurrentTrack
		out.CurrentTrack = &t
	}
	return out
}

// Info returns the client-visible view of the jam.
func (j Jam) Info() protocol.JamInfo {
	c := j.clone()
	return protocol.JamInfo{
		JamID:        c.ID,
		Name:         c.Name,
		Creator:      c.Creator,
		Participants: c.Participants,
		Playlist:     c.Playlist,
		CurrentTrack: c.CurrentTrack,
		CurrentTime:  c.CurrentTime,
		Seq:          c.Seq,
	}
}

func (j *Jam) hasParticipant(userID string) bool {
	for _, p := range j.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

func (j *Jam) removeParticipant(userID string) bool {
	for i, p := range j.Participants {
		if p == userID {
			j.Participants = append(j.Participants[:i], j.Participants[i+1:]...)
			return true
		}
	}
	return false
}
