package session

import (
	"context"
	"log"
	"strings"
	"time"

	"aural-realtime/internal/protocol"
)

// ListRadios returns every live radio, oldest first.
func (r *Registry) ListRadios(ctx context.Context) []protocol.RadioInfo {
	r.mu.RLock()
	entries := make([]*radioEntry, 0, len(r.radios))
	for _, e := range r.radios {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]protocol.RadioInfo, 0, len(entries))
	created := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.radio.Info())
			created[e.radio.ID] = e.radio.CreatedAt
		}
		e.mu.Unlock()
	}
	sortRadios(out, created)
	return out
}

// Radio returns one radio.
func (r *Registry) Radio(ctx context.Context, radioID string) (protocol.RadioInfo, error) {
	e, ok := r.radioEntry(radioID)
	if !ok {
		return protocol.RadioInfo{}, radioNotFound(radioID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return protocol.RadioInfo{}, radioNotFound(radioID)
	}
	return e.radio.Info(), nil
}

// CreateRadio creates a radio with its creator as the only participant.
func (r *Registry) CreateRadio(ctx context.Context, req protocol.CreateRadioRequest) (protocol.RadioInfo, error) {
	creator := strings.TrimSpace(req.CreatorID)
	if creator == "" {
		return protocol.RadioInfo{}, invalid("creatorId is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Radio de " + creator
	}

	now := r.now()
	radio := Radio{
		ID:           r.newID(),
		Name:         name,
		Creator:      creator,
		PlaylistID:   req.PlaylistID,
		Participants: []protocol.Participant{{UserID: creator, Admin: true}},
		State:        Stopped,
		Seq:          1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.SaveRadio(ctx, radio); err != nil {
		log.Printf("session: save radio %s: %v", radio.ID, err)
		return protocol.RadioInfo{}, &Error{Code: protocol.CodeInternal, Msg: "could not persist radio"}
	}

	e := &radioEntry{radio: radio}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.mu.Lock()
	r.radios[radio.ID] = e
	r.mu.Unlock()

	info := radio.Info()
	r.publish(ctx, radio.Seq, []pending{{
		name:    protocol.EventRadioCreated,
		topics:  []string{protocol.TopicRadios},
		payload: info,
	}})
	log.Printf("session: radio %s created by %s", radio.ID, creator)
	return info, nil
}

// DeleteRadio removes a radio. Only its creator may delete it. The deletion is
// broadcast to the radio's subscribers and to the radio list in one frame.
func (r *Registry) DeleteRadio(ctx context.Context, ref protocol.RadioRef) error {
	e, ok := r.radioEntry(ref.RadioID)
	if !ok {
		return radioNotFound(ref.RadioID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return radioNotFound(ref.RadioID)
	}
	if e.radio.Creator != ref.UserID {
		log.Printf("session: rejected deleteRadio %s from %q", ref.RadioID, ref.UserID)
		return forbidden("only the radio creator can delete it")
	}
	if err := r.store.DeleteRadio(ctx, ref.RadioID); err != nil {
		log.Printf("session: delete radio %s: %v", ref.RadioID, err)
		return &Error{Code: protocol.CodeInternal, Msg: "could not delete radio"}
	}

	e.deleted = true
	e.radio.Seq++
	r.mu.Lock()
	delete(r.radios, ref.RadioID)
	r.mu.Unlock()

	r.publish(ctx, e.radio.Seq, []pending{{
		name:    protocol.EventRadioDeleted,
		topics:  []string{protocol.RadioTopic(ref.RadioID), protocol.TopicRadios},
		payload: protocol.RadioDeleted{RadioID: ref.RadioID},
	}})
	log.Printf("session: radio %s deleted", ref.RadioID)
	return nil
}

// JoinRadio adds the user to the radio and returns its current state. Joining
// twice is not an error and does not duplicate the participant.
func (r *Registry) JoinRadio(ctx context.Context, ref protocol.RadioRef) (protocol.RadioInfo, error) {
	if ref.UserID == "" {
		return protocol.RadioInfo{}, invalid("userId is required")
	}
	return r.mutateRadio(ctx, ref.RadioID, ref.UserID, false, func(next *Radio) ([]pending, error) {
		if next.hasParticipant(ref.UserID) {
			return nil, nil
		}
		next.Participants = append(next.Participants, protocol.Participant{UserID: ref.UserID})
		return membershipEvents(next), nil
	})
}

// LeaveRadio removes the user from the radio. The radio stays alive even when
// nobody is left in it.
func (r *Registry) LeaveRadio(ctx context.Context, ref protocol.RadioRef) (protocol.RadioInfo, error) {
	return r.mutateRadio(ctx, ref.RadioID, ref.UserID, false, func(next *Radio) ([]pending, error) {
		if !next.removeParticipant(ref.UserID) {
			return nil, nil
		}
		return membershipEvents(next), nil
	})
}

// Play starts playback. Playing from the start of a song is announced as
// radioPlay, picking up a paused song as songResumed.
func (r *Registry) Play(ctx context.Context, ref protocol.RadioRef) (protocol.RadioInfo, error) {
	return r.mutateRadio(ctx, ref.RadioID, ref.UserID, true, func(next *Radio) ([]pending, error) {
		if next.State == Playing {
			return nil, nil
		}
		event := protocol.EventSongResumed
		if next.State == Stopped || next.CurrentTime == 0 {
			event = protocol.EventRadioPlay
		}
		next.State = Playing
		return []pending{{
			name:    event,
			topics:  []string{protocol.RadioTopic(next.ID)},
			payload: protocol.Transport{RadioID: next.ID, CurrentTime: next.CurrentTime},
		}}, nil
	})
}

// Pause pauses playback. Pausing a radio that is not playing does nothing.
func (r *Registry) Pause(ctx context.Context, ref protocol.RadioRef) (protocol.RadioInfo, error) {
	return r.mutateRadio(ctx, ref.RadioID, ref.UserID, true, func(next *Radio) ([]pending, error) {
		if next.State != Playing {
			return nil, nil
		}
		next.State = Paused
		return []pending{{
			name:    protocol.EventSongPaused,
			topics:  []string{protocol.RadioTopic(next.ID)},
			payload: protocol.Transport{RadioID: next.ID, CurrentTime: next.CurrentTime},
		}}, nil
	})
}

// SyncTime moves the radio's position. It is both the periodic correction
// sent by the creator and the seek command.
func (r *Registry) SyncTime(ctx context.Context, req protocol.SyncTimeRequest) (protocol.RadioInfo, error) {
	if req.CurrentTime < 0 {
		return protocol.RadioInfo{}, invalid("currentTime must not be negative")
	}
	return r.mutateRadio(ctx, req.RadioID, req.UserID, true, func(next *Radio) ([]pending, error) {
		next.CurrentTime = req.CurrentTime
		return []pending{{
			name:    protocol.EventTimeSynced,
			topics:  []string{protocol.RadioTopic(next.ID)},
			payload: protocol.TimeSynced{RadioID: next.ID, CurrentTime: next.CurrentTime},
		}}, nil
	})
}

// UpdateSong loads a new song, rewinds to 0 and leaves the radio paused.
func (r *Registry) UpdateSong(ctx context.Context, req protocol.UpdateSongRequest) (protocol.RadioInfo, error) {
	songID := strings.TrimSpace(req.SongID)
	return r.mutateRadio(ctx, req.RadioID, req.UserID, true, func(next *Radio) ([]pending, error) {
		if songID == "" {
			return nil, invalid("songId is required")
		}
		next.CurrentSong = &protocol.Song{ID: songID, Name: req.SongName}
		next.CurrentTime = 0
		next.State = Paused
		return []pending{
			{
				name:    protocol.EventSongUpdated,
				topics:  []string{protocol.RadioTopic(next.ID)},
				payload: protocol.SongUpdated{RadioID: next.ID, CurrentSong: next.CurrentSong, CurrentTime: 0},
			},
			{
				name:    protocol.EventRadioListUpdated,
				topics:  []string{protocol.TopicRadios},
				payload: protocol.RadioListUpdated{RadioID: next.ID},
			},
		}, nil
	})
}

func membershipEvents(next *Radio) []pending {
	return []pending{
		{
			name:    protocol.EventRadioUpdated,
			topics:  []string{protocol.RadioTopic(next.ID)},
			payload: next.Info(),
		},
		{
			name:    protocol.EventRadioListUpdated,
			topics:  []string{protocol.TopicRadios},
			payload: protocol.RadioListUpdated{RadioID: next.ID},
		},
	}
}
