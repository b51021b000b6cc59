package session

import (
	"context"
	"log"
	"strings"
	"time"

	"aural-realtime/internal/protocol"
)

func (r *Registry) ListJams(ctx context.Context) []protocol.JamInfo {
	r.mu.RLock()
	entries := make([]*jamEntry, 0, len(r.jams))
	for _, e := range r.jams {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]protocol.JamInfo, 0, len(entries))
	created := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.jam.Info())
			created[e.jam.ID] = e.jam.CreatedAt
		}
		e.mu.Unlock()
	}
	sortJams(out, created)
	return out
}

func (r *Registry) Jam(ctx context.Context, jamID string) (protocol.JamInfo, error) {
	e, ok := r.jamEntry(jamID)
	if !ok {
		return protocol.JamInfo{}, jamNotFound(jamID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return protocol.JamInfo{}, jamNotFound(jamID)
	}
	return e.jam.Info(), nil
}

// CreateJam creates a jam seeded with the given tracks, in order.
func (r *Registry) CreateJam(ctx context.Context, req protocol.CreateJamRequest) (protocol.JamInfo, error) {
	creator := strings.TrimSpace(req.CreatorID)
	if creator == "" {
		return protocol.JamInfo{}, invalid("creatorId is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Jam de " + creator
	}
	playlist := make([]string, 0, len(req.TrackIDs))
	for _, id := range req.TrackIDs {
		if id = strings.TrimSpace(id); id != "" {
			playlist = append(playlist, id)
		}
	}

	now := r.now()
	jam := Jam{
		ID:           r.newID(),
		Name:         name,
		Creator:      creator,
		Participants: []string{creator},
		Playlist:     playlist,
		Seq:          1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.store.SaveJam(ctx, jam); err != nil {
		log.Printf("session: save jam %s: %v", jam.ID, err)
		return protocol.JamInfo{}, &Error{Code: protocol.CodeInternal, Msg: "could not persist jam"}
	}

	e := &jamEntry{jam: jam}
	e.mu.Lock()
	defer e.mu.Unlock()
	r.mu.Lock()
	r.jams[jam.ID] = e
	r.mu.Unlock()

	info := jam.Info()
	r.publish(ctx, jam.Seq, []pending{{
		name:    protocol.EventJamCreated,
		topics:  []string{protocol.TopicJams},
		payload: info,
	}})
	log.Printf("session: jam %s created by %s", jam.ID, creator)
	return info, nil
}

func (r *Registry) JoinJam(ctx context.Context, ref protocol.JamRef) (protocol.JamInfo, error) {
	if ref.UserID == "" {
		return protocol.JamInfo{}, invalid("userId is required")
	}
	return r.mutateJam(ctx, ref.JamID, ref.UserID, false, func(next *Jam) ([]pending, error) {
		if next.hasParticipant(ref.UserID) {
			return nil, nil
		}
		next.Participants = append(next.Participants, ref.UserID)
		return jamUpdated(next), nil
	})
}

// AddSongToJam appends songID to the end of the playlist. Anyone may add.
func (r *Registry) AddSongToJam(ctx context.Context, req protocol.AddSongRequest) (protocol.JamInfo, error) {
	songID := strings.TrimSpace(req.SongID)
	if songID == "" {
		return protocol.JamInfo{}, invalid("songId is required")
	}
	return r.mutateJam(ctx, req.JamID, req.UserID, false, func(next *Jam) ([]pending, error) {
		next.Playlist = append(next.Playlist, songID)
		return jamUpdated(next), nil
	})
}

func (r *Registry) LeaveJam(ctx context.Context, ref protocol.JamRef) (protocol.JamInfo, error) {
	return r.mutateJam(ctx, ref.JamID, ref.UserID, false, func(next *Jam) ([]pending, error) {
		if !next.removeParticipant(ref.UserID) {
			return nil, nil
		}
		return jamUpdated(next), nil
	})
}

// DeleteJam removes a jam. Only its creator may delete it.
func (r *Registry) DeleteJam(ctx context.Context, ref protocol.JamRef) error {
	e, ok := r.jamEntry(ref.JamID)
	if !ok {
		return jamNotFound(ref.JamID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return jamNotFound(ref.JamID)
	}
	if e.jam.Creator != ref.UserID {
		log.Printf("session: rejected deleteJam %s from %q", ref.JamID, ref.UserID)
		return forbidden("only the jam creator can delete it")
	}
	if err := r.store.DeleteJam(ctx, ref.JamID); err != nil {
		log.Printf("session: delete jam %s: %v", ref.JamID, err)
		return &Error{Code: protocol.CodeInternal, Msg: "could not delete jam"}
	}

	e.deleted = true
	e.jam.Seq++
	r.mu.Lock()
	delete(r.jams, ref.JamID)
	r.mu.Unlock()

	r.publish(ctx, e.jam.Seq, []pending{{
		name:    protocol.EventJamDeleted,
		topics:  []string{protocol.JamTopic(ref.JamID), protocol.TopicJams},
		payload: protocol.JamDeleted{JamID: ref.JamID},
	}})
	log.Printf("session: jam %s deleted", ref.JamID)
	return nil
}

func jamUpdated(next *Jam) []pending {
	return []pending{{
		name:    protocol.EventJamUpdated,
		topics:  []string{protocol.JamTopic(next.ID), protocol.TopicJams},
		payload: next.Info(),
	}}
}
