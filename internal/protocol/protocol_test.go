package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTopic(t *testing.T) {
	for topic, want := range map[string]bool{
		TopicRadios:     true,
		TopicJams:       true,
		RadioTopic("1"): true,
		JamTopic("j"):   true,
		"radio:":        false,
		"jam:":          false,
		"users":         false,
		"":              false,
	} {
		assert.Equal(t, want, ValidTopic(topic), topic)
	}
}

func TestNewEvent(t *testing.T) {
	f, err := NewEvent(EventTimeSynced, RadioTopic("r1"), 7, TimeSynced{RadioID: "r1", CurrentTime: 12.5})
	require.NoError(t, err)

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"event","event":"timeSynced","topic":"radio:r1","seq":7,"payload":{"radioId":"r1","currentTime":12.5}}`, string(raw))

	var ev TimeSynced
	require.NoError(t, f.Decode(&ev))
	assert.Equal(t, 12.5, ev.CurrentTime)
}

func TestAcks(t *testing.T) {
	ack, err := NewAck("c1", OpLeaveRadio, nil)
	require.NoError(t, err)
	assert.Nil(t, ack.Payload)

	var v struct{ X int }
	require.NoError(t, ack.Decode(&v))

	failed := NewErrorAck("c2", OpJoinRadio, CodeNotFound, "radio not found")
	raw, err := json.Marshal(failed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ack","id":"c2","op":"joinRadio","error":{"code":"not_found","message":"radio not found"}}`, string(raw))
}

func TestRadioInfoClone(t *testing.T) {
	orig := RadioInfo{
		RadioID:      "r1",
		Participants: []Participant{{UserID: "u1", Admin: true}},
		CurrentSong:  &Song{ID: "abc"},
	}
	c := orig.Clone()
	c.Participants[0].UserID = "u9"
	c.CurrentSong.ID = "zzz"

	assert.Equal(t, "u1", orig.Participants[0].UserID)
	assert.Equal(t, "abc", orig.CurrentSong.ID)
	assert.True(t, orig.HasParticipant("u1"))
	assert.False(t, orig.HasParticipant("u9"))

	assert.Equal(t, []Participant{}, RadioInfo{}.Clone().Participants)
}

func TestJamInfoClone(t *testing.T) {
	orig := JamInfo{JamID: "j1", Playlist: []string{"t1"}, CurrentTrack: &Song{ID: "t1"}}
	c := orig.Clone()
	c.Playlist[0] = "t9"
	c.CurrentTrack.ID = "t9"

	assert.Equal(t, []string{"t1"}, orig.Playlist)
	assert.Equal(t, "t1", orig.CurrentTrack.ID)
	assert.Equal(t, []string{}, c.Participants)
}
