// Package protocol defines the frames exchanged between the session registry
// and its clients over the persistent channel. Requests are correlated with
// acks by id; events are published on topics and carry the session's sequence
// number so clients can drop stale broadcasts.
package protocol

import (
	"encoding/json"
	"strings"
)

// Frame types.
const (
	TypeRequest = "request"
	TypeAck     = "ack"
	TypeEvent   = "event"
	TypeWelcome = "welcome"
)

// Client -> server operations.
const (
	OpGetLiveRadios = "getLiveRadios"
	OpCreateRadio   = "createRadio"
	OpDeleteRadio   = "deleteRadio"
	OpJoinRadio     = "joinRadio"
	OpLeaveRadio    = "leaveRadio"
	OpRadioPlay     = "radioPlay"
	OpPauseSong     = "pauseSong"
	OpSyncTime      = "syncTime"
	OpUpdateSong    = "updateSong"

	OpGetJams      = "getJams"
	OpCreateJam    = "createJam"
	OpJoinJam      = "joinJam"
	OpAddSongToJam = "addSongToJam"
	OpLeaveJam     = "leaveJam"
	OpDeleteJam    = "deleteJam"

	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
)

// Server -> client events.
const (
	EventLiveRadios       = "liveRadios"
	EventRadioListUpdated = "radioListUpdated"
	EventRadioCreated     = "radioCreated"
	EventRadioDeleted     = "radioDeleted"
	EventRadioJoined      = "radioJoined"
	EventRadioUpdated     = "radioUpdated"
	EventSongUpdated      = "songUpdated"
	EventTimeSynced       = "timeSynced"
	EventRadioPlay        = "radioPlay"
	EventSongPaused       = "songPaused"
	EventSongResumed      = "songResumed"

	EventJamCreated = "jamCreated"
	EventJamUpdated = "jamUpdated"
	EventJamDeleted = "jamDeleted"
)

// Error codes carried in ack errors.
const (
	CodeNotFound        = "not_found"
	CodeForbidden       = "forbidden"
	CodeInvalidArgument = "invalid_argument"
	CodeUnauthenticated = "unauthenticated"
	CodeInternal        = "internal"
)

// List topics every connection is subscribed to on connect.
const (
	TopicRadios = "radios"
	TopicJams   = "jams"
)

const (
	radioTopicPrefix = "radio:"
	jamTopicPrefix   = "jam:"
)

func RadioTopic(radioID string) string { return radioTopicPrefix + radioID }

func JamTopic(jamID string) string { return jamTopicPrefix + jamID }

// ValidTopic reports whether a client may subscribe to topic.
func ValidTopic(topic string) bool {
	switch {
	case topic == TopicRadios, topic == TopicJams:
		return true
	case strings.HasPrefix(topic, radioTopicPrefix):
		return len(topic) > len(radioTopicPrefix)
	case strings.HasPrefix(topic, jamTopicPrefix):
		return len(topic) > len(jamTopicPrefix)
	}
	return false
}

// Frame is the JSON envelope of every message on the channel.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Op      string          `json:"op,omitempty"`
	Event   string          `json:"event,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`

	// Set on welcome frames only.
	Now    string `json:"now,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// ErrorPayload is attached to a failed ack.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Broadcast is an event addressed to the subscribers of one or more topics.
// A connection subscribed to several of the topics receives it once.
type Broadcast struct {
	Topics []string `json:"topics"`
	Frame  Frame    `json:"frame"`
}

// NewEvent builds an event frame.
func NewEvent(name, topic string, seq uint64, payload any) (Frame, error) {
	raw, err := encode(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeEvent, Event: name, Topic: topic, Seq: seq, Payload: raw}, nil
}

// NewAck builds a successful ack for request id.
func NewAck(id, op string, payload any) (Frame, error) {
	raw, err := encode(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeAck, ID: id, Op: op, Payload: raw}, nil
}

// NewErrorAck builds a failed ack for request id.
func NewErrorAck(id, op, code, msg string) Frame {
	return Frame{Type: TypeAck, ID: id, Op: op, Error: &ErrorPayload{Code: code, Message: msg}}
}

// NewRequest builds a request frame.
func NewRequest(id, op string, payload any) (Frame, error) {
	raw, err := encode(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: TypeRequest, ID: id, Op: op, Payload: raw}, nil
}

// Decode unmarshals the frame payload into v. An empty payload leaves v untouched.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

func encode(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return b, nil
}
