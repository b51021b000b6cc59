package protocol

// Song is the only song data kept in session state; display metadata is
// fetched on demand by each client.
type Song struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type Participant struct {
	UserID string `json:"userId"`
	Admin  bool   `json:"admin,omitempty"`
}

// RadioInfo is the client-visible state of a radio.
type RadioInfo struct {
	RadioID      string        `json:"radioId"`
	Name         string        `json:"name"`
	Creator      string        `json:"creator"`
	PlaylistID   string        `json:"playlistId,omitempty"`
	Participants []Participant `json:"participants"`
	CurrentSong  *Song         `json:"currentSong"`
	CurrentTime  float64       `json:"currentTime"`
	IsPlaying    bool          `json:"isPlaying"`
	Seq          uint64        `json:"seq"`
}

// Clone returns a deep copy.
func (r RadioInfo) Clone() RadioInfo {
	out := r
	out.Participants = append([]Participant(nil), r.Participants...)
	if out.Participants == nil {
		out.Participants = []Participant{}
	}
	if r.CurrentSong != nil {
		s := *r.CurrentSong
		out.CurrentSong = &s
	}
	return out
}

// HasParticipant reports whether userID is in the radio.
func (r RadioInfo) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// JamInfo is the client-visible state of a jam.
type JamInfo struct {
	JamID        string   `json:"jamId"`
	Name         string   `json:"name"`
	Creator      string   `json:"creator"`
	Participants []string `json:"participants"`
	Playlist     []string `json:"playlist"`
	CurrentTrack *Song    `json:"currentTrack,omitempty"`
	CurrentTime  float64  `json:"currentTime"`
	Seq          uint64   `json:"seq"`
}

// Clone returns a deep copy.
func (j JamInfo) Clone() JamInfo {
	out := j
	out.Participants = append([]string{}, j.Participants...)
	out.Playlist = append([]string{}, j.Playlist...)
	if j.CurrentTrack != nil {
		t := *j.CurrentTrack
		out.CurrentTrack = &t
	}
	return out
}

// Radio requests.

type CreateRadioRequest struct {
	Name       string `json:"name"`
	CreatorID  string `json:"creatorId"`
	PlaylistID string `json:"playlistId,omitempty"`
}

// RadioRef addresses a radio on behalf of a user. Used by joinRadio,
// leaveRadio, deleteRadio, radioPlay and pauseSong.
type RadioRef struct {
	RadioID string `json:"radioId"`
	UserID  string `json:"userId"`
}

type SyncTimeRequest struct {
	RadioID     string  `json:"radioId"`
	UserID      string  `json:"userId"`
	CurrentTime float64 `json:"currentTime"`
}

type UpdateSongRequest struct {
	RadioID  string `json:"radioId"`
	UserID   string `json:"userId"`
	SongID   string `json:"songId"`
	SongName string `json:"songName,omitempty"`
}

// Jam requests.

type CreateJamRequest struct {
	Name      string   `json:"name"`
	CreatorID string   `json:"creatorId"`
	TrackIDs  []string `json:"trackIds"`
}

// JamRef addresses a jam on behalf of a user. Used by joinJam, leaveJam and deleteJam.
type JamRef struct {
	JamID  string `json:"jamId"`
	UserID string `json:"userId"`
}

type AddSongRequest struct {
	JamID  string `json:"jamId"`
	SongID string `json:"songId"`
	UserID string `json:"userId,omitempty"`
}

type TopicRequest struct {
	Topic string `json:"topic"`
}

// Event payloads.

type RadioDeleted struct {
	RadioID string `json:"radioId"`
}

type RadioListUpdated struct {
	RadioID string `json:"radioId,omitempty"`
}

type SongUpdated struct {
	RadioID     string  `json:"radioId"`
	CurrentSong *Song   `json:"currentSong"`
	CurrentTime float64 `json:"currentTime"`
}

type TimeSynced struct {
	RadioID     string  `json:"radioId"`
	CurrentTime float64 `json:"currentTime"`
}

// Transport is the payload of radioPlay, songPaused and songResumed.
type Transport struct {
	RadioID     string  `json:"radioId"`
	CurrentTime float64 `json:"currentTime"`
}

type JamDeleted struct {
	JamID string `json:"jamId"`
}
