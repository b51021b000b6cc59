package catalog

// Track is the display metadata of one catalog track.
type Track struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Artist       string `json:"artist"`       // first credited artist
	ThumbnailURL string `json:"thumbnailUrl"` // largest album image
	DurationMs   int    `json:"durationMs,omitempty"`
}

// PlaybackState is what the user's active device reports.
type PlaybackState struct {
	IsPlaying  bool   `json:"isPlaying"`
	ProgressMs int    `json:"progressMs"`
	TrackID    string `json:"trackId"`
}

// Position returns the device position in seconds.
func (s PlaybackState) Position() float64 {
	return float64(s.ProgressMs) / 1000
}

type trackResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Images []struct {
			URL    string `json:"url"`
			Height int    `json:"height"`
		} `json:"images"`
	} `json:"album"`
	DurationMs int `json:"duration_ms"`
}

func (r trackResponse) track() Track {
	t := Track{ID: r.ID, Title: r.Name, DurationMs: r.DurationMs}
	if len(r.Artists) > 0 {
		t.Artist = r.Artists[0].Name
	}
	best := -1
	for _, img := range r.Album.Images {
		if img.Height > best {
			best = img.Height
			t.ThumbnailURL = img.URL
		}
	}
	return t
}

type playerResponse struct {
	IsPlaying  bool `json:"is_playing"`
	ProgressMs int  `json:"progress_ms"`
	Item       *struct {
		ID string `json:"id"`
	} `json:"item"`
}
