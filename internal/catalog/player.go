package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const trackURIPrefix = "spotify:track:"

// Player drives the user's active playback device.
type Player struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewPlayer(baseURL, token string) *Player {
	return &Player{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Play starts songID on the device at offset seconds.
func (p *Player) Play(ctx context.Context, songID string, offset float64) error {
	body := map[string]any{
		"uris":        []string{trackURIPrefix + songID},
		"position_ms": millis(offset),
	}
	return p.do(ctx, http.MethodPut, "/me/player/play", nil, body, nil)
}

func (p *Player) Pause(ctx context.Context) error {
	return p.do(ctx, http.MethodPut, "/me/player/pause", nil, nil, nil)
}

// Resume continues the loaded track from where the device paused.
func (p *Player) Resume(ctx context.Context) error {
	return p.do(ctx, http.MethodPut, "/me/player/play", nil, nil, nil)
}

func (p *Player) Seek(ctx context.Context, offset float64) error {
	q := url.Values{}
	q.Set("position_ms", strconv.Itoa(millis(offset)))
	return p.do(ctx, http.MethodPut, "/me/player/seek", q, nil, nil)
}

// State reads the device state. With no active device it returns the zero
// state.
func (p *Player) State(ctx context.Context) (PlaybackState, error) {
	var body playerResponse
	if err := p.do(ctx, http.MethodGet, "/me/player", nil, nil, &body); err != nil {
		return PlaybackState{}, err
	}
	st := PlaybackState{IsPlaying: body.IsPlaying, ProgressMs: body.ProgressMs}
	if body.Item != nil {
		st.TrackID = body.Item.ID
	}
	return st, nil
}

func (p *Player) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	target := p.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("player %s %s: status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func millis(seconds float64) int {
	if seconds < 0 {
		return 0
	}
	return int(seconds*1000 + 0.5)
}
