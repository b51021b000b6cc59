package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trackJSON = `{
	"id": "abc",
	"name": "Song",
	"artists": [{"name": "Artist 1"}, {"name": "Artist 2"}],
	"album": {"images": [
		{"url": "http://img/small", "height": 64},
		{"url": "http://img/large", "height": 640},
		{"url": "http://img/medium", "height": 300}
	]},
	"duration_ms": 184000
}`

func newTrackServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/tracks/abc":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, trackJSON)
		case "/tracks/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Track(t *testing.T) {
	var hits int32
	srv := newTrackServer(t, &hits)
	c := NewClient(srv.URL+"/", "tok", nil, 0)

	got, err := c.Track(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, Track{
		ID:           "abc",
		Title:        "Song",
		Artist:       "Artist 1",
		ThumbnailURL: "http://img/large",
		DurationMs:   184000,
	}, got)
}

func TestClient_TrackErrors(t *testing.T) {
	var hits int32
	srv := newTrackServer(t, &hits)

	_, err := NewClient(srv.URL, "tok", nil, 0).Track(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTrackNotFound)

	_, err = NewClient(srv.URL, "tok", nil, 0).Track(context.Background(), "broken")
	assert.EqualError(t, err, "catalog status 502")

	_, err = NewClient(srv.URL, "wrong", nil, 0).Track(context.Background(), "abc")
	assert.EqualError(t, err, "catalog status 401")

	_, err = NewClient(srv.URL, "tok", nil, 0).Track(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestClient_TrackCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var hits int32
	srv := newTrackServer(t, &hits)
	c := NewClient(srv.URL, "tok", rdb, time.Hour)

	first, err := c.Track(context.Background(), "abc")
	require.NoError(t, err)
	second, err := c.Track(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.True(t, mr.Exists("catalog:track:abc"))
	assert.Equal(t, time.Hour, mr.TTL("catalog:track:abc"))

	// A corrupt entry falls through to the provider.
	require.NoError(t, mr.Set("catalog:track:abc", "{"))
	_, err = c.Track(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClient_TrackCacheDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, rdb.Close())

	var hits int32
	srv := newTrackServer(t, &hits)
	got, err := NewClient(srv.URL, "tok", rdb, time.Hour).Track(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "Song", got.Title)
}

type recordedCall struct {
	method string
	path   string
	query  string
	body   map[string]any
}

func newPlayerServer(t *testing.T, state string, status int) (*httptest.Server, *[]recordedCall) {
	t.Helper()
	var calls []recordedCall
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := recordedCall{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &call.body)
		}
		calls = append(calls, call)

		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodGet && r.URL.Path == "/me/player" {
			if state == "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			_, _ = io.WriteString(w, state)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestPlayer_Transport(t *testing.T) {
	srv, calls := newPlayerServer(t, "", http.StatusNoContent)
	p := NewPlayer(srv.URL, "tok")
	ctx := context.Background()

	require.NoError(t, p.Play(ctx, "abc", 12.5))
	require.NoError(t, p.Pause(ctx))
	require.NoError(t, p.Resume(ctx))
	require.NoError(t, p.Seek(ctx, 30))

	require.Len(t, *calls, 4)
	play := (*calls)[0]
	assert.Equal(t, http.MethodPut, play.method)
	assert.Equal(t, "/me/player/play", play.path)
	assert.Equal(t, []any{"spotify:track:abc"}, play.body["uris"])
	assert.Equal(t, 12500.0, play.body["position_ms"])

	assert.Equal(t, "/me/player/pause", (*calls)[1].path)
	assert.Equal(t, "/me/player/play", (*calls)[2].path)
	assert.Nil(t, (*calls)[2].body)
	assert.Equal(t, "/me/player/seek", (*calls)[3].path)
	assert.Equal(t, "position_ms=30000", (*calls)[3].query)
}

func TestPlayer_State(t *testing.T) {
	srv, _ := newPlayerServer(t, `{"is_playing": true, "progress_ms": 42500, "item": {"id": "abc"}}`, http.StatusNoContent)
	st, err := NewPlayer(srv.URL, "tok").State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PlaybackState{IsPlaying: true, ProgressMs: 42500, TrackID: "abc"}, st)
	assert.Equal(t, 42.5, st.Position())

	idle, _ := newPlayerServer(t, "", http.StatusNoContent)
	st, err = NewPlayer(idle.URL, "tok").State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PlaybackState{}, st)
}

func TestPlayer_Errors(t *testing.T) {
	srv, _ := newPlayerServer(t, "", http.StatusNotFound)
	p := NewPlayer(srv.URL, "tok")

	err := p.Play(context.Background(), "abc", 0)
	assert.EqualError(t, err, "player PUT /me/player/play: status 404")

	_, err = NewPlayer(srv.URL, "wrong").State(context.Background())
	assert.Error(t, err)
}

func TestMillis(t *testing.T) {
	assert.Equal(t, 0, millis(-3))
	assert.Equal(t, 0, millis(0))
	assert.Equal(t, 1500, millis(1.5))
	assert.Equal(t, 333, millis(0.3333))
}
