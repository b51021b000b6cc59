// Package catalog talks to the external catalog provider: track metadata
// lookups and control of the user's playback device. Both sit behind an
// opaque bearer credential.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTrackNotFound = errors.New("track not found")

const trackKeyPrefix = "catalog:track:"

// Client looks up track metadata. When a Redis client is set, lookups are
// cached for ttl.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	rdb     *redis.Client
	ttl     time.Duration
}

func NewClient(baseURL, token string, rdb *redis.Client, ttl time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		rdb: rdb,
		ttl: ttl,
	}
}

// Track returns the metadata of track id.
func (c *Client) Track(ctx context.Context, id string) (Track, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Track{}, ErrTrackNotFound
	}
	if t, ok := c.cached(ctx, id); ok {
		return t, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tracks/"+url.PathEscape(id), nil)
	if err != nil {
		return Track{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Track{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Track{}, ErrTrackNotFound
	case resp.StatusCode != http.StatusOK:
		return Track{}, fmt.Errorf("catalog status %d", resp.StatusCode)
	}

	var body trackResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Track{}, err
	}
	t := body.track()
	if t.ID == "" {
		t.ID = id
	}
	c.store(ctx, t)
	return t, nil
}

func (c *Client) cached(ctx context.Context, id string) (Track, bool) {
	if c.rdb == nil {
		return Track{}, false
	}
	raw, err := c.rdb.Get(ctx, trackKeyPrefix+id).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("catalog: cache get %s: %v", id, err)
		}
		return Track{}, false
	}
	var t Track
	if err := json.Unmarshal(raw, &t); err != nil {
		log.Printf("catalog: cache decode %s: %v", id, err)
		return Track{}, false
	}
	return t, true
}

func (c *Client) store(ctx context.Context, t Track) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, trackKeyPrefix+t.ID, raw, c.ttl).Err(); err != nil {
		log.Printf("catalog: cache set %s: %v", t.ID, err)
	}
}
