package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aural-realtime/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	welcomeWait    = 10 * time.Second
	sendBuffer     = 64
	maxMessageSize = 512 * 1024
)

// ErrChannelUnavailable is returned for a command issued while there is no
// live connection. The command is dropped.
var ErrChannelUnavailable = errors.New("client: channel unavailable")

// RemoteError is a failed ack.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

// CodeOf returns the error code of a failed ack, or "" for any other error.
func CodeOf(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// AckFunc receives the ack for a request. err is a *RemoteError when the
// server rejected the request and ErrChannelUnavailable when the connection
// went away before the ack arrived.
type AckFunc func(ack protocol.Frame, err error)

// Channel is the request/ack plus publish/subscribe transport a Proxy talks
// through. Callbacks run on the client Loop.
type Channel interface {
	Request(op string, payload any, onAck AckFunc) error
	Listen(event string, fn func(protocol.Frame)) *Subscription
}

// Conn is a Channel over one websocket connection.
type Conn struct {
	loop *Loop
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]AckFunc
	events  map[string]*listeners[protocol.Frame]

	userID    string
	serverNow time.Time
}

// Dial connects to the session server and waits for its welcome frame. A
// non-empty token is sent as a bearer credential.
func Dial(ctx context.Context, url, token string, loop *Loop) (*Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	deadline := time.Now().Add(welcomeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ws.SetReadDeadline(deadline)
	var welcome protocol.Frame
	if err := ws.ReadJSON(&welcome); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	if welcome.Type != protocol.TypeWelcome {
		ws.Close()
		return nil, fmt.Errorf("expected welcome frame, got %q", welcome.Type)
	}
	_ = ws.SetReadDeadline(time.Time{})

	c := &Conn{
		loop:    loop,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		pending: make(map[string]AckFunc),
		events:  make(map[string]*listeners[protocol.Frame]),
		userID:  welcome.UserID,
	}
	if t, err := time.Parse(time.RFC3339Nano, welcome.Now); err == nil {
		c.serverNow = t
	}

	go c.readPump()
	go c.writePump()
	return c, nil
}

// UserID is the identity the server bound to this connection, empty in
// development mode.
func (c *Conn) UserID() string { return c.userID }

// ServerTime is the server clock reading from the welcome frame.
func (c *Conn) ServerTime() time.Time { return c.serverNow }

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Request sends op without blocking. onAck may be nil.
func (c *Conn) Request(op string, payload any, onAck AckFunc) error {
	select {
	case <-c.done:
		log.Printf("client: %s dropped: %v", op, ErrChannelUnavailable)
		return ErrChannelUnavailable
	default:
	}

	id := uuid.NewString()
	f, err := protocol.NewRequest(id, op, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode %s: %w", op, err)
	}

	if onAck != nil {
		c.mu.Lock()
		c.pending[id] = onAck
		c.mu.Unlock()
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
	default:
		log.Printf("client: %s dropped: send queue full", op)
	}

	// If shutdown already failed the pending ack, the callback reports it.
	if onAck != nil && c.take(id) == nil {
		return nil
	}
	return ErrChannelUnavailable
}

// Listen registers fn for every event named event.
func (c *Conn) Listen(event string, fn func(protocol.Frame)) *Subscription {
	c.mu.Lock()
	ls := c.events[event]
	if ls == nil {
		ls = &listeners[protocol.Frame]{}
		c.events[event] = ls
	}
	c.mu.Unlock()
	return ls.add(fn)
}

// Close ends the connection and releases every listener. Requests still
// waiting for an ack fail with ErrChannelUnavailable.
func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.shutdown()

	c.mu.Lock()
	for _, ls := range c.events {
		ls.clear()
	}
	c.mu.Unlock()
	return nil
}

func (c *Conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()

		c.mu.Lock()
		pending := c.pending
		c.pending = make(map[string]AckFunc)
		c.mu.Unlock()

		for id, cb := range pending {
			id, cb := id, cb
			c.loop.Post(func() {
				cb(protocol.Frame{Type: protocol.TypeAck, ID: id}, ErrChannelUnavailable)
			})
		}
	})
}

func (c *Conn) take(id string) AckFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return cb
}

func (c *Conn) readPump() {
	defer c.shutdown()

	c.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("client: read: %v", err)
				}
			}
			return
		}
		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("client: malformed frame: %v", err)
			continue
		}
		switch f.Type {
		case protocol.TypeAck:
			c.resolve(f)
		case protocol.TypeEvent:
			c.emit(f)
		}
	}
}

func (c *Conn) resolve(f protocol.Frame) {
	cb := c.take(f.ID)
	if cb == nil {
		return
	}
	var err error
	if f.Error != nil {
		err = &RemoteError{Op: f.Op, Code: f.Error.Code, Message: f.Error.Message}
	}
	c.loop.Post(func() { cb(f, err) })
}

// emit looks listeners up when the event runs, so a listener released
// before then is not called.
func (c *Conn) emit(f protocol.Frame) {
	c.loop.Post(func() {
		c.mu.Lock()
		ls := c.events[f.Event]
		c.mu.Unlock()
		if ls != nil {
			ls.each(f)
		}
	})
}

func (c *Conn) writePump() {
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("client: write: %v", err)
				c.shutdown()
				return
			}
		case <-c.done:
			return
		}
	}
}
