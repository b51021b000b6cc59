// Package clienttest provides an in-memory client.Channel for tests.
package clienttest

import (
	"encoding/json"
	"fmt"
	"sync"

	"aural-realtime/internal/client"
	"aural-realtime/internal/protocol"
)

// Request is one request sent through the fake channel.
type Request struct {
	Op      string
	Payload json.RawMessage
	onAck   client.AckFunc
	acked   bool
}

// Decode unmarshals the request payload into v.
func (r *Request) Decode(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, v)
}

// Channel records requests and lets the test ack them and emit events.
// Acks and events are delivered on the loop, like a real connection.
type Channel struct {
	loop *client.Loop

	mu        sync.Mutex
	requests  []*Request
	listeners map[string]map[int]func(protocol.Frame)
	next      int
	offline   bool
}

func New(loop *client.Loop) *Channel {
	return &Channel{loop: loop, listeners: make(map[string]map[int]func(protocol.Frame))}
}

// SetOffline makes Request fail with client.ErrChannelUnavailable.
func (c *Channel) SetOffline(offline bool) {
	c.mu.Lock()
	c.offline = offline
	c.mu.Unlock()
}

func (c *Channel) Request(op string, payload any, onAck client.AckFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return client.ErrChannelUnavailable
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if payload == nil {
		raw = nil
	}
	c.requests = append(c.requests, &Request{Op: op, Payload: raw, onAck: onAck})
	return nil
}

func (c *Channel) Listen(event string, fn func(protocol.Frame)) *client.Subscription {
	c.mu.Lock()
	id := c.next
	c.next++
	if c.listeners[event] == nil {
		c.listeners[event] = make(map[int]func(protocol.Frame))
	}
	c.listeners[event][id] = fn
	c.mu.Unlock()

	return client.NewSubscription(func() {
		c.mu.Lock()
		delete(c.listeners[event], id)
		c.mu.Unlock()
	})
}

// Listeners counts the live listeners for event.
func (c *Channel) Listeners(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[event])
}

// TotalListeners counts every live listener.
func (c *Channel) TotalListeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.listeners {
		n += len(m)
	}
	return n
}

// Requests returns every request sent with op, oldest first.
func (c *Channel) Requests(op string) []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Request
	for _, r := range c.requests {
		if r.Op == op {
			out = append(out, r)
		}
	}
	return out
}

// Ops returns the ops of every request in sending order.
func (c *Channel) Ops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.requests))
	for i, r := range c.requests {
		out[i] = r.Op
	}
	return out
}

// Ack answers the oldest unanswered request with op.
func (c *Channel) Ack(op string, payload any) error {
	r, err := c.nextPending(op)
	if err != nil {
		return err
	}
	ack, err := protocol.NewAck("", op, payload)
	if err != nil {
		return err
	}
	c.deliver(r, ack, nil)
	return nil
}

// Fail answers the oldest unanswered request with op with an error ack.
func (c *Channel) Fail(op, code, msg string) error {
	r, err := c.nextPending(op)
	if err != nil {
		return err
	}
	c.deliver(r, protocol.NewErrorAck("", op, code, msg), &client.RemoteError{Op: op, Code: code, Message: msg})
	return nil
}

// Emit delivers an event to its listeners.
func (c *Channel) Emit(name string, seq uint64, payload any) error {
	f, err := protocol.NewEvent(name, "", seq, payload)
	if err != nil {
		return err
	}
	c.loop.Post(func() {
		c.mu.Lock()
		var fns []func(protocol.Frame)
		for _, fn := range c.listeners[name] {
			fns = append(fns, fn)
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn(f)
		}
	})
	return nil
}

func (c *Channel) nextPending(op string) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.requests {
		if r.Op == op && !r.acked {
			r.acked = true
			return r, nil
		}
	}
	return nil, fmt.Errorf("clienttest: no pending %s request", op)
}

func (c *Channel) deliver(r *Request, ack protocol.Frame, err error) {
	if r.onAck == nil {
		return
	}
	cb := r.onAck
	c.loop.Post(func() { cb(ack, err) })
}
