package realtime

import (
	"context"
	"encoding/json"
	"log"

	"aural-realtime/internal/protocol"
)

// Hub owns the connected clients and their topic subscriptions. Every map
// and every client's send channel is only touched from Run.
type Hub struct {
	clients map[*Client]map[string]bool
	topics  map[string]map[*Client]bool

	// Broadcasts from the registry or from Redis.
	broadcast chan protocol.Broadcast

	// Frames addressed to one client (acks, radioJoined).
	direct chan directFrame

	register   chan *Client
	unregister chan *Client

	subscribe   chan topicChange
	unsubscribe chan topicChange

	done chan struct{}
}

type directFrame struct {
	client *Client
	data   []byte
}

type topicChange struct {
	client *Client
	topic  string
}

func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]map[string]bool),
		topics:      make(map[string]map[*Client]bool),
		broadcast:   make(chan protocol.Broadcast, 64),
		direct:      make(chan directFrame, 64),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan topicChange),
		unsubscribe: make(chan topicChange),
		done:        make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = make(map[string]bool)
			// Every connection follows the session lists.
			h.add(client, protocol.TopicRadios)
			h.add(client, protocol.TopicJams)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case sc := <-h.subscribe:
			if _, ok := h.clients[sc.client]; ok {
				h.add(sc.client, sc.topic)
			}

		case sc := <-h.unsubscribe:
			h.remove(sc.client, sc.topic)

		case d := <-h.direct:
			if _, ok := h.clients[d.client]; ok {
				h.send(d.client, d.data)
			}

		case b := <-h.broadcast:
			h.deliver(b)
		}
	}
}

// Publish hands a broadcast to the hub. It implements session.Publisher.
func (h *Hub) Publish(ctx context.Context, b protocol.Broadcast) {
	select {
	case h.broadcast <- b:
	case <-ctx.Done():
	case <-h.done:
	}
}

// Subscribe returns once the hub has taken the request, so any broadcast
// published afterwards reaches the client.
func (h *Hub) Subscribe(c *Client, topic string) {
	select {
	case h.subscribe <- topicChange{client: c, topic: topic}:
	case <-h.done:
	}
}

func (h *Hub) Unsubscribe(c *Client, topic string) {
	select {
	case h.unsubscribe <- topicChange{client: c, topic: topic}:
	case <-h.done:
	}
}

// Send queues a frame for one client. Frames for clients that are already
// gone are dropped.
func (h *Hub) Send(c *Client, f protocol.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Printf("realtime: marshal %s frame: %v", f.Type, err)
		return
	}
	select {
	case h.direct <- directFrame{client: c, data: data}:
	case <-h.done:
	}
}

func (h *Hub) deliver(b protocol.Broadcast) {
	data, err := json.Marshal(b.Frame)
	if err != nil {
		log.Printf("realtime: marshal %s: %v", b.Frame.Event, err)
		return
	}
	seen := make(map[*Client]bool)
	for _, topic := range b.Topics {
		for client := range h.topics[topic] {
			if seen[client] {
				continue
			}
			seen[client] = true
			h.send(client, data)
		}
	}

	// Deleted sessions have no more events; forget their topics.
	if b.Frame.Event == protocol.EventRadioDeleted || b.Frame.Event == protocol.EventJamDeleted {
		for _, topic := range b.Topics {
			if topic == protocol.TopicRadios || topic == protocol.TopicJams {
				continue
			}
			for client := range h.topics[topic] {
				h.remove(client, topic)
			}
		}
	}
}

// send drops the client when its buffer is full, like a slow reader.
func (h *Hub) send(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		log.Printf("realtime: dropping slow client %s", client.label())
		h.drop(client)
	}
}

func (h *Hub) add(client *Client, topic string) {
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Client]bool)
		h.topics[topic] = subs
	}
	subs[client] = true
	h.clients[client][topic] = true
}

func (h *Hub) remove(client *Client, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if topics, ok := h.clients[client]; ok {
		delete(topics, topic)
	}
}

func (h *Hub) drop(client *Client) {
	for topic := range h.clients[client] {
		h.remove(client, topic)
	}
	delete(h.clients, client)
	close(client.send)
	if client.conn != nil {
		_ = client.conn.Close()
	}
}
