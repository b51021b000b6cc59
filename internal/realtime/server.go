package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"aural-realtime/internal/protocol"
	"aural-realtime/internal/session"
)

// BroadcastChannel is the Redis pub/sub channel carrying session broadcasts
// from the registry to the hub.
const BroadcastChannel = "broadcast"

type Options struct {
	// AllowedOrigin restricts browser websocket handshakes. Empty allows any.
	AllowedOrigin string
	// JWTSecret enables token authentication. Empty trusts payload identities.
	JWTSecret []byte
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

type Server struct {
	hub      *Hub
	reg      *session.Registry
	rdb      *redis.Client
	ctx      context.Context
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, reg *session.Registry, rdb *redis.Client, ctx context.Context, opts Options) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	s := &Server{
		hub:  hub,
		reg:  reg,
		rdb:  rdb,
		ctx:  ctx,
		opts: opts,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)

	r.Get("/radios", s.handleListRadios)
	r.Get("/radios/{id}", s.handleGetRadio)
	r.Get("/jams", s.handleListJams)
	r.Get("/jams/{id}", s.handleGetJam)

	return r
}

// checkOrigin accepts non-browser clients, which send no Origin header.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if s.opts.AllowedOrigin == "" || origin == "" {
		return true
	}
	return origin == s.opts.AllowedOrigin
}

// RunRedisSubscriber feeds broadcasts published on BroadcastChannel into the
// hub.
func (s *Server) RunRedisSubscriber() {
	sub := s.rdb.Subscribe(s.ctx, BroadcastChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var b protocol.Broadcast
			if err := json.Unmarshal([]byte(msg.Payload), &b); err != nil {
				log.Printf("realtime: bad broadcast on redis: %v", err)
				continue
			}
			s.hub.Publish(s.ctx, b)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "aural-realtime",
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var userID string
	if len(s.opts.JWTSecret) > 0 {
		raw, err := tokenFromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if userID, err = authenticate(s.opts.JWTSecret, raw); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: ws upgrade: %v", err)
		return
	}

	client := &Client{
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, s.opts.SendBuffer),
		userID: userID,
		handle: s.dispatch,
	}
	// The welcome is queued before the hub knows the client, so it is
	// always the first frame.
	welcome, err := json.Marshal(protocol.Frame{
		Type:   protocol.TypeWelcome,
		Now:    time.Now().UTC().Format(time.RFC3339Nano),
		UserID: userID,
	})
	if err != nil {
		log.Printf("realtime: encode welcome: %v", err)
		_ = conn.Close()
		return
	}
	client.send <- welcome

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(s.ctx)
}

func (s *Server) handleListRadios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.ListRadios(r.Context()))
}

func (s *Server) handleGetRadio(w http.ResponseWriter, r *http.Request) {
	info, err := s.reg.Radio(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListJams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.ListJams(r.Context()))
}

func (s *Server) handleGetJam(w http.ResponseWriter, r *http.Request) {
	info, err := s.reg.Jam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSessionError(w http.ResponseWriter, err error) {
	var se *session.Error
	if !errors.As(err, &se) {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusInternalServerError
	switch se.Code {
	case protocol.CodeNotFound:
		status = http.StatusNotFound
	case protocol.CodeForbidden:
		status = http.StatusForbidden
	case protocol.CodeInvalidArgument:
		status = http.StatusBadRequest
	case protocol.CodeUnauthenticated:
		status = http.StatusUnauthorized
	}
	writeError(w, status, se.Msg)
}
