// Package ws exposes the contract event feed over websocket and doubles
// as the actor-presence notifier: connected actors get notices, offline
// actors are silently skipped.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"silkroad.gg/internal/contracts"
	"silkroad.gg/internal/protocol"
)

type client struct {
	actorID string
	out     chan []byte
}

type Server struct {
	log      *log.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	byActor map[string]map[*client]struct{}
}

func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		clients: make(map[*client]struct{}),
		byActor: make(map[string]map[*client]struct{}),
	}
}

// Notify implements contracts.Notifier. No queuing, no retry: an actor
// without an open connection simply misses the notice.
func (s *Server) Notify(actor, message string) {
	b, err := json.Marshal(protocol.NewNotice(actor, message, time.Now()))
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.byActor[actor] {
		select {
		case c.out <- b:
		default:
			// Slow consumer; drop rather than block the engine.
		}
	}
}

// RecordContractEvent implements contracts.AuditSink by broadcasting
// the event to every connected client.
func (s *Server) RecordContractEvent(ev contracts.Event) {
	b, err := json.Marshal(protocol.NewEvent(ev))
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.out <- b:
		default:
		}
	}
}

// Clients is the number of open connections.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Online reports whether the actor has at least one open connection.
func (s *Server) Online(actor string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byActor[actor]) > 0
}

func (s *Server) add(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
	if c.actorID != "" {
		set := s.byActor[c.actorID]
		if set == nil {
			set = make(map[*client]struct{})
			s.byActor[c.actorID] = set
		}
		set[c] = struct{}{}
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
	if c.actorID != "" {
		if set := s.byActor[c.actorID]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(s.byActor, c.actorID)
			}
		}
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		c := s.handshake(conn)
		if c == nil {
			return
		}
		s.add(c)
		defer s.remove(c)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-c.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: the feed is one-way after the handshake; reads
		// only detect disconnects.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *client {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		return nil
	}

	welcome, _ := json.Marshal(protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ActorID:         hello.ActorID,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, welcome); err != nil {
		return nil
	}

	return &client{actorID: hello.ActorID, out: make(chan []byte, 256)}
}
