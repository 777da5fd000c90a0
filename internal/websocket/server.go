// internal/websocket/server.go
package websocket

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local use only
	},
}

// Event is one pushed notification.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Server pushes rollback and checkpoint events to connected observers.
// It is push-only: clients subscribe by connecting, nothing else.
// Implements eventhub.Broadcaster.
type Server struct {
	port    int
	mu      sync.RWMutex
	clients map[string]*client
	httpSrv *http.Server
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewServer creates an event-push server on the given port.
func NewServer(port int) *Server {
	return &Server{
		port:    port,
		clients: make(map[string]*client),
	}
}

// Start begins accepting connections. Blocks until the listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler: mux,
	}

	log.Printf("[WebSocket] listening on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes the listener and every client connection.
func (s *Server) Stop() error {
	s.mu.Lock()
	for id, c := range s.clients {
		close(c.send)
		c.conn.Close()
		delete(s.clients, id)
	}
	s.mu.Unlock()

	if s.httpSrv != nil {
		return s.httpSrv.Close()
	}
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] upgrade failed: %v", err)
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, 256),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	log.Printf("[WebSocket] client connected: %s", c.id)

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop only watches for the client going away.
func (s *Server) readLoop(c *client) {
	defer s.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(c *client) {
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		close(c.send)
		delete(s.clients, c.id)
	}
	s.mu.Unlock()

	c.conn.Close()
	log.Printf("[WebSocket] client disconnected: %s", c.id)
}

// BroadcastEvent sends an event to every connected client. Slow clients
// with a full send buffer just miss the event.
func (s *Server) BroadcastEvent(eventType string, payload interface{}) {
	msg, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		log.Printf("[WebSocket] marshal %s: %v", eventType, err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}
