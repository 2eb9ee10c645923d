package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fleetsight/backend/internal/bus"
)

// Streamer pushes every bus message to connected WebSocket clients. One hub
// goroutine owns the client set; a write error evicts the client.
type Streamer struct {
	bus        bus.Bus
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	upgrader   websocket.Upgrader
	logger     *log.Logger
}

func NewStreamer(b bus.Bus) *Streamer {
	return &Streamer{
		bus:        b,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboard origin enforcement happens upstream
			},
		},
		logger: log.New(log.Writer(), "[WS] ", log.LstdFlags),
	}
}

// Run subscribes to both topics and serves the hub loop until Close.
func (s *Streamer) Run() {
	messages := s.bus.Subscribe()
	defer s.bus.Unsubscribe(messages)

	for {
		select {
		case client := <-s.register:
			s.clients[client] = true
			s.logger.Printf("📡 Client connected (total: %d)", len(s.clients))

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.Close()
			}
			s.logger.Printf("📡 Client disconnected (total: %d)", len(s.clients))

		case msg, ok := <-messages:
			if !ok {
				return
			}
			for client := range s.clients {
				if err := client.WriteJSON(msg); err != nil {
					s.logger.Printf("⚠️  Write failed, dropping client: %v", err)
					client.Close()
					delete(s.clients, client)
				}
			}

		case <-s.stop:
			for client := range s.clients {
				client.Close()
			}
			s.clients = make(map[*websocket.Conn]bool)
			return
		}
	}
}

// Close stops the hub loop and disconnects every client.
func (s *Streamer) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// HandleWebSocket upgrades the connection and registers it with the hub.
// The read loop exists only to detect disconnects; clients never send.
func (s *Streamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("⚠️  Upgrade failed: %v", err)
		return
	}

	select {
	case s.register <- conn:
	case <-s.stop:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case s.unregister <- conn:
			case <-s.stop:
				conn.Close()
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
