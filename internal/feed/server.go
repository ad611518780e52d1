// Package feed streams applied mirror changes to local WebSocket clients.
//
// The downstream sync worker connects to /ws and receives one JSON message
// per applied notification, plus a message after every sweep and updated
// store counts. The feed is loopback plumbing: it never initiates
// connections.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Server manages WebSocket connections and broadcasts feed messages.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	// latest stats, sent to every client on connect
	stats   *Message
	statsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log logrus.FieldLogger
}

// Config holds server configuration.
type Config struct {
	// Listen is the host:port to bind; port 0 picks a free one.
	Listen string

	// Logger for server activity
	Logger logrus.FieldLogger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:9465",
		Logger: logrus.StandardLogger(),
	}
}

// NewServer creates a feed server. Nothing listens until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      config.Listen,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 256),
		ctx:       ctx,
		cancel:    cancel,
		log:       config.Logger.WithField("component", "feed"),
	}
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.WithField("addr", ln.Addr().String()).Info("feed listening")
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("feed server failed")
		}
	}()

	return nil
}

// Stop closes every client and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("feed shutdown: %w", err)
	}

	s.wg.Wait()
	s.log.Debug("feed stopped")
	return nil
}

// Serve runs the server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Broadcast queues msg for every connected client. Messages are dropped when
// the queue is full; clients resynchronize from the store.
func (s *Server) Broadcast(msg Message) {
	if msg.Type == TypeStats {
		s.statsMu.Lock()
		m := msg
		s.stats = &m
		s.statsMu.Unlock()
	}

	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.log.WithField("type", msg.Type).Warn("broadcast queue full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.WithError(err).Warn("failed to marshal message")
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.log.WithError(err).Debug("failed to send to client")
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	s.statsMu.RLock()
	welcome := s.stats
	s.statsMu.RUnlock()
	if welcome != nil {
		data, err := json.Marshal(welcome)
		if err == nil {
			ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, data)
			cancel()
		}
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.log.WithField("clients", count).Debug("client connected")

	go s.readLoop(conn)
}

// readLoop notices disconnects; clients send nothing.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.log.WithField("clients", count).Debug("client disconnected")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
