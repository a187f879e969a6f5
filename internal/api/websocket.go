package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// progressEvent is pushed to websocket clients while a grid search runs.
type progressEvent struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Strategy  string `json:"strategy"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// client is one connected websocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan any
}

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan any, sendBufferSize),
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.logger.Debug("websocket client connected", zap.String("client", c.id))

	go s.writePump(c)
	s.readPump(c)
}

// readPump drains client messages until the connection drops; inbound
// content is ignored, the socket is push-only.
func (s *Server) readPump(c *client) {
	defer s.dropClient(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(c *client) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			s.dropClient(c)
			return
		}
	}
}

// broadcast sends an event to every connected client, dropping it for
// clients whose send buffer is full.
func (s *Server) broadcast(event any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.send <- event:
		default:
		}
	}
}

func (s *Server) dropClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		close(c.send)
	}
	s.mu.Unlock()
	c.conn.Close()
	s.logger.Debug("websocket client disconnected", zap.String("client", c.id))
}
