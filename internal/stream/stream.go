// Package stream pushes reconcile outcomes to WebSocket clients.
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mycoool/portsync/internal/reconciler"
	"github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the token is the gate
	},
	Subprotocols: []string{"Authorization"},
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Manager tracks connected clients.
type Manager struct {
	log logrus.FieldLogger

	clientsMux sync.RWMutex
	clients    map[*client]struct{}
}

// NewManager returns an empty manager.
func NewManager(log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{log: log, clients: make(map[*client]struct{})}
}

func (m *Manager) add(c *client) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	m.clients[c] = struct{}{}
}

func (m *Manager) remove(c *client) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	delete(m.clients, c)
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	return len(m.clients)
}

// Broadcast sends message to every client. Clients that fail the write are
// dropped.
func (m *Manager) Broadcast(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	m.clientsMux.RLock()
	targets := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		targets = append(targets, c)
	}
	m.clientsMux.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			m.remove(c)
			c.conn.Close()
		}
	}
}

// Observe broadcasts a reconcile outcome.
func (m *Manager) Observe(o reconciler.Outcome) {
	m.Broadcast(Message{Type: "reconcile", Timestamp: o.At, Data: o})
}

// Handle upgrades the request and keeps the connection until the client
// leaves. Clients may send {"type":"ping"} and get a pong back.
func (m *Manager) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}
	cl := &client{conn: conn}
	defer func() {
		m.remove(cl)
		conn.Close()
	}()

	m.add(cl)
	m.log.WithFields(logrus.Fields{
		"function": "Handle",
		"clients":  m.ClientCount(),
	}).Debug("WebSocket client connected")

	hello, _ := json.Marshal(Message{
		Type:      "connected",
		Timestamp: time.Now(),
		Data:      map[string]string{"message": "WebSocket connected successfully"},
	})
	if err := cl.write(hello); err != nil {
		return
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var clientMsg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(message, &clientMsg) == nil && clientMsg.Type == "ping" {
			pong, _ := json.Marshal(Message{
				Type:      "pong",
				Timestamp: time.Now(),
				Data:      map[string]string{"message": "pong"},
			})
			if err := cl.write(pong); err != nil {
				return
			}
		}
	}

	m.log.WithFields(logrus.Fields{
		"function": "Handle",
		"clients":  m.ClientCount() - 1,
	}).Debug("WebSocket client disconnected")
}
