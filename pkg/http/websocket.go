package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/job"
)

// JobUpdateMessage is a job status update pushed to websocket clients.
type JobUpdateMessage struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	Transcript string    `json:"transcript,omitempty"`
	Reply      string    `json:"reply,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Client represents a connected WebSocket client
type Client struct {
	hub    *JobHub
	conn   *websocket.Conn
	send   chan []byte
	logger *logrus.Logger
	jobID  string // non-empty when subscribed to a single job
}

// JobHub fans job status updates out to WebSocket clients. It is fed by a
// job store listener, so every creation and transition reaches subscribers.
type JobHub struct {
	logger         *logrus.Logger
	clients        map[*Client]bool
	jobSubscribers map[string]map[*Client]bool
	broadcast      chan *JobUpdateMessage
	register       chan *Client
	unregister     chan *Client
	mutex          sync.RWMutex
}

// WebSocketUpgrader configures the WebSocket connection
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all connections
		return true
	},
}

// NewJobHub creates a new job update hub
func NewJobHub(logger *logrus.Logger) *JobHub {
	return &JobHub{
		logger:         logger,
		clients:        make(map[*Client]bool),
		jobSubscribers: make(map[string]map[*Client]bool),
		broadcast:      make(chan *JobUpdateMessage, 64),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
	}
}

// Run starts the hub loop until the context ends.
func (h *JobHub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket job update hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down WebSocket job update hub")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			if client.jobID != "" {
				if _, exists := h.jobSubscribers[client.jobID]; !exists {
					h.jobSubscribers[client.jobID] = make(map[*Client]bool)
				}
				h.jobSubscribers[client.jobID][client] = true
				h.logger.WithField("job_id", client.jobID).Info("Client subscribed to job updates")
			}
			h.mutex.Unlock()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				if client.jobID != "" {
					if subscribers, exists := h.jobSubscribers[client.jobID]; exists {
						delete(subscribers, client)
						if len(subscribers) == 0 {
							delete(h.jobSubscribers, client.jobID)
						}
					}
				}
				h.logger.Info("Client disconnected from WebSocket")
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal job update message")
				continue
			}

			h.mutex.Lock()
			if subscribers, exists := h.jobSubscribers[message.JobID]; exists {
				for client := range subscribers {
					select {
					case client.send <- data:
					default:
						close(client.send)
						delete(h.clients, client)
						delete(subscribers, client)
					}
				}
			}
			for client := range h.clients {
				if client.jobID != "" {
					continue
				}
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// BroadcastJob converts a job snapshot into an update message and queues it
// for delivery. Safe to call from job store listeners.
func (h *JobHub) BroadcastJob(snapshot job.Job) {
	message := &JobUpdateMessage{
		JobID:      snapshot.ID,
		Status:     string(snapshot.Status),
		Transcript: snapshot.Transcript,
		Reply:      snapshot.AssistantResponse,
		Error:      snapshot.ErrorMessage,
		Timestamp:  time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.WithField("job_id", snapshot.ID).Warn("Job update dropped, broadcast queue full")
	}
}

// ServeWs handles WebSocket requests from clients. The job_id query
// parameter narrows the stream to a single job.
func (h *JobHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to WebSocket")
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: h.logger,
		jobID:  r.URL.Query().Get("job_id"),
	}

	client.hub.register <- client

	go client.writePump()
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush any queued updates into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
