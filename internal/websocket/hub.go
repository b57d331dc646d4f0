package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/stripaudio/api/internal/model"
)

const (
	sendBufferSize      = 64
	broadcastBufferSize = 256
	pingInterval        = 30 * time.Second
)

// Client represents a WebSocket subscriber to one job
type Client struct {
	JobID string
	Send  chan []byte
	quit  chan struct{}
}

// NewClient creates a subscriber for jobID.
func NewClient(jobID string) *Client {
	return &Client{
		JobID: jobID,
		Send:  make(chan []byte, sendBufferSize),
		quit:  make(chan struct{}),
	}
}

// Done is closed once the hub has dropped the client.
func (c *Client) Done() <-chan struct{} {
	return c.quit
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// Hub fans job updates out to WebSocket subscribers. Delivery is best
// effort: a full subscriber is dropped rather than stalling the transcode
// that produced the update.
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	broadcast chan *BroadcastMessage
	done      chan struct{}
	stopOnce  sync.Once

	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates a new Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]map[*Client]bool),
		broadcast: make(chan *BroadcastMessage, broadcastBufferSize),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Run starts the hub's main loop; it returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop terminates Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.quit)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	if h.clients[client.JobID] == nil {
		h.clients[client.JobID] = make(map[*Client]bool)
	}
	h.clients[client.JobID][client] = true
	h.mu.Unlock()
	h.logger.Debug("websocket client registered", zap.String("job_id", client.JobID))
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	h.removeLocked(client)
	h.mu.Unlock()
	h.logger.Debug("websocket client unregistered", zap.String("job_id", client.JobID))
}

// Subscribers returns the number of clients following jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// BroadcastProgress sends a progress update to all job subscribers
func (h *Hub) BroadcastProgress(jobID string, progress int, status model.JobStatus) {
	h.publish(jobID, model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		JobID:    jobID,
		Progress: progress,
		Status:   status,
	})
}

// BroadcastComplete sends a completion message to all job subscribers
func (h *Hub) BroadcastComplete(jobID string, result interface{}) {
	h.publish(jobID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		JobID:  jobID,
		Result: result,
	})
}

// BroadcastError sends an error message to all job subscribers
func (h *Hub) BroadcastError(jobID string, code, message string) {
	h.publish(jobID, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		JobID: jobID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

func (h *Hub) publish(jobID string, msg interface{}) {
	if h.Subscribers(jobID) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("failed to marshal websocket message", zap.String("job_id", jobID), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{JobID: jobID, Message: data}:
	default:
		h.logger.Warn("websocket broadcast queue full; update dropped", zap.String("job_id", jobID))
	}
}

// HandleConnection serves one WebSocket connection until the peer leaves.
// initial, when non-nil, is sent first so late subscribers see current state.
// It returns only after the writer has stopped touching c.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, initial interface{}) {
	client := NewClient(jobID)
	h.Register(client)

	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			client.Send <- data
		}
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(c, client)
	}()

	h.readLoop(c, client)

	h.Unregister(client)
	<-writerDone
}

func (h *Hub) writeLoop(c *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-client.quit:
			_ = c.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-client.Send:
			if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
				// unblocks the reader so the handler can finish
				_ = c.Close()
				return
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (h *Hub) readLoop(c *websocket.Conn, client *Client) {
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.String("job_id", client.JobID), zap.Error(err))
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case client.Send <- pong:
			case <-client.quit:
			default:
			}
		}
	}
}
