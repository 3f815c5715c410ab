package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rawblock/mule-forensics/internal/alerts"
	"github.com/rawblock/mule-forensics/pkg/models"
)

// Envelope types pushed to stream clients.
const (
	EventReport = "report"
	EventAlert  = "alert"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the router
	},
}

// Envelope wraps every message sent over the stream.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ReportDigest is the streamed form of a report: the summary and rings
// without the per-account list.
type ReportDigest struct {
	BatchID     string             `json:"batchId"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Summary     models.Summary     `json:"summary"`
	FraudRings  []models.FraudRing `json:"fraudRings"`
	Coverage    models.Coverage    `json:"coverage"`
}

// Hub maintains the set of active websocket clients and broadcasts messages.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	logger    *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
		logger:    logger.Named("hub"),
	}
}

// Run writes queued messages to every client until Close is called.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			// Write deadline keeps a stalled client from blocking the hub
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("Websocket write failed", zap.Error(err))
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	close(h.broadcast)
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info("Stream client connected", zap.Int("clients", total))

	// Clients never send; reading only detects disconnects
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			h.logger.Info("Stream client disconnected", zap.Int("clients", total))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug("Websocket read failed", zap.Error(err))
				}
				return
			}
		}
	}()
}

// Broadcast queues an envelope for every client. When the queue is full the
// message is dropped rather than stalling the producer.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := json.Marshal(Envelope{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error("Failed to encode stream message", zap.String("type", eventType), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Stream queue full, message dropped", zap.String("type", eventType))
	}
}

// BroadcastReport pushes a report digest.
func (h *Hub) BroadcastReport(report *models.Report) {
	h.Broadcast(EventReport, Digest(report))
}

// BroadcastAlert pushes one alert. It matches the alert manager's
// broadcast callback.
func (h *Hub) BroadcastAlert(alert alerts.Alert) {
	h.Broadcast(EventAlert, alert)
}

// Digest strips the account list from a report.
func Digest(report *models.Report) ReportDigest {
	return ReportDigest{
		BatchID:     report.BatchID,
		GeneratedAt: report.GeneratedAt,
		Summary:     report.Summary,
		FraudRings:  report.FraudRings,
		Coverage:    report.Coverage,
	}
}
