// Package ws streams job log lines and status changes to WebSocket clients.
package ws

import (
	"context"
	"net/http"

	"github.com/HerbHall/panupgrade/internal/jobs"
	"github.com/HerbHall/panupgrade/pkg/models"
	"github.com/HerbHall/panupgrade/pkg/plugin"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Handler provides the WebSocket endpoint for live job output.
type Handler struct {
	hub         *Hub
	bus         plugin.EventBus
	logger      *zap.Logger
	unsubscribe []func()
}

// NewHandler creates a WebSocket handler and subscribes to job events.
// bus may be nil, in which case clients connect but receive nothing.
func NewHandler(bus plugin.EventBus, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		hub:    NewHub(logger),
		bus:    bus,
		logger: logger,
	}
	h.subscribeToEvents()
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/jobs", h.handleJobStream)
}

// Close drops the bus subscriptions.
func (h *Handler) Close() {
	for _, unsub := range h.unsubscribe {
		unsub()
	}
	h.unsubscribe = nil
}

// handleJobStream upgrades the connection and streams job events. The
// optional job_id query parameter narrows the stream to one job.
func (h *Handler) handleJobStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		jobID:  r.URL.Query().Get("job_id"),
		send:   make(chan Message, 256),
		logger: h.logger,
	}
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func (h *Handler) subscribeToEvents() {
	if h.bus == nil {
		return
	}

	h.unsubscribe = append(h.unsubscribe,
		h.bus.Subscribe(jobs.TopicLogAppended, func(_ context.Context, event plugin.Event) {
			entry, ok := event.Payload.(models.JobLogEntry)
			if !ok {
				return
			}
			h.hub.Broadcast(Message{
				Type:      MessageJobLog,
				JobID:     entry.JobID,
				Timestamp: entry.Timestamp,
				Data: JobLogData{
					ID:       entry.ID,
					Severity: entry.Severity,
					Message:  entry.Message,
				},
			})
		}),
		h.bus.Subscribe(jobs.TopicStatusChanged, func(_ context.Context, event plugin.Event) {
			change, ok := event.Payload.(jobs.StatusChange)
			if !ok {
				return
			}
			h.hub.Broadcast(Message{
				Type:      MessageJobStatus,
				JobID:     change.JobID,
				Timestamp: event.Timestamp,
				Data: JobStatusData{
					Status:      change.Status,
					CurrentStep: change.CurrentStep,
				},
			})
		}),
	)

	h.logger.Info("subscribed to job events for WebSocket streaming")
}
