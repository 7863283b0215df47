package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/broadcast"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/session"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/logger"
	"github.com/zeeshangondal/ClinicsDashboard-V9/pkg/metrics"
)

const defaultHeartbeat = 30 * time.Second

// Subscriber registers for live conversation updates.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan broadcast.Update, string)
}

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	sessions  *session.Manager
	hub       Subscriber
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(sessions *session.Manager, hub Subscriber, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		sessions:  sessions,
		hub:       hub,
		heartbeat: defaultHeartbeat,
		logger:    log.Component("stream_handler"),
	}
}

// StreamInbox handles GET /api/v1/stream
// Every conversation change in the inbox is pushed to the client.
func (h *StreamHandler) StreamInbox(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	metrics.IncrementStreamConnections()
	defer metrics.DecrementStreamConnections()

	updates, _ := h.hub.Subscribe(r.Context(), broadcast.Topic)

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": broadcast.Topic,
	})

	h.pump(r.Context(), w, flusher, broadcast.Topic, updates)
}

// Stream handles GET /api/v1/conversations/{id}/stream
// The current thread is replayed first, then live updates follow.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := conversationID(w, r)
	if !ok {
		return
	}

	if _, err := h.sessions.Conversation(id); err != nil {
		writeSessionError(w, r, h.logger, err)
		return
	}

	// Subscribe before replaying so nothing committed in between is missed.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, _ := h.hub.Subscribe(subCtx, id)

	msgs, err := h.sessions.Thread(ctx, id)
	if err != nil {
		writeSessionError(w, r, h.logger, err)
		return
	}

	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	metrics.IncrementStreamConnections()
	defer metrics.DecrementStreamConnections()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": id,
	})

	for i := range msgs {
		sendSSEEvent(w, flusher, "message", &msgs[i])
	}
	sendSSEEvent(w, flusher, "replay_complete", &model.ReplayCompleteEvent{
		MessageCount: len(msgs),
	})

	h.logger.Debug("thread replay complete",
		zap.String("conversation_id", id),
		zap.Int("messages_replayed", len(msgs)))

	h.pump(ctx, w, flusher, id, updates)
}

func (h *StreamHandler) pump(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, topic string, updates <-chan broadcast.Update) {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("topic", topic))
			return

		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := writeUpdate(w, flusher, u); err != nil {
				h.logger.Debug("SSE write failed", zap.String("topic", topic), zap.Error(err))
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func writeUpdate(w http.ResponseWriter, flusher http.Flusher, u broadcast.Update) error {
	if u.Message != nil {
		if err := sendSSEEvent(w, flusher, "message", u.Message); err != nil {
			return err
		}
	}
	if u.Event != nil {
		if err := sendSSEEvent(w, flusher, "event", u.Event); err != nil {
			return err
		}
	}
	if u.Conversation != nil {
		return sendSSEEvent(w, flusher, "conversation", u.Conversation)
	}
	return nil
}

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
