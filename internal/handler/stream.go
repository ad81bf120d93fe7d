package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/internal/chat"
	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/pkg/logger"
	"github.com/civic-reports/chat-gateway/pkg/metrics"
)

// heartbeatInterval keeps idle SSE connections open through proxies.
const heartbeatInterval = 30 * time.Second

// StreamHandler handles SSE streaming endpoints.
type StreamHandler struct {
	hub       *chat.Hub
	logger    *logger.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(hub *chat.Hub, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		hub:       hub,
		logger:    log,
		heartbeat: heartbeatInterval,
	}
}

// Stream handles GET /api/v1/rooms/{role}/{reportID}/stream
//
// The first event is a snapshot of the room. Every change to the message
// list is pushed as a messages event carrying the full list, and every
// socket state change as a state event. The stream ends when the room is closed
// or switched to another report.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := parseRoomParams(w, r)
	if !ok {
		return
	}

	room, err := openRoom(h.hub, p)
	if err != nil {
		writeChatError(w, h.logger, "failed to stream room", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the snapshot so no change between the two is lost.
	changes, unsubscribe := room.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.With(
		zap.String("role", string(p.role)),
		zap.String("report_id", p.reportID),
	)

	snap := room.Snapshot()
	lastVersion, lastState := snap.Version, snap.StreamState
	if err := sendSSEEvent(w, flusher, string(model.EventTypeSnapshot), roomEvent(snap)); err != nil {
		log.Warn("failed to write snapshot", zap.Error(err))
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case <-changes:
			snap := room.Snapshot()
			if snap.ReportID != p.reportID {
				sendSSEEvent(w, flusher, string(model.EventTypeError), &model.ErrorEvent{
					Code:    "room_closed",
					Message: chat.ErrStale.Error(),
				})
				return
			}
			if snap.StreamState != lastState {
				lastState = snap.StreamState
				if err := sendStateEvent(w, flusher, lastState); err != nil {
					log.Warn("failed to write state event", zap.Error(err))
					return
				}
			}
			if snap.Version == lastVersion {
				continue
			}
			lastVersion = snap.Version
			if err := sendSSEEvent(w, flusher, string(model.EventTypeMessages), roomEvent(snap)); err != nil {
				log.Warn("failed to write messages event", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if state := room.StreamState().String(); state != lastState {
				lastState = state
				if err := sendStateEvent(w, flusher, state); err != nil {
					return
				}
			}
			if err := sendSSEEvent(w, flusher, string(model.EventTypeHeartbeat), &model.HeartbeatEvent{
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
		}
	}
}

func roomEvent(snap model.ListMessagesResponse) *model.RoomEvent {
	return &model.RoomEvent{
		ChatID:      snap.ChatID,
		Messages:    snap.Messages,
		StreamState: snap.StreamState,
		Version:     snap.Version,
	}
}

func sendStateEvent(w http.ResponseWriter, flusher http.Flusher, state string) error {
	return sendSSEEvent(w, flusher, string(model.EventTypeState), map[string]string{
		"stream_state": state,
	})
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
