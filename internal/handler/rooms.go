package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/internal/chat"
	"github.com/civic-reports/chat-gateway/internal/middleware"
	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

// RoomHandler handles opening, closing and reloading chat rooms.
type RoomHandler struct {
	hub    *chat.Hub
	logger *logger.Logger
}

// NewRoomHandler creates a new room handler.
func NewRoomHandler(hub *chat.Hub, log *logger.Logger) *RoomHandler {
	return &RoomHandler{
		hub:    hub,
		logger: log,
	}
}

type roomParams struct {
	sess     *upstream.Session
	role     model.Role
	reportID string
}

// parseRoomParams reads and validates the role and report path segments.
// It writes the error response itself and returns false on failure.
func parseRoomParams(w http.ResponseWriter, r *http.Request) (roomParams, bool) {
	sess := middleware.GetSession(r.Context())
	if !sess.Valid() {
		writeError(w, http.StatusUnauthorized, upstream.ErrMissingToken.Error())
		return roomParams{}, false
	}

	role, err := middleware.ValidateRole(chi.URLParam(r, "role"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return roomParams{}, false
	}

	reportID := chi.URLParam(r, "reportID")
	if err := middleware.ValidateReportID(reportID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return roomParams{}, false
	}

	return roomParams{sess: sess, role: role, reportID: reportID}, true
}

// openRoom returns the caller's room if it currently shows reportID.
func openRoom(hub *chat.Hub, p roomParams) (*chat.Room, error) {
	room, ok := hub.Lookup(p.sess, p.role)
	if !ok || room.ReportID() != p.reportID {
		return nil, chat.ErrNotOpen
	}
	return room, nil
}

// Open handles POST /api/v1/rooms/{role}/{reportID}
func (h *RoomHandler) Open(w http.ResponseWriter, r *http.Request) {
	p, ok := parseRoomParams(w, r)
	if !ok {
		return
	}

	room, err := h.hub.Room(p.sess, p.role)
	if err != nil {
		writeChatError(w, h.logger, "failed to get room", err)
		return
	}

	if err := room.Open(r.Context(), p.reportID); err != nil {
		// Once the chat id is known the room is usable even if the socket
		// or the history load failed; the client can reload.
		snap := room.Snapshot()
		if errors.Is(err, chat.ErrStale) || snap.ReportID != p.reportID || snap.ChatID == "" {
			writeChatError(w, h.logger, "failed to open room", err)
			return
		}
		h.logger.Warn("room opened degraded",
			zap.String("role", string(p.role)),
			zap.String("report_id", p.reportID),
			zap.Error(err),
		)
	}

	snap := room.Snapshot()
	writeJSON(w, http.StatusOK, &model.OpenRoomResponse{
		Role:     p.role,
		ReportID: snap.ReportID,
		ChatID:   snap.ChatID,
		Messages: len(snap.Messages),
	})
}

// Close handles DELETE /api/v1/rooms/{role}/{reportID}
func (h *RoomHandler) Close(w http.ResponseWriter, r *http.Request) {
	p, ok := parseRoomParams(w, r)
	if !ok {
		return
	}

	if _, err := openRoom(h.hub, p); err != nil {
		writeChatError(w, h.logger, "failed to close room", err)
		return
	}
	h.hub.Release(p.sess, p.role)

	w.WriteHeader(http.StatusNoContent)
}

// Reload handles POST /api/v1/rooms/{role}/{reportID}/reload
func (h *RoomHandler) Reload(w http.ResponseWriter, r *http.Request) {
	p, ok := parseRoomParams(w, r)
	if !ok {
		return
	}

	room, err := openRoom(h.hub, p)
	if err != nil {
		writeChatError(w, h.logger, "failed to reload room", err)
		return
	}

	if err := room.Reload(r.Context()); err != nil {
		writeChatError(w, h.logger, "failed to reload history", err)
		return
	}

	writeJSON(w, http.StatusOK, room.Snapshot())
}

// UpdateDraft handles PUT /api/v1/rooms/{role}/{reportID}/draft
func (h *RoomHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	p, ok := parseRoomParams(w, r)
	if !ok {
		return
	}

	var req model.UpdateDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := openRoom(h.hub, p)
	if err != nil {
		writeChatError(w, h.logger, "failed to update draft", err)
		return
	}
	room.SetDraft(req.Text)

	w.WriteHeader(http.StatusNoContent)
}
