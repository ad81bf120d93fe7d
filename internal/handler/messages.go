package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/civic-reports/chat-gateway/internal/chat"
	"github.com/civic-reports/chat-gateway/internal/middleware"
	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

// maxFormMemory is the multipart size kept in memory before spilling to disk.
const maxFormMemory = 1 << 20

// MessageHandler handles message endpoints.
type MessageHandler struct {
	hub    *chat.Hub
	logger *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(hub *chat.Hub, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		hub:    hub,
		logger: log,
	}
}

// List handles GET /api/v1/rooms/{role}/{reportID}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := parseRoomParams(w, r)
	if !ok {
		return
	}

	room, err := openRoom(h.hub, p)
	if err != nil {
		writeChatError(w, h.logger, "failed to list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, room.Snapshot())
}

// Send handles POST /api/v1/rooms/{role}/{reportID}/messages
//
// The body is multipart with a text field and an optional file field, the
// same shape the backend accepts. A JSON body {"text": "..."} is accepted
// for text-only sends.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	p, ok := parseRoomParams(w, r)
	if !ok {
		return
	}

	text, image, err := readSendRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageText(text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, err := openRoom(h.hub, p)
	if err != nil {
		writeChatError(w, h.logger, "failed to send message", err)
		return
	}

	placeholder, err := room.Send(r.Context(), text, image)
	if err != nil {
		writeChatError(w, h.logger, "failed to send message", err)
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{
		Placeholder: placeholder,
	})
}

func readSendRequest(w http.ResponseWriter, r *http.Request) (string, *chat.Attachment, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	r.Body = http.MaxBytesReader(w, r.Body, middleware.MaxImageSize+maxFormMemory)

	if mediaType == "application/json" {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", nil, errors.New("invalid request body")
		}
		return req.Text, nil, nil
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return "", nil, errors.New("invalid multipart body")
	}
	text := r.FormValue("text")

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return text, nil, nil
	}
	if err != nil {
		return "", nil, errors.New("invalid file part")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, middleware.MaxImageSize+1))
	if err != nil {
		return "", nil, errors.New("failed to read file part")
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if err := middleware.ValidateImage(contentType, len(data)); err != nil {
		return "", nil, err
	}

	return text, &chat.Attachment{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}
