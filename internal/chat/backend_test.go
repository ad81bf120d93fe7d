package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

// fakeBackend serves the chat REST and socket endpoints for one test.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	chats      map[string]string // role:reportID -> chatID
	nextChat   int
	history    map[string]string // chatID -> raw body
	missing    map[string]bool   // chatIDs answering 404
	requests   []string
	postBodies []string
	sendStatus int
	sendBody   string

	lookupStatus int
	lookupBody   string

	sockets chan *websocket.Conn
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:          t,
		chats:      make(map[string]string),
		nextChat:   7,
		history:    make(map[string]string),
		missing:    make(map[string]bool),
		sendStatus: http.StatusCreated,
		sockets:    make(chan *websocket.Conn, 4),
	}

	r := chi.NewRouter()
	r.Get("/api/{role}/chats", b.lookup)
	r.Post("/api/{role}/chats", b.create)
	r.Get("/api/{role}/chats/{chatID}/messages", b.messages)
	r.Post("/api/{role}/chats/{chatID}/messages", b.send)
	r.Get("/ws/chats/{chatID}", b.socket)
	r.Get("/ws/company/chats/{chatID}", b.socket)

	b.srv = httptest.NewServer(r)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) record(r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := r.Method + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		entry += "?" + r.URL.RawQuery
	}
	b.requests = append(b.requests, entry)
}

func (b *fakeBackend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

func (b *fakeBackend) PostBodies() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.postBodies...)
}

func (b *fakeBackend) countPrefix(prefix string) int {
	n := 0
	for _, r := range b.Requests() {
		if strings.HasPrefix(r, prefix) {
			n++
		}
	}
	return n
}

func (b *fakeBackend) writeChatID(w http.ResponseWriter, role, chatID string) {
	key := "chat_id"
	if role == string(model.RoleCompany) {
		key = "chatId"
	}
	id, _ := strconv.Atoi(chatID)
	json.NewEncoder(w).Encode(map[string]int{key: id})
}

func (b *fakeBackend) lookup(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	role := chi.URLParam(r, "role")
	b.mu.Lock()
	chatID, ok := b.chats[role+":"+r.URL.Query().Get("report_id")]
	status, body := b.lookupStatus, b.lookupBody
	b.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		w.Write([]byte(body))
		return
	}
	if !ok {
		w.Write([]byte(`{}`))
		return
	}
	b.writeChatID(w, role, chatID)
}

func (b *fakeBackend) create(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	role := chi.URLParam(r, "role")
	body, _ := io.ReadAll(r.Body)

	var req struct {
		ReportID json.Number `json:"report_id"`
	}
	json.Unmarshal(body, &req)

	b.mu.Lock()
	b.postBodies = append(b.postBodies, string(body))
	chatID := strconv.Itoa(b.nextChat)
	b.nextChat++
	b.chats[role+":"+req.ReportID.String()] = chatID
	b.mu.Unlock()

	b.writeChatID(w, role, chatID)
}

func (b *fakeBackend) messages(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	b.mu.Lock()
	chatID := chi.URLParam(r, "chatID")
	body, ok := b.history[chatID]
	gone := b.missing[chatID]
	b.mu.Unlock()
	if gone {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Chat not found"}`))
		return
	}
	if !ok {
		body = `[]`
	}
	w.Write([]byte(body))
}

func (b *fakeBackend) send(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	b.mu.Lock()
	status, body := b.sendStatus, b.sendBody
	b.mu.Unlock()
	w.WriteHeader(status)
	if body == "" {
		body = `{}`
	}
	w.Write([]byte(body))
}

func (b *fakeBackend) socket(w http.ResponseWriter, r *http.Request) {
	b.record(r)
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx := conn.CloseRead(context.Background())
	b.sockets <- conn
	<-ctx.Done()
}

// nextSocket waits for the client to connect.
func (b *fakeBackend) nextSocket() *websocket.Conn {
	b.t.Helper()
	select {
	case conn := <-b.sockets:
		return conn
	case <-time.After(5 * time.Second):
		b.t.Fatal("timed out waiting for socket")
		return nil
	}
}

func (b *fakeBackend) setHistory(chatID, body string) {
	b.mu.Lock()
	b.history[chatID] = body
	b.mu.Unlock()
}

func (b *fakeBackend) markMissing(chatID string) {
	b.mu.Lock()
	b.missing[chatID] = true
	b.mu.Unlock()
}

func (b *fakeBackend) client() *upstream.Client {
	return upstream.NewClient(upstream.Config{BaseURL: b.srv.URL}, logger.NewNop())
}

func (b *fakeBackend) wsBase() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBackend) namespace(role model.Role, cache ChatIDCache) *RoleNamespace {
	return NewRoleNamespace(role, b.client(), b.wsBase(), cache, logger.NewNop())
}

func testSession() *upstream.Session {
	return &upstream.Session{Token: "test-token", UserID: "5"}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func strPtr(s string) *string { return &s }
