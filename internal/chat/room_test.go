package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (s *recordingSink) PublishMessage(_ context.Context, _ model.Role, _ string, msg model.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestRoom_OpenLoadsHistoryAndMergesFrames(t *testing.T) {
	b := newFakeBackend(t)
	b.setHistory("7", `[{"id":1,"text":"hello","sender_id":3,"created_at":"2024-05-01T10:00:00Z"}]`)

	sink := &recordingSink{}
	room := NewRoom(b.namespace(model.RoleCity, nil), testSession(), RoomOptions{Sink: sink}, logger.NewNop())
	defer room.Close()

	if err := room.Open(context.Background(), "42"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	snap := room.Snapshot()
	if snap.ChatID != "7" || snap.ReportID != "42" || len(snap.Messages) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.StreamState != "open" {
		t.Errorf("stream state = %s", snap.StreamState)
	}

	conn := b.nextSocket()
	frame := map[string]any{"id": 2, "text": "reply", "sender_id": 4}
	wsjson.Write(context.Background(), conn, frame)
	wsjson.Write(context.Background(), conn, frame)
	wsjson.Write(context.Background(), conn, map[string]any{"id": 1, "text": "hello", "sender_id": 3})
	wsjson.Write(context.Background(), conn, map[string]any{"id": 3, "text": "last", "sender_id": 4})

	waitFor(t, "frame 3", func() bool {
		msgs := room.Messages()
		return len(msgs) > 0 && msgs[len(msgs)-1].ID == "3"
	})

	msgs := room.Messages()
	if len(msgs) != 3 || msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
	if sink.count() != 2 {
		t.Errorf("expected 2 mirrored messages, got %d", sink.count())
	}
}

func TestRoom_OpenSameReportIsNoop(t *testing.T) {
	b := newFakeBackend(t)
	room := NewRoom(b.namespace(model.RoleCity, nil), testSession(), RoomOptions{}, logger.NewNop())
	defer room.Close()

	if err := room.Open(context.Background(), "42"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	b.nextSocket()
	before := len(b.Requests())

	if err := room.Open(context.Background(), "42"); err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	if after := len(b.Requests()); after != before {
		t.Errorf("reopening the same report hit the backend: %d -> %d", before, after)
	}
}

func TestRoom_SwitchDiscardsStaleHistory(t *testing.T) {
	ns := newStubNamespace(model.RoleCity)
	ns.history["chat-A"] = []model.Message{{ID: "a1", Text: strPtr("from A")}}
	ns.history["chat-B"] = []model.Message{{ID: "b1", Text: strPtr("from B")}}
	gate := make(chan struct{})
	ns.gates["chat-A"] = gate

	room := NewRoom(ns, testSession(), RoomOptions{}, logger.NewNop())
	defer room.Close()

	errA := make(chan error, 1)
	go func() { errA <- room.Open(context.Background(), "A") }()

	select {
	case id := <-ns.loading:
		if id != "chat-A" {
			t.Fatalf("unexpected load %s", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("history load for A never started")
	}

	if err := room.Open(context.Background(), "B"); err != nil {
		t.Fatalf("Open B failed: %v", err)
	}
	<-ns.loading

	close(gate)
	if err := <-errA; !errors.Is(err, ErrStale) {
		t.Errorf("Open A error = %v, want ErrStale", err)
	}

	msgs := room.Messages()
	if len(msgs) != 1 || msgs[0].ID != "b1" {
		t.Errorf("room shows %+v, want only B's history", msgs)
	}
	if room.ReportID() != "B" {
		t.Errorf("ReportID = %q, want B", room.ReportID())
	}
}

func TestRoom_SendAndDraft(t *testing.T) {
	ns := newStubNamespace(model.RoleCity)
	room := NewRoom(ns, testSession(), RoomOptions{}, logger.NewNop())
	defer room.Close()

	if _, err := room.Send(context.Background(), "hi", nil); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("send on closed room error = %v, want ErrNotOpen", err)
	}

	if err := room.Open(context.Background(), "42"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	<-ns.loading

	room.SetDraft("draft text")
	ns.sendErr = &upstream.APIError{Status: http.StatusBadGateway, Detail: "down"}
	if _, err := room.Send(context.Background(), "draft text", nil); err == nil {
		t.Fatal("expected send error")
	}
	if room.Draft() != "draft text" {
		t.Errorf("draft should survive a failed send, got %q", room.Draft())
	}
	if len(room.Messages()) != 0 {
		t.Errorf("failed send left messages: %+v", room.Messages())
	}

	ns.mu.Lock()
	ns.sendErr = nil
	ns.mu.Unlock()
	msg, err := room.Send(context.Background(), "draft text", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if room.Draft() != "" {
		t.Errorf("draft should clear on success, got %q", room.Draft())
	}
	if got := room.Messages(); len(got) != 1 || got[0].ID != msg.ID || !got[0].Pending {
		t.Errorf("unexpected messages: %+v", got)
	}

	// Reload drops the placeholder in favor of canonical history.
	ns.mu.Lock()
	ns.history["chat-42"] = []model.Message{{ID: "100", Text: strPtr("draft text")}}
	ns.mu.Unlock()
	if err := room.Reload(context.Background()); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	<-ns.loading
	if got := room.Messages(); len(got) != 1 || got[0].ID != "100" {
		t.Errorf("after reload: %+v", got)
	}
}

func TestRoom_CloseResets(t *testing.T) {
	ns := newStubNamespace(model.RoleCity)
	ns.history["chat-42"] = []model.Message{{ID: "1"}}
	room := NewRoom(ns, testSession(), RoomOptions{}, logger.NewNop())

	if err := room.Open(context.Background(), "42"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	<-ns.loading

	changes, cancel := room.Subscribe()
	defer cancel()

	room.Close()
	snap := room.Snapshot()
	if snap.ReportID != "" || snap.ChatID != "" || len(snap.Messages) != 0 {
		t.Errorf("room not reset: %+v", snap)
	}
	select {
	case <-changes:
	default:
		t.Error("Close should notify subscribers")
	}
	if err := room.Reload(context.Background()); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Reload after close error = %v, want ErrNotOpen", err)
	}
}

// blockingSink holds every publish until its context ends.
type blockingSink struct {
	started chan struct{}
}

func (s *blockingSink) PublishMessage(ctx context.Context, _ model.Role, _ string, _ model.Message) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRoom_OpenRecoversFromDeletedChat(t *testing.T) {
	b := newFakeBackend(t)
	b.markMissing("99")
	cache := newMemoryCache()
	sess := testSession()
	cache.Set(context.Background(), model.RoleCity, sess.Scope(), "42", "99")

	room := NewRoom(b.namespace(model.RoleCity, cache), sess, RoomOptions{}, logger.NewNop())
	defer room.Close()

	if err := room.Open(context.Background(), "42"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if snap := room.Snapshot(); snap.ChatID != "7" || snap.StreamState != "open" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if id, ok := cache.lookup(model.RoleCity, sess.Scope(), "42"); !ok || id != "7" {
		t.Errorf("cached id = %q (%v), want 7", id, ok)
	}
	if cache.forgets != 1 {
		t.Errorf("forgets = %d, want 1", cache.forgets)
	}
	if n := b.countPrefix("POST /api/city/chats"); n != 1 {
		t.Errorf("expected one create, got %d", n)
	}
}

func TestRoom_OpenGivesUpAfterOneRetry(t *testing.T) {
	b := newFakeBackend(t)
	b.markMissing("7")

	room := NewRoom(b.namespace(model.RoleCity, nil), testSession(), RoomOptions{}, logger.NewNop())
	defer room.Close()

	err := room.Open(context.Background(), "42")
	var apiErr *upstream.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("Open error = %v, want 404", err)
	}
	if n := b.countPrefix("GET /api/city/chats/7/messages"); n != 2 {
		t.Errorf("history loads = %d, want 2", n)
	}
}

func TestRoom_SendToDeletedChatForgetsID(t *testing.T) {
	ns := newStubNamespace(model.RoleCity)
	room := NewRoom(ns, testSession(), RoomOptions{}, logger.NewNop())
	defer room.Close()

	if err := room.Open(context.Background(), "42"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	<-ns.loading

	ns.mu.Lock()
	ns.sendErr = &upstream.APIError{Status: http.StatusNotFound, Detail: "Chat not found"}
	ns.mu.Unlock()

	if _, err := room.Send(context.Background(), "hello", nil); err == nil {
		t.Fatal("expected send error")
	}
	if got := ns.Forgotten(); len(got) != 1 || got[0] != "42" {
		t.Errorf("forgotten = %v, want [42]", got)
	}
}

func TestRoom_NotifiesOnStreamClose(t *testing.T) {
	b := newFakeBackend(t)
	room := NewRoom(b.namespace(model.RoleCity, nil), testSession(), RoomOptions{}, logger.NewNop())
	defer room.Close()

	if err := room.Open(context.Background(), "42"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	conn := b.nextSocket()

	changes, cancel := room.Subscribe()
	defer cancel()
	select {
	case <-changes:
	default:
	}

	conn.Close(websocket.StatusGoingAway, "bye")

	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("subscribers were not told the socket closed")
	}
	waitFor(t, "closed state", func() bool { return room.StreamState() == StateClosed })
	if snap := room.Snapshot(); snap.StreamState != "closed" {
		t.Errorf("snapshot stream state = %s", snap.StreamState)
	}
}

func TestRoom_CloseDoesNotWaitForMirror(t *testing.T) {
	b := newFakeBackend(t)
	sink := &blockingSink{started: make(chan struct{}, 1)}
	room := NewRoom(b.namespace(model.RoleCity, nil), testSession(), RoomOptions{Sink: sink}, logger.NewNop())

	if err := room.Open(context.Background(), "42"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	conn := b.nextSocket()
	wsjson.Write(context.Background(), conn, map[string]any{"id": 1, "text": "hi"})

	select {
	case <-sink.started:
	case <-time.After(5 * time.Second):
		t.Fatal("mirror publish never started")
	}

	start := time.Now()
	room.Close()
	if elapsed := time.Since(start); elapsed >= sinkTimeout/2 {
		t.Errorf("Close took %v while a publish was pending", elapsed)
	}
}
