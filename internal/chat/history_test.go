package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

func TestDecodeHistory_NonArrayIsEmpty(t *testing.T) {
	for _, body := range []string{`{"detail":"x"}`, `null`, `"nope"`, ``} {
		msgs := DecodeHistory([]byte(body), "", logger.NewNop())
		if msgs == nil || len(msgs) != 0 {
			t.Errorf("DecodeHistory(%q) = %v, want empty non-nil list", body, msgs)
		}
	}
}

func TestDecodeHistory_SkipsMalformedEntries(t *testing.T) {
	body := `[{"id":1,"text":"a"}, "garbage", {"id":{"bad":true}}, {"id":2,"text":"b"}]`
	msgs := DecodeHistory([]byte(body), "", logger.NewNop())
	if len(msgs) != 2 || msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestHistoryLoader_OrderedByCreatedAt(t *testing.T) {
	b := newFakeBackend(t)
	b.setHistory("7", `[
		{"id": 1, "text": "first", "sender_id": 5, "created_at": "2024-05-01T10:00:00Z"},
		{"id": 2, "text": "", "image": "uploads\\a.png", "user_id": 6, "created_at": "2024-05-01 10:00:01"},
		{"id": 3, "text": "third", "sender_id": 5, "created_at": "2024-05-01T10:00:02.5"}
	]`)

	msgs, err := b.namespace(model.RoleCity, nil).LoadHistory(context.Background(), testSession(), "7")
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	if !sort.SliceIsSorted(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) }) {
		t.Error("history should be non-decreasing by created_at")
	}

	second := msgs[1]
	if second.Text != nil {
		t.Errorf("empty text should be null, got %q", *second.Text)
	}
	if second.Sender != "6" {
		t.Errorf("Sender = %q, want fallback user_id 6", second.Sender)
	}
	if want := b.srv.URL + "/uploads/a.png"; second.Image == nil || *second.Image != want {
		t.Errorf("Image = %v, want %s", deref(second.Image), want)
	}

	if got := b.Requests(); len(got) != 1 || got[0] != "GET /api/city/chats/7/messages" {
		t.Errorf("requests = %v", got)
	}
}

func TestHistoryLoader_CompanyNamespace(t *testing.T) {
	b := newFakeBackend(t)
	if _, err := b.namespace(model.RoleCompany, nil).LoadHistory(context.Background(), testSession(), "11"); err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if got := b.Requests(); len(got) != 1 || got[0] != "GET /api/company/chats/11/messages" {
		t.Errorf("requests = %v", got)
	}
}

func TestHistoryLoader_EscapesChatID(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.EscapedPath()
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := upstream.NewClient(upstream.Config{BaseURL: srv.URL}, logger.NewNop())
	ns := NewRoleNamespace(model.RoleCity, client, "ws://unused", nil, logger.NewNop())

	if _, err := ns.LoadHistory(context.Background(), testSession(), "a/b?x=1"); err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if got, want := <-paths, "/api/city/chats/a%2Fb%3Fx=1/messages"; got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
}
