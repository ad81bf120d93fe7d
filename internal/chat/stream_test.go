package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

type collector struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (c *collector) add(m model.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *collector) all() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.msgs...)
}

func TestStream_DeliversNormalizedFrames(t *testing.T) {
	b := newFakeBackend(t)
	ns := b.namespace(model.RoleCity, nil)
	var got collector

	stream, err := ns.OpenStream(context.Background(), testSession(), "7", got.add)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	if stream.State() != StateOpen {
		t.Fatalf("state = %v, want open", stream.State())
	}

	conn := b.nextSocket()
	ctx := context.Background()
	wsjson.Write(ctx, conn, map[string]any{"id": 10, "text": "hi", "user_id": 3, "image": `a\b.png`})
	conn.Write(ctx, websocket.MessageText, []byte(`{not json`))
	wsjson.Write(ctx, conn, map[string]any{"error": "bad input"})
	wsjson.Write(ctx, conn, map[string]any{"id": 11, "text": "", "sender_id": 4})

	waitFor(t, "two frames", func() bool { return len(got.all()) == 2 })

	msgs := got.all()
	if msgs[0].ID != "10" || msgs[0].Sender != "3" {
		t.Errorf("first frame = %+v", msgs[0])
	}
	if want := b.srv.URL + "/a/b.png"; msgs[0].Image == nil || *msgs[0].Image != want {
		t.Errorf("image = %v, want %s", deref(msgs[0].Image), want)
	}
	if msgs[1].ID != "11" || msgs[1].Text != nil {
		t.Errorf("second frame = %+v", msgs[1])
	}

	reqs := b.Requests()
	if len(reqs) != 1 || reqs[0] != "GET /ws/chats/7?token=test-token" {
		t.Errorf("requests = %v", reqs)
	}
}

func TestStream_CompanyPath(t *testing.T) {
	b := newFakeBackend(t)
	ns := b.namespace(model.RoleCompany, nil)

	if got, want := ns.StreamURL(testSession(), "9"), b.wsBase()+"/ws/company/chats/9?token=test-token"; got != want {
		t.Errorf("StreamURL = %q, want %q", got, want)
	}
}

func TestStream_CloseIsClean(t *testing.T) {
	b := newFakeBackend(t)
	stream, err := b.namespace(model.RoleCity, nil).OpenStream(context.Background(), testSession(), "7", func(model.Message) {})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	b.nextSocket()

	stream.Close()
	if stream.State() != StateClosed {
		t.Errorf("state = %v, want closed", stream.State())
	}
	stream.Close()
}

func TestStream_ServerCloseEndsStream(t *testing.T) {
	b := newFakeBackend(t)
	stream, err := b.namespace(model.RoleCity, nil).OpenStream(context.Background(), testSession(), "7", func(model.Message) {})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	conn := b.nextSocket()
	conn.Close(websocket.StatusGoingAway, "bye")

	waitFor(t, "stream to close", func() bool { return stream.State() == StateClosed })
}

func TestStream_DialFailure(t *testing.T) {
	stream := NewStream("ws://127.0.0.1:1/ws/chats/7", "", func(model.Message) {}, logger.NewNop())
	if err := stream.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if stream.State() != StateErrored {
		t.Errorf("state = %v, want errored", stream.State())
	}
	if err := stream.Connect(context.Background()); err == nil {
		t.Error("a stream must not be reused")
	}
}

func TestStream_PanickingHandlerKeepsSocket(t *testing.T) {
	b := newFakeBackend(t)
	var got collector
	first := true
	handler := func(m model.Message) {
		if first {
			first = false
			panic("bad frame")
		}
		got.add(m)
	}

	stream, err := b.namespace(model.RoleCity, nil).OpenStream(context.Background(), testSession(), "7", handler)
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	conn := b.nextSocket()
	ctx := context.Background()
	wsjson.Write(ctx, conn, map[string]any{"id": 1, "text": "boom"})
	wsjson.Write(ctx, conn, map[string]any{"id": 2, "text": "after"})

	waitFor(t, "frame after panic", func() bool { return len(got.all()) == 1 })
	if msgs := got.all(); msgs[0].ID != "2" {
		t.Errorf("delivered %+v, want frame 2", msgs[0])
	}
	if stream.State() != StateOpen {
		t.Errorf("state = %v, want open", stream.State())
	}
}

func TestStream_ReportsStateChanges(t *testing.T) {
	b := newFakeBackend(t)
	stream, err := b.namespace(model.RoleCity, nil).OpenStream(context.Background(), testSession(), "7", func(model.Message) {})
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	defer stream.Close()

	states := make(chan StreamState, 4)
	stream.OnStateChange(func(st StreamState) { states <- st })

	conn := b.nextSocket()
	conn.Close(websocket.StatusGoingAway, "bye")

	select {
	case st := <-states:
		if st != StateClosed {
			t.Errorf("state change = %v, want closed", st)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no state change reported after server close")
	}
}
