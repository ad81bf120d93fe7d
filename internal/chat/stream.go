package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/internal/middleware"
	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/pkg/logger"
	"github.com/civic-reports/chat-gateway/pkg/metrics"
)

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 1 << 20

// StreamState is the lifecycle state of a chat socket.
type StreamState int32

const (
	StateIdle StreamState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// frame is an inbound socket frame. The backend pushes messages and, on
// bad input, {"error": "..."} notices.
type frame struct {
	model.RawMessage
	Error string `json:"error"`
}

// Stream is a receive-only socket for one conversation. It never
// reconnects; a closed or errored stream is replaced by opening a new one.
type Stream struct {
	url       string
	apiBase   string
	onMessage func(model.Message)
	logger    *logger.Logger

	state   atomic.Int32
	closing atomic.Bool

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	onState func(StreamState)
}

// NewStream creates an idle stream. onMessage is called from the read
// goroutine for every decoded frame.
func NewStream(url, apiBase string, onMessage func(model.Message), log *logger.Logger) *Stream {
	return &Stream{
		url:       url,
		apiBase:   apiBase,
		onMessage: onMessage,
		logger:    log,
	}
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	return StreamState(s.state.Load())
}

// OnStateChange registers fn to be called after every state transition.
// It replaces any earlier callback.
func (s *Stream) OnStateChange(fn func(StreamState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

func (s *Stream) setState(st StreamState) {
	s.state.Store(int32(st))
	s.mu.Lock()
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Connect dials the socket and starts reading. The stream lives until ctx
// is cancelled, the server closes it, or Close is called.
func (s *Stream) Connect(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return errors.New("stream already started")
	}

	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		s.setState(StateErrored)
		return err
	}
	conn.SetReadLimit(maxFrameSize)

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	s.setState(StateOpen)
	metrics.IncrementStreams()
	s.logger.Debug("chat socket open")

	go s.readLoop(ctx, conn, done)
	return nil
}

// Close closes the socket if it is open and waits for the read loop to
// exit. It is safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	conn, done := s.conn, s.done
	s.mu.Unlock()
	if conn == nil {
		return
	}

	s.closing.Store(true)
	if s.State() == StateOpen {
		if err := conn.Close(websocket.StatusNormalClosure, "chat closed"); err != nil {
			conn.CloseNow()
		}
	}
	<-done
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	defer metrics.DecrementStreams()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.finish(ctx, err)
			return
		}
		s.handleFrame(data)
	}
}

func (s *Stream) finish(ctx context.Context, err error) {
	if s.closing.Load() || ctx.Err() != nil || websocket.CloseStatus(err) != -1 {
		s.setState(StateClosed)
		s.logger.Debug("chat socket closed")
		return
	}
	s.setState(StateErrored)
	s.logger.Warn("chat socket error", zap.Error(err))
}

func (s *Stream) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		metrics.StreamFrames.WithLabelValues("dropped").Inc()
		s.logger.Warn("dropping malformed chat frame", zap.Error(err))
		return
	}
	if f.Error != "" {
		metrics.StreamFrames.WithLabelValues("dropped").Inc()
		s.logger.Warn("backend reported socket error", zap.String("error", f.Error))
		return
	}
	msg := Normalize(f.RawMessage, s.apiBase)
	// A failing consumer loses this frame, not the socket.
	if err := middleware.Guard(s.logger, "chat frame handler", func() { s.onMessage(msg) }); err != nil {
		metrics.StreamFrames.WithLabelValues("dropped").Inc()
	}
}
