package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
	"github.com/civic-reports/chat-gateway/pkg/metrics"
)

// sinkTimeout bounds a single mirror publish from the read loop.
const sinkTimeout = 2 * time.Second

// errChatGone marks a history load that found the resolved conversation
// missing on the backend.
var errChatGone = errors.New("chat no longer exists")

// RoomOptions configures a Room.
type RoomOptions struct {
	Policy ReconcilePolicy
	Sink   MessageSink
}

// Room is one open conversation: resolution, history, live stream and
// sends for the report currently being viewed.
//
// Every Open starts a new generation. Results that arrive for an older
// generation (a slow history load, a late frame) are discarded, so a
// previous report can never write into the current one.
type Room struct {
	ns     Namespace
	log    *MessageLog
	sender *Sender
	sink   MessageSink
	logger *logger.Logger

	gen         atomic.Uint64
	lastActive  atomic.Int64
	subscribers atomic.Int32

	mu       sync.Mutex
	sess     *upstream.Session
	reportID string
	chatID   string
	draft    string
	cancel   context.CancelFunc
	stream   *Stream
}

// NewRoom creates a closed room.
func NewRoom(ns Namespace, sess *upstream.Session, opts RoomOptions, log *logger.Logger) *Room {
	messages := NewMessageLog(opts.Policy)
	r := &Room{
		ns:     ns,
		log:    messages,
		sender: NewSender(ns, messages, log),
		sink:   opts.Sink,
		logger: log,
		sess:   sess,
	}
	r.touch()
	return r
}

// Open switches the room to reportID. The previous socket is closed before
// anything for the new report is requested. Opening the report that is
// already open with a live socket is a no-op.
//
// A history failure is returned but leaves the socket open; Reload retries.
// When the backend no longer knows the resolved conversation, the id is
// forgotten and resolved once more.
func (r *Room) Open(ctx context.Context, reportID string) error {
	r.touch()
	r.mu.Lock()
	if r.reportID == reportID && r.chatID != "" && r.stream != nil && r.stream.State() == StateOpen {
		r.mu.Unlock()
		return nil
	}
	gen := r.gen.Add(1)
	r.teardownLocked()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.reportID = reportID
	r.chatID = ""
	r.draft = ""
	sess := r.sess
	r.log.Reset()
	r.mu.Unlock()

	// The caller abandoning the open abandons the room run with it.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := r.connect(runCtx, sess, gen, reportID)
	if errors.Is(err, errChatGone) {
		r.logger.Info("resolved chat is gone, resolving again",
			zap.String("role", string(r.ns.Role())),
			zap.String("report_id", reportID),
		)
		if ferr := r.ns.ForgetSession(runCtx, sess, reportID); ferr != nil {
			r.logger.Warn("failed to forget chat id", zap.Error(ferr))
		}
		err = r.connect(runCtx, sess, gen, reportID)
	}
	return err
}

// connect resolves the conversation, opens its socket and loads history
// for generation gen.
func (r *Room) connect(ctx context.Context, sess *upstream.Session, gen uint64, reportID string) error {
	chatID, err := r.ns.ResolveSession(ctx, sess, reportID)
	if err != nil {
		if !r.current(gen) {
			return ErrStale
		}
		return err
	}

	r.mu.Lock()
	if !r.current(gen) {
		r.mu.Unlock()
		return ErrStale
	}
	r.chatID = chatID
	r.mu.Unlock()

	log := r.logger.WithChat(string(r.ns.Role()), reportID, chatID)

	stream, streamErr := r.ns.OpenStream(ctx, sess, chatID, r.onFrame(ctx, gen, chatID))
	r.mu.Lock()
	if !r.current(gen) {
		r.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		return ErrStale
	}
	r.stream = stream
	r.mu.Unlock()
	if stream != nil {
		stream.OnStateChange(func(StreamState) {
			if r.current(gen) {
				r.log.notify()
			}
		})
	}
	r.log.notify()
	if streamErr != nil {
		log.Warn("live stream unavailable", zap.Error(streamErr))
	}

	if err := r.loadHistory(ctx, sess, gen, chatID); err != nil {
		if isNotFound(err) {
			r.dropStream(gen)
			return fmt.Errorf("%w: %w", errChatGone, err)
		}
		return err
	}

	log.Info("chat room opened")
	return streamErr
}

// dropStream closes the socket of generation gen without ending the run.
func (r *Room) dropStream(gen uint64) {
	r.mu.Lock()
	if !r.current(gen) || r.stream == nil {
		r.mu.Unlock()
		return
	}
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()
	stream.Close()
}

// Reload replaces the log with the canonical history. Placeholders left by
// successful sends disappear here.
func (r *Room) Reload(ctx context.Context) error {
	r.touch()
	r.mu.Lock()
	chatID, sess := r.chatID, r.sess
	gen := r.gen.Load()
	r.mu.Unlock()
	if chatID == "" {
		return ErrNotOpen
	}
	return r.loadHistory(ctx, sess, gen, chatID)
}

func (r *Room) loadHistory(ctx context.Context, sess *upstream.Session, gen uint64, chatID string) error {
	msgs, err := r.ns.LoadHistory(ctx, sess, chatID)
	if err != nil {
		if !r.current(gen) {
			return ErrStale
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.current(gen) {
		return ErrStale
	}
	r.log.Replace(msgs)
	return nil
}

// Send posts a message optimistically. The draft is cleared on success and
// left untouched on failure.
func (r *Room) Send(ctx context.Context, text string, image *Attachment) (*model.Message, error) {
	r.touch()
	r.mu.Lock()
	chatID, reportID, sess := r.chatID, r.reportID, r.sess
	gen := r.gen.Load()
	r.mu.Unlock()
	if chatID == "" {
		return nil, ErrNotOpen
	}

	msg, err := r.sender.Send(ctx, sess, chatID, text, image)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.current(gen) {
		if msg != nil {
			r.log.Remove(msg.ID)
		}
		if err == nil {
			err = ErrStale
		}
		return nil, err
	}
	if err != nil {
		if isNotFound(err) {
			// The next open resolves the conversation again.
			if ferr := r.ns.ForgetSession(ctx, sess, reportID); ferr != nil {
				r.logger.Warn("failed to forget chat id", zap.Error(ferr))
			}
		}
		return nil, err
	}
	r.draft = ""
	return msg, nil
}

// Close tears the room down. It returns once the socket is closed.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen.Add(1)
	r.teardownLocked()
	r.reportID = ""
	r.chatID = ""
	r.draft = ""
	r.log.Reset()
}

// teardownLocked cancels the run before closing the socket so a frame
// handler blocked on the mirror returns at once.
func (r *Room) teardownLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.stream != nil {
		r.stream.Close()
		r.stream = nil
	}
}

func (r *Room) current(gen uint64) bool {
	return r.gen.Load() == gen
}

func (r *Room) onFrame(ctx context.Context, gen uint64, chatID string) func(model.Message) {
	return func(msg model.Message) {
		if !r.current(gen) {
			return
		}
		if !r.log.Merge(msg) {
			metrics.StreamFrames.WithLabelValues("duplicate").Inc()
			return
		}
		metrics.StreamFrames.WithLabelValues("merged").Inc()

		if r.sink == nil {
			return
		}
		pubCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		defer cancel()
		if err := r.sink.PublishMessage(pubCtx, r.ns.Role(), chatID, msg); err != nil {
			r.logger.Warn("mirror publish failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}

// Messages returns the current message list.
func (r *Room) Messages() []model.Message {
	return r.log.Messages()
}

// Subscribe notifies on every change to the message list and on socket
// state changes. A room with subscribers is never idle.
func (r *Room) Subscribe() (<-chan struct{}, func()) {
	r.subscribers.Add(1)
	r.touch()
	ch, cancel := r.log.Subscribe()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			cancel()
			r.touch()
			r.subscribers.Add(-1)
		})
	}
}

// Snapshot returns the room state for clients.
func (r *Room) Snapshot() model.ListMessagesResponse {
	r.mu.Lock()
	reportID, chatID, draft := r.reportID, r.chatID, r.draft
	state := StateIdle
	if r.stream != nil {
		state = r.stream.State()
	}
	r.mu.Unlock()

	msgs, version := r.log.Snapshot()
	return model.ListMessagesResponse{
		ReportID:    reportID,
		ChatID:      chatID,
		Messages:    msgs,
		Draft:       draft,
		StreamState: state.String(),
		Version:     version,
	}
}

// ReportID returns the report currently open, or "".
func (r *Room) ReportID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reportID
}

// StreamState returns the socket state of the current conversation.
func (r *Room) StreamState() StreamState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return StateIdle
	}
	return r.stream.State()
}

// Draft returns the compose text.
func (r *Room) Draft() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draft
}

// SetDraft replaces the compose text.
func (r *Room) SetDraft(text string) {
	r.touch()
	r.mu.Lock()
	r.draft = text
	r.mu.Unlock()
}

func (r *Room) touch() {
	r.lastActive.Store(time.Now().UnixNano())
}

// IdleSince returns when the room was last used. ok is false while a
// subscriber is attached.
func (r *Room) IdleSince() (since time.Time, ok bool) {
	if r.subscribers.Load() > 0 {
		return time.Time{}, false
	}
	return time.Unix(0, r.lastActive.Load()), true
}

func isNotFound(err error) bool {
	var apiErr *upstream.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
