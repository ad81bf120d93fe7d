package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
	"github.com/civic-reports/chat-gateway/pkg/metrics"
)

// Resolver finds or lazily creates the conversation for a report.
//
// Concurrent resolutions by callers in the same scope are coalesced in
// this process. Two processes resolving the same report at once can still
// both create a conversation.
type Resolver struct {
	client *upstream.Client
	role   model.Role
	cache  ChatIDCache
	group  singleflight.Group
	logger *logger.Logger
}

// NewResolver creates a resolver for one role namespace. cache may be nil.
func NewResolver(client *upstream.Client, role model.Role, cache ChatIDCache, log *logger.Logger) *Resolver {
	return &Resolver{
		client: client,
		role:   role,
		cache:  cache,
		logger: log,
	}
}

// Resolve returns the conversation id for reportID.
func (r *Resolver) Resolve(ctx context.Context, sess *upstream.Session, reportID string) (string, error) {
	if reportID == "" {
		return "", fmt.Errorf("resolve chat: empty report id")
	}

	if !sess.Valid() {
		return "", upstream.ErrMissingToken
	}

	// The shared call must not die with whichever caller started it; each
	// caller still stops waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(sess.Scope()+"|"+reportID, func() (any, error) {
		return r.resolve(shared, sess, reportID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Forget drops the cached id for reportID in the caller's scope.
func (r *Resolver) Forget(ctx context.Context, sess *upstream.Session, reportID string) error {
	if r.cache == nil || !sess.Valid() {
		return nil
	}
	return r.cache.Forget(ctx, r.role, sess.Scope(), reportID)
}

func (r *Resolver) resolve(ctx context.Context, sess *upstream.Session, reportID string) (string, error) {
	if r.cache != nil {
		chatID, ok, err := r.cache.Get(ctx, r.role, sess.Scope(), reportID)
		if err != nil {
			r.logger.Warn("chat id cache lookup failed", zap.Error(err))
		} else if ok {
			metrics.ChatResolutions.WithLabelValues(string(r.role), "cache").Inc()
			return chatID, nil
		}
	}

	base := "/api/" + string(r.role) + "/chats"

	data, err := r.client.GetJSON(ctx, sess, base, url.Values{"report_id": {reportID}})
	if err != nil {
		return "", fmt.Errorf("lookup chat for report %s: %w", reportID, err)
	}

	source := "lookup"
	chatID := decodeChatID(data)
	if chatID == "" {
		data, err = r.client.PostJSON(ctx, sess, base, map[string]any{"report_id": reportIDValue(reportID)})
		if err != nil {
			return "", fmt.Errorf("create chat for report %s: %w", reportID, err)
		}
		chatID = decodeChatID(data)
		if chatID == "" {
			return "", fmt.Errorf("create chat for report %s: %w", reportID, ErrNoChatID)
		}
		source = "created"
		r.logger.Info("chat created",
			zap.String("role", string(r.role)),
			zap.String("report_id", reportID),
			zap.String("chat_id", chatID),
		)
	}
	metrics.ChatResolutions.WithLabelValues(string(r.role), source).Inc()

	if r.cache != nil {
		if err := r.cache.Set(ctx, r.role, sess.Scope(), reportID, chatID); err != nil {
			r.logger.Warn("chat id cache store failed", zap.Error(err))
		}
	}

	return chatID, nil
}

// decodeChatID reads chat_id or chatId. Anything unreadable counts as absent.
func decodeChatID(data []byte) string {
	var resp model.ChatLookupResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return ""
	}
	return string(resp.Resolved())
}

// reportIDValue sends numeric report ids as JSON numbers.
func reportIDValue(reportID string) any {
	if n, err := strconv.ParseInt(reportID, 10, 64); err == nil {
		return n
	}
	return reportID
}
