package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

// Getter is the slice of the backend client the listing needs.
type Getter interface {
	BaseURL() string
	GetJSON(ctx context.Context, sess *upstream.Session, path string, query url.Values) ([]byte, error)
}

// Client lists reports and assignments.
type Client struct {
	api    Getter
	logger *logger.Logger
}

// NewClient creates a report client.
func NewClient(api Getter, log *logger.Logger) *Client {
	return &Client{api: api, logger: log.Named("report")}
}

type featureCollection struct {
	Type       string            `json:"type"`
	Features   []json.RawMessage `json:"features"`
	TotalPages int               `json:"total_pages"`
}

// List fetches one page of reports for role.
func (c *Client) List(ctx context.Context, sess *upstream.Session, role model.Role, q Query) (*model.ReportPage, error) {
	data, err := c.api.GetJSON(ctx, sess, fmt.Sprintf("/api/%s/reports", role), q.Values())
	if err != nil {
		return nil, err
	}

	page, err := DecodeReportPage(data, c.api.BaseURL(), c.logger)
	if err != nil {
		return nil, err
	}
	page.Page = q.Page
	if page.Page < 1 {
		page.Page = 1
	}
	return page, nil
}

// DecodeReportPage decodes a feature collection. Features that fail to
// decode are skipped so one bad row does not blank the map.
func DecodeReportPage(data []byte, apiBase string, log *logger.Logger) (*model.ReportPage, error) {
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode reports: %w", err)
	}

	reports := make([]model.Report, 0, len(fc.Features))
	for i, raw := range fc.Features {
		r, err := DecodeFeature(raw, apiBase)
		if err != nil {
			log.Warn("skipping malformed report feature", zap.Int("index", i), zap.Error(err))
			continue
		}
		reports = append(reports, r)
	}

	totalPages := fc.TotalPages
	if totalPages < 1 {
		totalPages = 1
	}

	return &model.ReportPage{
		Reports:    reports,
		TotalPages: totalPages,
		Categories: Categories(reports),
	}, nil
}

// Assignments fetches one page of company assignments. The backend has
// returned both a bare array and a paged object; both are accepted.
func (c *Client) Assignments(ctx context.Context, sess *upstream.Session, page int) (*model.AssignmentPage, error) {
	if page < 1 {
		page = 1
	}
	data, err := c.api.GetJSON(ctx, sess, "/api/city/assignments", url.Values{"page": {strconv.Itoa(page)}})
	if err != nil {
		return nil, err
	}

	out, err := DecodeAssignments(data)
	if err != nil {
		return nil, err
	}
	out.Page = page
	return out, nil
}

// DecodeAssignments accepts either a JSON array or an object with
// assignments and total_pages.
func DecodeAssignments(data []byte) (*model.AssignmentPage, error) {
	trimmed := bytes.TrimSpace(data)
	out := &model.AssignmentPage{Assignments: []model.Assignment{}, TotalPages: 1}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &out.Assignments); err != nil {
			return nil, fmt.Errorf("decode assignments: %w", err)
		}
		return out, nil
	}

	var body struct {
		Assignments []model.Assignment `json:"assignments"`
		TotalPages  int                `json:"total_pages"`
	}
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return nil, fmt.Errorf("decode assignments: %w", err)
	}
	if body.Assignments != nil {
		out.Assignments = body.Assignments
	}
	if body.TotalPages > 0 {
		out.TotalPages = body.TotalPages
	}
	return out, nil
}
