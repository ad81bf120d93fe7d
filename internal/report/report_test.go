package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/civic-reports/chat-gateway/internal/model"
	"github.com/civic-reports/chat-gateway/internal/upstream"
	"github.com/civic-reports/chat-gateway/pkg/logger"
)

func TestQuery_ValuesOmitsEmpty(t *testing.T) {
	q := NewQuery()
	q.Category = "roads"
	q.Search = "pothole"

	v := q.Values()
	if v.Encode() != "category=roads&page=1&search=pothole" {
		t.Errorf("Values = %q", v.Encode())
	}
}

func TestQuery_FilterChangeResetsPage(t *testing.T) {
	q := NewQuery()
	q.SetPage(4)

	if err := q.SetFilter(FilterStatus, "new"); err != nil {
		t.Fatalf("SetFilter failed: %v", err)
	}
	if q.Page != 1 {
		t.Errorf("Page = %d, want 1 after filter change", q.Page)
	}

	q.SetPage(3)
	q.SetFilter(FilterStatus, "new")
	if q.Page != 3 {
		t.Errorf("Page = %d, setting the same value should keep the page", q.Page)
	}

	if err := q.SetFilter("color", "red"); err == nil {
		t.Error("expected error for unknown filter")
	}
}

func TestQueryFromValues(t *testing.T) {
	q := QueryFromValues(url.Values{
		"area":     {" north "},
		"dateFrom": {"2024-01-01"},
		"page":     {"3"},
		"unknown":  {"x"},
	})
	if q.Area != "north" || q.DateFrom != "2024-01-01" || q.Page != 3 {
		t.Errorf("unexpected query: %+v", q)
	}

	if q := QueryFromValues(url.Values{"page": {"-2"}}); q.Page != 1 {
		t.Errorf("Page = %d, want clamped to 1", q.Page)
	}
}

func TestDecodeFeature_Geometry(t *testing.T) {
	raw := `{"type":"Feature","geometry":{"type":"Point","coordinates":[139.7,35.6]},
		"properties":{"id":5,"title":"Pothole","category":"roads","status":"new","image_paths":["uploads\\p.png"],"user_id":"u1"}}`

	r, err := DecodeFeature([]byte(raw), "http://api.local")
	if err != nil {
		t.Fatalf("DecodeFeature failed: %v", err)
	}
	if r.ID != "5" || r.Title != "Pothole" || r.Status != model.StatusNew || r.UserID != "u1" {
		t.Errorf("unexpected report: %+v", r)
	}
	if r.Location == nil || r.Location.Lng != 139.7 || r.Location.Lat != 35.6 {
		t.Errorf("Location = %+v", r.Location)
	}
	if len(r.Images) != 1 || r.Images[0] != "http://api.local/uploads/p.png" {
		t.Errorf("Images = %v", r.Images)
	}
}

func TestDecodeFeature_CoordinateFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		lat, lng float64
		hasPoint bool
	}{
		{"lat/lng", `{"geometry":null,"properties":{"lat":1.5,"lng":2.5}}`, 1.5, 2.5, true},
		{"latitude/longitude strings", `{"properties":{"latitude":"3.25","longitude":"4.75"}}`, 3.25, 4.75, true},
		{"capitalized", `{"properties":{"Latitude":5,"Longitude":6}}`, 5, 6, true},
		{"upper case", `{"properties":{"LAT":7,"LON":8}}`, 7, 8, true},
		{"flat feature", `{"id":1,"lat":9,"lon":10}`, 9, 10, true},
		{"bad geometry", `{"geometry":{"type":"Point","coordinates":[1]},"properties":{"lat":11,"lng":12}}`, 11, 12, true},
		{"no coordinates", `{"properties":{"title":"x"}}`, 0, 0, false},
		{"unparseable", `{"properties":{"lat":"north","lng":1}}`, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeFeature([]byte(tt.raw), "")
			if err != nil {
				t.Fatalf("DecodeFeature failed: %v", err)
			}
			if !tt.hasPoint {
				if r.Location != nil {
					t.Errorf("expected no location, got %+v", r.Location)
				}
				return
			}
			if r.Location == nil || r.Location.Lat != tt.lat || r.Location.Lng != tt.lng {
				t.Errorf("Location = %+v, want lat=%v lng=%v", r.Location, tt.lat, tt.lng)
			}
		})
	}
}

func TestDecodeReportPage(t *testing.T) {
	body := `{"type":"FeatureCollection","total_pages":3,"features":[
		{"properties":{"id":1,"category":"roads","lat":1,"lng":2}},
		"broken",
		{"properties":{"id":2,"category":"lights"}},
		{"properties":{"id":3,"category":"roads"}}
	]}`

	page, err := DecodeReportPage([]byte(body), "", logger.NewNop())
	if err != nil {
		t.Fatalf("DecodeReportPage failed: %v", err)
	}
	if len(page.Reports) != 3 || page.TotalPages != 3 {
		t.Errorf("reports=%d total_pages=%d", len(page.Reports), page.TotalPages)
	}
	if len(page.Categories) != 2 || page.Categories[0] != "lights" || page.Categories[1] != "roads" {
		t.Errorf("Categories = %v", page.Categories)
	}

	if _, err := DecodeReportPage([]byte(`[1,2]`), "", logger.NewNop()); err == nil {
		t.Error("expected error for non-object body")
	}
}

func TestDecodeAssignments(t *testing.T) {
	arr, err := DecodeAssignments([]byte(`[{"id":1,"report_id":5,"company_id":2,"status":"shared"}]`))
	if err != nil {
		t.Fatalf("array body failed: %v", err)
	}
	if len(arr.Assignments) != 1 || arr.TotalPages != 1 || arr.Assignments[0].ReportID != "5" {
		t.Errorf("unexpected page: %+v", arr)
	}

	obj, err := DecodeAssignments([]byte(`{"assignments":[{"id":1},{"id":2}],"total_pages":4}`))
	if err != nil {
		t.Fatalf("object body failed: %v", err)
	}
	if len(obj.Assignments) != 2 || obj.TotalPages != 4 {
		t.Errorf("unexpected page: %+v", obj)
	}

	empty, err := DecodeAssignments([]byte(`{}`))
	if err != nil || empty.Assignments == nil || len(empty.Assignments) != 0 {
		t.Errorf("empty body = %+v, %v", empty, err)
	}
}

func TestClient_List(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		w.Write([]byte(`{"type":"FeatureCollection","features":[],"total_pages":0}`))
	}))
	defer srv.Close()

	api := upstream.NewClient(upstream.Config{BaseURL: srv.URL}, logger.NewNop())
	c := NewClient(api, logger.NewNop())

	q := NewQuery()
	q.SetFilter(FilterStatus, "resolved")
	q.SetPage(2)

	page, err := c.List(context.Background(), &upstream.Session{Token: "t"}, model.RoleCompany, q)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if gotPath != "/api/company/reports" || gotQuery != "page=2&status=resolved" {
		t.Errorf("request = %s?%s", gotPath, gotQuery)
	}
	if page.Page != 2 || page.TotalPages != 1 || page.Reports == nil {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestClient_Assignments(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(upstream.NewClient(upstream.Config{BaseURL: srv.URL}, logger.NewNop()), logger.NewNop())
	page, err := c.Assignments(context.Background(), &upstream.Session{Token: "t"}, 0)
	if err != nil {
		t.Fatalf("Assignments failed: %v", err)
	}
	if gotURL != "/api/city/assignments?page=1" || page.Page != 1 {
		t.Errorf("url=%s page=%+v", gotURL, page)
	}
}
