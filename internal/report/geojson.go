package report

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/civic-reports/chat-gateway/internal/chat"
	"github.com/civic-reports/chat-gateway/internal/model"
)

var (
	latKeys = []string{"lat", "latitude", "lat_deg", "Latitude", "LAT"}
	lngKeys = []string{"lng", "lon", "longitude", "long_deg", "Longitude", "LON"}
)

// DecodeFeature turns a GeoJSON feature into a report. Backends that skip
// the properties wrapper are accepted, and a missing or invalid geometry is
// recovered from the coordinate fields under any of their common names.
func DecodeFeature(raw json.RawMessage, apiBase string) (model.Report, error) {
	var f model.Feature
	if err := json.Unmarshal(raw, &f); err != nil {
		return model.Report{}, err
	}

	props := f.Properties
	if len(bytes.TrimSpace(props)) == 0 || bytes.Equal(bytes.TrimSpace(props), []byte("null")) {
		props = raw
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(props, &fields); err != nil {
		return model.Report{}, err
	}

	r := model.Report{
		ID:          idField(fields, "id"),
		Title:       stringField(fields, "title"),
		Description: stringField(fields, "description"),
		Category:    stringField(fields, "category"),
		Status:      model.Status(stringField(fields, "status")),
		Address:     stringField(fields, "address"),
		CreatedAt:   model.ParseTimestamp(stringField(fields, "created_at")),
		UserID:      idField(fields, "user_id"),
		Images:      imageField(fields, apiBase),
	}

	if p, ok := geometryPoint(f.Geometry); ok {
		r.Location = p
	} else if p, ok := propertyPoint(fields); ok {
		r.Location = p
	}

	return r, nil
}

func geometryPoint(g *model.Geometry) (*model.Point, bool) {
	if g == nil || len(g.Coordinates) != 2 {
		return nil, false
	}
	lng, lat := g.Coordinates[0], g.Coordinates[1]
	if math.IsNaN(lng) || math.IsNaN(lat) {
		return nil, false
	}
	return &model.Point{Lng: lng, Lat: lat}, true
}

func propertyPoint(fields map[string]json.RawMessage) (*model.Point, bool) {
	lat, okLat := firstFloat(fields, latKeys)
	lng, okLng := firstFloat(fields, lngKeys)
	if !okLat || !okLng {
		return nil, false
	}
	return &model.Point{Lng: lng, Lat: lat}, true
}

// firstFloat returns the first present, non-null key. Numbers and numeric
// strings both count.
func firstFloat(fields map[string]json.RawMessage, keys []string) (float64, bool) {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			continue
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n, !math.IsNaN(n)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			return f, err == nil && !math.IsNaN(f)
		}
		return 0, false
	}
	return 0, false
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := fields[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

func idField(fields map[string]json.RawMessage, key string) model.ID {
	var id model.ID
	if raw, ok := fields[key]; ok {
		_ = id.UnmarshalJSON(raw)
	}
	return id
}

// imageField collects image paths from images, image_paths or image_path.
func imageField(fields map[string]json.RawMessage, apiBase string) []string {
	var paths []string
	for _, key := range []string{"images", "image_paths"} {
		if raw, ok := fields[key]; ok {
			var list []string
			if err := json.Unmarshal(raw, &list); err == nil {
				paths = append(paths, list...)
			}
		}
	}
	if single := stringField(fields, "image_path"); single != "" {
		paths = append(paths, single)
	}

	out := paths[:0]
	for _, p := range paths {
		if p == "" {
			continue
		}
		img := chat.Normalize(model.RawMessage{Image: &p}, apiBase).Image
		out = append(out, *img)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Categories returns the distinct non-empty categories of reports, sorted.
func Categories(reports []model.Report) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range reports {
		if r.Category == "" {
			continue
		}
		if _, ok := seen[r.Category]; ok {
			continue
		}
		seen[r.Category] = struct{}{}
		out = append(out, r.Category)
	}
	sort.Strings(out)
	return out
}
