// Package report lists reports for the dashboards: filter and paging state,
// GeoJSON decoding for map pins, and assignment listing.
package report

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Filter names accepted by SetFilter and the listing endpoint.
const (
	FilterCategory = "category"
	FilterStatus   = "status"
	FilterArea     = "area"
	FilterDateFrom = "dateFrom"
	FilterDateTo   = "dateTo"
	FilterSearch   = "search"
)

// Query is the filter and paging state of a report list.
type Query struct {
	Category string
	Status   string
	Area     string
	DateFrom string
	DateTo   string
	Search   string
	Page     int
}

// NewQuery returns an unfiltered query on the first page.
func NewQuery() Query {
	return Query{Page: 1}
}

// SetFilter changes one filter. Any effective change sends the list back to
// the first page so the map and list never show a page past the end.
func (q *Query) SetFilter(name, value string) error {
	value = strings.TrimSpace(value)

	var field *string
	switch name {
	case FilterCategory:
		field = &q.Category
	case FilterStatus:
		field = &q.Status
	case FilterArea:
		field = &q.Area
	case FilterDateFrom:
		field = &q.DateFrom
	case FilterDateTo:
		field = &q.DateTo
	case FilterSearch:
		field = &q.Search
	default:
		return fmt.Errorf("unknown filter %q", name)
	}

	if *field != value {
		*field = value
		q.Page = 1
	}
	return nil
}

// SetPage moves to page p, clamped to at least 1.
func (q *Query) SetPage(p int) {
	if p < 1 {
		p = 1
	}
	q.Page = p
}

// Values encodes the query. Empty filters are omitted so the backend
// treats them as unset.
func (q Query) Values() url.Values {
	v := url.Values{}
	add := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	add(FilterCategory, q.Category)
	add(FilterStatus, q.Status)
	add(FilterArea, q.Area)
	add(FilterDateFrom, q.DateFrom)
	add(FilterDateTo, q.DateTo)
	add(FilterSearch, q.Search)

	page := q.Page
	if page < 1 {
		page = 1
	}
	v.Set("page", strconv.Itoa(page))
	return v
}

// QueryFromValues parses a query string. Unknown keys are ignored.
func QueryFromValues(v url.Values) Query {
	q := NewQuery()
	for _, name := range []string{FilterCategory, FilterStatus, FilterArea, FilterDateFrom, FilterDateTo, FilterSearch} {
		_ = q.SetFilter(name, v.Get(name))
	}
	if p, err := strconv.Atoi(v.Get("page")); err == nil {
		q.SetPage(p)
	}
	return q
}
