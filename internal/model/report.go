package model

import (
	"encoding/json"
	"time"
)

// Status is a report lifecycle status.
type Status string

const (
	StatusNew      Status = "new"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
	StatusShared   Status = "shared"

	// Citizen-facing statuses.
	StatusResponding Status = "responding"
	StatusConfirmed  Status = "confirmed"
	StatusCompleted  Status = "completed"
)

// Point is a longitude/latitude pair.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Report is a citizen-submitted issue.
type Report struct {
	ID          ID        `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Status      Status    `json:"status"`
	Address     string    `json:"address"`
	Location    *Point    `json:"location,omitempty"`
	Images      []string  `json:"images,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UserID      ID        `json:"user_id"`
}

// Geometry is a GeoJSON geometry. Only points are used for reports.
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// Feature is a GeoJSON feature as returned by the report endpoints.
// Properties is kept raw so field-name drift can be absorbed on decode.
type Feature struct {
	Type       string          `json:"type"`
	Geometry   *Geometry       `json:"geometry"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// ReportPage is one page of a report listing.
type ReportPage struct {
	Reports    []Report `json:"reports"`
	Page       int      `json:"page"`
	TotalPages int      `json:"total_pages"`
	Categories []string `json:"categories"`
}

// Assignment pairs a report with a company organization.
type Assignment struct {
	ID        ID     `json:"id"`
	ReportID  ID     `json:"report_id"`
	CompanyID ID     `json:"company_id"`
	Status    Status `json:"status"`
}

// AssignmentPage is one page of assignments.
type AssignmentPage struct {
	Assignments []Assignment `json:"assignments"`
	Page        int          `json:"page"`
	TotalPages  int          `json:"total_pages"`
}

// Area is a named geographic grouping used as a filter facet.
type Area struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// Category is a named report category used as a filter facet.
type Category struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}
