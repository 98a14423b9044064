package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Grid geometry and refresh bounds for dashboard layouts.
const (
	GridColumns        = 12
	RefreshIntervalMin = 5
	RefreshIntervalMax = 3600
	DashboardNameMax   = 255
)

// WidgetType enumerates the widget kinds a layout may contain.
type WidgetType string

const (
	WidgetChart  WidgetType = "chart"
	WidgetGrid   WidgetType = "grid"
	WidgetMetric WidgetType = "metric"
	WidgetFilter WidgetType = "filter"
)

// ValidWidgetType reports whether t names a known widget kind.
func ValidWidgetType(t WidgetType) bool {
	switch t {
	case WidgetChart, WidgetGrid, WidgetMetric, WidgetFilter:
		return true
	}
	return false
}

// Position is an integer grid rectangle. The occupied cells are the half-open
// ranges [X, X+W) horizontally and [Y, Y+H) vertically.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Overlaps reports whether two rectangles intersect with positive area.
func (p Position) Overlaps(o Position) bool {
	return p.X < o.X+o.W && o.X < p.X+p.W && p.Y < o.Y+o.H && o.Y < p.Y+p.H
}

// WidgetLayout is one positioned widget inside a dashboard document. Config
// is an opaque payload owned by the presentation layer.
type WidgetLayout struct {
	ID       string          `json:"id"`
	Type     WidgetType      `json:"type"`
	Position Position        `json:"position"`
	Config   json.RawMessage `json:"config,omitempty"`
}

// DashboardConfig is a persisted, named widget-layout document.
type DashboardConfig struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Layout          []WidgetLayout  `json:"layout"`
	Filters         json.RawMessage `json:"filters,omitempty"`
	DataSourceID    string          `json:"dataSourceId,omitempty"`
	RefreshInterval *int            `json:"refreshInterval,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// NewDashboardConfig assigns a fresh id and stamps creation time.
func NewDashboardConfig(name string, layout []WidgetLayout) DashboardConfig {
	now := time.Now().UTC()
	return DashboardConfig{
		ID:        uuid.New().String(),
		Name:      name,
		Layout:    layout,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DashboardPatch carries partial updates; nil fields are left untouched.
type DashboardPatch struct {
	Name            *string         `json:"name,omitempty"`
	Layout          *[]WidgetLayout `json:"layout,omitempty"`
	Filters         json.RawMessage `json:"filters,omitempty"`
	DataSourceID    *string         `json:"dataSourceId,omitempty"`
	RefreshInterval *int            `json:"refreshInterval,omitempty"`
}
