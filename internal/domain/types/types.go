// Package types contains the JSON view shapes returned by the HTTP API.
package types

import (
	"time"

	"github.com/okian/beacon/internal/domain/marker"
)

// MarkerView is the wire shape of one marker.
type MarkerView struct {
	ID                string    `json:"id"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	LastActionAt      time.Time `json:"last_action_at"`
	ConfirmationCount int       `json:"confirmation_count"`
	RedPressCount     int       `json:"red_press_count"`
	GreenPressCount   int       `json:"green_press_count"`
}

// VoteEventView is the wire shape of one audit record.
type VoteEventView struct {
	MarkerID        string    `json:"marker_id"`
	ReporterID      string    `json:"reporter_id"`
	Color           string    `json:"color"`
	PriorStatus     string    `json:"prior_status"`
	ResultingStatus string    `json:"resulting_status"`
	DistanceMeters  float64   `json:"distance_meters"`
	Timestamp       time.Time `json:"timestamp"`
}

// MarkerDetails is the detail view: the marker plus its latest event and
// lifetime interaction count.
type MarkerDetails struct {
	MarkerView
	LatestEvent  *VoteEventView `json:"latest_event,omitempty"`
	TotalPresses int            `json:"total_presses"`
}

// ClearedView identifies a marker removed by a clearing vote.
type ClearedView struct {
	MarkerID       string  `json:"marker_id"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	DistanceMeters float64 `json:"distance_meters"`
}

// OutcomeView is the wire shape of a reconciled vote's result.
type OutcomeView struct {
	Kind    string         `json:"kind"`
	Marker  *MarkerView    `json:"marker,omitempty"`
	Cleared *ClearedView   `json:"cleared,omitempty"`
	Event   *VoteEventView `json:"event,omitempty"`
}

// FromMarker converts a domain marker into its view.
func FromMarker(m marker.Marker) MarkerView {
	return MarkerView{
		ID:                m.ID,
		Latitude:          m.Latitude,
		Longitude:         m.Longitude,
		Status:            string(m.Status),
		CreatedAt:         m.CreatedAt,
		LastActionAt:      m.LastActionAt,
		ConfirmationCount: m.ConfirmationCount,
		RedPressCount:     m.RedPressCount,
		GreenPressCount:   m.GreenPressCount,
	}
}

// FromMarkers converts a snapshot of domain markers into views.
func FromMarkers(ms []marker.Marker) []MarkerView {
	views := make([]MarkerView, len(ms))
	for i, m := range ms {
		views[i] = FromMarker(m)
	}
	return views
}

// FromEvent converts a domain vote event into its view.
func FromEvent(ev marker.VoteEvent) VoteEventView {
	return VoteEventView{
		MarkerID:        ev.MarkerID,
		ReporterID:      ev.ReporterID,
		Color:           string(ev.Color),
		PriorStatus:     string(ev.PriorStatus),
		ResultingStatus: string(ev.ResultingStatus),
		DistanceMeters:  ev.DistanceMeters,
		Timestamp:       ev.Timestamp,
	}
}

// FromEvents converts a marker history into views.
func FromEvents(evs []marker.VoteEvent) []VoteEventView {
	views := make([]VoteEventView, len(evs))
	for i, ev := range evs {
		views[i] = FromEvent(ev)
	}
	return views
}

// FromOutcome converts a reconciliation outcome into its view.
func FromOutcome(out marker.Outcome) OutcomeView {
	view := OutcomeView{Kind: string(out.Kind)}
	if out.Marker != nil {
		m := FromMarker(*out.Marker)
		view.Marker = &m
	}
	if out.Cleared != nil {
		view.Cleared = &ClearedView{
			MarkerID:       out.Cleared.MarkerID,
			Latitude:       out.Cleared.Latitude,
			Longitude:      out.Cleared.Longitude,
			DistanceMeters: out.Cleared.DistanceMeters,
		}
	}
	if out.Event != nil {
		ev := FromEvent(*out.Event)
		view.Event = &ev
	}
	return view
}
