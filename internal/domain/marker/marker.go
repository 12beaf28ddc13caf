// Package marker contains the domain model passed between layers.
package marker

import "time"

// Status is the lifecycle state of a marker on the map.
type Status string

// Storable marker statuses.
const (
	StatusGreen  Status = "green"
	StatusRed    Status = "red"
	StatusOrange Status = "orange"
)

// Event-only statuses. They appear in the prior/resulting fields of a
// VoteEvent but are never stored on a marker.
const (
	StatusNone    Status = ""
	StatusCleared Status = "cleared"
)

// Valid reports whether s is a status a stored marker may carry.
func (s Status) Valid() bool {
	switch s {
	case StatusGreen, StatusRed, StatusOrange:
		return true
	}
	return false
}

// Color is the color of a submitted vote.
type Color string

// Vote colors.
const (
	ColorGreen Color = "green"
	ColorRed   Color = "red"
)

// Valid reports whether c is a known vote color.
func (c Color) Valid() bool {
	return c == ColorGreen || c == ColorRed
}

// Status returns the marker status a vote of this color resolves to.
func (c Color) Status() Status {
	if c == ColorGreen {
		return StatusGreen
	}
	return StatusRed
}

// ParseColor converts a wire string into a Color.
func ParseColor(s string) (Color, bool) {
	switch Color(s) {
	case ColorGreen:
		return ColorGreen, true
	case ColorRed:
		return ColorRed, true
	}
	return "", false
}

// Vote is a single map report submitted by a client.
type Vote struct {
	VoteID     string  // optional client-supplied id for idempotency
	ReporterID string  // opaque reporter identity
	Latitude   float64 // report position in decimal degrees
	Longitude  float64
	Color      Color
}

// Marker is a reconciled report location on the map.
type Marker struct {
	ID                string    // assigned by the store, unique
	Latitude          float64   // immutable once created
	Longitude         float64   // immutable once created
	Status            Status    // green, red or orange
	CreatedAt         time.Time // immutable once created
	LastActionAt      time.Time // bumped by every vote that touches the marker
	ConfirmationCount int       // pending confirmations while orange
	RedPressCount     int       // lifetime red votes against this marker
	GreenPressCount   int       // lifetime green votes against this marker
}

// TotalPresses returns the lifetime number of votes recorded against the marker.
func (m Marker) TotalPresses() int {
	return m.RedPressCount + m.GreenPressCount
}

// VoteEvent is one immutable audit record describing what a vote did.
type VoteEvent struct {
	MarkerID        string
	ReporterID      string
	Color           Color
	PriorStatus     Status  // StatusNone for a freshly created marker
	ResultingStatus Status  // StatusCleared when the vote removed the marker
	DistanceMeters  float64 // vote-to-marker distance, 0 for created markers
	Timestamp       time.Time
}

// Mutation describes the field changes of a single marker update.
// Nil fields are left untouched.
type Mutation struct {
	Status            *Status
	ConfirmationCount *int
	LastActionAt      *time.Time
	IncrementRed      bool
	IncrementGreen    bool
}

// OutcomeKind tags what a reconciled vote did.
type OutcomeKind string

// Outcome kinds.
const (
	OutcomeCreated   OutcomeKind = "created"   // new marker placed at the vote position
	OutcomeCleared   OutcomeKind = "cleared"   // a red marker was removed
	OutcomeConfirmed OutcomeKind = "confirmed" // an orange marker's pending count moved
	OutcomeResolved  OutcomeKind = "resolved"  // an orange marker settled into a final color
	OutcomeAbsorbed  OutcomeKind = "absorbed"  // vote folded into a marker at the same spot
	OutcomeDuplicate OutcomeKind = "duplicate" // vote id already processed
)

// ClearedMarker identifies a marker removed by a clearing vote.
type ClearedMarker struct {
	MarkerID       string
	Latitude       float64
	Longitude      float64
	DistanceMeters float64
}

// Outcome is the result of reconciling one vote.
type Outcome struct {
	Kind    OutcomeKind
	Marker  *Marker        // surviving marker; nil when Kind is cleared or duplicate
	Cleared *ClearedMarker // set only when Kind is cleared
	Event   *VoteEvent     // audit record written for the vote; nil for duplicate
}
