package votegen

import "time"

// Config holds configuration for the vote load test.
type Config struct {
	BaseURL    string        // Base URL of the service
	NumVotes   int           // Number of votes to generate
	Workers    int           // Number of concurrent workers
	Timeout    time.Duration // HTTP request timeout
	CenterLat  float64       // Latitude of the vote cluster center
	CenterLon  float64       // Longitude of the vote cluster center
	SpreadM    float64       // Max distance of a vote from the center in meters
	RedRatio   float64       // Fraction of votes that press red (0..1)
	OutputFile string        // Output file for the generated votes
	LogFile    string        // Log file for test output
	Verbose    bool          // Enable verbose logging
}

// Vote is the wire shape submitted to POST /votes.
type Vote struct {
	ReporterID string  `json:"reporter_id"`
	VoteID     string  `json:"vote_id"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Color      string  `json:"color"`
}

// Marker mirrors the view returned by GET /markers.
type Marker struct {
	ID                string  `json:"id"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Status            string  `json:"status"`
	ConfirmationCount int     `json:"confirmation_count"`
	RedPressCount     int     `json:"red_press_count"`
	GreenPressCount   int     `json:"green_press_count"`
}

// OutcomeResponse is the reply from a reconciled vote.
type OutcomeResponse struct {
	Kind string `json:"kind"`
}

// Stats holds test statistics.
type Stats struct {
	VotesGenerated  int
	VotesSubmitted  int
	VotesSuccessful int
	VotesRejected   int
	VotesFailed     int
	OutcomeCounts   map[string]int
	MarkersFetched  int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
