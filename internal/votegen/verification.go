package votegen

import (
	"context"
	"fmt"
	"log"
	"sort"
)

// verifyResults checks the reconciled marker set for invariant violations.
func verifyResults(_ context.Context, config *Config, markers []Marker, stats *Stats) error {
	log.Println("🔍 Verifying results...")

	if len(markers) == 0 {
		return fmt.Errorf("no markers to verify")
	}

	violations := 0
	for _, m := range markers {
		for _, problem := range checkMarkerInvariants(m) {
			violations++
			log.Printf("⚠️  Marker %s: %s", m.ID, problem)
		}
	}

	if violations > 0 {
		return fmt.Errorf("found %d invariant violations across %d markers", violations, len(markers))
	}
	log.Printf("✅ All %d markers satisfy reconciliation invariants", len(markers))

	displayMarkerSummary(markers, stats, config.Verbose)

	log.Println("✅ Result verification completed")
	return nil
}

// checkMarkerInvariants returns a description of every invariant the
// given marker violates.
func checkMarkerInvariants(m Marker) []string {
	var problems []string

	switch m.Status {
	case "green", "red", "orange":
	default:
		problems = append(problems, fmt.Sprintf("unexpected status %q", m.Status))
	}

	if m.ConfirmationCount < 0 {
		problems = append(problems, fmt.Sprintf("negative confirmation count %d", m.ConfirmationCount))
	}
	if m.RedPressCount < 0 || m.GreenPressCount < 0 {
		problems = append(problems, fmt.Sprintf("negative press counts red=%d green=%d", m.RedPressCount, m.GreenPressCount))
	}

	// A confirmation tally only accumulates while a marker is awaiting
	// confirmation; resolved markers start over at zero.
	if m.Status != "orange" && m.ConfirmationCount != 0 {
		problems = append(problems, fmt.Sprintf("non-orange marker carries confirmation count %d", m.ConfirmationCount))
	}

	if m.Latitude < -90 || m.Latitude > 90 || m.Longitude < -180 || m.Longitude > 180 {
		problems = append(problems, fmt.Sprintf("coordinates out of range (%f, %f)", m.Latitude, m.Longitude))
	}

	return problems
}

// displayMarkerSummary shows the busiest markers and status distribution.
func displayMarkerSummary(markers []Marker, stats *Stats, verbose bool) {
	statusCounts := make(map[string]int)
	for _, m := range markers {
		statusCounts[m.Status]++
	}
	log.Printf("🗺️  Marker statuses: green=%d red=%d orange=%d",
		statusCounts["green"], statusCounts["red"], statusCounts["orange"])

	// Sort by total presses (descending) to find the busiest markers
	sorted := make([]Marker, len(markers))
	copy(sorted, markers)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RedPressCount+sorted[i].GreenPressCount >
			sorted[j].RedPressCount+sorted[j].GreenPressCount
	})

	topN := 10
	if len(sorted) < topN {
		topN = len(sorted)
	}

	log.Printf("🏆 Top %d busiest markers:", topN)
	for i := 0; i < topN; i++ {
		m := sorted[i]
		log.Printf("   %d. %s [%s] - red: %d, green: %d", i+1, m.ID, m.Status, m.RedPressCount, m.GreenPressCount)
	}

	if verbose {
		if len(stats.OutcomeCounts) > 0 {
			log.Printf(`📊 Outcome distribution:
   Created: %d
   Cleared: %d
   Confirmed: %d
   Resolved: %d
   Absorbed: %d
   Duplicate: %d
`, stats.OutcomeCounts["created"], stats.OutcomeCounts["cleared"],
				stats.OutcomeCounts["confirmed"], stats.OutcomeCounts["resolved"],
				stats.OutcomeCounts["absorbed"], stats.OutcomeCounts["duplicate"])
		}

		avgPresses := calculateAveragePresses(markers)
		log.Printf("📊 Average presses per marker: %.2f", avgPresses)
	}
}

// calculateAveragePresses calculates the average press count across markers.
func calculateAveragePresses(markers []Marker) float64 {
	if len(markers) == 0 {
		return 0
	}

	sum := 0
	for _, m := range markers {
		sum += m.RedPressCount + m.GreenPressCount
	}

	return float64(sum) / float64(len(markers))
}
