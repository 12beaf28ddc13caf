package votegen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/beacon/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
)

// Run executes the complete vote test.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime:     time.Now(),
		OutcomeCounts: make(map[string]int),
	}

	logger.Get().Info(ctx, "starting beacon vote test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("votes", config.NumVotes),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()),
		logger.Float64("centerLat", config.CenterLat),
		logger.Float64("centerLon", config.CenterLon),
		logger.Float64("spreadM", config.SpreadM),
		logger.Float64("redRatio", config.RedRatio),
		logger.String("logFile", config.LogFile),
		logger.Any("verbose", config.Verbose))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate votes
	votes, err := generateVotes(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("vote generation failed: %w", err)
	}

	// Step 3: Submit votes concurrently
	if err := submitVotes(ctx, config, votes, stats); err != nil {
		return fmt.Errorf("vote submission failed: %w", err)
	}

	// Step 4: Wait for processing
	logger.Get().Info(ctx, "waiting for votes to be reconciled")
	time.Sleep(ProcessingDelay)

	// Step 5: Fetch the resulting marker set
	markers, err := fetchMarkers(ctx, config, stats)
	if err != nil {
		return fmt.Errorf("marker retrieval failed: %w", err)
	}

	// Step 6: Verify results
	if err := verifyResults(ctx, config, markers, stats); err != nil {
		return fmt.Errorf("result verification failed: %w", err)
	}

	// Step 7: Save votes to file
	if err := saveVotesToFile(ctx, config, votes); err != nil {
		logger.Get().Warn(ctx, "failed to save votes to file", logger.Error(err))
	}

	// Final statistics
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	logger.Get().Info(ctx, "test completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/healthz"

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close response body", logger.Error(err))
		}
	}()

	// Accept any 200 response as healthy (the service returns Prometheus metrics)
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// fetchMarkers retrieves the full marker set after reconciliation.
func fetchMarkers(ctx context.Context, config *Config, stats *Stats) ([]Marker, error) {
	logger.Get().Info(ctx, "fetching markers")

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/markers"

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markers: %w", err)
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read markers response: %w", err)
	}

	if resp.StatusCode != StatusOK {
		return nil, fmt.Errorf("marker fetch failed with status: %d", resp.StatusCode)
	}

	var markers []Marker
	if err := json.Unmarshal(body, &markers); err != nil {
		return nil, fmt.Errorf("failed to decode markers: %w", err)
	}

	stats.MarkersFetched = len(markers)
	logger.Get().Info(ctx, "fetched markers", logger.Int("count", len(markers)))

	return markers, nil
}

// saveVotesToFile saves the generated votes to a JSON file.
func saveVotesToFile(ctx context.Context, config *Config, votes []Vote) error {
	if len(votes) == 0 {
		return fmt.Errorf("no votes to save")
	}

	// Determine output filename
	filename := config.OutputFile
	if filename == "" {
		timestamp := time.Now().Format("20060102_150405")
		filename = "generated_votes_" + timestamp + ".json"
	}

	// Ensure the directory exists
	dir := filepath.Dir(filename)
	if dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Write votes to file
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close file", logger.Error(err))
		}
	}()

	// Write JSON array
	if _, err := file.WriteString("[\n"); err != nil {
		return fmt.Errorf("failed to write opening bracket: %w", err)
	}

	for i, vote := range votes {
		jsonData, err := json.Marshal(vote)
		if err != nil {
			return fmt.Errorf("failed to marshal vote %d: %w", i, err)
		}

		if _, err := file.Write(jsonData); err != nil {
			return fmt.Errorf("failed to write vote %d: %w", i, err)
		}

		// Add comma except for last vote
		if i < len(votes)-1 {
			if _, err := file.WriteString(","); err != nil {
				return fmt.Errorf("failed to write comma: %w", err)
			}
		}
		_, _ = file.WriteString("\n")
	}

	if _, err := file.WriteString("]\n"); err != nil {
		return fmt.Errorf("failed to write closing bracket: %w", err)
	}

	logger.Get().Info(ctx, "votes saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats prints the final test statistics.
func displayFinalStats(stats *Stats) {
	var successRate, votesPerSecond float64

	if stats.VotesSubmitted > 0 {
		successRate = float64(stats.VotesSuccessful) / float64(stats.VotesSubmitted) * PercentageMultiplier
	}

	if stats.Duration > 0 {
		votesPerSecond = float64(stats.VotesSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("votesGenerated", stats.VotesGenerated),
		logger.Int("votesSubmitted", stats.VotesSubmitted),
		logger.Int("votesSuccessful", stats.VotesSuccessful),
		logger.Int("votesRejected", stats.VotesRejected),
		logger.Int("votesFailed", stats.VotesFailed),
		logger.Int("markersFetched", stats.MarkersFetched),
		logger.Any("outcomes", stats.OutcomeCounts),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("successRate", successRate),
		logger.Float64("votesPerSecond", votesPerSecond))
}
