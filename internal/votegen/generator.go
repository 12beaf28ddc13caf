package votegen

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/okian/beacon/internal/domain/geo"
	"github.com/okian/beacon/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	fullCircleDegrees  = 360.0
)

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// generateVotes creates the specified number of votes scattered around the
// configured center point.
func generateVotes(ctx context.Context, config *Config, stats *Stats) ([]Vote, error) {
	logger.Get().Info(ctx, "generating votes around center",
		logger.Int("numVotes", config.NumVotes),
		logger.Float64("centerLat", config.CenterLat),
		logger.Float64("centerLon", config.CenterLon),
		logger.Float64("spreadM", config.SpreadM))

	votes := make([]Vote, config.NumVotes)

	// Pre-allocate reporter IDs so each vote comes from a distinct reporter
	reporterIDs := make([]string, config.NumVotes)
	for i := 0; i < config.NumVotes; i++ {
		reporterIDs[i] = "reporter_" + uuid.New().String()
	}

	// Generate votes concurrently
	type voteResult struct {
		index int
		vote  Vote
		err   error
	}

	resultChan := make(chan voteResult, config.NumVotes)

	// Use worker pool for vote generation
	workerCount := minInt(config.Workers, config.NumVotes)
	votesPerWorker := config.NumVotes / workerCount

	for worker := 0; worker < workerCount; worker++ {
		start := worker * votesPerWorker
		end := start + votesPerWorker
		if worker == workerCount-1 {
			end = config.NumVotes // Last worker gets remaining votes
		}

		go func(start, end int) {
			for i := start; i < end; i++ {
				select {
				case <-ctx.Done():
					resultChan <- voteResult{index: i, err: ctx.Err()}
					return
				default:
					vote := generateSingleVote(config, i, reporterIDs[i])
					resultChan <- voteResult{index: i, vote: vote, err: nil}
				}
			}
		}(start, end)
	}

	// Collect results
	for i := 0; i < config.NumVotes; i++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during vote generation: %w", ctx.Err())
		case result := <-resultChan:
			if result.err != nil {
				return nil, fmt.Errorf("failed to generate vote %d: %w", result.index, result.err)
			}
			votes[result.index] = result.vote
		}
	}

	stats.VotesGenerated = len(votes)
	logger.Get().Info(ctx, "generated votes successfully", logger.Int("count", len(votes)))

	return votes, nil
}

// generateSingleVote creates a single vote at a random offset from the center.
func generateSingleVote(config *Config, index int, reporterID string) Vote {
	// Scatter the vote uniformly by distance and bearing from the center
	distance := getRandomFloat() * config.SpreadM
	bearing := getRandomFloat() * fullCircleDegrees
	lat, lon := geo.Destination(config.CenterLat, config.CenterLon, distance, bearing)

	color := "green"
	if getRandomFloat() < config.RedRatio {
		color = "red"
	}

	// Generate unique vote ID
	voteID := "vote_" + strconv.FormatInt(int64(index), 10) + "_" + strconv.FormatInt(time.Now().Unix(), 10) + "_" + uuid.New().String()

	return Vote{
		ReporterID: reporterID,
		VoteID:     voteID,
		Latitude:   lat,
		Longitude:  lon,
		Color:      color,
	}
}

// minInt returns the minimum of two integers.
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
