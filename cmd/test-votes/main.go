package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/beacon/internal/votegen"
)

// Default configuration constants.
const (
	defaultNumVotes    = 10000
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
	defaultCenterLat   = 52.52
	defaultCenterLon   = 13.405
	defaultSpreadM     = 5000.0
	defaultRedRatio    = 0.6
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		numVotes   = flag.Int("votes", defaultNumVotes, "Number of votes to generate and submit")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		centerLat  = flag.Float64("lat", defaultCenterLat, "Latitude of the vote cluster center")
		centerLon  = flag.Float64("lon", defaultCenterLon, "Longitude of the vote cluster center")
		spreadM    = flag.Float64("spread", defaultSpreadM, "Max distance of a vote from the center in meters")
		redRatio   = flag.Float64("red", defaultRedRatio, "Fraction of votes pressing red (0..1)")
		outputFile = flag.String("output", "", "Output file for generated votes (default: generated_votes_TIMESTAMP.json)")
		logFile    = flag.String("log", "", "Log file for test output (default: test_log_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		votegen.ShowHelp()
		return
	}

	// Setup logging
	if err := votegen.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	// Create test configuration
	config := &votegen.Config{
		BaseURL:    *baseURL,
		NumVotes:   *numVotes,
		Workers:    *workers,
		Timeout:    *timeout,
		CenterLat:  *centerLat,
		CenterLon:  *centerLon,
		SpreadM:    *spreadM,
		RedRatio:   *redRatio,
		OutputFile: *outputFile,
		LogFile:    *logFile,
		Verbose:    *verbose,
	}

	// Run the test
	if err := votegen.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		return
	}
}
