package votegen

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/okian/beacon/pkg/logger"
)

// File permission constants.
const (
	logFilePermission = 0600
)

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	// Initialize the logger first
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "test_log_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the test votes tool.
func ShowHelp() {
	os.Stdout.WriteString(`Beacon Vote Test Tool
=====================

A concurrent tool for load-testing the beacon marker reconciliation service.

Usage:
  go run cmd/test-votes/main.go [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -votes int
        Number of votes to generate and submit (default 10000)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -lat float
        Latitude of the vote cluster center (default 52.52)
  -lon float
        Longitude of the vote cluster center (default 13.405)
  -spread float
        Max distance of a vote from the center, meters (default 5000)
  -red float
        Fraction of votes pressing red, 0..1 (default 0.6)
  -output string
        Output file for generated votes (default: generated_votes_TIMESTAMP.json)
  -log string
        Log file for test output (default: test_log_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Test with default settings
  go run cmd/test-votes/main.go

  # Dense cluster around a point, mostly red
  go run cmd/test-votes/main.go -votes 50000 -spread 1000 -red 0.8

  # Test with verbose output against a local instance
  go run cmd/test-votes/main.go -verbose -votes 10000 -url http://localhost:8080
`)
}
