package votegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client  *http.Client
	timeout time.Duration
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(url string) (*http.Response, error) {
	return c.client.Get(url)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(url string, body interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// submitVotes submits votes concurrently using worker pools
func submitVotes(ctx context.Context, config *Config, votes []Vote, stats *Stats) error {
	log.Printf("📤 Submitting %d votes with %d workers...", len(votes), config.Workers)

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/votes"

	// Counters for statistics
	var (
		successful int64
		rejected   int64
		failed     int64
		submitted  int64
	)

	// Reconciliation outcomes per kind, guarded separately from the
	// atomic counters.
	var outcomeMu sync.Mutex
	outcomes := make(map[string]int)

	// Progress reporting
	var lastReport time.Time
	reportInterval := 1 * time.Second

	// Create worker pool
	voteChan := make(chan Vote, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for vote := range voteChan {
				select {
				case <-ctx.Done():
					return
				default:
					result, kind := submitSingleVote(client, url, vote)

					// Update counters
					atomic.AddInt64(&submitted, 1)
					switch result {
					case "success":
						atomic.AddInt64(&successful, 1)
					case "rejected":
						atomic.AddInt64(&rejected, 1)
					case "failed":
						atomic.AddInt64(&failed, 1)
					}
					if kind != "" {
						outcomeMu.Lock()
						outcomes[kind]++
						outcomeMu.Unlock()
					}

					// Progress reporting
					if time.Since(lastReport) >= reportInterval {
						lastReport = time.Now()
						total := atomic.LoadInt64(&submitted)
						succ := atomic.LoadInt64(&successful)
						rej := atomic.LoadInt64(&rejected)
						fail := atomic.LoadInt64(&failed)

						if config.Verbose {
							log.Printf("📊 Progress: %d/%d submitted (success: %d, rejected: %d, failed: %d)",
								total, len(votes), succ, rej, fail)
						} else {
							fmt.Printf("\r📤 Submitted: %d/%d (success: %d, rejected: %d, failed: %d)",
								total, len(votes), succ, rej, fail)
						}
					}
				}
			}
		}(i)
	}

	// Send votes to workers
	go func() {
		defer close(voteChan)
		for _, vote := range votes {
			select {
			case <-ctx.Done():
				return
			case voteChan <- vote:
			}
		}
	}()

	// Wait for all workers to complete
	wg.Wait()

	// Final progress report
	if !config.Verbose {
		fmt.Println() // New line after progress indicator
	}

	// Update stats
	stats.VotesSubmitted = int(atomic.LoadInt64(&submitted))
	stats.VotesSuccessful = int(atomic.LoadInt64(&successful))
	stats.VotesRejected = int(atomic.LoadInt64(&rejected))
	stats.VotesFailed = int(atomic.LoadInt64(&failed))
	stats.OutcomeCounts = outcomes

	log.Printf(`✅ Vote submission completed:
   Successful: %d
   Rejected: %d
   Failed: %d
`, stats.VotesSuccessful, stats.VotesRejected, stats.VotesFailed)

	return nil
}

// submitSingleVote submits a single vote and returns the result class
// along with the reconciliation outcome kind if one was reported.
func submitSingleVote(client *HTTPClient, url string, vote Vote) (string, string) {
	resp, err := client.Post(url, vote)
	if err != nil {
		return "failed", ""
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return "failed", ""
	}

	switch {
	case resp.StatusCode == StatusOK:
		var outcome OutcomeResponse
		if err := json.Unmarshal(body, &outcome); err == nil && outcome.Kind != "" {
			return "success", outcome.Kind
		}
		return "success", ""
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Validation, auth or backpressure rejections
		return "rejected", ""
	default:
		return "failed", ""
	}
}
