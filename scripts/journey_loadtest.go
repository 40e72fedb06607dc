//go:build ignore
// +build ignore

// Journey load test - drives the omnichannel engine HTTP API with mass
// journey creation and measures throughput and latency.
//
// Usage:
//
//	go run scripts/journey_loadtest.go \
//	  --api="http://localhost:8080" \
//	  --template=welcome \
//	  --journeys=10000 \
//	  --workers=16
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type result struct {
	latency time.Duration
	status  int
	err     error
}

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "engine base URL")
	template := flag.String("template", "welcome", "journey template to instantiate")
	journeys := flag.Int("journeys", 10000, "number of journeys to create")
	workers := flag.Int("workers", 16, "concurrent workers")
	flag.Parse()

	log.Printf("load test: %d journeys via %d workers against %s (template %q)",
		*journeys, *workers, *apiURL, *template)

	client := &http.Client{Timeout: 10 * time.Second}
	jobs := make(chan int, *workers*2)
	results := make(chan result, *journeys)
	var created, failed int64

	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				customerID := "load_" + uuid.NewString()
				body, _ := json.Marshal(map[string]any{
					"customer_id": customerID,
					"template":    *template,
					"profile": map[string]any{
						"demographics": map[string]any{"first_name": "Load", "segment": "loadtest"},
						"behavioral":   map[string]any{"days_since_visit": 45},
					},
				})
				t0 := time.Now()
				resp, err := client.Post(*apiURL+"/api/journeys", "application/json", bytes.NewReader(body))
				r := result{latency: time.Since(t0), err: err}
				if err == nil {
					r.status = resp.StatusCode
					resp.Body.Close()
				}
				if r.err != nil || r.status >= 300 {
					atomic.AddInt64(&failed, 1)
				} else {
					atomic.AddInt64(&created, 1)
				}
				results <- r
			}
		}()
	}

	go func() {
		for i := 0; i < *journeys; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	close(results)
	elapsed := time.Since(start)

	latencies := make([]time.Duration, 0, *journeys)
	for r := range results {
		if r.err == nil {
			latencies = append(latencies, r.latency)
		}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Println()
	fmt.Printf("created:    %d\n", created)
	fmt.Printf("failed:     %d\n", failed)
	fmt.Printf("elapsed:    %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("throughput: %.0f journeys/sec\n", float64(created)/elapsed.Seconds())
	if len(latencies) > 0 {
		fmt.Printf("latency p50: %s\n", percentile(latencies, 50))
		fmt.Printf("latency p95: %s\n", percentile(latencies, 95))
		fmt.Printf("latency p99: %s\n", percentile(latencies, 99))
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx].Round(time.Microsecond)
}
