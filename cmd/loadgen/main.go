// Load generator for exercising a running kestrel instance.
//
// Usage:
//
//	go run cmd/loadgen/main.go -url http://localhost:8080 -project Atlas
//
// This tool:
//  1. Fires concurrent classification, resolve and velocity requests
//  2. Tracks which resilience tier served each classification report
//  3. Reports throughput, latency percentiles and tier distribution
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// tierResult mirrors the classification endpoint's response envelope.
type tierResult struct {
	Tier     string `json:"tier"`
	Degraded bool   `json:"degraded"`
}

// Metrics tracks load-test results.
type Metrics struct {
	TotalRequests int64
	TotalErrors   int64

	PrimaryServed    int64
	FallbackServed   int64
	LastResortServed int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) record(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func (m *Metrics) percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), m.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "kestrel base URL")
	project := flag.String("project", "Atlas", "project to query")
	iteration := flag.String("iteration", "current", "iteration reference")
	requests := flag.Int("n", 1000, "total requests to send")
	workers := flag.Int("workers", 10, "number of concurrent workers")
	verbose := flag.Bool("verbose", false, "print each request result")
	flag.Parse()

	fmt.Println("KESTREL LOADGEN")
	fmt.Printf("\nTarget:    %s\n", *baseURL)
	fmt.Printf("Project:   %s\n", *project)
	fmt.Printf("Requests:  %d\n", *requests)
	fmt.Printf("Workers:   %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("kestrel is healthy")

	target := fmt.Sprintf("%s/reports/classification?project=%s&iteration=%s",
		*baseURL, url.QueryEscape(*project), url.QueryEscape(*iteration))

	fmt.Printf("\nRunning with %d workers...\n", *workers)
	start := time.Now()
	metrics := run(target, *requests, *workers, *verbose)
	duration := time.Since(start)

	printResults(metrics, duration, *baseURL)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func run(target string, requests, workers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for range jobs {
				reqStart := time.Now()
				result, err := fetchOne(client, target)
				elapsed := time.Since(reqStart)

				atomic.AddInt64(&metrics.TotalRequests, 1)
				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("  error: %v\n", err)
					}
					continue
				}

				metrics.record(elapsed)
				switch result.Tier {
				case "primary":
					atomic.AddInt64(&metrics.PrimaryServed, 1)
				case "fallback":
					atomic.AddInt64(&metrics.FallbackServed, 1)
				case "lastResort":
					atomic.AddInt64(&metrics.LastResortServed, 1)
				}

				if verbose {
					fmt.Printf("  %s in %s\n", result.Tier, elapsed)
				}
			}
		}()
	}

	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return metrics
}

func fetchOne(client *http.Client, target string) (*tierResult, error) {
	resp, err := client.Get(target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	var result tierResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration, baseURL string) {
	total := atomic.LoadInt64(&m.TotalRequests)
	errors := atomic.LoadInt64(&m.TotalErrors)

	fmt.Println("\nRESULTS")
	fmt.Printf("  Requests:    %d\n", total)
	fmt.Printf("  Errors:      %d\n", errors)
	fmt.Printf("  Duration:    %s\n", duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Printf("  Throughput:  %.1f req/s\n", float64(total)/duration.Seconds())
	}

	fmt.Println("\n  Tier distribution:")
	fmt.Printf("    primary:    %d\n", atomic.LoadInt64(&m.PrimaryServed))
	fmt.Printf("    fallback:   %d\n", atomic.LoadInt64(&m.FallbackServed))
	fmt.Printf("    lastResort: %d\n", atomic.LoadInt64(&m.LastResortServed))

	fmt.Println("\n  Latency:")
	fmt.Printf("    p50: %s\n", m.percentile(0.50).Round(time.Microsecond))
	fmt.Printf("    p95: %s\n", m.percentile(0.95).Round(time.Microsecond))
	fmt.Printf("    p99: %s\n", m.percentile(0.99).Round(time.Microsecond))

	// Cache counters from the server, for a quick hit-rate sanity check
	resp, err := http.Get(baseURL + "/cache/stats")
	if err == nil {
		defer resp.Body.Close()
		var stats map[string]any
		if json.NewDecoder(resp.Body).Decode(&stats) == nil {
			fmt.Println("\n  Server cache:")
			fmt.Printf("    hits:   %v\n", stats["hits"])
			fmt.Printf("    misses: %v\n", stats["misses"])
		}
	}
	fmt.Println()
}
