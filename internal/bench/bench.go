// Package bench drives a running gendb HTTP API with simple workloads.
package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

type Result struct {
	TotalOps      int
	SuccessfulOps int
	FailedOps     int
	Duration      time.Duration
	OpsPerSec     float64
	AvgLatency    time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
}

func (r Result) Print(w io.Writer, name string) {
	fmt.Fprintf(w, "%s\n", name)
	fmt.Fprintf(w, "  Total Operations: %d\n", r.TotalOps)
	fmt.Fprintf(w, "  Successful: %d\n", r.SuccessfulOps)
	fmt.Fprintf(w, "  Failed: %d\n", r.FailedOps)
	fmt.Fprintf(w, "  Duration: %v\n", r.Duration)
	fmt.Fprintf(w, "  Operations/sec: %.2f\n", r.OpsPerSec)
	fmt.Fprintf(w, "  Avg Latency: %v\n", r.AvgLatency)
	fmt.Fprintf(w, "  Min Latency: %v\n", r.MinLatency)
	fmt.Fprintf(w, "  Max Latency: %v\n", r.MaxLatency)
}

// Client talks to one node.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) Health() bool {
	resp, err := c.HTTP.Get(c.BaseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) Put(key, value string) error {
	data := url.Values{}
	data.Set("key", key)
	data.Set("value", value)

	req, err := http.NewRequest(http.MethodPut, c.BaseURL+"/api/string", strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) Get(key string) (string, bool, error) {
	resp, err := c.HTTP.Get(c.BaseURL + "/api/string?key=" + url.QueryEscape(key))
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", false, nil
	default:
		return "", false, errors.Newf("unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, errors.Wrap(err, "failed to decode response")
	}
	return result.Value, true, nil
}

// Admin posts to an /admin action such as "flush" or "compact".
func (c *Client) Admin(action string) error {
	resp, err := c.HTTP.Post(c.BaseURL+"/admin/"+action, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("%s: unexpected status: %d", action, resp.StatusCode)
	}
	return nil
}

// Run spreads totalOps calls of op over concurrency goroutines. op gets
// the goroutine id and the per-goroutine operation index.
func Run(totalOps, concurrency int, op func(g, i int) error) Result {
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successful int
		latencies  = make([]time.Duration, 0, totalOps)
	)
	perGoroutine, remainder := totalOps/concurrency, totalOps%concurrency

	start := time.Now()
	for g := 0; g < concurrency; g++ {
		ops := perGoroutine
		if g < remainder {
			ops++
		}
		wg.Add(1)
		go func(g, ops int) {
			defer wg.Done()
			for i := 0; i < ops; i++ {
				opStart := time.Now()
				err := op(g, i)
				latency := time.Since(opStart)

				mu.Lock()
				if err == nil {
					successful++
				}
				latencies = append(latencies, latency)
				mu.Unlock()
			}
		}(g, ops)
	}
	wg.Wait()

	res := Result{
		TotalOps:      totalOps,
		SuccessfulOps: successful,
		FailedOps:     totalOps - successful,
		Duration:      time.Since(start),
	}
	if len(latencies) == 0 {
		return res
	}

	var sum time.Duration
	res.MinLatency, res.MaxLatency = latencies[0], latencies[0]
	for _, l := range latencies {
		res.MinLatency = min(res.MinLatency, l)
		res.MaxLatency = max(res.MaxLatency, l)
		sum += l
	}
	res.AvgLatency = sum / time.Duration(len(latencies))
	res.OpsPerSec = float64(successful) / res.Duration.Seconds()
	return res
}

// Suite runs the standard workload: sequential and concurrent writes and
// reads, with a flush and a compaction in between so reads hit segments.
func Suite(w io.Writer, c *Client, ops, concurrency int) error {
	if !c.Health() {
		return errors.Newf("node %s is not available", c.BaseURL)
	}

	fmt.Fprintf(w, "=== gendb benchmark against %s ===\n\n", c.BaseURL)

	key := func(prefix string, g, i int) string { return fmt.Sprintf("%s_%d_%d", prefix, g, i) }

	Run(ops, 1, func(g, i int) error {
		return c.Put(key("bench", g, i), fmt.Sprintf("value_%d", i))
	}).Print(w, fmt.Sprintf("Sequential writes (%d operations)", ops))

	Run(ops, concurrency, func(g, i int) error {
		return c.Put(key("bench_concurrent", g, i), fmt.Sprintf("value_%d", i))
	}).Print(w, fmt.Sprintf("Concurrent writes (%d operations, %d goroutines)", ops, concurrency))

	if err := c.Admin("flush"); err != nil {
		return err
	}
	if err := c.Admin("compact"); err != nil {
		return err
	}

	read := func(g, i int) error {
		_, found, err := c.Get(key("bench", 0, (g*ops/max(concurrency, 1)+i)%ops))
		if err == nil && !found {
			err = errors.New("key not found")
		}
		return err
	}
	Run(ops, 1, read).Print(w, fmt.Sprintf("Sequential reads (%d operations)", ops))
	Run(ops, concurrency, read).Print(w, fmt.Sprintf("Concurrent reads (%d operations, %d goroutines)", ops, concurrency))

	fmt.Fprintln(w, "\n=== Benchmark Complete ===")
	return nil
}
