package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/scamshield/wa-gateway/internal/domain"
	httpserver "github.com/scamshield/wa-gateway/internal/http"
	"github.com/scamshield/wa-gateway/internal/http/handlers"
	"github.com/scamshield/wa-gateway/internal/quota"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type quotaContentionResult struct {
	Workers      int   `json:"workers"`
	AttemptsEach int   `json:"attempts_each"`
	DailyLimit   int   `json:"daily_limit"`
	Allowed      int64 `json:"allowed"`
	Denied       int64 `json:"denied"`
	ExactLimit   bool  `json:"exact_limit"`
}

type runResult struct {
	GeneratedAtUTC  string                `json:"generated_at_utc"`
	Environment     string                `json:"environment"`
	Results         []scenarioResult      `json:"results"`
	QuotaContention quotaContentionResult `json:"quota_contention"`
	SLOEvaluation   map[string]bool       `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	quota  quota.Store
}

// staticConnection serves the operator API without a live transport session.
type staticConnection struct{}

func (staticConnection) Status() domain.ConnectionState {
	return domain.ConnectionState{State: domain.ConnConnected, UpdatedAt: time.Now().UTC()}
}

func (staticConnection) Initialize(context.Context) {}

func (staticConnection) Deauthorize(context.Context) error { return nil }

func main() {
	statusTotal := flag.Int("status-total", 400, "total status requests")
	statusConcurrency := flag.Int("status-concurrency", 32, "concurrency for status requests")
	usageTotal := flag.Int("usage-total", 300, "total usage read requests")
	usageConcurrency := flag.Int("usage-concurrency", 24, "concurrency for usage read requests")
	resetTotal := flag.Int("reset-total", 120, "total usage reset requests")
	resetConcurrency := flag.Int("reset-concurrency", 16, "concurrency for usage reset requests")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env := startBenchmarkEnvironment()
	defer env.server.Close()

	client := &http.Client{Timeout: 10 * time.Second}

	for i := 0; i < 64; i++ {
		identity := fmt.Sprintf("91999%05d", i)
		_, _ = env.quota.CheckAndConsume(context.Background(), identity)
	}

	statusScenario := runScenario("status_read", *statusTotal, *statusConcurrency, func(index int) error {
		return getJSON(client, env.server.URL+"/status", http.StatusOK)
	})

	usageScenario := runScenario("usage_read", *usageTotal, *usageConcurrency, func(index int) error {
		identity := fmt.Sprintf("91999%05d", index%64)
		return getJSON(client, env.server.URL+"/usage/"+identity, http.StatusOK)
	})

	resetScenario := runScenario("usage_reset", *resetTotal, *resetConcurrency, func(index int) error {
		identity := fmt.Sprintf("91999%05d", index%64)
		return postJSON(client, env.server.URL+"/usage/"+identity+"/reset", http.StatusOK)
	})

	contention := runQuotaContentionScenario()
	results := []scenarioResult{
		statusScenario,
		usageScenario,
		resetScenario,
	}

	slo := map[string]bool{
		"status_endpoint_p95_le_200ms": statusScenario.P95MS <= 200,
		"usage_endpoint_p95_le_200ms":  usageScenario.P95MS <= 200,
		"quota_never_over_admits":      contention.ExactLimit,
	}

	report := runResult{
		GeneratedAtUTC:  time.Now().UTC().Format(time.RFC3339Nano),
		Environment:     "local-httptest",
		Results:         results,
		QuotaContention: contention,
		SLOEvaluation:   slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment() *benchmarkEnv {
	logger := log.New(io.Discard, "", 0)

	quotaStore := quota.NewMemoryStore(1000, 7)
	api := handlers.NewAPI(staticConnection{}, quotaStore)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server: server,
		quota:  quotaStore,
	}
}

// runQuotaContentionScenario hammers a single identity from many goroutines
// and verifies admission lands exactly on the daily limit.
func runQuotaContentionScenario() quotaContentionResult {
	const (
		workers      = 32
		attemptsEach = 25
		dailyLimit   = 100
	)

	store := quota.NewMemoryStore(dailyLimit, 7)
	var allowed, denied int64
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < attemptsEach; j++ {
				decision, err := store.CheckAndConsume(context.Background(), "contended-identity")
				if err != nil {
					continue
				}
				mu.Lock()
				if decision.Allowed {
					allowed++
				} else {
					denied++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return quotaContentionResult{
		Workers:      workers,
		AttemptsEach: attemptsEach,
		DailyLimit:   dailyLimit,
		Allowed:      allowed,
		Denied:       denied,
		ExactLimit:   allowed == dailyLimit,
	}
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func postJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
