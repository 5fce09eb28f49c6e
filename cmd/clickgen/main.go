package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Config struct {
	TargetURL      string
	Concurrency    int
	Duration       time.Duration
	ZipfS          float64
	ZipfV          float64
	PixelCount     int
	Width          int
	Height         int
	OutputPrefix   string
	RequestTimeout time.Duration
	Seed           int64
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8090", "coordinfo base URL")
	flag.IntVar(&cfg.Concurrency, "concurrency", 8, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.PixelCount, "pixels", 256, "Distinct click pixels in pool")
	flag.IntVar(&cfg.Width, "width", 1024, "Viewport width in px")
	flag.IntVar(&cfg.Height, "height", 768, "Viewport height in px")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/clickgen", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 5*time.Second, "Per-request timeout")
	flag.Int64Var(&cfg.Seed, "seed", 0, "Random seed (0 = time based)")
	flag.Parse()
	return cfg
}

type pixel struct{ X, Y float64 }

// hot pixels cluster around a few screen positions, the rest are uniform
func makePixels(count, width, height int, r *rand.Rand) []pixel {
	hot := [][2]float64{{0.5, 0.5}, {0.3, 0.4}, {0.7, 0.6}}
	out := make([]pixel, 0, count)
	hotCount := max(4, count/4)
	for i := 0; i < hotCount && len(out) < count; i++ {
		c := hot[i%len(hot)]
		out = append(out, pixel{
			X: math.Round(c[0]*float64(width) + (r.Float64()-0.5)*20),
			Y: math.Round(c[1]*float64(height) + (r.Float64()-0.5)*20),
		})
	}
	for len(out) < count {
		out = append(out, pixel{X: float64(r.Intn(width)), Y: float64(r.Intn(height))})
	}
	return out
}

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	ErrorMsg  string
	Pixel     pixel
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	Pixels        int       `json:"pixels"`
	TargetURL     string    `json:"target"`
	FinalFeatures int       `json:"final_features"`
}

type aggregated struct {
	total, success, errors int64
	latMs                  []float64
}

func main() {
	cfg := loadConfig()
	if cfg.Concurrency < 1 || cfg.PixelCount < 1 {
		log.Fatalf("concurrency and pixels must be positive")
	}
	if cfg.ZipfS <= 1 || cfg.ZipfV < 1 {
		log.Fatalf("zipf requires s > 1 and v >= 1")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := fmt.Sprintf("%s_%s", cfg.OutputPrefix, time.Now().UTC().Format("20060102_150405Z"))

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	pixels := makePixels(cfg.PixelCount, cfg.Width, cfg.Height, rand.New(rand.NewSource(seed)))
	clickURL := strings.TrimRight(cfg.TargetURL, "/") + "/click"

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        256,
			MaxIdleConnsPerHost: 128,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer func() { _ = csvFile.Close() }()

	samples := make(chan sample, 4096)
	results := make(chan aggregated, 1)
	go collect(csv.NewWriter(csvFile), samples, results)

	start := time.Now()
	log.Printf("clickgen start target=%s dur=%s conc=%d pixels=%d", clickURL, cfg.Duration, cfg.Concurrency, len(pixels))

	var wg sync.WaitGroup
	for id := range cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			zipf := rand.NewZipf(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, uint64(len(pixels)-1))
			for ctx.Err() == nil {
				p := pixels[zipf.Uint64()]
				s := click(ctx, httpClient, clickURL, p)
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(samples)
	}()

	res := <-results
	end := time.Now()
	elapsed := end.Sub(start).Seconds()
	sort.Float64s(res.latMs)

	out := summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: res.total,
		SuccessCount:  res.success,
		ErrorCount:    res.errors,
		ThroughputRPS: float64(res.total) / elapsed,
		P50Ms:         percentile(res.latMs, 50),
		P95Ms:         percentile(res.latMs, 95),
		P99Ms:         percentile(res.latMs, 99),
		Concurrency:   cfg.Concurrency,
		Pixels:        len(pixels),
		TargetURL:     cfg.TargetURL,
		FinalFeatures: finalCount(httpClient, strings.TrimRight(cfg.TargetURL, "/")+"/state"),
	}

	if f, err := os.Create(filepath.Clean(jsonPath)); err == nil {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		_ = f.Close()
	}
	log.Printf("done: total=%d succ=%d err=%d thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms features=%d",
		out.TotalRequests, out.SuccessCount, out.ErrorCount, out.ThroughputRPS, out.P50Ms, out.P95Ms, out.P99Ms, out.FinalFeatures)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func click(ctx context.Context, c *http.Client, target string, p pixel) sample {
	body, _ := json.Marshal(map[string]any{"pixel": []float64{p.X, p.Y}})
	s := sample{Timestamp: time.Now(), Pixel: p}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	s.Status = resp.StatusCode
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		s.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
	}
	return s
}

func collect(w *csv.Writer, samples <-chan sample, results chan<- aggregated) {
	_ = w.Write([]string{"timestamp", "latency_ms", "status", "error", "x", "y"})
	var agg aggregated
	for s := range samples {
		agg.total++
		ms := float64(s.Latency.Microseconds()) / 1000.0
		if s.ErrorMsg == "" {
			agg.success++
			agg.latMs = append(agg.latMs, ms)
		} else {
			agg.errors++
		}
		_ = w.Write([]string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			fmt.Sprintf("%.3f", ms),
			fmt.Sprintf("%d", s.Status),
			s.ErrorMsg,
			fmt.Sprintf("%.0f", s.Pixel.X),
			fmt.Sprintf("%.0f", s.Pixel.Y),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Printf("csv flush error: %v", err)
	}
	results <- agg
}

// finalCount waits for the last click to settle and returns its feature count
func finalCount(c *http.Client, stateURL string) int {
	for range 50 {
		resp, err := c.Get(stateURL)
		if err != nil {
			return -1
		}
		var st struct {
			Loading bool `json:"loading"`
			Count   int  `json:"count"`
		}
		err = json.NewDecoder(resp.Body).Decode(&st)
		_ = resp.Body.Close()
		if err != nil {
			return -1
		}
		if !st.Loading {
			return st.Count
		}
		time.Sleep(100 * time.Millisecond)
	}
	return -1
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	k := (p / 100.0) * float64(len(sorted)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	d := k - f
	return sorted[i]*(1-d) + sorted[i+1]*d
}
