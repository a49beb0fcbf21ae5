// Package main provides aioq-bench, a benchmark tool for the aioq queue.
//
// It seeds a temporary data file, submits a configurable mix of
// deadline-free and deadlined reads, and reports per-request latency. The
// report is printed to stdout and optionally written as JSON.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/aioq/pkg/aioq"
	"github.com/calvinalkan/aioq/pkg/sysio"
)

// benchConfig holds all benchmark configuration.
type benchConfig struct {
	FileSize     int64
	Count        int
	ReadSize     int
	Chunk        int64
	DeadlineFrac float64
	Submitters   int
	Seed         uint64
	Out          string
}

// latencyStats summarizes a set of request latencies.
type latencyStats struct {
	Count  int     `json:"count"`
	MeanUs float64 `json:"mean_us"`
	MinUs  float64 `json:"min_us"`
	MaxUs  float64 `json:"max_us"`
	P50Us  float64 `json:"p50_us"`
	P95Us  float64 `json:"p95_us"`
	P99Us  float64 `json:"p99_us"`
}

// report is the JSON document written with --out.
type report struct {
	Timestamp    string       `json:"timestamp"`
	GoOS         string       `json:"goos"`
	GoArch       string       `json:"goarch"`
	FileSize     int64        `json:"file_size"`
	Count        int          `json:"count"`
	ReadSize     int          `json:"read_size"`
	Chunk        int64        `json:"chunk"`
	DeadlineFrac float64      `json:"deadline_frac"`
	Submitters   int          `json:"submitters"`
	ElapsedMs    float64      `json:"elapsed_ms"`
	Throughput   float64      `json:"requests_per_sec"`
	Deadlined    latencyStats `json:"deadlined"`
	DeadlineFree latencyStats `json:"deadline_free"`
}

func main() {
	cfg := benchConfig{}

	flag.Int64Var(&cfg.FileSize, "file-size", 64<<20, "Size of the seeded data file in bytes")
	flag.IntVar(&cfg.Count, "count", 10000, "Total number of read requests")
	flag.IntVar(&cfg.ReadSize, "read-size", 64<<10, "Bytes per read request")
	flag.Int64Var(&cfg.Chunk, "chunk", aioq.DefaultChunkLimit, "Worker chunk limit in bytes")
	flag.Float64Var(&cfg.DeadlineFrac, "deadline-frac", 0.25, "Fraction of requests submitted with a deadline")
	flag.IntVar(&cfg.Submitters, "submitters", 4, "Concurrent submitter goroutines")
	flag.Uint64Var(&cfg.Seed, "seed", 1, "Seed for offset and deadline selection")
	flag.StringVar(&cfg.Out, "out", "", "Write a JSON report to this path")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: aioq-bench [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Benchmarks aioq read throughput and latency under a mixed deadline workload.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := validate(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	rep, err := runBench(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchmark failed: %v\n", err)
		os.Exit(1)
	}

	printReport(rep)

	if cfg.Out != "" {
		if err := writeReport(cfg.Out, rep); err != nil {
			fmt.Fprintf(os.Stderr, "writing report: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\nreport written to %s\n", cfg.Out)
	}
}

func validate(cfg *benchConfig) error {
	if cfg.FileSize <= 0 || cfg.Count <= 0 || cfg.ReadSize <= 0 || cfg.Submitters <= 0 {
		return fmt.Errorf("file-size, count, read-size and submitters must be positive")
	}

	if int64(cfg.ReadSize) > cfg.FileSize {
		return fmt.Errorf("read-size %d exceeds file-size %d", cfg.ReadSize, cfg.FileSize)
	}

	if cfg.DeadlineFrac < 0 || cfg.DeadlineFrac > 1 {
		return fmt.Errorf("deadline-frac must be in [0,1]")
	}

	if cfg.Chunk <= 0 {
		return fmt.Errorf("chunk must be positive")
	}

	return nil
}

// seedDataFile writes cfg.FileSize pseudo-random bytes to a temp file and
// returns its path.
func seedDataFile(cfg *benchConfig) (string, error) {
	dir, err := os.MkdirTemp("", "aioq-bench-*")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "data")

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	buf := make([]byte, 1<<20)

	remaining := cfg.FileSize
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}

		for i := range buf[:n] {
			buf[i] = byte(rng.UintN(256))
		}

		if _, err := f.Write(buf[:n]); err != nil {
			return "", err
		}

		remaining -= n
	}

	return path, f.Sync()
}

func runBench(cfg *benchConfig) (*report, error) {
	fmt.Fprintf(os.Stderr, "seeding %d MiB data file...\n", cfg.FileSize>>20)

	path, err := seedDataFile(cfg)
	if err != nil {
		return nil, fmt.Errorf("seeding data file: %w", err)
	}
	defer os.RemoveAll(filepath.Dir(path))

	platform := sysio.NewReal()

	q, err := aioq.New(aioq.Options{Platform: platform, ChunkLimit: cfg.Chunk})
	if err != nil {
		return nil, err
	}
	defer q.Close()

	id, err := q.SubmitOpen(path, unix.O_RDONLY, -1)
	if err != nil {
		return nil, err
	}

	res, err := q.Wait(id)
	if err != nil {
		return nil, fmt.Errorf("opening data file: %w", err)
	}

	fd := aioq.HandleFromResult(res)
	defer platform.Close(fd)

	fmt.Fprintf(os.Stderr, "running %d reads across %d submitters...\n", cfg.Count, cfg.Submitters)

	perSubmitter := cfg.Count / cfg.Submitters

	var (
		mu           sync.Mutex
		deadlined    []time.Duration
		deadlineFree []time.Duration
	)

	start := time.Now()

	var wg sync.WaitGroup

	for s := range cfg.Submitters {
		wg.Add(1)

		go func() {
			defer wg.Done()

			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(s)))
			buf := make([]byte, cfg.ReadSize)

			localDeadlined := make([]time.Duration, 0, perSubmitter)
			localFree := make([]time.Duration, 0, perSubmitter)

			maxOff := uint64(cfg.FileSize - int64(cfg.ReadSize) + 1)

			for range perSubmitter {
				off := int64(rng.Uint64N(maxOff))

				deadline := -1.0
				hasDeadline := rng.Float64() < cfg.DeadlineFrac

				if hasDeadline {
					deadline = float64(rng.UintN(50)) / 1000.0
				}

				reqStart := time.Now()

				id, err := q.SubmitRead(fd, buf, off, deadline)
				if err != nil {
					fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)

					return
				}

				n, err := q.Wait(id)
				if err != nil {
					fmt.Fprintf(os.Stderr, "read failed: %v\n", err)

					return
				}

				if n != int64(cfg.ReadSize) {
					fmt.Fprintf(os.Stderr, "short read: got %d bytes, want %d\n", n, cfg.ReadSize)

					return
				}

				lat := time.Since(reqStart)

				if hasDeadline {
					localDeadlined = append(localDeadlined, lat)
				} else {
					localFree = append(localFree, lat)
				}
			}

			mu.Lock()
			deadlined = append(deadlined, localDeadlined...)
			deadlineFree = append(deadlineFree, localFree...)
			mu.Unlock()
		}()
	}

	wg.Wait()

	elapsed := time.Since(start)
	total := len(deadlined) + len(deadlineFree)

	return &report{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		GoOS:         runtime.GOOS,
		GoArch:       runtime.GOARCH,
		FileSize:     cfg.FileSize,
		Count:        total,
		ReadSize:     cfg.ReadSize,
		Chunk:        cfg.Chunk,
		DeadlineFrac: cfg.DeadlineFrac,
		Submitters:   cfg.Submitters,
		ElapsedMs:    float64(elapsed.Microseconds()) / 1000.0,
		Throughput:   float64(total) / elapsed.Seconds(),
		Deadlined:    summarize(deadlined),
		DeadlineFree: summarize(deadlineFree),
	}, nil
}

// summarize computes latency statistics in microseconds.
func summarize(lats []time.Duration) latencyStats {
	if len(lats) == 0 {
		return latencyStats{}
	}

	sort.Slice(lats, func(i, j int) bool { return lats[i] < lats[j] })

	us := func(d time.Duration) float64 {
		return float64(d.Nanoseconds()) / 1000.0
	}

	var sum time.Duration
	for _, l := range lats {
		sum += l
	}

	pct := func(p float64) float64 {
		idx := int(p * float64(len(lats)-1))

		return us(lats[idx])
	}

	return latencyStats{
		Count:  len(lats),
		MeanUs: us(sum) / float64(len(lats)),
		MinUs:  us(lats[0]),
		MaxUs:  us(lats[len(lats)-1]),
		P50Us:  pct(0.50),
		P95Us:  pct(0.95),
		P99Us:  pct(0.99),
	}
}

func printReport(rep *report) {
	fmt.Printf("aioq-bench %s (%s/%s)\n\n", rep.Timestamp, rep.GoOS, rep.GoArch)
	fmt.Printf("requests:    %d (%d-byte reads, chunk %d)\n", rep.Count, rep.ReadSize, rep.Chunk)
	fmt.Printf("elapsed:     %.1f ms\n", rep.ElapsedMs)
	fmt.Printf("throughput:  %.0f req/s\n\n", rep.Throughput)

	printStats("deadlined", rep.Deadlined)
	printStats("deadline-free", rep.DeadlineFree)
}

func printStats(label string, s latencyStats) {
	if s.Count == 0 {
		fmt.Printf("%-14s (none)\n", label+":")

		return
	}

	fmt.Printf("%-14s n=%-7d mean=%.1fus p50=%.1fus p95=%.1fus p99=%.1fus max=%.1fus\n",
		label+":", s.Count, s.MeanUs, s.P50Us, s.P95Us, s.P99Us, s.MaxUs)
}

// writeReport writes the JSON report atomically so a crash mid-write never
// leaves a truncated file.
func writeReport(path string, rep *report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}

	data = append(data, '\n')

	return atomic.WriteFile(path, bytes.NewReader(data))
}
