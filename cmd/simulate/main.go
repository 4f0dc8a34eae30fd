package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rimaclabs/appointment-pipeline/internal/db"
)

// simulate drives the HTTP API with concurrent creation and read traffic,
// deliberately replaying a share of (insuredId, scheduleId) pairs to
// exercise the idempotency path, then reports latency stats and the final
// status distribution from the primary store.

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	DuplicateRatio float64
	ReadRatio      float64
	PostgresDSN    string
}

type createdAppointment struct {
	AppointmentID string
	InsuredID     string
}

type bookedPair struct {
	InsuredID  string
	ScheduleID int
	Country    string
}

type DataPool struct {
	mu      sync.RWMutex
	created []createdAppointment
	pairs   []bookedPair
}

func (dp *DataPool) Add(a createdAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.created = append(dp.created, a)
}

func (dp *DataPool) AddPair(p bookedPair) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.pairs = append(dp.pairs, p)
}

func (dp *DataPool) Random() (createdAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.created) == 0 {
		return createdAppointment{}, false
	}
	return dp.created[rand.Intn(len(dp.created))], true
}

func (dp *DataPool) RandomPair() (bookedPair, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.pairs) == 0 {
		return bookedPair{}, false
	}
	return dp.pairs[rand.Intn(len(dp.pairs))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Duplicate int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusOK:
		atomic.AddInt64(&om.Duplicate, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, p50, p95
}

func main() {
	log.SetFlags(log.LstdFlags)
	log.Println("simulate starting")

	sim := SimConfig{
		APIBaseURL:     getEnv("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:       getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:        getIntEnv("SIM_WORKERS", 8),
		DuplicateRatio: getFloatEnv("SIM_DUPLICATE_RATIO", 0.2),
		ReadRatio:      getFloatEnv("SIM_READ_RATIO", 0.3),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
	}

	pool := &DataPool{}
	createMetrics := &OperationMetrics{}
	readMetrics := &OperationMetrics{}

	client := &http.Client{Timeout: 5 * time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), sim.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < sim.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, client, sim, pool, createMetrics, readMetrics)
		}()
	}
	wg.Wait()

	report("create", createMetrics)
	report("read", readMetrics)

	if sim.PostgresDSN != "" {
		reportStatuses(sim.PostgresDSN)
	}
}

func worker(ctx context.Context, client *http.Client, sim SimConfig, pool *DataPool, createM, readM *OperationMetrics) {
	for ctx.Err() == nil {
		r := rand.Float64()
		switch {
		case r < sim.ReadRatio:
			doRead(ctx, client, sim, pool, readM)
		case r < sim.ReadRatio+sim.DuplicateRatio:
			doCreate(ctx, client, sim, pool, createM, true)
		default:
			doCreate(ctx, client, sim, pool, createM, false)
		}
	}
}

func doCreate(ctx context.Context, client *http.Client, sim SimConfig, pool *DataPool, m *OperationMetrics, duplicate bool) {
	insuredID := fmt.Sprintf("%05d", rand.Intn(99999)+1)
	scheduleID := rand.Intn(5000) + 1
	country := "PE"
	if rand.Intn(2) == 1 {
		country = "CL"
	}

	if duplicate {
		if pair, ok := pool.RandomPair(); ok {
			insuredID = pair.InsuredID
			scheduleID = pair.ScheduleID
			country = pair.Country
		}
	} else {
		pool.AddPair(bookedPair{InsuredID: insuredID, ScheduleID: scheduleID, Country: country})
	}

	body, _ := json.Marshal(map[string]any{
		"insuredId":  insuredID,
		"scheduleId": scheduleID,
		"countryISO": country,
	})

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sim.APIBaseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		m.Record(time.Since(start), 0)
		return
	}
	defer resp.Body.Close()
	m.Record(time.Since(start), resp.StatusCode)

	if resp.StatusCode == http.StatusCreated {
		var out struct {
			AppointmentID string `json:"appointmentId"`
			InsuredID     string `json:"insuredId"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err == nil {
			pool.Add(createdAppointment{AppointmentID: out.AppointmentID, InsuredID: out.InsuredID})
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
}

func doRead(ctx context.Context, client *http.Client, sim SimConfig, pool *DataPool, m *OperationMetrics) {
	target, ok := pool.Random()
	if !ok {
		return
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sim.APIBaseURL+"/appointments/"+target.AppointmentID, nil)
	if err != nil {
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		m.Record(time.Since(start), 0)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	m.Record(time.Since(start), resp.StatusCode)
}

func report(name string, m *OperationMetrics) {
	avg, p50, p95 := m.Stats()
	log.Printf("%s: total=%d success=%d duplicate=%d error=%d avg=%s p50=%s p95=%s",
		name, m.Total, m.Success, m.Duplicate, m.Error, avg, p50, p95)
}

// reportStatuses shows how far the async pipeline got: pending rows are
// still in flight, completed rows made the full round trip.
func reportStatuses(dsn string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Printf("status report skipped, postgres unavailable: %v", err)
		return
	}
	defer pool.Close()

	rows, err := pool.Query(ctx, `SELECT status, count(*) FROM appointments GROUP BY status`)
	if err != nil {
		log.Printf("status report query failed: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return
		}
		log.Printf("status %s: %d", status, count)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

