package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/appointment"
	"github.com/hackgods/slot-waitlist-scheduling/internal/auth"
	"github.com/hackgods/slot-waitlist-scheduling/internal/config"
	"github.com/hackgods/slot-waitlist-scheduling/internal/db"
	"github.com/hackgods/slot-waitlist-scheduling/internal/logger"
	redisclient "github.com/hackgods/slot-waitlist-scheduling/internal/redis"
	"github.com/hackgods/slot-waitlist-scheduling/internal/waitlist"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookRatio       float64
	CancelRatio     float64
	RescheduleRatio float64
	ReadRatio       float64
	UserLimit       int
	SlotLimit       int
}

type simUser struct {
	id    uuid.UUID
	token string
}

type simSlot struct {
	id         uuid.UUID
	providerID uuid.UUID
}

type ownedAppointment struct {
	id         uuid.UUID
	user       int
	providerID uuid.UUID
}

type DataPool struct {
	Users []simUser
	Slots []simSlot

	mu           sync.Mutex
	appointments []ownedAppointment
}

func (dp *DataPool) AddAppointment(a ownedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

// TakeAppointment removes and returns a random tracked appointment.
func (dp *DataPool) TakeAppointment(rng *rand.Rand) (ownedAppointment, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return ownedAppointment{}, false
	}
	idx := rng.Intn(len(dp.appointments))
	a := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return a, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Throttled int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil:
		atomic.AddInt64(&om.Error, 1)
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status == http.StatusTooManyRequests:
		atomic.AddInt64(&om.Throttled, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Book       OperationMetrics
	Cancel     OperationMetrics
	Reschedule OperationMetrics
	ListSlots  OperationMetrics
	ListMine   OperationMetrics

	Booked int64
	Queued int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	lg, err := logger.New(baseCfg.LogLevel, baseCfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		lg.Fatal("invalid config", zap.Error(err))
	}

	lg.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("book", cfg.BookRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("reschedule", cfg.RescheduleRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN)
	if err != nil {
		lg.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	tokens := auth.NewJWTManager(baseCfg.JWTSecret, baseCfg.JWTIssuer)
	dataPool, err := loadDataPool(ctx, pgPool, tokens, cfg)
	if err != nil {
		lg.Fatal("load data pool", zap.Error(err))
	}
	lg.Info("data pool loaded", zap.Int("users", len(dataPool.Users)), zap.Int("slots", len(dataPool.Slots)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	sim.Run()
	sim.PrintReport()

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancelCheck()

	rdb, err := redisclient.NewRedisClient(checkCtx, redisclient.Options{
		Addr:     baseCfg.RedisAddr,
		Username: baseCfg.RedisUsername,
		Password: baseCfg.RedisPassword,
	})
	if err != nil {
		lg.Fatal("connect redis", zap.Error(err))
	}
	defer rdb.Close()

	violations, err := checkInvariants(checkCtx, pgPool, waitlist.NewRedisQueue(rdb), dataPool.Slots)
	if err != nil {
		lg.Fatal("invariant check", zap.Error(err))
	}
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Println("  VIOLATION:", v)
		}
		os.Exit(1)
	}
	fmt.Println("Invariants: OK")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 10),
		BookRatio:       getFloat("SIM_BOOK_RATIO", 0.5),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.2),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.2),
		UserLimit:       getInt("SIM_USER_LIMIT", 500),
		SlotLimit:       getInt("SIM_SLOT_LIMIT", 200),
	}

	total := cfg.BookRatio + cfg.CancelRatio + cfg.RescheduleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.CancelRatio /= total
		cfg.RescheduleRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, tokens *auth.JWTManager, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM users WHERE role = 'user' LIMIT $1`, cfg.UserLimit)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		tok, err := tokens.Issue(auth.Identity{UserID: id, Role: appointment.RoleUser}, cfg.Duration+time.Hour)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("issue token: %w", err)
		}
		dataPool.Users = append(dataPool.Users, simUser{id: id, token: tok})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// few slots, many users: contention is the point
	rows, err = pool.Query(ctx, `
		SELECT id, provider_id FROM slots
		WHERE start_time > now()
		ORDER BY start_time
		LIMIT $1
	`, cfg.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var s simSlot
		if err := rows.Scan(&s.id, &s.providerID); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Users) == 0 {
		return nil, fmt.Errorf("no users loaded")
	}
	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no future slots loaded")
	}
	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	c := s.config

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < c.BookRatio:
			s.doBook(ctx, rng)
		case r < c.BookRatio+c.CancelRatio:
			s.doCancel(ctx, rng)
		case r < c.BookRatio+c.CancelRatio+c.RescheduleRatio:
			s.doReschedule(ctx, rng)
		default:
			if rng.Intn(2) == 0 {
				s.doListSlots(ctx, rng)
			} else {
				s.doListMine(ctx, rng)
			}
		}
	}
}

type bookingBody struct {
	Status      string `json:"status"`
	Appointment *struct {
		ID uuid.UUID `json:"id"`
	} `json:"appointment"`
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body any, out any) (int, time.Duration, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency, nil
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	userIdx := rng.Intn(len(s.pool.Users))
	user := s.pool.Users[userIdx]
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	var out bookingBody
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments", user.token, map[string]string{
		"provider_id": slot.providerID.String(),
		"slot_id":     slot.id.String(),
	}, &out)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Book.Record(latency, status, err)

	if err != nil || out.Appointment == nil {
		return
	}
	switch status {
	case http.StatusCreated:
		atomic.AddInt64(&s.metrics.Booked, 1)
	case http.StatusAccepted:
		atomic.AddInt64(&s.metrics.Queued, 1)
	default:
		return
	}
	s.pool.AddAppointment(ownedAppointment{id: out.Appointment.ID, user: userIdx, providerID: slot.providerID})
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}
	status, latency, err := s.call(ctx, http.MethodDelete, "/appointments/"+a.id.String(), s.pool.Users[a.user].token, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Cancel.Record(latency, status, err)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	a, ok := s.pool.TakeAppointment(rng)
	if !ok {
		return
	}

	var target *simSlot
	for i := 0; i < 10; i++ {
		cand := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
		if cand.providerID == a.providerID {
			target = &cand
			break
		}
	}
	if target == nil {
		s.pool.AddAppointment(a)
		return
	}

	status, latency, err := s.call(ctx, http.MethodPost, "/appointments/"+a.id.String()+"/reschedule",
		s.pool.Users[a.user].token, map[string]string{"new_slot_id": target.id.String()}, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Reschedule.Record(latency, status, err)
	if err == nil && status < 500 {
		s.pool.AddAppointment(a)
	}
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	user := s.pool.Users[rng.Intn(len(s.pool.Users))]
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	status, latency, err := s.call(ctx, http.MethodGet, "/slots?provider_id="+slot.providerID.String(), user.token, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ListSlots.Record(latency, status, err)
}

func (s *Simulator) doListMine(ctx context.Context, rng *rand.Rand) {
	user := s.pool.Users[rng.Intn(len(s.pool.Users))]
	status, latency, err := s.call(ctx, http.MethodGet, "/appointments", user.token, nil, nil)
	if ctx.Err() != nil {
		return
	}
	s.metrics.ListMine.Record(latency, status, err)
}

// checkInvariants verifies the booking invariants against the stores once
// traffic has stopped.
func checkInvariants(ctx context.Context, pool *pgxpool.Pool, queue waitlist.Queue, slots []simSlot) ([]string, error) {
	var violations []string

	checks := []struct {
		name  string
		query string
	}{
		{"slots with more than one BOOKED appointment", `
			SELECT count(*) FROM (
				SELECT slot_id FROM appointments WHERE status = 'BOOKED'
				GROUP BY slot_id HAVING count(*) > 1
			) t`},
		{"booked slots without a BOOKED appointment", `
			SELECT count(*) FROM slots s
			WHERE s.booked AND NOT EXISTS (
				SELECT 1 FROM appointments a WHERE a.slot_id = s.id AND a.status = 'BOOKED'
			)`},
		{"unbooked slots with a BOOKED appointment", `
			SELECT count(*) FROM slots s
			WHERE NOT s.booked AND EXISTS (
				SELECT 1 FROM appointments a WHERE a.slot_id = s.id AND a.status = 'BOOKED'
			)`},
		{"users with two live claims on one slot", `
			SELECT count(*) FROM (
				SELECT user_id, slot_id FROM appointments WHERE status <> 'CANCELLED'
				GROUP BY user_id, slot_id HAVING count(*) > 1
			) t`},
	}
	for _, c := range checks {
		var n int64
		if err := pool.QueryRow(ctx, c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		if n > 0 {
			violations = append(violations, fmt.Sprintf("%s: %d", c.name, n))
		}
	}

	for _, slot := range slots {
		var queuedRows int64
		if err := pool.QueryRow(ctx,
			`SELECT count(*) FROM appointments WHERE slot_id = $1 AND status = 'QUEUED'`, slot.id,
		).Scan(&queuedRows); err != nil {
			return nil, fmt.Errorf("count queued rows: %w", err)
		}
		size, err := queue.Size(ctx, slot.id)
		if err != nil {
			return nil, fmt.Errorf("waitlist size: %w", err)
		}
		if size != queuedRows {
			violations = append(violations, fmt.Sprintf("slot %s: waitlist has %d entries, %d QUEUED rows", slot.id, size, queuedRows))
		}
	}

	return violations, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Bookings: %d booked, %d queued\n", atomic.LoadInt64(&s.metrics.Booked), atomic.LoadInt64(&s.metrics.Queued))
	fmt.Println()

	printOperationReport("Book", &s.metrics.Book)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("List slots", &s.metrics.ListSlots)
	printOperationReport("List my appointments", &s.metrics.ListMine)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	throttled := atomic.LoadInt64(&om.Throttled)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if throttled > 0 {
		fmt.Printf("  Throttled: %d (%.1f%%)\n", throttled, pct(throttled))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
