package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/slot-waitlist-scheduling/internal/appointment"
	"github.com/hackgods/slot-waitlist-scheduling/internal/auth"
	"github.com/hackgods/slot-waitlist-scheduling/internal/config"
	"github.com/hackgods/slot-waitlist-scheduling/internal/db"
	"github.com/hackgods/slot-waitlist-scheduling/internal/logger"
)

var specializations = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type seeded struct {
	id   uuid.UUID
	role appointment.Role
	name string
}

func main() {
	users := flag.Int("users", 2000, "number of users")
	providers := flag.Int("providers", 50, "number of providers")
	slotsPerProvider := flag.Int("slots", 24, "hourly slots per provider, starting tomorrow 08:00 UTC")
	tokens := flag.Int("tokens", 3, "dev tokens to print per role")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of printed tokens")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		lg.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		lg.Fatal("migrate", zap.Error(err))
	}

	gofakeit.Seed(0)

	admin := seeded{id: uuid.New(), role: appointment.RoleAdmin, name: "Admin"}
	people := []seeded{admin}
	people = append(people, fakePeople(*providers, appointment.RoleProvider)...)
	people = append(people, fakePeople(*users, appointment.RoleUser)...)

	if err := seedUsers(ctx, pool, people); err != nil {
		lg.Fatal("seed users", zap.Error(err))
	}
	lg.Info("users seeded", zap.Int("users", *users), zap.Int("providers", *providers))

	var providerIDs []uuid.UUID
	for _, p := range people {
		if p.role == appointment.RoleProvider {
			providerIDs = append(providerIDs, p.id)
		}
	}
	firstStart := time.Now().UTC().Truncate(24 * time.Hour).Add(32 * time.Hour)
	n, err := seedSlots(ctx, pool, providerIDs, firstStart, *slotsPerProvider)
	if err != nil {
		lg.Fatal("seed slots", zap.Error(err))
	}
	lg.Info("slots seeded", zap.Int64("slots", n), zap.Time("first_start", firstStart))

	jwt := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer)
	printed := map[appointment.Role]int{}
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("DEV TOKENS")
	fmt.Println(strings.Repeat("=", 80))
	for _, p := range people {
		if printed[p.role] >= *tokens {
			continue
		}
		tok, err := jwt.Issue(auth.Identity{UserID: p.id, Role: p.role}, *tokenTTL)
		if err != nil {
			lg.Fatal("issue token", zap.Error(err))
		}
		printed[p.role]++
		fmt.Printf("%-8s %s %s\n  %s\n", p.role, p.id, p.name, tok)
	}
}

func fakePeople(count int, role appointment.Role) []seeded {
	out := make([]seeded, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, seeded{id: uuid.New(), role: role, name: gofakeit.Name()})
	}
	return out
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, people []seeded) error {
	rows := make([][]any, 0, len(people))
	for i, p := range people {
		var spec *string
		if p.role == appointment.RoleProvider {
			s := specializations[gofakeit.Number(0, len(specializations)-1)]
			spec = &s
		}
		// index keeps emails unique across fakeit collisions
		email := fmt.Sprintf("%d.%s", i, gofakeit.Email())
		rows = append(rows, []any{p.id, p.name, email, string(p.role), spec})
	}

	_, err := pool.CopyFrom(ctx,
		pgx.Identifier{"users"},
		[]string{"id", "name", "email", "role", "specialization"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func seedSlots(ctx context.Context, pool *pgxpool.Pool, providers []uuid.UUID, first time.Time, perProvider int) (int64, error) {
	rows := make([][]any, 0, len(providers)*perProvider)
	for _, p := range providers {
		for i := 0; i < perProvider; i++ {
			start := first.Add(time.Duration(i) * appointment.SlotDuration)
			rows = append(rows, []any{uuid.New(), p, start, start.Add(appointment.SlotDuration)})
		}
	}

	return pool.CopyFrom(ctx,
		pgx.Identifier{"slots"},
		[]string{"id", "provider_id", "start_time", "end_time"},
		pgx.CopyFromRows(rows),
	)
}
