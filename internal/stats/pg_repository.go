package stats

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) ProviderCounts(ctx context.Context) ([]ProviderStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.name,
		       COUNT(a.id) FILTER (WHERE a.status <> 'CANCELLED'),
		       COUNT(a.id) FILTER (WHERE a.status = 'CANCELLED'),
		       COUNT(a.id)
		FROM users p
		LEFT JOIN appointments a ON a.provider_id = p.id
		WHERE p.role = 'provider'
		GROUP BY p.id, p.name
		ORDER BY p.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ProviderStats
	for rows.Next() {
		var ps ProviderStats
		if err := rows.Scan(
			&ps.ProviderID,
			&ps.ProviderName,
			&ps.ActiveAppointments,
			&ps.CancelledAppointments,
			&ps.TotalAppointments,
		); err != nil {
			return nil, err
		}
		result = append(result, ps)
	}
	return result, rows.Err()
}

func (r *PgRepository) ActiveStartHours(ctx context.Context) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT EXTRACT(HOUR FROM s.start_time AT TIME ZONE 'UTC')::int AS hour, COUNT(*)
		FROM appointments a
		JOIN slots s ON s.id = a.slot_id
		WHERE a.status <> 'CANCELLED'
		GROUP BY hour
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int]int64)
	for rows.Next() {
		var hour int
		var n int64
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, err
		}
		result[hour] = n
	}
	return result, rows.Err()
}

func (r *PgRepository) CountUsersByRole(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var role string
		var n int64
		if err := rows.Scan(&role, &n); err != nil {
			return nil, err
		}
		result[role] = n
	}
	return result, rows.Err()
}
