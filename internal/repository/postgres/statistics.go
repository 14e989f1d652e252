// Package postgres holds the PostgreSQL-backed repositories.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JAKOBGTAG/multi-email-sender/internal/stats"
)

// StatisticsRepo implements stats.SnapshotStore against the
// dispatch_statistics table, one row per deployment name.
type StatisticsRepo struct {
	db   *sql.DB
	name string
}

// NewStatisticsRepo creates a Postgres-backed snapshot store.
func NewStatisticsRepo(db *sql.DB, name string) *StatisticsRepo {
	if name == "" {
		name = "default"
	}
	return &StatisticsRepo{db: db, name: name}
}

func (r *StatisticsRepo) Save(ctx context.Context, s stats.Statistics) error {
	daily, err := json.Marshal(nonNil(s.DailyCount))
	if err != nil {
		return fmt.Errorf("marshal daily count: %w", err)
	}
	breakdown, err := json.Marshal(nonNil(s.ErrorBreakdown))
	if err != nil {
		return fmt.Errorf("marshal error breakdown: %w", err)
	}

	var lastUpdated sql.NullTime
	if !s.LastUpdated.IsZero() {
		lastUpdated = sql.NullTime{Time: s.LastUpdated, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO dispatch_statistics
			(name, total_sent, total_failed, total_attempts, average_duration_ms,
			 daily_count, error_breakdown, last_updated, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (name) DO UPDATE SET
			total_sent = EXCLUDED.total_sent,
			total_failed = EXCLUDED.total_failed,
			total_attempts = EXCLUDED.total_attempts,
			average_duration_ms = EXCLUDED.average_duration_ms,
			daily_count = EXCLUDED.daily_count,
			error_breakdown = EXCLUDED.error_breakdown,
			last_updated = EXCLUDED.last_updated,
			saved_at = NOW()
	`, r.name, s.TotalSent, s.TotalFailed, s.TotalAttempts, s.AverageDurationMs,
		string(daily), string(breakdown), lastUpdated)
	if err != nil {
		return fmt.Errorf("save statistics: %w", err)
	}
	return nil
}

func (r *StatisticsRepo) Load(ctx context.Context) (stats.Statistics, error) {
	var (
		s                stats.Statistics
		daily, breakdown []byte
		lastUpdated      sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT total_sent, total_failed, total_attempts, average_duration_ms,
		       daily_count, error_breakdown, last_updated
		FROM dispatch_statistics
		WHERE name = $1
	`, r.name).Scan(
		&s.TotalSent, &s.TotalFailed, &s.TotalAttempts, &s.AverageDurationMs,
		&daily, &breakdown, &lastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return stats.Statistics{}, stats.ErrNoSnapshot
	}
	if err != nil {
		return stats.Statistics{}, fmt.Errorf("load statistics: %w", err)
	}

	if err := json.Unmarshal(daily, &s.DailyCount); err != nil {
		return stats.Statistics{}, fmt.Errorf("decode daily count: %w", err)
	}
	if err := json.Unmarshal(breakdown, &s.ErrorBreakdown); err != nil {
		return stats.Statistics{}, fmt.Errorf("decode error breakdown: %w", err)
	}
	s.AverageDuration = time.Duration(s.AverageDurationMs * float64(time.Millisecond))
	if lastUpdated.Valid {
		s.LastUpdated = lastUpdated.Time
	}
	return s, nil
}

func nonNil(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
