package db

import (
	"context"
	"fmt"
)

// Rollup is one day's aggregate for a single (object_type, context) pair,
// maintained by the RollupWorker. Day is a local calendar date in the
// worker's timezone, formatted as 2006-01-02.
type Rollup struct {
	RollupID         int64   `json:"rollup_id"`
	Day              string  `json:"day"`
	ObjectType       string  `json:"object_type"`
	Context          string  `json:"context"`
	ObservationCount int64   `json:"observation_count"`
	MeanConfidence   float64 `json:"mean_confidence"`
	CreatedAt        float64 `json:"created_at"`
	UpdatedAt        float64 `json:"updated_at"`
}

const rollupColumns = `rollup_id, day, object_type, context, observation_count, mean_confidence, created_at, updated_at`

// DailyRollups returns all rollup rows for a single day.
func (db *DB) DailyRollups(ctx context.Context, day string) ([]Rollup, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM observation_rollups
		WHERE day = ?
		ORDER BY object_type, context
	`, rollupColumns)

	rows, err := db.QueryContext(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups for day %s: %w", day, err)
	}
	defer rows.Close()

	var rollups []Rollup
	for rows.Next() {
		var r Rollup
		if err := rows.Scan(&r.RollupID, &r.Day, &r.ObjectType, &r.Context,
			&r.ObservationCount, &r.MeanConfidence, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}
		rollups = append(rollups, r)
	}
	return rollups, rows.Err()
}

// RollupsBetween returns rollup rows for days in [startDay, endDay], both
// inclusive, ordered by day then object_type then context. Day strings
// compare correctly because the format is lexicographic.
func (db *DB) RollupsBetween(ctx context.Context, startDay, endDay string) ([]Rollup, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM observation_rollups
		WHERE day BETWEEN ? AND ?
		ORDER BY day, object_type, context
	`, rollupColumns)

	rows, err := db.QueryContext(ctx, query, startDay, endDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups between %s and %s: %w", startDay, endDay, err)
	}
	defer rows.Close()

	var rollups []Rollup
	for rows.Next() {
		var r Rollup
		if err := rows.Scan(&r.RollupID, &r.Day, &r.ObjectType, &r.Context,
			&r.ObservationCount, &r.MeanConfidence, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}
		rollups = append(rollups, r)
	}
	return rollups, rows.Err()
}

// RollupDays returns the distinct days that have rollup rows, most recent
// first, capped at limit.
func (db *DB) RollupDays(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT day
		FROM observation_rollups
		ORDER BY day DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollup days: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan rollup day: %w", err)
		}
		days = append(days, day)
	}
	return days, rows.Err()
}
