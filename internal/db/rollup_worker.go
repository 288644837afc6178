package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/commons-data/shelter.report/internal/metrics"
	"github.com/commons-data/shelter.report/internal/units"
)

// RollupWorker periodically recomputes the daily observation_rollups rows
// from raw observations. Designed to run hourly and reprocess the last
// WindowHours so late-arriving rows (client clock skew, catch-up replays)
// still land in the right day bucket.
type RollupWorker struct {
	DB *DB
	// Timezone names the location whose calendar days define the buckets.
	Timezone string
	Interval time.Duration // how often to run (e.g., 1h)
	// WindowHours is the lookback reprocessed on each run (e.g., 48).
	WindowHours int
	Metrics     *metrics.Metrics // optional
	StopChan    chan struct{}
}

func NewRollupWorker(db *DB, timezone string, windowHours int) *RollupWorker {
	return &RollupWorker{
		DB:          db,
		Timezone:    timezone,
		Interval:    time.Hour,
		WindowHours: windowHours,
		StopChan:    make(chan struct{}),
	}
}

// Start runs the periodic worker loop in a goroutine.
func (w *RollupWorker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.RunOnce(context.Background()); err != nil {
					log.Printf("rollup worker run error: %v", err)
				}
			case <-w.StopChan:
				return
			}
		}
	}()
}

// Stop requests the worker to stop.
func (w *RollupWorker) Stop() {
	close(w.StopChan)
}

// RunOnce reprocesses the last WindowHours.
func (w *RollupWorker) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()
	return w.RunRange(ctx, now.Add(-time.Duration(w.WindowHours)*time.Hour), now)
}

// RunFullHistory reprocesses every day touched by any stored observation.
func (w *RollupWorker) RunFullHistory(ctx context.Context) error {
	var start, end sql.NullFloat64
	if err := w.DB.QueryRowContext(ctx, `SELECT MIN(recorded_at), MAX(recorded_at) FROM observations`).Scan(&start, &end); err != nil {
		return err
	}
	if !start.Valid || !end.Valid {
		log.Printf("Rollup worker full-history run skipped (no observations)")
		return nil
	}
	return w.RunRange(ctx,
		time.Unix(0, int64(start.Float64*1e9)).UTC(),
		time.Unix(0, int64(end.Float64*1e9)).UTC())
}

// RunRange recomputes rollups for every local day touched by [start, end].
// Each covered day is rebuilt from scratch inside one transaction, so a day
// whose observations were all removed ends up with no rollup rows rather
// than stale ones.
func (w *RollupWorker) RunRange(ctx context.Context, start, end time.Time) error {
	began := time.Now()

	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		w.countRun("error")
		return fmt.Errorf("rollup worker: bad timezone %q: %w", w.Timezone, err)
	}

	days := coveredDays(start, end, loc)
	if len(days) == 0 {
		return nil
	}

	tx, err := w.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		w.countRun("error")
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			// ErrTxDone means transaction was already committed/rolled back
			log.Printf("warning: failed to rollback transaction: %v", err)
		}
	}()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO observation_rollups (
			day,
			object_type,
			context,
			observation_count,
			mean_confidence,
			created_at,
			updated_at
		) VALUES (
			?, ?, ?, ?, ?, UNIXEPOCH('subsec'), UNIXEPOCH('subsec')
		)
		ON CONFLICT(day, object_type, context) DO UPDATE SET
			observation_count = excluded.observation_count,
			mean_confidence = excluded.mean_confidence,
			updated_at = UNIXEPOCH('subsec')
	`)
	if err != nil {
		w.countRun("error")
		return err
	}
	defer upsert.Close()

	var rebuilt int
	for _, day := range days {
		dayStart, dayEnd, err := units.LocalDayBounds(day, loc)
		if err != nil {
			w.countRun("error")
			return err
		}

		// Rebuild the day: stale groups must not survive a delete-heavy day.
		if _, err := tx.ExecContext(ctx, `DELETE FROM observation_rollups WHERE day = ?`, day); err != nil {
			w.countRun("error")
			return fmt.Errorf("failed to clear rollups for day %s: %w", day, err)
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT object_type, context, COUNT(*), AVG(confidence)
			FROM observations
			WHERE recorded_at >= ? AND recorded_at < ?
			GROUP BY object_type, context
		`, unixSeconds(dayStart), unixSeconds(dayEnd))
		if err != nil {
			w.countRun("error")
			return err
		}

		type group struct {
			objectType string
			context    string
			count      int64
			mean       float64
		}
		var groups []group
		for rows.Next() {
			var g group
			if err := rows.Scan(&g.objectType, &g.context, &g.count, &g.mean); err != nil {
				rows.Close()
				w.countRun("error")
				return err
			}
			groups = append(groups, g)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			w.countRun("error")
			return err
		}
		rows.Close()

		for _, g := range groups {
			if _, err := upsert.ExecContext(ctx, day, g.objectType, g.context, g.count, g.mean); err != nil {
				w.countRun("error")
				return fmt.Errorf("failed to upsert rollup for %s/%s/%s: %w", day, g.objectType, g.context, err)
			}
			rebuilt++
		}
	}

	if err := tx.Commit(); err != nil {
		w.countRun("error")
		return err
	}

	log.Printf("Rollup worker: rebuilt %d group(s) across %d day(s) [%s .. %s]",
		rebuilt, len(days), days[0], days[len(days)-1])

	w.countRun("ok")
	if w.Metrics != nil {
		w.Metrics.RollupDuration.Observe(time.Since(began).Seconds())
	}
	return nil
}

func (w *RollupWorker) countRun(status string) {
	if w.Metrics != nil {
		w.Metrics.RollupRuns.WithLabelValues(status).Inc()
	}
}

// coveredDays lists the local day buckets touched by [start, end], in order.
// Stepping 24h never skips a local day; DST days repeat at most once and the
// dedupe drops the repeat.
func coveredDays(start, end time.Time, loc *time.Location) []string {
	if end.Before(start) {
		return nil
	}
	lastDay := units.LocalDay(end, loc)

	var days []string
	for cur := start; ; cur = cur.Add(24 * time.Hour) {
		day := units.LocalDay(cur, loc)
		if len(days) == 0 || days[len(days)-1] != day {
			days = append(days, day)
		}
		if day == lastDay {
			break
		}
	}
	return days
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
