package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/commons-data/shelter.report/internal/geo"
)

// ObjectType classifies the shelter indicator an observation reports.
type ObjectType string

const (
	ObjectTent      ObjectType = "tent"
	ObjectBlanket   ObjectType = "blanket"
	ObjectCardboard ObjectType = "cardboard"
)

// ObjectTypes lists every valid object type in canonical order. Stats and
// chart output iterate this list so zero counts still appear.
var ObjectTypes = []ObjectType{ObjectTent, ObjectBlanket, ObjectCardboard}

// Valid reports whether o is a member of the enumeration.
func (o ObjectType) Valid() bool {
	for _, t := range ObjectTypes {
		if o == t {
			return true
		}
	}
	return false
}

// Setting describes where the indicator was observed. The JSON and column
// name is "context"; the Go type avoids colliding with context.Context.
type Setting string

const (
	SettingStreet  Setting = "street"
	SettingPark    Setting = "park"
	SettingSubway  Setting = "subway"
	SettingBus     Setting = "bus"
	SettingTrain   Setting = "train"
	SettingUnknown Setting = "unknown"
)

// Settings lists every valid setting in canonical order.
var Settings = []Setting{SettingStreet, SettingPark, SettingSubway, SettingBus, SettingTrain, SettingUnknown}

// Valid reports whether s is a member of the enumeration.
func (s Setting) Valid() bool {
	for _, v := range Settings {
		if s == v {
			return true
		}
	}
	return false
}

// Location source tags. Fallback-located records carry approximate
// coordinates and are flagged rather than excluded from spatial queries.
const (
	LocationDevice   = "device"
	LocationFallback = "fallback"
)

// Observation is one accepted report: an immutable row in the append-only
// log. Id and RecordedAt are assigned by InsertObservation; everything else
// arrives validated from the gateway.
type Observation struct {
	ID             string     `json:"id"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	ObjectType     ObjectType `json:"object_type"`
	Context        Setting    `json:"context"`
	Confidence     float64    `json:"confidence"`
	ObservedAt     float64    `json:"observed_at"`
	RecordedAt     float64    `json:"recorded_at"`
	LocationSource string     `json:"location_source"`
}

func (o *Observation) String() string {
	return fmt.Sprintf("Observation(%s %s/%s conf=%.2f at %.5f,%.5f recorded=%.3f src=%s)",
		o.ID, o.ObjectType, o.Context, o.Confidence, o.Latitude, o.Longitude, o.RecordedAt, o.LocationSource)
}

// NotifyInsert registers fn to run after every successful insert, under the
// insert lock, so callbacks observe commits in commit order. One hook is
// supported; registering again replaces it.
func (db *DB) NotifyInsert(fn func(Observation)) {
	db.insertMu.Lock()
	defer db.insertMu.Unlock()
	db.notifyInsert = fn
}

const observationColumns = `id, lat, lon, object_type, context, confidence, observed_at, recorded_at, location_source`

// InsertObservation appends obs to the log. It assigns the id and a
// monotonically increasing recorded_at, fills obs in place, and fires the
// insert hook once the row is durable. The caller has already validated the
// payload; this method only guards the append invariants.
func (db *DB) InsertObservation(ctx context.Context, obs *Observation) error {
	db.insertMu.Lock()
	defer db.insertMu.Unlock()

	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.LocationSource == "" {
		obs.LocationSource = LocationDevice
	}

	// recorded_at strictly increases even if the wall clock stalls or
	// steps backward between inserts.
	now := float64(time.Now().UnixNano()) / 1e9
	if now <= db.lastRecorded {
		now = db.lastRecorded + 1e-6
	}
	obs.RecordedAt = now

	_, err := db.ExecContext(ctx,
		`INSERT INTO observations (`+observationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.Latitude, obs.Longitude, string(obs.ObjectType), string(obs.Context),
		obs.Confidence, obs.ObservedAt, obs.RecordedAt, obs.LocationSource,
	)
	if err != nil {
		return fmt.Errorf("failed to insert observation: %w", err)
	}
	db.lastRecorded = obs.RecordedAt

	if db.notifyInsert != nil {
		db.notifyInsert(*obs)
	}
	return nil
}

// GetObservation fetches one record by id. Returns sql.ErrNoRows when absent.
func (db *DB) GetObservation(ctx context.Context, id string) (*Observation, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+observationColumns+` FROM observations WHERE id = ?`, id)
	obs, err := scanObservation(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get observation %s: %w", id, err)
	}
	return obs, nil
}

// Query limits. Catch-up consumers ask for their own window; the clamp only
// protects the store from unbounded result sets.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// RecentObservations returns the most recent limit records ordered
// recorded_at descending with id as the deterministic tie-break. This is the
// catch-up query.
func (db *DB) RecentObservations(ctx context.Context, limit int) ([]Observation, error) {
	return db.QueryObservations(ctx, ObservationFilter{Limit: limit})
}

// ObservationFilter narrows QueryObservations. Zero values mean "no filter".
type ObservationFilter struct {
	ObjectType ObjectType
	Context    Setting
	Since      float64 // recorded_at strictly greater than
	Near       *geo.Coordinate
	Radius     float64 // meters, used with Near
	Limit      int
}

// QueryObservations returns a bounded snapshot ordered recorded_at DESC,
// id ASC. Spatial filtering prefilters on the (lat, lon) index with a
// bounding box and refines with the exact haversine distance.
func (db *DB) QueryObservations(ctx context.Context, f ObservationFilter) ([]Observation, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	query := `SELECT ` + observationColumns + ` FROM observations WHERE 1=1`
	var args []interface{}

	if f.ObjectType != "" {
		query += ` AND object_type = ?`
		args = append(args, string(f.ObjectType))
	}
	if f.Context != "" {
		query += ` AND context = ?`
		args = append(args, string(f.Context))
	}
	if f.Since > 0 {
		query += ` AND recorded_at > ?`
		args = append(args, f.Since)
	}

	spatial := f.Near != nil && f.Radius > 0
	if spatial {
		minLat, maxLat, minLon, maxLon := geo.BoundingBox(*f.Near, f.Radius)
		query += ` AND lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?`
		args = append(args, minLat, maxLat, minLon, maxLon)
	}

	query += ` ORDER BY recorded_at DESC, id ASC`
	if spatial {
		// The box over-selects; fetch extra rows so the haversine
		// refinement can still fill the requested limit.
		query += ` LIMIT ?`
		args = append(args, limit*4)
	} else {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		if spatial && !geo.WithinRadius(*f.Near, geo.Coordinate{Latitude: obs.Latitude, Longitude: obs.Longitude}, f.Radius) {
			continue
		}
		out = append(out, *obs)
		if len(out) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountObservations returns the total number of stored records.
func (db *DB) CountObservations(ctx context.Context) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return n, nil
}

// CountByObjectType returns per-type totals including zero for types with no
// records yet.
func (db *DB) CountByObjectType(ctx context.Context) (map[ObjectType]int64, error) {
	counts := make(map[ObjectType]int64, len(ObjectTypes))
	for _, t := range ObjectTypes {
		counts[t] = 0
	}

	rows, err := db.QueryContext(ctx, `SELECT object_type, COUNT(*) FROM observations GROUP BY object_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by object type: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[ObjectType(t)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// CountByContext returns per-context totals including zero for contexts with
// no records yet.
func (db *DB) CountByContext(ctx context.Context) (map[Setting]int64, error) {
	counts := make(map[Setting]int64, len(Settings))
	for _, s := range Settings {
		counts[s] = 0
	}

	rows, err := db.QueryContext(ctx, `SELECT context, COUNT(*) FROM observations GROUP BY context`)
	if err != nil {
		return nil, fmt.Errorf("failed to count by context: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s string
		var n int64
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[Setting(s)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanObservation(s scanner) (*Observation, error) {
	var obs Observation
	var objectType, setting string
	if err := s.Scan(
		&obs.ID, &obs.Latitude, &obs.Longitude, &objectType, &setting,
		&obs.Confidence, &obs.ObservedAt, &obs.RecordedAt, &obs.LocationSource,
	); err != nil {
		return nil, err
	}
	obs.ObjectType = ObjectType(objectType)
	obs.Context = Setting(setting)
	return &obs, nil
}
