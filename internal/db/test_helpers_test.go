package db

import (
	"context"
	"os"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	db, err := NewDB(fname)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	return db
}

func cleanupTestDB(t *testing.T, db *DB) {
	t.Helper()
	fname := t.Name() + ".db"
	db.Close()
	_ = os.Remove(fname)
	_ = os.Remove(fname + "-shm")
	_ = os.Remove(fname + "-wal")
}

// insertTestObservation stores a minimal valid observation and returns it
// with the store-assigned id and recorded_at filled in.
func insertTestObservation(t *testing.T, db *DB, objectType ObjectType, setting Setting) *Observation {
	t.Helper()
	obs := &Observation{
		Latitude:   45.5152,
		Longitude:  -122.6784,
		ObjectType: objectType,
		Context:    setting,
		Confidence: 0.8,
		ObservedAt: float64(time.Now().UnixNano()) / 1e9,
	}
	if err := db.InsertObservation(context.Background(), obs); err != nil {
		t.Fatalf("InsertObservation failed: %v", err)
	}
	return obs
}
