// Package db implements the append-only observation store on SQLite, the
// schema migrations that manage it, and the daily rollup worker that derives
// charting aggregates from it.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

// DB wraps the SQLite handle and owns the insert serialization that gives
// recorded_at its monotonic guarantee.
type DB struct {
	*sql.DB

	path string

	// insertMu serializes InsertObservation so recorded_at strictly
	// increases and the notify hook fires in commit order.
	insertMu     sync.Mutex
	lastRecorded float64
	notifyInsert func(Observation)
}

// OpenDB opens the database at path and applies the connection pragmas
// without touching the schema. Migrations manage the schema; use NewDB when
// you want open-and-migrate in one call.
func OpenDB(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := applyPragmas(sqldb); err != nil {
		sqldb.Close()
		return nil, err
	}

	return &DB{DB: sqldb, path: path}, nil
}

// NewDB opens the database at path and applies all pending migrations from
// the embedded set. This is the path the server and tests take.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrationsFS); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// NewDBWithMigrationCheck opens the database and verifies the schema version
// matches the latest available migration. When skipCheck is true the check is
// bypassed (migrations are assumed to be managed externally). The returned
// error describes outstanding migrations when the versions differ.
func NewDBWithMigrationCheck(path string, skipCheck bool) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	if skipCheck {
		return db, nil
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}
	if needsAction, err := db.CheckMigrations(migrationsFS); err != nil {
		if needsAction {
			db.Close()
			return nil, err
		}
		log.Printf("warning: migration check failed: %v", err)
	}

	return db, nil
}

// applyPragmas sets the connection pragmas every database handle needs:
// WAL for concurrent readers during the append stream, a busy timeout so
// writer contention waits instead of failing, NORMAL sync as the usual
// WAL durability trade, and in-memory temp stores for the rollup queries.
func applyPragmas(sqldb *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := sqldb.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// Path returns the filesystem path the database was opened with.
func (db *DB) Path() string {
	return db.path
}

// AttachAdminRoutes mounts the tsweb debug surface on mux: a tailsql live
// SQL console at /debug/tailsql/ and an on-demand gzip backup download.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Shelter observations DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
