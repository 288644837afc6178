// Command rollup-backfill recomputes daily observation rollups. With no
// range it replays full history; with -start/-end it rebuilds just that
// window, useful after restoring a backup or changing the rollup timezone.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/commons-data/shelter.report/internal/db"
)

func main() {
	var dbPath string
	var startStr string
	var endStr string
	var timezone string
	var windowHours int

	flag.StringVar(&dbPath, "db", "observations.db", "path to sqlite db")
	flag.StringVar(&startStr, "start", "", "start time (RFC3339, optional)")
	flag.StringVar(&endStr, "end", "", "end time (RFC3339, optional)")
	flag.StringVar(&timezone, "tz", "UTC", "IANA timezone defining day buckets")
	flag.IntVar(&windowHours, "window", 48, "window hours (worker default, unused for explicit ranges)")
	flag.Parse()

	if (startStr == "") != (endStr == "") {
		log.Fatalf("start and end must be provided together")
	}

	dbConn, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	w := db.NewRollupWorker(dbConn, timezone, windowHours)

	if startStr == "" {
		fmt.Println("backfilling rollups over full history")
		if err := w.RunFullHistory(context.Background()); err != nil {
			log.Fatalf("full-history backfill failed: %v", err)
		}
		fmt.Println("backfill complete")
		return
	}

	startT, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		log.Fatalf("invalid start: %v", err)
	}
	endT, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		log.Fatalf("invalid end: %v", err)
	}
	if !startT.Before(endT) {
		log.Fatalf("start must be before end")
	}

	fmt.Printf("backfilling rollups %s -> %s\n", startT.UTC(), endT.UTC())
	if err := w.RunRange(context.Background(), startT.UTC(), endT.UTC()); err != nil {
		log.Fatalf("backfill failed: %v", err)
	}
	fmt.Println("backfill complete")
}
