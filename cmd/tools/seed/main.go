// Command seed fills a database with synthetic observations so the charts
// and the API have something to show during development. Records are spread
// over the trailing -days window around a center coordinate, with a slice of
// them tagged as fallback-located.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/commons-data/shelter.report/internal/config"
	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/ingest"
)

var (
	dbPath   = flag.String("db", "observations.db", "path to sqlite db")
	count    = flag.Int("count", 200, "number of observations to generate")
	days     = flag.Int("days", 7, "spread observations over this many trailing days")
	lat      = flag.Float64("lat", 45.5152, "center latitude")
	lon      = flag.Float64("lon", -122.6784, "center longitude")
	spread   = flag.Float64("spread", 0.02, "max coordinate offset in degrees")
	seed     = flag.Int64("seed", 1, "random seed")
	rollups  = flag.Bool("rollups", true, "recompute daily rollups afterwards")
	fallback = flag.Float64("fallback-rate", 0.1, "fraction of records tagged fallback")
)

var settingWeights = []struct {
	setting db.Setting
	weight  int
}{
	{db.SettingStreet, 40},
	{db.SettingPark, 25},
	{db.SettingSubway, 15},
	{db.SettingBus, 8},
	{db.SettingTrain, 7},
	{db.SettingUnknown, 5},
}

func pickSetting(rng *rand.Rand) db.Setting {
	total := 0
	for _, sw := range settingWeights {
		total += sw.weight
	}
	n := rng.Intn(total)
	for _, sw := range settingWeights {
		if n < sw.weight {
			return sw.setting
		}
		n -= sw.weight
	}
	return db.SettingUnknown
}

func main() {
	flag.Parse()

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()

	gateway := ingest.NewGateway(database, config.EmptyPipelineConfig())
	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()
	now := time.Now()

	inserted := 0
	for i := 0; i < *count; i++ {
		observedAt := now.Add(-time.Duration(rng.Int63n(int64(*days) * int64(24*time.Hour))))
		obs := db.Observation{
			Latitude:   *lat + (rng.Float64()*2-1)*(*spread),
			Longitude:  *lon + (rng.Float64()*2-1)*(*spread),
			ObjectType: db.ObjectTypes[rng.Intn(len(db.ObjectTypes))],
			Context:    pickSetting(rng),
			Confidence: 0.3 + rng.Float64()*0.7,
			ObservedAt: float64(observedAt.UnixNano()) / 1e9,
		}
		if rng.Float64() < *fallback {
			obs.Latitude, obs.Longitude = *lat, *lon
			obs.LocationSource = db.LocationFallback
		}
		if _, err := gateway.Submit(ctx, obs); err != nil {
			log.Fatalf("submit failed after %d records: %v", inserted, err)
		}
		inserted++
	}
	fmt.Printf("inserted %d observations\n", inserted)

	if *rollups {
		worker := db.NewRollupWorker(database, "UTC", 24*(*days+1))
		if err := worker.RunFullHistory(ctx); err != nil {
			log.Fatalf("rollup backfill failed: %v", err)
		}
		fmt.Println("rollups rebuilt")
	}
}
