// Command shelter runs the observation service: the capture loop feeding the
// ingestion gateway, the append-only store with its live fan-out, the public
// HTTP API with the SSE feed and analytics charts, and the daily rollup
// worker. `shelter migrate <action>` manages the schema without starting
// the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/commons-data/shelter.report/internal/api"
	"github.com/commons-data/shelter.report/internal/config"
	"github.com/commons-data/shelter.report/internal/db"
	"github.com/commons-data/shelter.report/internal/detect"
	"github.com/commons-data/shelter.report/internal/feed"
	"github.com/commons-data/shelter.report/internal/geo"
	"github.com/commons-data/shelter.report/internal/httputil"
	"github.com/commons-data/shelter.report/internal/ingest"
	"github.com/commons-data/shelter.report/internal/metrics"
	"github.com/commons-data/shelter.report/internal/version"
	"github.com/commons-data/shelter.report/internal/view"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode: mock detector, on-disk migrations")
	listen     = flag.String("listen", ":8080", "Listen address")
	dbPath     = flag.String("db", "observations.db", "Path to the SQLite database")
	configPath = flag.String("config", "", "Path to a JSON config file (defaults apply when empty)")
	noCapture  = flag.Bool("no-capture", false, "Serve the API without running the capture loop")
	seed       = flag.Int64("seed", 0, "Seed for the mock detector (0 uses the current time)")
)

func main() {
	// The migrate subcommand runs before flag parsing so its own argument
	// style ("shelter migrate up -dev") stays out of the service flags.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		args := os.Args[2:]
		path := "observations.db"
		filtered := args[:0]
		for _, a := range args {
			switch {
			case a == "-dev" || a == "--dev":
				db.DevMode = true
			case strings.HasPrefix(a, "-db="):
				path = strings.TrimPrefix(a, "-db=")
			case strings.HasPrefix(a, "--db="):
				path = strings.TrimPrefix(a, "--db=")
			default:
				filtered = append(filtered, a)
			}
		}
		db.RunMigrateCommand(filtered, path)
		return
	}

	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	db.DevMode = *devMode

	cfg := config.EmptyPipelineConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadPipelineConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config %s: %v", *configPath, err)
		}
	} else if loaded, err := config.LoadPipelineConfig(config.DefaultConfigPath); err == nil {
		cfg = loaded
	}

	log.Printf("shelter.report %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	m := metrics.New()

	liveFeed := feed.NewFeed(cfg.GetSubscriberBuffer())
	liveFeed.Metrics = m
	defer liveFeed.Close()
	database.NotifyInsert(liveFeed.Publish)

	gateway := ingest.NewGateway(database, cfg)
	gateway.Metrics = m

	syncer := view.NewSynchronizer(liveFeed, database, cfg)
	syncer.Metrics = m

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := syncer.Activate(ctx); err != nil {
		log.Fatalf("Failed to activate synchronizer: %v", err)
	}
	defer syncer.Deactivate()

	rollups := db.NewRollupWorker(database, cfg.GetRollupTimezone(), cfg.GetRollupWindowHours())
	rollups.Interval = cfg.GetRollupInterval()
	rollups.Metrics = m
	rollups.Start()
	defer rollups.Stop()

	var wg sync.WaitGroup

	if !*noCapture {
		scanner := buildScanner(cfg, gateway, m)
		scanner.Overlay = syncer.Overlay.Add
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scanner.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("capture loop error: %v", err)
			}
			log.Print("capture loop terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(database, gateway, liveFeed, syncer, cfg).ServeMux()
		database.AttachAdminRoutes(mux)
		mux.Handle("/metrics", m.Handler())
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				httputil.NotFound(w, "not found")
				return
			}
			fmt.Fprintf(w, "shelter.report %s\n", version.Version)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// buildScanner wires the capture producer: the mock detector in dev mode or
// when no detector service is configured, the HTTP detector otherwise, and
// whichever locator the config names.
func buildScanner(cfg *config.PipelineConfig, gateway *ingest.Gateway, m *metrics.Metrics) *detect.Scanner {
	fallback := geo.Coordinate{
		Latitude:  cfg.GetFallbackLatitude(),
		Longitude: cfg.GetFallbackLongitude(),
	}

	var detector detect.Detector
	if *devMode || cfg.GetDetectorURL() == "" {
		s := *seed
		if s == 0 {
			s = time.Now().UnixNano()
		}
		detector = detect.NewMockDetector(s)
		log.Printf("using mock detector (seed %d)", s)
	} else {
		detector = detect.NewHTTPDetector(cfg.GetDetectorURL(), httputil.NewStandardClientWithTimeout(cfg.GetLocatorTimeout()))
		log.Printf("using detector service at %s", cfg.GetDetectorURL())
	}

	// A nil locator makes every report carry the fallback tag, which is
	// honest: without a positioning service the coordinate is approximate.
	var locator geo.Locator
	if url := cfg.GetLocatorURL(); url != "" {
		locator = geo.NewHTTPLocator(url, httputil.NewStandardClientWithTimeout(cfg.GetLocatorTimeout()))
		log.Printf("using locator service at %s", url)
	} else {
		log.Printf("no locator configured, reports use the fallback coordinate")
	}

	scanner := detect.NewScanner(detector, locator, gateway, fallback)
	scanner.Interval = cfg.GetScanInterval()
	scanner.MinConfidence = cfg.GetMinConfidence()
	scanner.Metrics = m
	return scanner
}
