package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/realmwell/dc-bus-delay-tracker/internal/artifact"
	"github.com/realmwell/dc-bus-delay-tracker/internal/config"
	"github.com/realmwell/dc-bus-delay-tracker/internal/geo"
	"github.com/realmwell/dc-bus-delay-tracker/internal/gtfsrt"
	"github.com/realmwell/dc-bus-delay-tracker/internal/history"
	"github.com/realmwell/dc-bus-delay-tracker/internal/pipeline"
	"github.com/realmwell/dc-bus-delay-tracker/internal/routemeta"
	"github.com/realmwell/dc-bus-delay-tracker/internal/store"
	"github.com/realmwell/dc-bus-delay-tracker/internal/wmata"
)

func main() {
	log.Println("Starting delay tracker pipeline run...")

	// Load .env if present, then config from environment
	_ = godotenv.Load(".env")
	cfg := config.Load()

	regions, err := geo.LoadRegions(cfg.RegionGeoJSON)
	if err != nil {
		log.Fatalf("Failed to load region boundaries: %v", err)
	}
	log.Printf("Loaded %d region boundaries", len(regions.Regions()))

	monthlies, err := history.Load(cfg.HistoricalPath)
	if err != nil {
		log.Fatalf("Failed to load historical table: %v", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open observation store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure store schema: %v", err)
	}

	writer, err := artifact.NewWriter(cfg.OutputDir)
	if err != nil {
		log.Fatalf("Failed to prepare output directory: %v", err)
	}

	wmataClient := wmata.NewClient(cfg.WMATAAPIKey, cfg.WMATABaseURL, cfg.FetchTimeout)

	var source pipeline.Source
	switch cfg.TelemetrySource {
	case "gtfsrt":
		source = gtfsrt.NewClient(cfg.GTFSVehiclePositionsURL, cfg.GTFSTripUpdatesURL, cfg.WMATAAPIKey, cfg.FetchTimeout)
	case "wmata":
		source = wmataClient
	default:
		log.Fatalf("Unknown telemetry source %q", cfg.TelemetrySource)
	}

	meta := routemeta.NewMapper(wmataClient, regions, writer, cfg.MetadataRefreshDays)

	p := pipeline.New(cfg, st, regions, source, writer, meta, monthlies)

	started := time.Now()
	if err := p.Run(ctx); err != nil {
		log.Fatalf("Pipeline run failed: %v", err)
	}
	log.Printf("Pipeline run finished in %v", time.Since(started).Round(time.Millisecond))
}
