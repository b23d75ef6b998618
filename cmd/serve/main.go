// Command serve exposes the artifact directory over HTTP for the static
// visualization front end. It is read-only: the pipeline is the only
// writer of artifacts.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/realmwell/dc-bus-delay-tracker/internal/aggregate"
	"github.com/realmwell/dc-bus-delay-tracker/internal/artifact"
	"github.com/realmwell/dc-bus-delay-tracker/internal/config"
	"github.com/realmwell/dc-bus-delay-tracker/internal/store"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open observation store: %v", err)
	}
	defer st.Close()

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{cfg.AllowedOrigin},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		lastRun, err := st.LastRun(ctx)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "error",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"last_run":  lastRun.UTC(),
			"timestamp": time.Now().UTC(),
		})
	})

	r.Get("/api/status", func(w http.ResponseWriter, req *http.Request) {
		serveArtifact(w, req, cfg.OutputDir, artifact.StatusName)
	})

	r.Get("/api/summary/{period}", func(w http.ResponseWriter, req *http.Request) {
		period, ok := parsePeriod(chi.URLParam(req, "period"))
		if !ok {
			http.Error(w, "unknown period", http.StatusNotFound)
			return
		}
		serveArtifact(w, req, cfg.OutputDir, artifact.SummaryName(period))
	})

	r.Get("/api/regions/{region}/routes/{period}", func(w http.ResponseWriter, req *http.Request) {
		period, ok := parsePeriod(chi.URLParam(req, "period"))
		if !ok {
			http.Error(w, "unknown period", http.StatusNotFound)
			return
		}
		region := chi.URLParam(req, "region")
		if region == "" || strings.ContainsAny(region, "./\\") {
			http.Error(w, "invalid region", http.StatusBadRequest)
			return
		}
		serveArtifact(w, req, cfg.OutputDir, artifact.RoutesName(region, period))
	})

	log.Printf("Artifact server listening on %s (artifacts from %s)", cfg.ListenAddr, cfg.OutputDir)
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func parsePeriod(raw string) (aggregate.Period, bool) {
	for _, p := range aggregate.Periods() {
		if string(p) == raw {
			return p, true
		}
	}
	return "", false
}

func serveArtifact(w http.ResponseWriter, req *http.Request, dir, name string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, req, filepath.Join(dir, artifact.CurrentName, name))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
