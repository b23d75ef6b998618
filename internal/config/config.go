package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the pipeline and the artifact server
type Config struct {
	// Storage and output
	DatabasePath   string
	OutputDir      string
	RegionGeoJSON  string
	HistoricalPath string // empty = use embedded monthly table

	// Upstream WMATA API
	WMATAAPIKey  string
	WMATABaseURL string
	FetchTimeout time.Duration
	FetchRetries int
	FetchBackoff time.Duration

	// Alternate GTFS-RT telemetry source
	TelemetrySource         string // "wmata" (default) or "gtfsrt"
	GTFSVehiclePositionsURL string
	GTFSTripUpdatesURL      string

	// Aggregation policy
	OnTimeEarlyMin      float64 // minutes; deviation at or above this bound is not early
	OnTimeLateMax       float64 // minutes; deviation at or below this bound is not late
	RetentionDays       int
	MetadataRefreshDays int

	// Artifact server
	ListenAddr    string
	AllowedOrigin string
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// Storage and output
		DatabasePath:   getEnv("SQLITE_DATABASE", "/data/observations.db"),
		OutputDir:      getEnv("OUTPUT_DIR", "/data/artifacts"),
		RegionGeoJSON:  getEnv("REGION_GEOJSON", "/data/dc-wards.geojson"),
		HistoricalPath: getEnv("HISTORICAL_OTP_PATH", ""),

		// Upstream WMATA API
		WMATAAPIKey:  getEnv("WMATA_API_KEY", ""),
		WMATABaseURL: getEnv("WMATA_BASE_URL", "https://api.wmata.com"),
		FetchTimeout: time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)) * time.Second,
		FetchRetries: getEnvInt("FETCH_RETRIES", 3),
		FetchBackoff: time.Duration(getEnvInt("FETCH_BACKOFF_SECONDS", 2)) * time.Second,

		// Alternate GTFS-RT telemetry source
		TelemetrySource:         getEnv("TELEMETRY_SOURCE", "wmata"),
		GTFSVehiclePositionsURL: getEnv("GTFS_VEHICLE_POSITIONS_URL", "https://api.wmata.com/gtfs/bus-gtfsrt-vehiclepositions.pb"),
		GTFSTripUpdatesURL:      getEnv("GTFS_TRIP_UPDATES_URL", "https://api.wmata.com/gtfs/bus-gtfsrt-tripupdates.pb"),

		// Aggregation policy
		OnTimeEarlyMin:      getEnvFloat("ON_TIME_MIN", -2.0),
		OnTimeLateMax:       getEnvFloat("ON_TIME_MAX", 5.0),
		RetentionDays:       getEnvInt("RETENTION_DAYS", 5*365),
		MetadataRefreshDays: getEnvInt("METADATA_REFRESH_DAYS", 7),

		// Artifact server
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "*"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
