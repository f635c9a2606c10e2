package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// ServerConfig holds the settings of the tracking server.
type ServerConfig struct {
	Address       string
	DatabaseDSN   string
	Key           string
	SnapshotPath  string
	StoreInterval int
	Restore       bool
	RunTTL        time.Duration
	Exporter      string
	OTLPEndpoint  string
}

// NewServerConfig parses args and applies environment overrides on top of them.
func NewServerConfig(args []string) (*ServerConfig, error) {
	config := &ServerConfig{
		Address:       "localhost:8080",
		SnapshotPath:  "./runs/snapshot.json",
		StoreInterval: 300,
		RunTTL:        24 * time.Hour,
		Exporter:      "prom",
	}

	flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
	address := flags.StringP("address", "a", config.Address, "address to listen on")
	databaseDSN := flags.StringP("database-dsn", "d", config.DatabaseDSN, "database dsn, in-memory storage when empty")
	key := flags.StringP("key", "k", config.Key, "key for request hash verification")
	snapshotPath := flags.StringP("snapshot", "f", config.SnapshotPath, "path to the run snapshot file")
	storeInterval := flags.IntP("store-interval", "i", config.StoreInterval, "snapshot interval in seconds, 0 saves after every change")
	restore := flags.BoolP("restore", "r", config.Restore, "restore runs from the snapshot file on start")
	runTTL := flags.Duration("run-ttl", config.RunTTL, "idle time after which a run is forgotten")
	exporter := flags.String("otel-exporter", config.Exporter, "OpenTelemetry exporter: prom, otlp or none")
	otlpEndpoint := flags.String("otlp-endpoint", config.OTLPEndpoint, "OTLP/HTTP endpoint")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	envVars := map[string]*string{
		"ADDRESS":       address,
		"DATABASE_DSN":  databaseDSN,
		"KEY":           key,
		"SNAPSHOT_PATH": snapshotPath,
		"OTEL_EXPORTER": exporter,
		"OTLP_ENDPOINT": otlpEndpoint,
	}
	for envVar, flag := range envVars {
		if envValue := os.Getenv(envVar); envValue != "" {
			*flag = envValue
		}
	}

	if envStoreInterval := os.Getenv("STORE_INTERVAL"); envStoreInterval != "" {
		interval, err := strconv.Atoi(envStoreInterval)
		if err != nil {
			return nil, fmt.Errorf("STORE_INTERVAL: %w", err)
		}
		*storeInterval = interval
	}
	if envRestore := os.Getenv("RESTORE"); envRestore != "" {
		value, err := strconv.ParseBool(envRestore)
		if err != nil {
			return nil, fmt.Errorf("RESTORE: %w", err)
		}
		*restore = value
	}
	if envRunTTL := os.Getenv("RUN_TTL"); envRunTTL != "" {
		ttl, err := time.ParseDuration(envRunTTL)
		if err != nil {
			return nil, fmt.Errorf("RUN_TTL: %w", err)
		}
		*runTTL = ttl
	}

	config.Address = *address
	config.DatabaseDSN = *databaseDSN
	config.Key = *key
	config.SnapshotPath = *snapshotPath
	config.StoreInterval = *storeInterval
	config.Restore = *restore
	config.RunTTL = *runTTL
	config.Exporter = *exporter
	config.OTLPEndpoint = *otlpEndpoint

	return config, nil
}
