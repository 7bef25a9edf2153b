// Package server carries the ops HTTP surface (health, stats, queue and
// recurring administration, Prometheus metrics) and the environment
// configuration for the scheduler daemon.
package server

import (
	"os"
	"strconv"
	"time"

	"github.com/omriozer/ludora-scheduler/internal/core"
)

// Config holds daemon configuration from environment variables.
type Config struct {
	// Port is the ops HTTP listener port.
	Port string

	// NatsURL is the job store address. StoreConfigured records whether it was
	// set explicitly; an explicitly configured store that cannot be reached is
	// fatal at startup.
	NatsURL         string
	StoreConfigured bool

	// FailOnStoreUnavailable makes an unreachable store fatal even when no
	// explicit address was configured.
	FailOnStoreUnavailable bool

	// Concurrency carries per-class worker slot overrides. Classes left at
	// zero keep their defaults (10/5/3/1).
	Concurrency map[core.QueueClass]int

	PollInterval        time.Duration
	MaintenanceInterval time.Duration
	Visibility          time.Duration
	MaxStalls           int

	ShutdownTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// LoadConfig reads configuration from environment variables with defaults.
func LoadConfig() Config {
	natsURL, storeConfigured := os.LookupEnv("LUDORA_NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
		storeConfigured = false
	}

	return Config{
		Port:                   getEnv("LUDORA_OPS_PORT", "8080"),
		NatsURL:                natsURL,
		StoreConfigured:        storeConfigured,
		FailOnStoreUnavailable: getEnvBool("LUDORA_SCHEDULER_FAIL_ON_STORE_UNAVAILABLE", false),
		Concurrency: map[core.QueueClass]int{
			core.QueueCritical: getEnvInt("LUDORA_WORKERS_CRITICAL", 0),
			core.QueueHigh:     getEnvInt("LUDORA_WORKERS_HIGH", 0),
			core.QueueMedium:   getEnvInt("LUDORA_WORKERS_MEDIUM", 0),
			core.QueueLow:      getEnvInt("LUDORA_WORKERS_LOW", 0),
		},
		PollInterval:        getEnvDuration("LUDORA_POLL_INTERVAL_MS", 250*time.Millisecond),
		MaintenanceInterval: getEnvDuration("LUDORA_MAINTENANCE_INTERVAL_MS", time.Second),
		Visibility:          getEnvDuration("LUDORA_VISIBILITY_TIMEOUT_MS", 30*time.Second),
		MaxStalls:           getEnvInt("LUDORA_MAX_STALLS", core.DefaultMaxStalls),
		ShutdownTimeout:     getEnvDuration("LUDORA_SHUTDOWN_TIMEOUT_MS", 30*time.Second),
		ReadTimeout:         getEnvDuration("LUDORA_HTTP_READ_TIMEOUT_MS", 10*time.Second),
		WriteTimeout:        getEnvDuration("LUDORA_HTTP_WRITE_TIMEOUT_MS", 30*time.Second),
		IdleTimeout:         getEnvDuration("LUDORA_HTTP_IDLE_TIMEOUT_MS", 120*time.Second),
	}
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if ms, err := strconv.ParseInt(val, 10, 64); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
