package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/example/attendance-engine/internal/logging"
)

// Storage backends accepted by ATTENDANCE_STORE.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

const defaultEnvFile = ".env"

// Config captures environment driven configuration values for the attendance service.
type Config struct {
	HTTPPort          int
	Store             string
	SQLiteDSN         string
	CloseMaxAttempts  int
	ReportConcurrency int
	EventBuffer       int
	LogLevel          slog.Level
	// CatalogFile is an optional JSON course catalog loaded at startup.
	CatalogFile string
	// EnvFile is the dotenv file that was applied, empty when none was found.
	EnvFile string
}

// Load parses configuration values from the current process environment.
//
// Variables from a dotenv file (ATTENDANCE_ENV_FILE, default .env) are applied
// first without overriding values already present in the environment. Optional
// fields fall back to defaults; invalid entries are collected and reported
// together with localized messages.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:          8080,
		Store:             StoreSQLite,
		SQLiteDSN:         "attendance.db",
		CloseMaxAttempts:  3,
		ReportConcurrency: 4,
		EventBuffer:       16,
		LogLevel:          slog.LevelInfo,
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	envFile, explicit := lookup("ATTENDANCE_ENV_FILE")
	if !explicit {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err == nil {
		cfg.EnvFile = envFile
	} else if explicit || !errors.Is(err, fs.ErrNotExist) {
		invalid = append(invalid, "ATTENDANCE_ENV_FILE")
	}

	if portValue, ok := lookup("ATTENDANCE_HTTP_PORT"); ok {
		port, err := strconv.Atoi(portValue)
		if err != nil || port <= 0 || port > 65535 {
			invalid = append(invalid, "ATTENDANCE_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}

	if store, ok := lookup("ATTENDANCE_STORE"); ok {
		switch strings.ToLower(store) {
		case StoreSQLite, StoreMemory:
			cfg.Store = strings.ToLower(store)
		default:
			invalid = append(invalid, "ATTENDANCE_STORE")
		}
	}

	if dsn, ok := lookup("ATTENDANCE_SQLITE_DSN"); ok {
		cfg.SQLiteDSN = dsn
	}

	positive := []struct {
		key    string
		target *int
	}{
		{"ATTENDANCE_CLOSE_MAX_ATTEMPTS", &cfg.CloseMaxAttempts},
		{"ATTENDANCE_REPORT_CONCURRENCY", &cfg.ReportConcurrency},
		{"ATTENDANCE_EVENT_BUFFER", &cfg.EventBuffer},
	}
	for _, field := range positive {
		value, ok := lookup(field.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			invalid = append(invalid, field.key)
			continue
		}
		*field.target = n
	}

	if levelValue, ok := lookup("ATTENDANCE_LOG_LEVEL"); ok {
		level, err := logging.ParseLevel(levelValue)
		if err != nil {
			invalid = append(invalid, "ATTENDANCE_LOG_LEVEL")
		} else {
			cfg.LogLevel = level
		}
	}

	if catalog, ok := lookup("ATTENDANCE_CATALOG_FILE"); ok {
		cfg.CatalogFile = catalog
	} else if cfg.Store == StoreMemory {
		// The in-memory store starts empty and has no other source of courses.
		missing = append(missing, "ATTENDANCE_CATALOG_FILE")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}
