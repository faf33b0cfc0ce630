package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// Storage engine
	Backend    string // "sqlite", "badger" or "surreal"
	SQLitePath string
	BadgerDir  string

	// SurrealDB connection (only used with the surreal backend)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string

	// Local data directories
	BlobDir   string
	JobLogDir string

	// Embedding
	EmbedProvider  string // "hash", "ollama" or "openai"
	EmbedModel     string
	EmbedDimension int
	OllamaHost     string
	OpenAIAPIKey   string

	// Scheduler
	PoolSize     int
	MaxRetries   int
	PollInterval time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	dataDir := getEnv("DOCFLOW_DATA_DIR", defaultDataDir())

	return Config{
		Backend:    getEnv("DOCFLOW_BACKEND", "sqlite"),
		SQLitePath: getEnv("DOCFLOW_SQLITE_PATH", filepath.Join(dataDir, "docflow.db")),
		BadgerDir:  getEnv("DOCFLOW_BADGER_DIR", filepath.Join(dataDir, "badger")),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "docflow"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "pipeline"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),

		BlobDir:   getEnv("DOCFLOW_BLOB_DIR", filepath.Join(dataDir, "blobs")),
		JobLogDir: getEnv("DOCFLOW_JOB_LOG_DIR", filepath.Join(dataDir, "job-logs")),

		EmbedProvider:  getEnv("DOCFLOW_EMBED_PROVIDER", "hash"),
		EmbedModel:     getEnv("DOCFLOW_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("DOCFLOW_EMBED_DIMENSION", 0),
		OllamaHost:     getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),

		PoolSize:     getEnvInt("DOCFLOW_POOL_SIZE", 10),
		MaxRetries:   getEnvInt("DOCFLOW_MAX_RETRIES", 3),
		PollInterval: getEnvDuration("DOCFLOW_POLL_INTERVAL", 500*time.Millisecond),

		LogFile:  getEnv("DOCFLOW_LOG_FILE", filepath.Join(dataDir, "docflow.log")),
		LogLevel: parseLogLevel(getEnv("DOCFLOW_LOG_LEVEL", "INFO")),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "docflow")
	}
	return filepath.Join(home, ".docflow")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
