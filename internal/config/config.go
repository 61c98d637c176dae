// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Analytic  AnalyticConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int
	Environment     string
	ShutdownTimeout int
}

// DatabaseConfig holds PostgreSQL (relational engine) configuration.
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// AnalyticConfig holds DuckDB (analytic engine) configuration.
type AnalyticConfig struct {
	// Path is the DuckDB database file. Empty means in-memory.
	Path string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL        string
	ClientName string
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// LLMConfig holds generative provider configuration.
type LLMConfig struct {
	// OpenRouterKey authenticates the cloud provider chain.
	OpenRouterKey string
	// OpenRouterBaseURL is the OpenAI-compatible cloud endpoint.
	OpenRouterBaseURL string
	// FallbackModels is the ordered cloud model fallback list.
	FallbackModels []string
	// OllamaBaseURL is the local OpenAI-compatible endpoint.
	OllamaBaseURL string
	// OllamaModel is the local model name.
	OllamaModel string
	// OfflineEnabled makes the local provider exclusive when true.
	OfflineEnabled bool
	// EmbeddingModel is empty when vectorization is unavailable.
	EmbeddingModel string
	EmbeddingKey   string
	MaxTokens      int
	Temperature    float64
}

// RetrievalConfig holds retrieval tuning.
type RetrievalConfig struct {
	TopK          int
	VectorWeight  float64
	KeywordWeight float64
	HybridFloor   float64
	CacheEnabled  bool
}

// IngestConfig holds ingestion tuning.
type IngestConfig struct {
	ChunkTokens   int
	OverlapTokens int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("PORT", 8080),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ShutdownTimeout: getEnvAsInt("SHUTDOWN_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "datachat"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Analytic: AnalyticConfig{
			Path: getEnv("DUCKDB_PATH", "data/analytics.duckdb"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		NATS: NATSConfig{
			URL:        getEnv("NATS_URL", "nats://localhost:4222"),
			ClientName: getEnv("NATS_CLIENT_NAME", "datachat"),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
			SecretAccessKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
			BucketName:      getEnv("STORAGE_BUCKET", "datachat-uploads"),
			UseSSL:          getEnvAsBool("STORAGE_USE_SSL", false),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
		},
		LLM: LLMConfig{
			OpenRouterKey:     getEnv("OPENROUTER_API_KEY", ""),
			OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			FallbackModels:    getEnvAsList("LLM_FALLBACK_MODELS", []string{"deepseek/deepseek-chat", "meta-llama/llama-3.3-70b-instruct", "google/gemini-2.0-flash-001"}),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
			OllamaModel:       getEnv("OLLAMA_MODEL", "llama3.2"),
			OfflineEnabled:    getEnvAsBool("OFFLINE_ENABLED", false),
			EmbeddingModel:    getEnv("EMBEDDING_MODEL", ""),
			EmbeddingKey:      getEnv("EMBEDDING_API_KEY", ""),
			MaxTokens:         getEnvAsInt("LLM_MAX_TOKENS", 2048),
			Temperature:       getEnvAsFloat("LLM_TEMPERATURE", 0.3),
		},
		Retrieval: RetrievalConfig{
			TopK:          getEnvAsInt("RETRIEVAL_TOP_K", 5),
			VectorWeight:  getEnvAsFloat("RETRIEVAL_VECTOR_WEIGHT", 0.7),
			KeywordWeight: getEnvAsFloat("RETRIEVAL_KEYWORD_WEIGHT", 0.3),
			HybridFloor:   getEnvAsFloat("RETRIEVAL_HYBRID_FLOOR", 0.1),
			CacheEnabled:  getEnvAsBool("RETRIEVAL_CACHE_ENABLED", true),
		},
		Ingest: IngestConfig{
			ChunkTokens:   getEnvAsInt("CHUNK_TOKENS", 400),
			OverlapTokens: getEnvAsInt("CHUNK_OVERLAP_TOKENS", 40),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			AddSource: getEnvAsBool("LOG_ADD_SOURCE", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Environment == "production" && c.LLM.OpenRouterKey == "" && !c.LLM.OfflineEnabled {
		return fmt.Errorf("OPENROUTER_API_KEY must be set in production unless OFFLINE_ENABLED=true")
	}
	if len(c.LLM.FallbackModels) == 0 {
		return fmt.Errorf("LLM_FALLBACK_MODELS must list at least one model")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
