package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docqa-ai/internal/chunking"
	"docqa-ai/internal/conversation"
	"docqa-ai/internal/inbox"
	"docqa-ai/internal/indexer"
	"docqa-ai/internal/rag"
	"docqa-ai/internal/search"
	"docqa-ai/internal/service"
	"docqa-ai/internal/vectorstore"
)

// Vector backends selectable with VECTOR_BACKEND.
const (
	BackendQdrant   = "qdrant"
	BackendPgVector = "pgvector"
	BackendMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	LLMBaseURL         string
	LLMModelName       string
	LLMAPIKey          string
	LLMRateLimit       float64 // requests per second, 0 = unlimited
	EmbeddingBaseURL   string
	EmbeddingModelName string
	DBPath             string
	VectorBackend      string
	VectorSize         int
	QdrantURL          string
	QdrantCollection   string
	PostgresDSN        string
	RedisURL           string // empty keeps sessions in memory
	InboxPath          string
	InboxUserID        string
	APIPort            string
	LogLevel           string
	LogFormat          string
	ConfigFile         string

	Tuning Tuning
}

// Tuning holds the per-component tunables. Defaults come from each
// component; CONFIG_FILE may override any of them.
type Tuning struct {
	Chunking     chunking.Options    `yaml:"chunking"`
	Search       search.Config       `yaml:"search"`
	Store        vectorstore.Config  `yaml:"store"`
	RAG          rag.Config          `yaml:"rag"`
	Chat         service.Config      `yaml:"chat"`
	Indexer      indexer.Config      `yaml:"indexer"`
	Conversation conversation.Config `yaml:"conversation"`
	Inbox        inbox.Config        `yaml:"inbox"`
}

// DefaultTuning returns every component's default configuration.
func DefaultTuning() Tuning {
	return Tuning{
		Chunking:     chunking.DefaultOptions(),
		Search:       search.DefaultConfig(),
		Store:        vectorstore.DefaultConfig(),
		RAG:          rag.DefaultConfig(),
		Chat:         service.DefaultConfig(),
		Indexer:      indexer.DefaultConfig(),
		Conversation: conversation.DefaultConfig(),
		Inbox:        inbox.DefaultConfig(),
	}
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or a parent, it is loaded first;
// variables already set take precedence over .env values. Tunables are read
// from the YAML file named by CONFIG_FILE, then environment overrides apply.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := &Config{
		LLMBaseURL:         getEnv("LLM_BASE_URL", "http://localhost:8080"),
		LLMModelName:       getEnv("LLM_MODEL", "Llama-3.1-8B-Instruct"),
		LLMAPIKey:          getEnv("LLM_API_KEY", "dummy-key"),
		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "http://localhost:8081"),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL_NAME", "granite-embedding-278m-multilingual"),
		DBPath:             getEnv("DB_PATH", "./data/docqa.db"),
		VectorBackend:      strings.ToLower(getEnv("VECTOR_BACKEND", BackendQdrant)),
		QdrantURL:          getEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection:   getEnv("QDRANT_COLLECTION", "chunks"),
		PostgresDSN:        getEnv("POSTGRES_DSN", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		InboxPath:          getEnv("INBOX_PATH", ""),
		InboxUserID:        getEnv("INBOX_USER_ID", ""),
		APIPort:            getEnv("API_PORT", "9000"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		ConfigFile:         getEnv("CONFIG_FILE", ""),
		Tuning:             DefaultTuning(),
	}

	// The vector size must match the output size of the embeddings model.
	// Changing it requires recreating the collection or table.
	vectorSizeStr := getEnv("VECTOR_SIZE", getEnv("QDRANT_VECTOR_SIZE", ""))
	if vectorSizeStr == "" {
		return nil, fmt.Errorf("VECTOR_SIZE is required")
	}
	vectorSize, err := strconv.Atoi(vectorSizeStr)
	if err != nil {
		return nil, fmt.Errorf("VECTOR_SIZE must be a valid integer: %w", err)
	}
	if vectorSize <= 0 {
		return nil, fmt.Errorf("VECTOR_SIZE must be greater than 0")
	}
	cfg.VectorSize = vectorSize

	switch cfg.VectorBackend {
	case BackendQdrant, BackendMemory:
	case BackendPgVector:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required when VECTOR_BACKEND=pgvector")
		}
	default:
		return nil, fmt.Errorf("VECTOR_BACKEND must be one of qdrant, pgvector, memory; got %q", cfg.VectorBackend)
	}

	if cfg.InboxPath != "" && cfg.InboxUserID == "" {
		return nil, fmt.Errorf("INBOX_USER_ID is required when INBOX_PATH is set")
	}

	if cfg.LLMRateLimit, err = getFloat("LLM_RATE_LIMIT", 0); err != nil {
		return nil, err
	}

	if cfg.ConfigFile != "" {
		if err := cfg.Tuning.loadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Tuning.Chunking.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunking configuration: %w", err)
	}

	// Create the data directory for the database file if it doesn't exist
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads .env from the working directory, then the first .env
// found walking up at most five parents.
func loadDotEnv() {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := wd
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// loadFile overlays the YAML file at path onto t. Keys absent from the file
// keep their current values.
func (t *Tuning) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyOverrides applies the environment variables that override tunables.
func (c *Config) applyOverrides() error {
	c.Tuning.Search.VectorSize = c.VectorSize

	if v := os.Getenv("SEARCH_FAIL_CLOSED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SEARCH_FAIL_CLOSED must be a boolean: %w", err)
		}
		c.Tuning.Search.FailClosed = b
	}

	timeout, err := getDuration("EXTERNAL_TIMEOUT", 0)
	if err != nil {
		return err
	}
	if timeout > 0 {
		c.Tuning.RAG.ExternalTimeout = timeout
		c.Tuning.Chat.ExternalTimeout = timeout
		c.Tuning.Indexer.ExternalTimeout = timeout
		c.Tuning.Search.Timeout = timeout
	}
	searchTimeout, err := getDuration("SEARCH_TIMEOUT", 0)
	if err != nil {
		return err
	}
	if searchTimeout > 0 {
		c.Tuning.Search.Timeout = searchTimeout
	}

	if v := os.Getenv("FACTS_USE_LLM"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FACTS_USE_LLM must be a boolean: %w", err)
		}
		c.Tuning.Chunking.FactOptions.UseLLM = b
	}
	if v := os.Getenv("FACTS_MIN_CONFIDENCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FACTS_MIN_CONFIDENCE must be a number: %w", err)
		}
		c.Tuning.Chunking.FactOptions.MinConfidence = f
	}

	idle, err := getDuration("SESSION_IDLE_TTL", 0)
	if err != nil {
		return err
	}
	if idle > 0 {
		c.Tuning.Conversation.IdleTTL = idle
	}
	return nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number", key)
	}
	return f, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 30s: %w", key, err)
	}
	return d, nil
}
