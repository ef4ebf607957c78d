package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvVars = []string{
	"VECTOR_SIZE", "QDRANT_VECTOR_SIZE", "VECTOR_BACKEND", "POSTGRES_DSN", "REDIS_URL",
	"LLM_BASE_URL", "LLM_API_KEY", "LLM_MODEL", "LLM_RATE_LIMIT",
	"EMBEDDING_BASE_URL", "EMBEDDING_MODEL_NAME",
	"DB_PATH", "QDRANT_URL", "QDRANT_COLLECTION", "API_PORT",
	"LOG_LEVEL", "LOG_FORMAT", "CONFIG_FILE",
	"SEARCH_FAIL_CLOSED", "EXTERNAL_TIMEOUT", "SESSION_IDLE_TTL",
	"INBOX_PATH", "INBOX_USER_ID",
	"SEARCH_TIMEOUT", "FACTS_USE_LLM", "FACTS_MIN_CONFIDENCE",
}

// clearEnv blanks every variable Load reads for the duration of the test.
// getEnv treats empty values as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "data", "test.db"))
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func(*testing.T)
		wantErr     bool
		checkConfig func(*testing.T, *Config)
	}{
		{
			name: "valid config with required fields",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.VectorSize != 768 {
					t.Errorf("VectorSize = %d, want 768", cfg.VectorSize)
				}
				if cfg.Tuning.Search.VectorSize != 768 {
					t.Errorf("Tuning.Search.VectorSize = %d, want 768", cfg.Tuning.Search.VectorSize)
				}
			},
		},
		{
			name: "legacy QDRANT_VECTOR_SIZE",
			setupEnv: func(t *testing.T) {
				t.Setenv("QDRANT_VECTOR_SIZE", "1024")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.VectorSize != 1024 {
					t.Errorf("VectorSize = %d, want 1024", cfg.VectorSize)
				}
			},
		},
		{
			name:     "missing VECTOR_SIZE",
			setupEnv: func(t *testing.T) {},
			wantErr:  true,
		},
		{
			name: "invalid VECTOR_SIZE",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "invalid")
			},
			wantErr: true,
		},
		{
			name: "zero VECTOR_SIZE",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "0")
			},
			wantErr: true,
		},
		{
			name: "unknown backend",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("VECTOR_BACKEND", "milvus")
			},
			wantErr: true,
		},
		{
			name: "pgvector requires dsn",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("VECTOR_BACKEND", "pgvector")
			},
			wantErr: true,
		},
		{
			name: "pgvector with dsn",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("VECTOR_BACKEND", "PgVector")
				t.Setenv("POSTGRES_DSN", "postgres://localhost/docqa")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.VectorBackend != BackendPgVector {
					t.Errorf("VectorBackend = %q, want pgvector", cfg.VectorBackend)
				}
			},
		},
		{
			name: "inbox requires user",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("INBOX_PATH", t.TempDir())
			},
			wantErr: true,
		},
		{
			name: "default values for optional fields",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.LLMBaseURL != "http://localhost:8080" {
					t.Errorf("LLMBaseURL = %q", cfg.LLMBaseURL)
				}
				if cfg.VectorBackend != BackendQdrant || cfg.QdrantCollection != "chunks" {
					t.Errorf("backend = %q collection = %q", cfg.VectorBackend, cfg.QdrantCollection)
				}
				if cfg.APIPort != "9000" || cfg.LogLevel != "info" || cfg.LogFormat != "text" {
					t.Errorf("APIPort = %q LogLevel = %q LogFormat = %q", cfg.APIPort, cfg.LogLevel, cfg.LogFormat)
				}
				if cfg.LLMRateLimit != 0 {
					t.Errorf("LLMRateLimit = %v, want 0", cfg.LLMRateLimit)
				}
				if cfg.Tuning.Chunking.ChunkSizeTokens != 600 || cfg.Tuning.RAG.MaxSourcesPerResponse != 5 {
					t.Errorf("Tuning = %+v, want component defaults", cfg.Tuning)
				}
			},
		},
		{
			name: "environment overrides",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("SEARCH_FAIL_CLOSED", "true")
				t.Setenv("EXTERNAL_TIMEOUT", "5s")
				t.Setenv("SESSION_IDLE_TTL", "2h")
				t.Setenv("LLM_RATE_LIMIT", "2.5")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if !cfg.Tuning.Search.FailClosed {
					t.Error("SEARCH_FAIL_CLOSED not applied")
				}
				if cfg.Tuning.RAG.ExternalTimeout != 5*time.Second || cfg.Tuning.Indexer.ExternalTimeout != 5*time.Second {
					t.Errorf("EXTERNAL_TIMEOUT not applied: %v / %v", cfg.Tuning.RAG.ExternalTimeout, cfg.Tuning.Indexer.ExternalTimeout)
				}
				if cfg.Tuning.Conversation.IdleTTL != 2*time.Hour {
					t.Errorf("IdleTTL = %v, want 2h", cfg.Tuning.Conversation.IdleTTL)
				}
				if cfg.LLMRateLimit != 2.5 {
					t.Errorf("LLMRateLimit = %v, want 2.5", cfg.LLMRateLimit)
				}
			},
		},
		{
			name: "search timeout overrides",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("EXTERNAL_TIMEOUT", "5s")
				t.Setenv("SEARCH_TIMEOUT", "2s")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.Tuning.Search.Timeout != 2*time.Second {
					t.Errorf("Search.Timeout = %v, want 2s", cfg.Tuning.Search.Timeout)
				}
			},
		},
		{
			name: "default search timeout",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.Tuning.Search.Timeout != 30*time.Second {
					t.Errorf("Search.Timeout = %v, want 30s", cfg.Tuning.Search.Timeout)
				}
			},
		},
		{
			name: "fact extraction overrides",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("FACTS_USE_LLM", "true")
				t.Setenv("FACTS_MIN_CONFIDENCE", "0.8")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				fo := cfg.Tuning.Chunking.FactOptions
				if !fo.UseLLM || fo.MinConfidence != 0.8 {
					t.Errorf("FactOptions = %+v, want UseLLM and 0.8", fo)
				}
			},
		},
		{
			name: "fact confidence out of range",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("FACTS_MIN_CONFIDENCE", "1.5")
			},
			wantErr: true,
		},
		{
			name: "invalid FACTS_USE_LLM",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("FACTS_USE_LLM", "sometimes")
			},
			wantErr: true,
		},
		{
			name: "invalid EXTERNAL_TIMEOUT",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("EXTERNAL_TIMEOUT", "soon")
			},
			wantErr: true,
		},
		{
			name: "invalid SEARCH_FAIL_CLOSED",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("SEARCH_FAIL_CLOSED", "maybe")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			tt.setupEnv(t)

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.checkConfig != nil {
				tt.checkConfig(t, cfg)
			}
		})
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "docqa.yaml")
	content := `chunking:
  chunk_size_tokens: 400
  overlap_tokens: 50
  preserve_sentence_boundaries: true
  dual_layer: false
  facts_use_llm: true
  facts_min_confidence: 0.75
search:
  cache_ttl: 1m
  timeout: 10s
  relaxed_threshold: 0.4
rag:
  max_sources_per_response: 3
conversation:
  idle_ttl: 12h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("VECTOR_SIZE", "768")
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SESSION_IDLE_TTL", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tun := cfg.Tuning
	if tun.Chunking.ChunkSizeTokens != 400 || tun.Chunking.OverlapTokens != 50 || tun.Chunking.DualLayer {
		t.Errorf("Chunking = %+v", tun.Chunking)
	}
	if !tun.Chunking.FactOptions.UseLLM || tun.Chunking.FactOptions.MinConfidence != 0.75 {
		t.Errorf("FactOptions = %+v", tun.Chunking.FactOptions)
	}
	if tun.Search.CacheTTL != time.Minute || tun.Search.RelaxedThreshold != 0.4 || tun.Search.Timeout != 10*time.Second {
		t.Errorf("Search = %+v", tun.Search)
	}
	if tun.RAG.MaxSourcesPerResponse != 3 || tun.RAG.ContextTokenBudget != 3000 {
		t.Errorf("RAG = %+v, want file value and default budget", tun.RAG)
	}
	if tun.Conversation.IdleTTL != time.Hour {
		t.Errorf("IdleTTL = %v, environment should win over the file", tun.Conversation.IdleTTL)
	}
}

func TestLoad_ConfigFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "search:\n  cache_tll: 1m\n"},
		{"invalid chunking", "chunking:\n  chunk_size_tokens: 100\n  overlap_tokens: 100\n"},
		{"malformed yaml", "rag: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := filepath.Join(t.TempDir(), "docqa.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			t.Setenv("VECTOR_SIZE", "768")
			t.Setenv("CONFIG_FILE", path)

			if _, err := Load(); err == nil {
				t.Error("Load() expected error")
			}
		})
	}
}

func TestLoad_CreatesDataDirectory(t *testing.T) {
	clearEnv(t)
	dbPath := filepath.Join(t.TempDir(), "test", "db.db")
	t.Setenv("VECTOR_SIZE", "768")
	t.Setenv("DB_PATH", dbPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
		t.Errorf("Load() should create data directory: %v", err)
	}
	if cfg.DBPath != dbPath {
		t.Errorf("Load() DBPath = %v, want %v", cfg.DBPath, dbPath)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue string
		want         string
	}{
		{"env var set", "set-value", "default", "set-value"},
		{"env var not set", "", "default", "default"},
		{"empty default", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_VAR", tt.value)
			if got := getEnv("TEST_ENV_VAR", tt.defaultValue); got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}
