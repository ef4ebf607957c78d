// Package app wires configuration into a running set of components shared by
// the API server and the command line tool.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"docqa-ai/internal/chunking"
	"docqa-ai/internal/config"
	"docqa-ai/internal/conversation"
	"docqa-ai/internal/facts"
	"docqa-ai/internal/handlers"
	"docqa-ai/internal/http"
	"docqa-ai/internal/inbox"
	"docqa-ai/internal/indexer"
	"docqa-ai/internal/llm"
	"docqa-ai/internal/rag"
	"docqa-ai/internal/search"
	"docqa-ai/internal/service"
	"docqa-ai/internal/storage"
	"docqa-ai/internal/vectorstore"
)

// evictionInterval is how often expired sessions are swept.
const evictionInterval = 10 * time.Minute

// App holds the wired components.
type App struct {
	Config *config.Config

	DB        *sql.DB
	Documents *storage.DocumentRepo
	Chunks    *storage.ChunkRepo
	Backend   vectorstore.Backend
	Store     *vectorstore.Store

	LLM      *llm.Client
	Embedder *llm.EmbeddingsClient
	Models   *llm.ModelChecker

	Pipeline *indexer.Pipeline
	Search   *search.Service
	RAG      rag.Engine
	Sessions *conversation.Manager
	Chat     service.ConversationalService

	closers []func() error
}

// New opens every store named by cfg and wires the components. Close
// releases them.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	if err := storage.Migrate(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	a.Documents = storage.NewDocumentRepo(db)
	a.Chunks = storage.NewChunkRepo(db)

	if a.Backend, err = a.openBackend(ctx); err != nil {
		return nil, err
	}
	tun := cfg.Tuning
	a.Store = vectorstore.NewStore(a.Documents, a.Chunks, a.Backend, tun.Store)

	var llmOpts []llm.ClientOption
	if cfg.LLMRateLimit > 0 {
		llmOpts = append(llmOpts, llm.WithRateLimit(cfg.LLMRateLimit, 1))
	}
	a.LLM = llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName, llmOpts...)
	a.Embedder = llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModelName, cfg.VectorSize)
	a.Models = llm.NewModelChecker(cfg.LLMBaseURL, cfg.LLMAPIKey)

	chunker := chunking.NewEngine(chunking.HeuristicTokenizer{}, facts.NewExtractor(a.LLM))
	a.Pipeline = indexer.NewPipeline(a.Documents, a.Chunks, a.Store, chunker, a.Embedder, tun.Chunking, tun.Indexer)

	a.Search = search.NewService(a.Backend, a.Chunks, a.Documents, tun.Search)
	a.Pipeline.SetCacheInvalidator(a.Search)
	a.RAG = rag.NewEngine(a.Embedder, a.Search, a.Documents, a.LLM, tun.RAG)

	var sessions conversation.Store = conversation.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisStore, err := conversation.NewRedisStoreFromURL(ctx, cfg.RedisURL, tun.Conversation.IdleTTL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, redisStore.Close)
		sessions = redisStore
		slog.Info("Sessions stored in Redis")
	}
	a.Sessions = conversation.NewManager(sessions, tun.Conversation)
	a.Chat = service.NewConversationalService(a.Sessions, a.RAG, a.LLM, tun.Chat)

	return a, nil
}

func (a *App) openBackend(ctx context.Context) (vectorstore.Backend, error) {
	cfg := a.Config
	switch cfg.VectorBackend {
	case config.BackendPgVector:
		pg, err := vectorstore.NewPgVectorStore(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.EnsureSchema(ctx, cfg.VectorSize); err != nil {
			return nil, fmt.Errorf("ensure pgvector schema: %w", err)
		}
		slog.Info("pgvector schema ready", "vector_size", cfg.VectorSize)
		return pg, nil
	case config.BackendMemory:
		slog.Warn("Using in-memory vector index; it is empty after a restart")
		return vectorstore.NewMemoryStore(), nil
	default:
		qs, err := vectorstore.NewQdrantStore(cfg.QdrantURL, cfg.QdrantCollection)
		if err != nil {
			return nil, fmt.Errorf("create qdrant client: %w", err)
		}
		a.closers = append(a.closers, qs.Close)
		if err := qs.EnsureCollection(ctx, cfg.VectorSize); err != nil {
			return nil, fmt.Errorf("ensure qdrant collection: %w", err)
		}
		slog.Info("Qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.VectorSize)
		return qs, nil
	}
}

// ValidateEmbeddings embeds a probe text and checks the vector size against
// the configured one.
func (a *App) ValidateEmbeddings(ctx context.Context) error {
	vecs, err := a.Embedder.EmbedTexts(ctx, []string{"test"})
	if err != nil {
		return fmt.Errorf("validate embedding client: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) != a.Config.VectorSize {
		got := 0
		if len(vecs) > 0 {
			got = len(vecs[0])
		}
		return fmt.Errorf("embedding vector size mismatch: expected %d, got %d", a.Config.VectorSize, got)
	}
	return nil
}

// RunSessionEviction sweeps expired sessions until ctx is done.
func (a *App) RunSessionEviction(ctx context.Context) {
	a.Sessions.RunEviction(ctx, evictionInterval)
}

// Watcher returns an inbox watcher for the configured folder, or nil when
// INBOX_PATH is unset.
func (a *App) Watcher() *inbox.Watcher {
	if a.Config.InboxPath == "" {
		return nil
	}
	return inbox.NewWatcher(a.Config.InboxPath, a.Config.InboxUserID, a.Pipeline, a.Config.Tuning.Inbox)
}

// RouterDeps returns the HTTP router dependencies.
func (a *App) RouterDeps() *http.Deps {
	return &http.Deps{
		ChatService:      a.Chat,
		RAGEngine:        a.RAG,
		Documents:        a.Pipeline,
		DocumentLister:   a.Documents,
		Integrity:        a.Store,
		Coverage:         a.Pipeline,
		SearchStats:      a.Search,
		ChunkingDefaults: a.Config.Tuning.Chunking,
		HealthChecks: []handlers.HealthCheck{
			{Name: "database", Critical: true, Check: func(ctx context.Context) error { return storage.Ping(ctx, a.DB) }},
			{Name: "vector_store", Critical: true, Check: a.Store.Healthy},
			{Name: "llm", Check: a.checkModel},
		},
	}
}

func (a *App) checkModel(ctx context.Context) error {
	ok, err := a.Models.HasModel(ctx, a.Config.LLMModelName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("model %q not served", a.Config.LLMModelName)
	}
	return nil
}

// Close releases every opened store in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SetupLogging installs the default slog logger for the given level and
// format ("text" or "json").
func SetupLogging(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging configured", "level", lvl.String(), "format", format)
	return nil
}
