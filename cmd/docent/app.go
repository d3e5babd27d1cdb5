package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql

	"github.com/nugget/docent/internal/agent"
	"github.com/nugget/docent/internal/cleanup"
	"github.com/nugget/docent/internal/config"
	"github.com/nugget/docent/internal/connwatch"
	"github.com/nugget/docent/internal/documents"
	"github.com/nugget/docent/internal/embeddings"
	"github.com/nugget/docent/internal/events"
	"github.com/nugget/docent/internal/fetch"
	"github.com/nugget/docent/internal/ingest"
	"github.com/nugget/docent/internal/llm"
	"github.com/nugget/docent/internal/memory"
	"github.com/nugget/docent/internal/retrieval"
	"github.com/nugget/docent/internal/safety"
	"github.com/nugget/docent/internal/search"
	"github.com/nugget/docent/internal/tools"
	"github.com/nugget/docent/internal/usage"
)

// app holds the components shared by every subcommand.
type app struct {
	db       *sql.DB
	bus      *events.Bus
	docs     *documents.Store
	mem      *memory.Store
	embedder embeddings.Embedder
	ingester *ingest.Ingester
	llm      *llm.MultiClient
	ollama   *llm.OllamaClient
	loop     *agent.Loop
	sweeper  *cleanup.Sweeper
	usage    *usage.Store
	recorder *usage.Recorder
}

// newApp opens the database and wires the components from cfg.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := filepath.Join(cfg.DataDir, "docent.db")
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", "path", dbPath)

	a := &app{db: db, bus: events.New()}
	ok := false
	defer func() {
		if !ok {
			db.Close()
		}
	}()

	if a.docs, err = documents.NewStore(db); err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	if a.mem, err = memory.NewStore(db); err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	if a.usage, err = usage.NewStore(db); err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	a.embedder = createEmbedder(cfg, logger)

	guard := safety.NewGuard(createScanner(cfg, logger), cfg.Safety.Timeout, a.bus, logger)
	a.ingester = ingest.New(a.docs, a.embedder, guard, fetch.New(cfg.Documents.MaxUploadBytes), a.bus, logger, ingest.Config{
		ChunkSize:    cfg.Documents.ChunkSize,
		ChunkOverlap: cfg.Documents.ChunkOverlap,
		MaxBytes:     cfg.Documents.MaxUploadBytes,
	})

	threshold := float32(cfg.Retrieval.MinScore())
	gate := retrieval.NewGate(a.docs, a.embedder, retrieval.Config{
		Threshold:    &threshold,
		DefaultLimit: cfg.Retrieval.MaxResults,
		MaxLimit:     cfg.Retrieval.MaxLimit,
	}, logger)

	reg := tools.NewRegistry(logger)
	reg.RegisterDocumentTools(gate, a.docs, a.bus)
	var web tools.WebSearcher
	if mgr := createSearch(cfg); mgr != nil {
		web = mgr
		logger.Info("web search enabled", "providers", mgr.Providers())
	} else {
		logger.Info("web search not configured")
	}
	reg.RegisterWebSearch(web, search.MaxCount)

	persona, err := loadPersona(cfg.Agent.SystemPromptFile)
	if err != nil {
		return nil, err
	}

	a.ollama = llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	a.llm = createLLMClient(cfg, a.ollama, logger)
	a.loop = agent.NewLoop(logger, a.mem, a.llm, reg, a.bus, agent.Config{
		DefaultModel:  cfg.Models.Default,
		MaxIterations: cfg.Agent.MaxIterations,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		Persona:       persona,
		TemporaryTTL:  time.Duration(cfg.Documents.TemporaryTTLHours) * time.Hour,
	})
	logger.Info("agent ready", "tools", reg.Names(), "max_iterations", cfg.Agent.MaxIterations)

	a.sweeper = cleanup.New(a.docs, a.embedder, a.bus, logger, cleanup.Config{
		Interval: cfg.Cleanup.Interval,
	})

	a.recorder = usage.NewRecorder(a.usage, a.bus, cfg.Pricing, cfg.ModelProvider, logger)
	a.recorder.Start(context.Background())

	ok = true
	return a, nil
}

// Close flushes pending usage records and releases the database.
func (a *app) Close() error {
	a.recorder.Stop()
	return a.db.Close()
}

// watchServices probes the backends a turn depends on. Hosted model
// providers are not probed, since their only health check is a billed
// request.
func (a *app) watchServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) *connwatch.Manager {
	m := connwatch.NewManager(connwatch.Config{
		PollInterval: cfg.Health.PollInterval,
		ProbeTimeout: cfg.Health.ProbeTimeout,
	}, a.bus, logger)

	m.Watch(ctx, "ollama", a.ollama.Ping)
	if cfg.Embeddings.Provider == "ollama" && cfg.Embeddings.BaseURL != cfg.Models.OllamaURL {
		m.Watch(ctx, "embeddings", connwatch.HTTPProbe(strings.TrimRight(cfg.Embeddings.BaseURL, "/")+"/api/tags"))
	}
	if cfg.Search.SearXNG.URL != "" {
		m.Watch(ctx, "searxng", connwatch.HTTPProbe(cfg.Search.SearXNG.URL))
	}
	return m
}

// openDB opens SQLite in WAL mode with a busy timeout so the sweeper and
// request handlers can write concurrently.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

// createLLMClient builds a multi-provider client. Models not explicitly
// mapped fall through to Ollama.
func createLLMClient(cfg *config.Config, ollamaClient *llm.OllamaClient, logger *slog.Logger) *llm.MultiClient {
	multi := llm.NewMultiClient(ollamaClient)
	multi.AddProvider("ollama", ollamaClient)

	if cfg.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
		logger.Info("Anthropic provider configured")
	}
	if cfg.OpenAI.APIKey != "" {
		multi.AddProvider("openai", llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger))
		logger.Info("OpenAI provider configured", "base_url", cfg.OpenAI.BaseURL)
	}

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, cfg.ModelProvider(m.Name))
	}
	logger.Info("LLM client initialized", "default_model", cfg.Models.Default, "default_provider", cfg.ModelProvider(cfg.Models.Default))
	return multi
}

func createEmbedder(cfg *config.Config, logger *slog.Logger) embeddings.Embedder {
	if cfg.Embeddings.Provider == "openai" {
		logger.Info("embeddings via openai", "model", cfg.Embeddings.Model)
		return embeddings.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Embeddings.Model)
	}
	logger.Info("embeddings via ollama", "model", cfg.Embeddings.Model, "url", cfg.Embeddings.BaseURL)
	return embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})
}

// createScanner returns nil when no scanner is configured, which the
// guard treats as scanning disabled.
func createScanner(cfg *config.Config, logger *slog.Logger) safety.Scanner {
	if cfg.Safety.VirusTotalAPIKey == "" {
		logger.Warn("content scanning disabled (no virustotal_api_key)")
		return nil
	}
	return safety.NewVirusTotal(cfg.Safety.VirusTotalAPIKey, logger)
}

// createSearch returns nil when no web search provider is configured.
func createSearch(cfg *config.Config) *search.Manager {
	if !cfg.Search.Configured() {
		return nil
	}
	mgr := search.NewManager(strings.ToLower(cfg.Search.Provider))
	if cfg.Search.SearXNG.URL != "" {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL))
	}
	if cfg.Search.Brave.APIKey != "" {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey))
	}
	return mgr
}

// loadPersona reads an optional system prompt override.
func loadPersona(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
