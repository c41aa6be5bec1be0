package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/memvra/memory-agent/internal/adapter"
	"github.com/memvra/memory-agent/internal/config"
	ctxpkg "github.com/memvra/memory-agent/internal/context"
	"github.com/memvra/memory-agent/internal/db"
	"github.com/memvra/memory-agent/internal/extract"
	"github.com/memvra/memory-agent/internal/memory"
)

// app holds the opened database and store shared by a command run.
type app struct {
	cfg     config.Config
	db      *db.DB
	cache   *adapter.CachedEmbedder
	store   *memory.Store
	counter ctxpkg.Counter
}

func loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if configPath != "" {
		home, _ := os.UserHomeDir()
		cfg, err = config.LoadFrom(configPath, filepath.Join(home, ".env"))
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return cfg, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel == "" && cfg.Log.Level != "" {
		if err := setLogLevel(cfg.Log.Level); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// openApp loads the config, opens the database and builds the store.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.ResolvedDataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	emb, err := adapter.NewEmbedder(adapter.EmbedderOptions{
		Backend:   cfg.Embedding.Backend,
		Host:      cfg.Embedding.Host,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Keys.OpenAI,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   cfg.Embedding.Timeout.Duration,
	})
	if err != nil {
		return nil, err
	}
	cache, err := adapter.NewCachedEmbedder(emb, cfg.Embedding.CacheSize)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DBPath(), db.WithDimension(emb.Dimension()))
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := memory.NewStore(database, cache, memory.WithLogger(componentLogger("store")))
	if _, err := store.SyncIndex(ctx); err != nil {
		logger.Warn("vector index sync failed", "err", err)
	}

	return &app{
		cfg:     cfg,
		db:      database,
		cache:   cache,
		store:   store,
		counter: ctxpkg.DefaultCounter(),
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
	a.cache.Close()
}

// pipelineFlags override the configured gate and extract backends.
type pipelineFlags struct {
	gateBackend    string
	gateModel      string
	extractBackend string
	extractModel   string
}

func addPipelineFlags(cmd *cobra.Command, pf *pipelineFlags) {
	cmd.Flags().StringVar(&pf.gateBackend, "gate-backend", "", "gate backend: local, remote, anthropic, gemini, openai")
	cmd.Flags().StringVar(&pf.gateModel, "gate-model", "", "gate model (default per backend)")
	cmd.Flags().StringVar(&pf.extractBackend, "extract-backend", "", "extract backend: local, remote, anthropic, gemini, openai")
	cmd.Flags().StringVar(&pf.extractModel, "extract-model", "", "extract model (default per backend)")
}

func (a *app) llm(role adapter.Role, bc config.BackendConfig, backend, model string) (adapter.LLMAdapter, error) {
	if backend == "" {
		backend = bc.Backend
	}
	if model == "" && backend == bc.Backend {
		model = bc.Model
	}
	return adapter.New(backend, role, adapter.Options{
		Model:         model,
		APIKey:        a.cfg.APIKey(backend),
		LocalHost:     a.cfg.Ollama.LocalHost,
		RemoteHost:    a.cfg.Ollama.RemoteHost,
		OllamaTimeout: a.cfg.Ollama.Timeout.Duration,
		NumPredict:    a.cfg.Ollama.NumPredict,
	})
}

// pipeline builds the extraction pipeline from config and flag overrides.
func (a *app) pipeline(pf pipelineFlags) (*extract.Pipeline, error) {
	gate, err := a.llm(adapter.RoleGate, a.cfg.Gate, pf.gateBackend, pf.gateModel)
	if err != nil {
		return nil, fmt.Errorf("gate backend: %w", err)
	}
	ext, err := a.llm(adapter.RoleExtract, a.cfg.Extract, pf.extractBackend, pf.extractModel)
	if err != nil {
		return nil, fmt.Errorf("extract backend: %w", err)
	}

	pc := a.cfg.Pipeline
	policy, err := extract.ParseUpdatePolicy(pc.UpdatePolicy)
	if err != nil {
		return nil, err
	}
	cfg := extract.DefaultConfig()
	cfg.DedupThreshold = pc.DedupThreshold
	cfg.ContextThreshold = pc.ContextThreshold
	cfg.ContextLimit = pc.ContextLimit
	cfg.Temperature = pc.Temperature
	cfg.UpdatePolicy = policy
	cfg.KeepRawChunks = pc.KeepRawChunks

	gi, ei := gate.Info(), ext.Info()
	logger.Info("pipeline ready",
		"gate", gi.Provider+"/"+gi.Name,
		"extract", ei.Provider+"/"+ei.Name,
		"policy", policy)

	return extract.New(a.store, gate, ext, cfg,
		extract.WithLogger(componentLogger("pipeline")),
		extract.WithTokenCounter(a.counter),
	), nil
}

func componentLogger(name string) *log.Logger {
	return logger.With("component", name)
}
