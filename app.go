package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"airose/pkg/agent"
	"airose/pkg/checkpoint"
	"airose/pkg/config"
	"airose/pkg/graph"
	"airose/pkg/llm"
	"airose/pkg/monitor"
	"airose/pkg/prompts"
	"airose/pkg/search"
	"airose/pkg/supervisor"
	"airose/pkg/tools"
)

// app holds everything that lives for the whole process. The graph is
// rebuilt whenever system.json changes.
type app struct {
	cfg      *config.Config
	client   llm.LLMClient
	registry *tools.ToolRegistry
	store    checkpoint.Store
	locker   checkpoint.Locker
	recorder *tools.Recorder

	mu     sync.RWMutex
	sysCfg *config.SystemConfig
	graph  *graph.Graph
}

// bootstrap loads both config files and wires the conversation graph.
func bootstrap(ctx context.Context, appPath, sysPath string) (*app, error) {
	cfg, sysCfg, err := config.Load(appPath, sysPath)
	if err != nil {
		return nil, err
	}
	monitor.SetupSlog(sysCfg.LogLevel)

	// --- 1. LLM 設定 ---
	client, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init LLM client: %w", err)
	}
	embedder, err := llm.NewEmbedderFromConfig(cfg.Embedding, sysCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init embedder: %w", err)
	}
	if embedder == nil {
		slog.Warn("No embedding provider configured, search falls back to keyword matching")
	}

	// --- 2. 檢索索引 ---
	catalog := search.DefaultCatalog()
	if cfg.Search.SeedFile != "" {
		if catalog, err = search.LoadCatalog(cfg.Search.SeedFile); err != nil {
			return nil, err
		}
	}
	index := search.NewMemoryIndex(embedder)
	if err := index.Seed(ctx, catalog); err != nil {
		return nil, fmt.Errorf("failed to seed search index: %w", err)
	}
	slog.Info("Search index ready", "collections", index.Collections())

	// --- 3. 工具 ---
	recorder := tools.NewRecorder()
	registry, err := tools.NewCareRegistry(tools.CareDeps{
		Notifier:   recorder,
		Activities: recorder,
		Searcher:   index,
		TopK:       cfg.Search.TopK,
	})
	if err != nil {
		return nil, err
	}

	// --- 4. Checkpoint ---
	store, locker, err := checkpoint.NewFromConfig(cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	slog.Info("Checkpoint store ready", "backend", cfg.Checkpoint.Backend, "codec", cfg.Checkpoint.Codec, "compress", cfg.Checkpoint.Compress)

	a := &app{
		cfg:      cfg,
		client:   client,
		registry: registry,
		store:    store,
		locker:   locker,
		recorder: recorder,
	}
	if err := a.reload(sysCfg); err != nil {
		return nil, err
	}
	return a, nil
}

// reload rebuilds the graph with new engine limits. The previous graph keeps
// serving turns that already started.
func (a *app) reload(sysCfg *config.SystemConfig) error {
	members := prompts.DefaultMembers()
	g, err := graph.New(graph.Deps{
		Router:     supervisor.NewRouter(a.client, members, a.cfg.SupervisorPrompt, sysCfg),
		Engine:     agent.NewEngine(a.client, a.registry, sysCfg),
		Store:      a.store,
		Responders: prompts.DefaultResponders(),
		SysCfg:     sysCfg,
	})
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}
	monitor.SetLevel(sysCfg.LogLevel)

	a.mu.Lock()
	a.sysCfg, a.graph = sysCfg, g
	a.mu.Unlock()
	return nil
}

func (a *app) current() (*graph.Graph, *config.SystemConfig) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.graph, a.sysCfg
}

// close releases backend connections.
func (a *app) close() {
	if c, ok := a.store.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close checkpoint store", "error", err)
		}
	}
}
