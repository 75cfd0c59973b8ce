package llm

import (
	"fmt"
	"log/slog"
	"time"

	"airose/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// NewFromConfig 根據設定檔建立 LLM Client
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (LLMClient, error) {
	var allAtomicClients []LLMClient

	if rawLLM == nil {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
	}

	for _, group := range groups {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type", "type", group.Type, "known", ProviderNames())
			continue
		}

		clients, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create clients", "type", group.Type, "error", err)
			continue
		}

		allAtomicClients = append(allAtomicClients, clients...)
	}

	if len(allAtomicClients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}

	slog.Info("LLM clients initialized", "count", len(allAtomicClients))

	if len(allAtomicClients) == 1 {
		return allAtomicClients[0], nil
	}

	// 否則包裹在 FallbackClient 中，並代入系統層級的重試設定
	return &FallbackClient{
		Clients:    allAtomicClients,
		MaxRetries: system.MaxRetries,
		RetryDelay: time.Duration(system.RetryDelayMs) * time.Millisecond,
	}, nil
}

// NewEmbedderFromConfig builds the embedder described by a single provider group.
// A nil raw config yields a nil embedder and no error.
func NewEmbedderFromConfig(raw jsoniter.RawMessage, system *config.SystemConfig) (Embedder, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var group ProviderGroupConfig
	if err := json.Unmarshal(raw, &group); err != nil {
		return nil, fmt.Errorf("failed to parse 'embedding' config: %w", err)
	}

	factory, ok := GetProviderFactory(group.Type)
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider type %q (known: %v)", group.Type, ProviderNames())
	}
	ef, ok := factory.(EmbedderFactory)
	if !ok {
		return nil, fmt.Errorf("provider %q cannot embed text", group.Type)
	}
	return ef.CreateEmbedder(group, system)
}
