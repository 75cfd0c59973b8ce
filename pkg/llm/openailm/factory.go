package openailm

import (
	"fmt"
	"log/slog"

	"airose/pkg/config"
	"airose/pkg/llm"
)

// OpenAIFactory handles creation of OpenAI Clients
type OpenAIFactory struct{}

// Create implements ProviderFactory
func (f *OpenAIFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	apiKey := ""
	if len(cfg.APIKeys) > 0 {
		apiKey = cfg.APIKeys[0]
	}

	for _, model := range cfg.Models {
		client, err := NewClient("openai", apiKey, model, cfg.BaseURL, cfg.Options)
		if err != nil {
			slog.Error("Failed to create OpenAI client", "model", model, "error", err)
			continue
		}
		client.SetDebug(sys.DebugChunks)
		if sys.InternalChannelBuffer > 0 {
			client.buffer = sys.InternalChannelBuffer
		}
		clients = append(clients, client)
	}
	return clients, nil
}

// CreateEmbedder implements llm.EmbedderFactory.
func (f *OpenAIFactory) CreateEmbedder(cfg llm.ProviderGroupConfig, _ *config.SystemConfig) (llm.Embedder, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("openai embedder requires an api key")
	}
	model := "text-embedding-3-small"
	if len(cfg.Models) > 0 {
		model = cfg.Models[0]
	}
	return NewEmbedder(cfg.APIKeys[0], model, cfg.BaseURL), nil
}

func init() {
	llm.RegisterProvider("openai", &OpenAIFactory{})
}
