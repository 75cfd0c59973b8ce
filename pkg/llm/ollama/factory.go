package ollama

import (
	"log/slog"

	"airose/pkg/config"
	"airose/pkg/llm"
)

// OllamaFactory handles creation of Ollama Clients
type OllamaFactory struct{}

// Create implements ProviderFactory
func (f *OllamaFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	for _, model := range cfg.Models {
		client, err := NewOllamaClient(model, baseURL(cfg, sys), cfg.Options)
		if err != nil {
			slog.Error("Failed to create Ollama client", "model", model, "error", err)
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
func (f *OllamaFactory) CreateEmbedder(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) (llm.Embedder, error) {
	model := "nomic-embed-text"
	if len(cfg.Models) > 0 {
		model = cfg.Models[0]
	}
	return NewOllamaEmbedder(model, baseURL(cfg, sys))
}

func baseURL(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) string {
	if cfg.BaseURL != "" {
		return cfg.BaseURL
	}
	return sys.OllamaDefaultURL
}

func init() {
	llm.RegisterProvider("ollama", &OllamaFactory{})
}
