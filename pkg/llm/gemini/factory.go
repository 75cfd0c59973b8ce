package gemini

import (
	"fmt"

	"airose/pkg/config"
	"airose/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GeminiFactory handles creation of Gemini Clients
type GeminiFactory struct{}

// Create implements ProviderFactory
func (f *GeminiFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.LLMClient, error) {
	var clients []llm.LLMClient

	useThought := false
	if effort, ok := cfg.Options["thinking_effort"].(string); ok && effort != "" && effort != "off" {
		useThought = true
	}

	// Cartesian Product: Models x Keys (prioritize models)
	for _, model := range cfg.Models {
		for _, key := range cfg.APIKeys {
			client, err := NewGeminiClient(key, model, useThought)
			if err != nil {
				return nil, err
			}
			client.SetDebug(sys.DebugChunks)
			if sys.InternalChannelBuffer > 0 {
				client.buffer = sys.InternalChannelBuffer
			}
			clients = append(clients, client)
		}
	}
	return clients, nil
}

// CreateEmbedder implements llm.EmbedderFactory using the first model and key.
func (f *GeminiFactory) CreateEmbedder(cfg llm.ProviderGroupConfig, _ *config.SystemConfig) (llm.Embedder, error) {
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("gemini embedder requires an api key")
	}
	model := "text-embedding-004"
	if len(cfg.Models) > 0 {
		model = cfg.Models[0]
	}
	return NewGeminiEmbedder(cfg.APIKeys[0], model)
}

func init() {
	llm.RegisterProvider("gemini", &GeminiFactory{})
}
