package llm

import (
	"sort"
	"sync"

	"airose/pkg/config"
)

// ProviderGroupConfig 定義一組模型的配置，作為 Factory 的輸入標準
type ProviderGroupConfig struct {
	Type                string         `json:"type"`
	APIKeys             []string       `json:"api_keys,omitempty"`
	Models              []string       `json:"models"`
	BaseURL             string         `json:"base_url,omitempty"`
	UseThoughtSignature bool           `json:"use_thought_signature,omitempty"`
	Options             map[string]any `json:"options,omitempty"`
}

// ProviderFactory 定義建立 LLM Client 的工廠介面
type ProviderFactory interface {
	// Create 根據配置建立一組 atomic clients
	Create(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) ([]LLMClient, error)
}

// EmbedderFactory is implemented by providers that can also embed text.
type EmbedderFactory interface {
	CreateEmbedder(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) (Embedder, error)
}

var (
	providerMu       sync.RWMutex
	providerRegistry = make(map[string]ProviderFactory)
)

// RegisterProvider 由各 provider 套件的 init() 呼叫，重複註冊會 panic
func RegisterProvider(name string, factory ProviderFactory) {
	providerMu.Lock()
	defer providerMu.Unlock()
	if _, dup := providerRegistry[name]; dup {
		panic("llm: provider registered twice: " + name)
	}
	providerRegistry[name] = factory
}

func GetProviderFactory(name string) (ProviderFactory, bool) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	f, ok := providerRegistry[name]
	return f, ok
}

// ProviderNames 回傳已註冊的 provider 類型，依名稱排序
func ProviderNames() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()
	names := make([]string, 0, len(providerRegistry))
	for n := range providerRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
