package channels

import (
	"log/slog"
	"sort"

	"airose/pkg/config"
	"airose/pkg/gateway"

	jsoniter "github.com/json-iterator/go"
)

// LoadFromConfig acts as the central orchestration point for dynamic
// channel initialization. It iterates through the provided configuration
// map, resolves factories and returns the channels ready to be registered
// with the gateway. Broken entries are logged and skipped.
func LoadFromConfig(configs map[string]jsoniter.RawMessage, system *config.SystemConfig, deps Deps) []gateway.Channel {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []gateway.Channel
	for _, name := range names {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("Unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(configs[name], system, deps)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}

		// Create 回傳 nil 代表條件不足但不是錯誤 (例如沒有 token)
		if channel == nil {
			continue
		}

		out = append(out, channel)
		slog.Info("Channel loaded", "name", name)
	}
	return out
}
