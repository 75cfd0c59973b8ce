package channels

import (
	"sort"

	"airose/pkg/api"
	"airose/pkg/config"
	"airose/pkg/gateway"

	jsoniter "github.com/json-iterator/go"
)

// Deps carries the shared services a channel may need besides the gateway.
type Deps struct {
	// History lets channels show a conversation's transcript.
	History api.HistoryReader
}

// ChannelFactory defines the abstract interface for platform-specific
// channel creators. This allows the system to support new platforms
// (e.g., Line, Discord) without modifying the core gateway logic.
type ChannelFactory interface {
	// Create instantiates a concrete Channel implementation using the
	// provided configuration and shared system resources.
	Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig, deps Deps) (gateway.Channel, error)
}

// channelRegistry is an internal global map stores the mapping between
// platform names (e.g., "telegram") and their factory implementations.
var channelRegistry = make(map[string]ChannelFactory)

// RegisterChannel adds a new ChannelFactory to the global internal registry.
// This is typically called during the package's init() phase.
func RegisterChannel(name string, factory ChannelFactory) {
	channelRegistry[name] = factory
}

// GetChannelFactory retrieves a registered ChannelFactory by platform name.
func GetChannelFactory(name string) (ChannelFactory, bool) {
	f, ok := channelRegistry[name]
	return f, ok
}

// Names lists the registered platforms.
func Names() []string {
	names := make([]string, 0, len(channelRegistry))
	for n := range channelRegistry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
