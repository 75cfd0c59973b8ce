package web

import (
	"fmt"
	"time"

	"airose/pkg/channels"
	"airose/pkg/config"
	"airose/pkg/gateway"

	jsoniter "github.com/json-iterator/go"
)

// WebFactory 負責建立 Web Channels
type WebFactory struct{}

// Create 實作 ChannelFactory
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig, deps channels.Deps) (gateway.Channel, error) {
	var pCfg WebConfig
	// 設定預設 Port
	pCfg.Port = 8080

	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
			return nil, fmt.Errorf("failed to parse web config: %w", err)
		}
	}

	wait := time.Duration(pCfg.ReplyTimeoutMs) * time.Millisecond
	if wait <= 0 && system != nil && system.TurnTimeoutMs > 0 {
		wait = time.Duration(system.TurnTimeoutMs)*time.Millisecond + 5*time.Second
	}

	return NewWebChannel(pCfg, deps.History, wait), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
