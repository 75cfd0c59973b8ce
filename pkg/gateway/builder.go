package gateway

import (
	"fmt"

	"airose/pkg/api"
	"airose/pkg/monitor"
)

// GatewayBuilder 組裝 GatewayManager：monitor、channels、chat handler，最後一次啟動
type GatewayBuilder struct {
	monitor  monitor.Monitor
	handler  api.MessageProcessor
	channels []Channel
}

func NewGatewayBuilder() *GatewayBuilder {
	return &GatewayBuilder{}
}

// WithMonitor 設定對話紀錄的輸出 (CLI transcript 或 Nop)
func (b *GatewayBuilder) WithMonitor(m monitor.Monitor) *GatewayBuilder {
	b.monitor = m
	return b
}

func (b *GatewayBuilder) WithChannel(channels ...Channel) *GatewayBuilder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithHandler 設定處理每則使用者訊息的 handler。
// 若 handler 實作 api.ResponderAware，Build 時會把 gateway 注入為回覆出口。
func (b *GatewayBuilder) WithHandler(h api.MessageProcessor) *GatewayBuilder {
	b.handler = h
	return b
}

// Build 檢查設定、接好 handler 並啟動所有 channel。
// 任何一個 channel 啟動失敗時，已啟動的 channel 與 monitor 都會被關閉。
func (b *GatewayBuilder) Build() (*GatewayManager, error) {
	seen := make(map[string]bool, len(b.channels))
	for _, c := range b.channels {
		if c == nil {
			return nil, fmt.Errorf("nil channel")
		}
		if seen[c.ID()] {
			return nil, fmt.Errorf("channel %q registered twice", c.ID())
		}
		seen[c.ID()] = true
	}

	gw := NewGatewayManager()
	gw.SetMonitor(b.monitor)
	if err := gw.monitor.Start(); err != nil {
		return nil, fmt.Errorf("failed to start monitor: %w", err)
	}

	for _, c := range b.channels {
		gw.Register(c)
	}

	if b.handler != nil {
		if aware, ok := b.handler.(api.ResponderAware); ok {
			aware.SetResponder(gw)
		}
		gw.SetMessageHandler(b.handler.OnMessage)
	}

	if err := gw.StartAll(); err != nil {
		gw.StopAll()
		_ = gw.monitor.Stop()
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}
	return gw, nil
}
