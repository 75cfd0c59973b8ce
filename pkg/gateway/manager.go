package gateway

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"airose/pkg/monitor"
)

// GatewayManager 負責管理所有的 Channels 並統一路由訊息
type GatewayManager struct {
	channels   map[string]Channel
	msgHandler MessageHandler
	monitor    monitor.Monitor // 監控器
	mu         sync.RWMutex
}

// NewGatewayManager 建立一個新的 GatewayManager
func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		channels: make(map[string]Channel),
		monitor:  monitor.Nop{},
	}
}

// SetMessageHandler 設定處理訊息的核心邏輯 (通常是 ChatHandler)
func (g *GatewayManager) SetMessageHandler(handler MessageHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.msgHandler = handler
}

// SetMonitor 設定監控器
func (g *GatewayManager) SetMonitor(m monitor.Monitor) {
	if m == nil {
		m = monitor.Nop{}
	}
	g.monitor = m
}

// Register 註冊一個 Channel
func (g *GatewayManager) Register(c Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel 取得特定的 Channel (通常用於主動發送訊息)
func (g *GatewayManager) GetChannel(id string) (Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// ChannelIDs 回傳已註冊的 Channel，依名稱排序
func (g *GatewayManager) ChannelIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.channels))
	for id := range g.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartAll 啟動所有已註冊的 Channels
func (g *GatewayManager) StartAll() error {
	for _, id := range g.ChannelIDs() {
		c, _ := g.GetChannel(id)
		slog.Info("Starting channel", "channel", id)
		// 啟動 Channel，並傳入 self 作為 Context
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll 停止所有 Channels
func (g *GatewayManager) StopAll() {
	for _, id := range g.ChannelIDs() {
		c, _ := g.GetChannel(id)
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", id, "error", err)
		}
	}
}

// SendReply 統一的回覆介面，透過 Channel 介面送回訊息
func (g *GatewayManager) SendReply(session SessionContext, content string) error {
	slog.Debug("Gateway reply", "channel", session.ChannelID, "user", session.Username, "chars", len(content))
	g.broadcast(monitor.MessageTypeAssistant, session, content)
	return g.send(session, content)
}

// SendError 將錯誤訊息送回使用者，監控器會標記成 ERROR
func (g *GatewayManager) SendError(session SessionContext, content string) error {
	slog.Warn("Gateway error reply", "channel", session.ChannelID, "user", session.Username, "content", content)
	g.broadcast(monitor.MessageTypeError, session, content)
	return g.send(session, content)
}

func (g *GatewayManager) send(session SessionContext, content string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// SendSignal 發送一個控制訊號 (如 thinking) 到 Channel
func (g *GatewayManager) SendSignal(session SessionContext, signal string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	// 檢查 Channel 是否支援訊號介面
	if sc, ok := c.(SignalingChannel); ok {
		slog.Debug("Gateway signal", "channel", session.ChannelID, "user", session.Username, "signal", signal)
		return sc.SendSignal(session, signal)
	}

	// 不支援的通道安靜地忽略
	return nil
}

// OnMessage 實作 ChannelContext 介面，接收來自 Channel 的訊息
func (g *GatewayManager) OnMessage(channelID string, msg *UnifiedMessage) {
	if msg.Session.ChannelID == "" {
		msg.Session.ChannelID = channelID
	}
	slog.Info("Gateway received",
		"channel", channelID,
		"user", msg.Session.Username,
		"user_id", msg.Session.UserID,
		"conversation", msg.Session.ConversationID(),
	)

	g.broadcast(monitor.MessageTypeUser, msg.Session, msg.Content)

	g.mu.RLock()
	handler := g.msgHandler
	g.mu.RUnlock()

	if handler == nil {
		slog.Warn("No message handler set, dropping message", "channel", channelID)
		if msg.Done != nil {
			msg.Done("", fmt.Errorf("gateway has no message handler"))
		}
		return
	}
	// 將訊息轉發給核心處理器
	handler(msg)
}

func (g *GatewayManager) broadcast(kind string, session SessionContext, content string) {
	g.monitor.OnMessage(monitor.MonitorMessage{
		Timestamp:      time.Now(),
		MessageType:    kind,
		ChannelID:      session.ChannelID,
		ConversationID: session.ConversationID(),
		Username:       session.Username,
		Content:        content,
	})
}
