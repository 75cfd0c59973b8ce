package monitor

import "time"

const (
	MessageTypeUser      = "USER"
	MessageTypeAssistant = "ASSISTANT"
	MessageTypeError     = "ERROR"
)

// MonitorMessage 代表一則監控訊息
type MonitorMessage struct {
	Timestamp      time.Time
	MessageType    string // USER / ASSISTANT / ERROR
	ChannelID      string
	ConversationID string
	Username       string
	Content        string
}

// Monitor 介面定義了監控器的行為
type Monitor interface {
	// Start 啟動監控器
	Start() error

	// Stop 停止監控器
	Stop() error

	// OnMessage 接收並顯示監控訊息
	OnMessage(msg MonitorMessage)
}

// Nop 不輸出任何東西，給測試與 headless 模式用
type Nop struct{}

func (Nop) Start() error               { return nil }
func (Nop) Stop() error                { return nil }
func (Nop) OnMessage(_ MonitorMessage) {}
