package llm

import (
	"strings"
	"time"

	"airose/pkg/utils"
)

//----------------------------------------------------------------
// Message - 通用訊息結構
//----------------------------------------------------------------

// Message is one immutable conversation entry.
type Message struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`    // "human", "assistant", "tool"
	Content   []ContentBlock `json:"content"` // 內容區塊陣列
	Timestamp int64          `json:"timestamp,omitempty"`

	// ToolCalls 包含 LLM 產生的工具調用請求（僅 role: assistant 時有效）
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID 關聯此訊息所屬的工具調用 ID（僅 role: tool 時有效）
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	// IsError marks a tool result that reports a failure to the model.
	IsError bool `json:"is_error,omitempty"`

	// Usage is filled for assistant messages produced by a provider. Not persisted.
	Usage *LLMUsage `json:"-"`
}

// ToolCall 表示 LLM 產生的工具調用請求
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON object

	// Meta 保存提供者特定的元數據（例如 Gemini 的 thought_signature）
	// 不會被序列化，僅用於同一輪內的回傳
	Meta map[string]any `json:"-"`
}

//----------------------------------------------------------------
// ContentBlock - 統一的內容區塊
//----------------------------------------------------------------

// ContentBlock 表示訊息中的一個內容區塊
type ContentBlock struct {
	Type string `json:"type"` // "text", "thinking", "error"
	Text string `json:"text,omitempty"`
}

//----------------------------------------------------------------
// StreamChunk - 串流 chunk 結構
//----------------------------------------------------------------

// StreamChunk 表示 LLM 串流回應的一個 chunk（增量式）
type StreamChunk struct {
	// 內容區塊（增量，只包含新增的內容）
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`

	// 工具調用（完整的單一調用，不會跨 chunk 拼接）
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// 是否為最後一個 chunk
	IsFinal bool `json:"is_final"`

	// 停止原因（只在最後 chunk 有值）
	FinishReason string `json:"finish_reason,omitempty"`

	// 用量統計
	Usage *LLMUsage `json:"usage,omitempty"`

	// Error is a non-fatal notice, RawError aborts the stream.
	Error    string `json:"error,omitempty"`
	RawError error  `json:"-"`
}

//----------------------------------------------------------------
// Helper Functions - Message
//----------------------------------------------------------------

// NewTextMessage 建立純文字訊息
func NewTextMessage(role, text string) Message {
	return Message{
		ID:        utils.GenerateID(),
		Role:      role,
		Content:   []ContentBlock{NewTextBlock(text)},
		Timestamp: time.Now().Unix(),
	}
}

// NewHumanMessage 建立使用者訊息
func NewHumanMessage(text string) Message {
	return NewTextMessage(RoleHuman, text)
}

// NewAssistantMessage 建立助理訊息
func NewAssistantMessage(text string) Message {
	return NewTextMessage(RoleAssistant, text)
}

// NewToolResultMessage 建立工具結果訊息
func NewToolResultMessage(call ToolCall, text string, isError bool) Message {
	return Message{
		ID:         utils.GenerateID(),
		Role:       RoleTool,
		Content:    []ContentBlock{NewTextBlock(text)},
		Timestamp:  time.Now().Unix(),
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    isError,
	}
}

// AddContentBlock 添加內容區塊到訊息
func (m *Message) AddContentBlock(block ContentBlock) {
	m.Content = append(m.Content, block)
}

// GetTextContent 提取所有文字內容（排除 thinking）
func (m *Message) GetTextContent() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// GetThinkingContent 提取所有思考內容
func (m *Message) GetThinkingContent() string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == BlockTypeThinking {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// Clone returns a deep copy so callers may not alias stored state.
func (m Message) Clone() Message {
	out := m
	if m.Content != nil {
		out.Content = append([]ContentBlock(nil), m.Content...)
	}
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			tc.Meta = nil
			out.ToolCalls[i] = tc
		}
	}
	out.Usage = nil
	return out
}

//----------------------------------------------------------------
// Helper Functions - ContentBlock
//----------------------------------------------------------------

// NewTextBlock 建立文字區塊
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// NewThinkingBlock 建立思考區塊
func NewThinkingBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeThinking, Text: text}
}

// NewErrorBlock 建立錯誤區塊
func NewErrorBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeError, Text: text}
}

//----------------------------------------------------------------
// Helper Functions - StreamChunk
//----------------------------------------------------------------

// NewTextChunk 建立文字 chunk
func NewTextChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{NewTextBlock(text)}}
}

// NewThinkingChunk 建立思考 chunk
func NewThinkingChunk(text string) StreamChunk {
	return StreamChunk{ContentBlocks: []ContentBlock{NewThinkingBlock(text)}}
}

// NewToolCallChunk 建立工具調用 chunk
func NewToolCallChunk(calls ...ToolCall) StreamChunk {
	return StreamChunk{ToolCalls: calls}
}

// NewFinalChunk 建立最終 chunk（帶用量統計）
func NewFinalChunk(reason string, usage *LLMUsage) StreamChunk {
	return StreamChunk{
		IsFinal:      true,
		FinishReason: reason,
		Usage:        usage,
	}
}

// NewErrorChunk 建立錯誤 chunk；fatal 時帶上 RawError 讓收集端中止
func NewErrorChunk(text string, err error, fatal bool) StreamChunk {
	chunk := StreamChunk{Error: text}
	if fatal {
		chunk.RawError = err
		chunk.IsFinal = true
	}
	return chunk
}
