package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json 用於 package llm 內部的 JSON 處理，統一使用 json-iterator
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LLMUsage 定義通用的用量統計結構
type LLMUsage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ThoughtsTokens   int    `json:"thoughts_tokens,omitempty"`
	CachedTokens     int    `json:"cached_tokens,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// LogUsage 印出統一格式的用量統計
func LogUsage(ctx context.Context, model string, usage *LLMUsage) {
	if usage == nil {
		return
	}
	slog.DebugContext(ctx, "LLM usage",
		"model", model,
		"prompt", usage.PromptTokens,
		"completion", usage.CompletionTokens,
		"total", usage.TotalTokens,
		"thoughts", usage.ThoughtsTokens,
		"cached", usage.CachedTokens,
		"stop", usage.StopReason,
	)
}

// Tool is the model-facing description of a callable capability.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON-schema "properties" object.
	Parameters() map[string]any
	RequiredParameters() []string
}

// ToolSchema builds the JSON-schema object describing a tool's arguments.
func ToolSchema(t Tool) map[string]any {
	props := t.Parameters()
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if req := t.RequiredParameters(); len(req) > 0 {
		schema["required"] = req
	}
	return schema
}

// ChatRequest is one call to a model.
type ChatRequest struct {
	// System is the role instruction for this call. Never stored in history.
	System   string
	Messages []Message
	Tools    []Tool
	// ForceTool, when set, requires the model to call exactly this tool.
	ForceTool string
}

// LLMClient 通用 LLM 客戶端介面
type LLMClient interface {
	// StreamChat 流式對話，返回 StreamChunk channel
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)

	// IsTransientError 判斷是否為暫時性錯誤 (如 503, Rate Limit)
	IsTransientError(err error) bool
}

// Embedder turns texts into vectors for semantic search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// FallbackClient 支援多個 Client 分級嘗試
type FallbackClient struct {
	Clients    []LLMClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.WarnContext(ctx, "Previous provider failed, trying fallback", "provider", i+1)
		}

		// 使用配置的重試次數，若為 0 則至少執行 1 次
		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				slog.InfoContext(ctx, "Retrying provider", "provider", i+1, "attempt", retry, "max", maxRetries)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			ch, err := client.StreamChat(ctx, req)
			if err == nil {
				return ch, nil
			}

			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.WarnContext(ctx, "Provider failed with transient error", "provider", i+1, "error", err)
				continue
			}

			slog.ErrorContext(ctx, "Provider failed", "provider", i+1, "error", err)
			break
		}
	}
	return nil, fmt.Errorf("all fallback providers failed: %w", lastErr)
}

// IsTransientError 實作 LLMClient 介面
// 串流途中的錯誤 (RawError chunk) 只有 Complete 看得到，交給各 provider 判斷
func (f *FallbackClient) IsTransientError(err error) bool {
	for _, c := range f.Clients {
		if c.IsTransientError(err) {
			return true
		}
	}
	return false
}
