package openailm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"airose/pkg/llm"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

// Client is a wrapper around the official OpenAI Go SDK (Responses API)
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	debugEnabled bool
	buffer       int
	options      map[string]any
}

// NewClient creates a new OpenAI client
func NewClient(provider string, apiKey string, model string, baseURL string, options map[string]any) (*Client, error) {
	if model == "" {
		return nil, fmt.Errorf("openai client requires a model")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{
		client:   &client,
		provider: provider,
		model:    model,
		buffer:   100,
		options:  options,
	}, nil
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	return false
}

// buildParams translates a ChatRequest into Responses API parameters.
func (c *Client) buildParams(req llm.ChatRequest) (responses.ResponseNewParams, []option.RequestOption) {
	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(req.Messages),
		},
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.ForceTool != "" {
		params.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfFunctionTool: &responses.ToolChoiceFunctionParam{Name: req.ForceTool},
		}
		params.ParallelToolCalls = openai.Bool(false)
	}

	if effortStr, ok := c.options["thinking_effort"].(string); ok && effortStr != "" && effortStr != "off" {
		var effort shared.ReasoningEffort
		switch effortStr {
		case "low":
			effort = shared.ReasoningEffortLow
		case "high":
			effort = shared.ReasoningEffortHigh
		default:
			effort = shared.ReasoningEffortMedium
		}
		params.Reasoning = shared.ReasoningParam{Effort: effort}
	}

	var opts []option.RequestOption
	if t, ok := c.options["temperature"].(float64); ok {
		opts = append(opts, option.WithJSONSet("temperature", t))
	}
	if p, ok := c.options["top_p"].(float64); ok {
		opts = append(opts, option.WithJSONSet("top_p", p))
	}
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		opts = append(opts, option.WithJSONSet("max_output_tokens", int(maxTok)))
	}
	return params, opts
}

func (c *Client) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	params, opts := c.buildParams(req)
	chunkCh := make(chan llm.StreamChunk, c.buffer)

	go func() {
		defer close(chunkCh)

		stream := c.client.Responses.NewStreaming(ctx, params, opts...)
		defer stream.Close()

		debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
		defer debugger.Close()

		var lastUsage *llm.LLMUsage
		reason := llm.StopReasonStop
		failed := false

		// function_call items keyed by item id; call_id is what tool outputs reference
		pending := make(map[string]*llm.ToolCall)
		order := make(map[string]int64)

		for stream.Next() {
			event := stream.Current()
			debugger.WriteString(event.RawJSON())

			switch variant := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				chunkCh <- llm.NewTextChunk(variant.Delta)

			case responses.ResponseReasoningTextDeltaEvent:
				chunkCh <- llm.NewThinkingChunk(variant.Delta)

			case responses.ResponseReasoningSummaryTextDeltaEvent:
				chunkCh <- llm.NewThinkingChunk(variant.Delta)

			case responses.ResponseOutputItemAddedEvent:
				if variant.Item.Type == "function_call" {
					pending[variant.Item.ID] = &llm.ToolCall{ID: variant.Item.CallID, Name: variant.Item.Name}
					order[variant.Item.ID] = variant.OutputIndex
				}

			case responses.ResponseFunctionCallArgumentsDoneEvent:
				tc, ok := pending[variant.ItemID]
				if !ok {
					tc = &llm.ToolCall{}
					pending[variant.ItemID] = tc
					order[variant.ItemID] = variant.OutputIndex
				}
				tc.Arguments = variant.Arguments
				if variant.Name != "" {
					tc.Name = variant.Name
				}

			case responses.ResponseCompletedEvent:
				u := variant.Response.Usage
				lastUsage = &llm.LLMUsage{
					PromptTokens:     int(u.InputTokens),
					CompletionTokens: int(u.OutputTokens),
					TotalTokens:      int(u.TotalTokens),
					CachedTokens:     int(u.InputTokensDetails.CachedTokens),
				}

			case responses.ResponseIncompleteEvent:
				reason = llm.StopReasonLength

			case responses.ResponseFailedEvent:
				failed = true
				chunkCh <- llm.NewErrorChunk("API response failed", fmt.Errorf("%s: response failed", c.provider), true)

			case responses.ResponseErrorEvent:
				failed = true
				chunkCh <- llm.NewErrorChunk(fmt.Sprintf("API error: %s", variant.Message), fmt.Errorf("%s: %s", c.provider, variant.Message), true)
			}
		}

		if err := stream.Err(); err != nil {
			slog.ErrorContext(ctx, "OpenAI stream error", "provider", c.provider, "error", err)
			chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream error: %v", err), err, true)
			return
		}
		if failed {
			return
		}

		if calls := orderedCalls(pending, order); len(calls) > 0 {
			chunkCh <- llm.NewToolCallChunk(calls...)
			reason = llm.StopReasonToolCall
		}

		if lastUsage == nil {
			lastUsage = &llm.LLMUsage{}
		}
		lastUsage.StopReason = reason
		chunkCh <- llm.NewFinalChunk(reason, lastUsage)
		llm.LogUsage(ctx, c.model, lastUsage)
	}()

	return chunkCh, nil
}

func orderedCalls(pending map[string]*llm.ToolCall, order map[string]int64) []llm.ToolCall {
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return order[ids[i]] < order[ids[j]] })

	calls := make([]llm.ToolCall, 0, len(ids))
	for _, id := range ids {
		tc := *pending[id]
		if tc.ID == "" {
			tc.ID = id
		}
		calls = append(calls, tc)
	}
	return calls
}

func convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleHuman:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.GetTextContent(),
				responses.EasyInputMessageRoleUser,
			))
		case llm.RoleAssistant:
			if text := m.GetTextContent(); text != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					text,
					responses.EasyInputMessageRoleAssistant,
				))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					tc.Arguments,
					tc.ID,
					tc.Name,
				))
			}
		case llm.RoleTool:
			output := m.GetTextContent()
			if m.IsError {
				output = "Error: " + output
			}
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
				m.ToolCallID,
				output,
			))
		}
	}

	return items
}

func convertTools(tools []llm.Tool) []responses.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name(),
				Description: openai.String(t.Description()),
				Parameters:  llm.ToolSchema(t),
				Strict:      openai.Bool(false),
			},
		})
	}
	return out
}

// Embedder embeds text through the OpenAI embeddings endpoint.
type Embedder struct {
	client *openai.Client
	model  string
}

// NewEmbedder creates an embedder, e.g. for "text-embedding-3-small".
func NewEmbedder(apiKey, model, baseURL string) *Embedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &Embedder{client: &client, model: model}
}

// Embed implements llm.Embedder.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
