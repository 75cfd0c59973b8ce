package ollama

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"airose/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OllamaClient Ollama API client
type OllamaClient struct {
	client       *api.Client
	model        string
	options      map[string]any
	debugEnabled bool
	buffer       int
}

// SetDebug toggles raw chunk dumps.
func (o *OllamaClient) SetDebug(enabled bool) {
	o.debugEnabled = enabled
}

// NewOllamaClient creates an Ollama client
func NewOllamaClient(model string, baseURL string, options map[string]any) (*OllamaClient, error) {
	client, err := newAPIClient(baseURL)
	if err != nil {
		return nil, err
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)

	return &OllamaClient{
		client:  client,
		model:   model,
		options: options,
		buffer:  100,
	}, nil
}

func newAPIClient(baseURL string) (*api.Client, error) {
	if baseURL == "" {
		return api.ClientFromEnvironment()
	}

	// 本地模型載入可能很久，不設定回應逾時，交給 context 控制
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return api.NewClient(u, &http.Client{Transport: &JSONFixingRoundTripper{Proxied: transport}}), nil
}

func (o *OllamaClient) Provider() string {
	return "ollama"
}

func (o *OllamaClient) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	apiMessages := convertMessages(systemPrompt(req), req.Messages)
	tools, err := convertTools(req.Tools)
	if err != nil {
		return nil, err
	}

	chunkCh := make(chan llm.StreamChunk, o.buffer)
	startResultCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)

		streamVal := true
		chatReq := &api.ChatRequest{
			Model:    o.model,
			Messages: apiMessages,
			Options:  o.options,
			Tools:    tools,
			Stream:   &streamVal,
		}

		debugger := llm.NewStreamDebugger(ctx, "ollama", o.debugEnabled)
		defer debugger.Close()

		started := false
		sawToolCall := false
		var thoughtsCount int

		err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			debugger.WriteJSON(resp)
			if !started {
				started = true
				startResultCh <- nil
			}

			if resp.Message.Thinking != "" {
				thoughtsCount++
				chunkCh <- llm.NewThinkingChunk(resp.Message.Thinking)
			}
			if resp.Message.Content != "" {
				chunkCh <- llm.NewTextChunk(resp.Message.Content)
			}

			if len(resp.Message.ToolCalls) > 0 {
				var toolCalls []llm.ToolCall
				for _, tc := range resp.Message.ToolCalls {
					argsB, err := json.Marshal(tc.Function.Arguments)
					if err != nil {
						slog.WarnContext(ctx, "Failed to marshal tool call arguments", "provider", "ollama", "error", err)
						argsB = []byte("{}")
					}
					toolCalls = append(toolCalls, llm.ToolCall{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: string(argsB),
					})
				}
				sawToolCall = true
				chunkCh <- llm.NewToolCallChunk(toolCalls...)
			}

			if resp.Done {
				reason := llm.StopReasonStop
				switch {
				case sawToolCall:
					reason = llm.StopReasonToolCall
				case resp.DoneReason == llm.StopReasonLength:
					reason = llm.StopReasonLength
					slog.WarnContext(ctx, "Response truncated due to length", "provider", "ollama")
				}
				usage := &llm.LLMUsage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
					ThoughtsTokens:   thoughtsCount,
					StopReason:       reason,
				}
				chunkCh <- llm.NewFinalChunk(reason, usage)
				llm.LogUsage(ctx, o.model, usage)
			}
			return nil
		})

		if err != nil {
			slog.ErrorContext(ctx, "Stream error", "provider", "ollama", "model", o.model, "error", err)
			if !started {
				startResultCh <- err
				return
			}
			chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true)
		} else if !started {
			startResultCh <- nil
		}
	}()

	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// systemPrompt folds the forced tool into the instruction; Ollama has no tool_choice.
func systemPrompt(req llm.ChatRequest) string {
	if req.ForceTool == "" {
		return req.System
	}
	hint := fmt.Sprintf("You must respond by calling the `%s` tool exactly once. Do not answer in plain text.", req.ForceTool)
	if req.System == "" {
		return hint
	}
	return req.System + "\n\n" + hint
}

// convertTools builds api.Tool values through their JSON form, which stays
// stable across SDK releases.
func convertTools(tools []llm.Tool) ([]api.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	raw := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  llm.ToolSchema(t),
			},
		})
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama tools: %w", err)
	}
	var out []api.Tool
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("convert ollama tools: %w", err)
	}
	return out, nil
}

// convertMessages converts messages to Ollama API format
func convertMessages(system string, messages []llm.Message) []api.Message {
	ollamaMsgs := make([]api.Message, 0, len(messages)+1)
	if system != "" {
		ollamaMsgs = append(ollamaMsgs, api.Message{Role: "system", Content: system})
	}

	for _, m := range messages {
		msg := api.Message{Content: m.GetTextContent()}

		switch m.Role {
		case llm.RoleHuman:
			msg.Role = "user"
		case llm.RoleAssistant:
			msg.Role = "assistant"
			msg.Thinking = m.GetThinkingContent()
			for _, tc := range m.ToolCalls {
				var apiArgs api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(tc.Arguments), &apiArgs); err != nil {
					slog.Warn("Failed to unmarshal tool arguments for history", "provider", "ollama", "error", err)
				}
				msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: apiArgs,
					},
				})
			}
		case llm.RoleTool:
			msg.Role = "tool"
			msg.ToolCallID = m.ToolCallID
			if m.IsError {
				msg.Content = "Error: " + msg.Content
			}
		default:
			continue
		}

		ollamaMsgs = append(ollamaMsgs, msg)
	}

	return ollamaMsgs
}

// IsTransientError implements the llm.LLMClient interface
func (o *OllamaClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	// Connection related errors (refused, reset)
	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "connection reset") {
		return true
	}

	// High load
	return strings.Contains(errMsg, "overloaded")
}

// OllamaEmbedder embeds text with a local embedding model.
type OllamaEmbedder struct {
	client *api.Client
	model  string
}

// NewOllamaEmbedder creates an embedder, e.g. for "nomic-embed-text".
func NewOllamaEmbedder(model, baseURL string) (*OllamaEmbedder, error) {
	client, err := newAPIClient(baseURL)
	if err != nil {
		return nil, err
	}
	return &OllamaEmbedder{client: client, model: model}, nil
}

// Embed implements llm.Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

//----------------------------------------------------------------
// JSONFixingRoundTripper - Interceptor that fixes illegal JSON escapes
//----------------------------------------------------------------

// JSONFixingRoundTripper intercepts response and fixes illegal escapes (e.g., \$)
type JSONFixingRoundTripper struct {
	Proxied http.RoundTripper
}

func (j *JSONFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.Proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	// Only filter text-type responses (mainly stream JSON)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(resp.Header.Get("Content-Type"), "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

type jsonFixingReadCloser struct {
	body io.ReadCloser
}

var illegalEscapeRegex = regexp.MustCompile(`\\([^\/\\bfnrtu"])`)

func (j *jsonFixingReadCloser) Read(p []byte) (n int, err error) {
	n, err = j.body.Read(p)
	if n > 0 {
		// Preprocess illegal escapes in the buffer
		// e.g., convert \$ to $ to avoid JSON parsing failures
		content := string(p[:n])
		fixed := illegalEscapeRegex.ReplaceAllString(content, "$1")
		if len(fixed) < len(content) {
			// If length decreases, adjust reported n and fill remaining space
			// Since we only replace single characters (removing backslash), this is safe at the byte array level
			copy(p, []byte(fixed))
			n = len(fixed)
		}
	}
	return n, err
}

func (j *jsonFixingReadCloser) Close() error {
	return j.body.Close()
}
