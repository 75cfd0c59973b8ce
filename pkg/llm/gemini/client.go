package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"airose/pkg/llm"

	"google.golang.org/genai"
)

// GeminiClient Google Gemini API client
type GeminiClient struct {
	client       *genai.Client
	model        string
	useThought   bool
	debugEnabled bool
	buffer       int
}

// NewGeminiClient creates a Gemini client with a single model and API key
func NewGeminiClient(apiKey string, model string, useThought bool) (*GeminiClient, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:     client,
		model:      model,
		useThought: useThought,
		buffer:     100,
	}, nil
}

// SetDebug toggles raw chunk dumps.
func (g *GeminiClient) SetDebug(enabled bool) {
	g.debugEnabled = enabled
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

// StreamChat implements llm.LLMClient.StreamChat
func (g *GeminiClient) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	contents := convertMessages(req.Messages)

	genCfg := &genai.GenerateContentConfig{
		Tools:      convertTools(req.Tools),
		ToolConfig: forceToolConfig(req.ForceTool),
	}
	if req.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if g.useThought {
		genCfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}

	chunkCh := make(chan llm.StreamChunk, g.buffer)
	startResultCh := make(chan error, 1)

	slog.DebugContext(ctx, "Gemini streaming", "model", g.model, "messages", len(contents), "tools", len(req.Tools))

	go func() {
		defer close(chunkCh)

		debugger := llm.NewStreamDebugger(ctx, "gemini", g.debugEnabled)
		defer debugger.Close()

		iter := g.client.Models.GenerateContentStream(ctx, g.model, contents, genCfg)

		started := false
		var lastUsage *llm.LLMUsage
		sawToolCall := false
		finish := ""

		for resp, err := range iter {
			if resp != nil {
				debugger.WriteJSON(resp)
			}
			if err != nil {
				if resp == nil {
					slog.ErrorContext(ctx, "Gemini stream error", "error", err)
					if !started {
						startResultCh <- err
					} else {
						chunkCh <- llm.NewErrorChunk(fmt.Sprintf("Stream interrupted: %v", err), err, true)
					}
					return
				}
				// SDK 可能同時回傳資料與錯誤，先處理資料
				slog.WarnContext(ctx, "Gemini stream error with data", "error", err)
			}

			if !started {
				started = true
				startResultCh <- nil
			}

			if u := resp.UsageMetadata; u != nil {
				lastUsage = &llm.LLMUsage{
					PromptTokens:     int(u.PromptTokenCount),
					CompletionTokens: int(u.CandidatesTokenCount),
					TotalTokens:      int(u.TotalTokenCount),
					ThoughtsTokens:   int(u.ThoughtsTokenCount),
					CachedTokens:     int(u.CachedContentTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason != "" {
					finish = string(candidate.FinishReason)
				}
				if candidate.Content == nil {
					continue
				}

				var blocks []llm.ContentBlock
				var toolCalls []llm.ToolCall
				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						if part.Thought {
							blocks = append(blocks, llm.NewThinkingBlock(part.Text))
						} else {
							blocks = append(blocks, llm.NewTextBlock(part.Text))
						}
					}
					if part.FunctionCall != nil {
						argsB, _ := json.Marshal(part.FunctionCall.Args)
						toolCalls = append(toolCalls, llm.ToolCall{
							ID:        part.FunctionCall.ID,
							Name:      part.FunctionCall.Name,
							Arguments: string(argsB),
							// 保留原始 FunctionCall（含 thought_signature）供同一輪回傳
							Meta: map[string]any{"gemini_part": part},
						})
						sawToolCall = true
					}
				}

				if len(blocks) > 0 || len(toolCalls) > 0 {
					chunkCh <- llm.StreamChunk{ContentBlocks: blocks, ToolCalls: toolCalls}
				}
			}
		}

		if !started {
			startResultCh <- fmt.Errorf("gemini returned an empty stream")
			return
		}

		reason := normalizeFinishReason(finish, sawToolCall)
		if lastUsage == nil {
			lastUsage = &llm.LLMUsage{}
		}
		lastUsage.StopReason = reason
		chunkCh <- llm.NewFinalChunk(reason, lastUsage)
		llm.LogUsage(ctx, g.model, lastUsage)
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

func normalizeFinishReason(reason string, sawToolCall bool) string {
	switch {
	case sawToolCall:
		return llm.StopReasonToolCall
	case reason == string(genai.FinishReasonMaxTokens):
		return llm.StopReasonLength
	default:
		return llm.StopReasonStop
	}
}

func convertTools(tools []llm.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	fds := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		fds = append(fds, &genai.FunctionDeclaration{
			Name:                 t.Name(),
			Description:          t.Description(),
			ParametersJsonSchema: llm.ToolSchema(t),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

func forceToolConfig(name string) *genai.ToolConfig {
	if name == "" {
		return nil
	}
	return &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 genai.FunctionCallingConfigModeAny,
			AllowedFunctionNames: []string{name},
		},
	}
}

// convertMessages converts message list to GenAI format.
// Consecutive tool results are folded into one user turn, as Gemini expects
// every response to a model turn's calls in a single content.
func convertMessages(messages []llm.Message) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleTool:
			key := "output"
			if msg.IsError {
				key = "error"
			}
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     msg.ToolName,
					Response: map[string]any{key: msg.GetTextContent()},
				},
			}
			if n := len(contents); n > 0 && contents[n-1].Role == string(genai.RoleUser) && isFunctionResponses(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))

		case llm.RoleAssistant:
			var parts []*genai.Part
			for _, block := range msg.Content {
				if block.Text == "" {
					continue
				}
				switch block.Type {
				case llm.BlockTypeText:
					parts = append(parts, &genai.Part{Text: block.Text})
				case llm.BlockTypeThinking:
					parts = append(parts, &genai.Part{Text: block.Text, Thought: true})
				}
			}
			for _, tc := range msg.ToolCalls {
				if original, ok := tc.Meta["gemini_part"].(*genai.Part); ok {
					parts = append(parts, original)
					continue
				}
				// 原始資料已遺失（例如從 checkpoint 讀回）時手動重建
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		default:
			text := msg.GetTextContent()
			if text == "" {
				continue
			}
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
	}

	return contents
}

func isFunctionResponses(c *genai.Content) bool {
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return len(c.Parts) > 0
}

// IsTransientError implements the llm.LLMClient interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	// 503 Service Unavailable / Overloaded
	if strings.Contains(errMsg, "503") || strings.Contains(errMsg, "overloaded") {
		return true
	}

	// 429 Too Many Requests
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted") {
		return true
	}

	// 500 Internal Error
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "internal error") {
		return true
	}

	return false
}

// GeminiEmbedder embeds text with a Gemini embedding model.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
}

// NewGeminiEmbedder creates an embedder, e.g. for "text-embedding-004".
func NewGeminiEmbedder(apiKey, model string) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model}, nil
}

// Embed implements llm.Embedder.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
