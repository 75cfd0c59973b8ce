package gemini

import (
	"testing"

	"airose/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestConvertMessagesFoldsToolResults(t *testing.T) {
	calls := []llm.ToolCall{
		{ID: "a", Name: "alert_cna", Arguments: `{"red_flag":"bleeding"}`},
		{ID: "b", Name: "alert_family", Arguments: `{"red_flag":"bleeding"}`},
	}
	msgs := []llm.Message{
		llm.NewHumanMessage("I am bleeding"),
		{Role: llm.RoleAssistant, ToolCalls: calls},
		llm.NewToolResultMessage(calls[0], "sent to CNA", false),
		llm.NewToolResultMessage(calls[1], "family unreachable", true),
		llm.NewAssistantMessage("Help is on the way."),
	}

	contents := convertMessages(msgs)
	require.Len(t, contents, 4)

	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "bleeding", contents[1].Parts[0].FunctionCall.Args["red_flag"])

	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "alert_cna", contents[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, "sent to CNA", contents[2].Parts[0].FunctionResponse.Response["output"])
	assert.Equal(t, "family unreachable", contents[2].Parts[1].FunctionResponse.Response["error"])

	assert.Equal(t, "Help is on the way.", contents[3].Parts[0].Text)
}

func TestForceToolConfig(t *testing.T) {
	assert.Nil(t, forceToolConfig(""))

	cfg := forceToolConfig("route")
	require.NotNil(t, cfg)
	assert.Equal(t, genai.FunctionCallingConfigModeAny, cfg.FunctionCallingConfig.Mode)
	assert.Equal(t, []string{"route"}, cfg.FunctionCallingConfig.AllowedFunctionNames)
}

func TestNormalizeFinishReason(t *testing.T) {
	assert.Equal(t, llm.StopReasonToolCall, normalizeFinishReason("STOP", true))
	assert.Equal(t, llm.StopReasonLength, normalizeFinishReason("MAX_TOKENS", false))
	assert.Equal(t, llm.StopReasonStop, normalizeFinishReason("STOP", false))
}

func TestIsTransientError(t *testing.T) {
	g := &GeminiClient{}
	assert.True(t, g.IsTransientError(assertErr("Error 503, model overloaded")))
	assert.True(t, g.IsTransientError(assertErr("RESOURCE EXHAUSTED")))
	assert.False(t, g.IsTransientError(assertErr("invalid api key")))
	assert.False(t, g.IsTransientError(nil))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
