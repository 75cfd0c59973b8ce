package openailm

import (
	"testing"

	"airose/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routeTool struct{}

func (routeTool) Name() string        { return "route" }
func (routeTool) Description() string { return "select the next member" }
func (routeTool) Parameters() map[string]any {
	return map[string]any{"next": map[string]any{"type": "string"}}
}
func (routeTool) RequiredParameters() []string { return []string{"next"} }

func TestBuildParamsForcesTool(t *testing.T) {
	c, err := NewClient("openai", "key", "gpt-4o-mini", "", nil)
	require.NoError(t, err)

	params, _ := c.buildParams(llm.ChatRequest{
		System:    "You are a supervisor.",
		Messages:  []llm.Message{llm.NewHumanMessage("hi")},
		Tools:     []llm.Tool{routeTool{}},
		ForceTool: "route",
	})

	assert.Equal(t, "You are a supervisor.", params.Instructions.Value)
	require.NotNil(t, params.ToolChoice.OfFunctionTool)
	assert.Equal(t, "route", params.ToolChoice.OfFunctionTool.Name)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "route", params.Tools[0].OfFunction.Name)
	assert.Len(t, params.Input.OfInputItemList, 1)
}

func TestConvertMessagesPairsCallsAndOutputs(t *testing.T) {
	call := llm.ToolCall{ID: "call_1", Name: "play_video", Arguments: `{"video_id":"v9"}`}
	items := convertMessages([]llm.Message{
		llm.NewHumanMessage("play something"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
		llm.NewToolResultMessage(call, "playing video with id v9", false),
	})

	require.Len(t, items, 3)
	require.NotNil(t, items[1].OfFunctionCall)
	assert.Equal(t, "call_1", items[1].OfFunctionCall.CallID)
	require.NotNil(t, items[2].OfFunctionCallOutput)
	assert.Equal(t, "call_1", items[2].OfFunctionCallOutput.CallID)
}

func TestOrderedCalls(t *testing.T) {
	pending := map[string]*llm.ToolCall{
		"item_b": {ID: "call_b", Name: "alert_family"},
		"item_a": {ID: "call_a", Name: "alert_cna"},
		"item_c": {Name: "enroll_class"},
	}
	order := map[string]int64{"item_a": 0, "item_b": 1, "item_c": 2}

	calls := orderedCalls(pending, order)
	require.Len(t, calls, 3)
	assert.Equal(t, "alert_cna", calls[0].Name)
	assert.Equal(t, "alert_family", calls[1].Name)
	assert.Equal(t, "item_c", calls[2].ID)
}

func TestIsTransientError(t *testing.T) {
	c := &Client{}
	assert.True(t, c.IsTransientError(testErr("503 Service Unavailable")))
	assert.True(t, c.IsTransientError(testErr("dial tcp: connection refused")))
	assert.False(t, c.IsTransientError(testErr("401 Unauthorized")))
}

type testErr string

func (e testErr) Error() string { return string(e) }
