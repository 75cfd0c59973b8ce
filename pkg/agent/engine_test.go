package agent_test

import (
	"context"
	"errors"
	"testing"

	"airose/pkg/agent"
	"airose/pkg/config"
	"airose/pkg/llm"
	"airose/pkg/llm/llmtest"
	"airose/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wellness = agent.Responder{
	Name:       "wellness_check_agent",
	SystemRole: "You are a patient wellness checker.",
	Tools:      []string{tools.AlertCNA},
}

func setup(t *testing.T, client llm.LLMClient, mutate func(*config.SystemConfig)) (*agent.Engine, *tools.Recorder) {
	t.Helper()
	rec := tools.NewRecorder()
	reg, err := tools.NewCareRegistry(tools.CareDeps{Notifier: rec, Activities: rec})
	require.NoError(t, err)

	sys := config.DefaultSystemConfig()
	sys.RetryDelayMs = 1
	if mutate != nil {
		mutate(sys)
	}
	return agent.NewEngine(client, reg, sys), rec
}

func history() []llm.Message {
	return []llm.Message{llm.NewHumanMessage("I cut my hand and it is bleeding")}
}

func TestRunPlainReply(t *testing.T) {
	client := llmtest.NewScripted(llmtest.Text("How are you feeling today?"))
	eng, _ := setup(t, client, nil)

	res, err := eng.Run(context.Background(), wellness, history())
	require.NoError(t, err)

	assert.Equal(t, "How are you feeling today?", res.Reply.GetTextContent())
	assert.Equal(t, llm.RoleAssistant, res.Reply.Role)
	assert.Empty(t, res.Steps)
	assert.Equal(t, 0, res.Rounds)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, wellness.SystemRole, reqs[0].System)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, tools.AlertCNA, reqs[0].Tools[0].Name())
	assert.Empty(t, reqs[0].ForceTool)
}

func TestRunToolRound(t *testing.T) {
	client := llmtest.NewScripted(
		llmtest.Call(tools.AlertCNA, `{"redFlag":"bleeding"}`),
		llmtest.Text("I've alerted the nurse. Please apply pressure."),
	)
	eng, rec := setup(t, client, nil)

	res, err := eng.Run(context.Background(), wellness, history())
	require.NoError(t, err)

	require.Len(t, res.Steps, 2)
	assert.Equal(t, llm.RoleAssistant, res.Steps[0].Role)
	require.Len(t, res.Steps[0].ToolCalls, 1)
	assert.Equal(t, llm.RoleTool, res.Steps[1].Role)
	assert.Equal(t, res.Steps[0].ToolCalls[0].ID, res.Steps[1].ToolCallID)
	assert.Equal(t, "bleeding is sent to alert CNA.", res.Steps[1].GetTextContent())
	assert.False(t, res.Steps[1].IsError)
	assert.Equal(t, 1, res.Rounds)
	assert.Len(t, rec.Alerts(), 1)

	// 第二次請求要帶著 tool call 與結果
	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[1].Messages, 3)

	all := res.Messages()
	assert.Len(t, all, 3)
	assert.Equal(t, "I've alerted the nurse. Please apply pressure.", all[2].GetTextContent())
}

func TestRunToolFailureBecomesContent(t *testing.T) {
	client := llmtest.NewScripted(
		llmtest.Call(tools.AlertCNA, `{}`),
		llmtest.Call(tools.PlayVideo, `{"videoId":"1"}`),
		llmtest.Text("Could you tell me more?"),
	)
	eng, rec := setup(t, client, nil)

	res, err := eng.Run(context.Background(), wellness, history())
	require.NoError(t, err)

	require.Len(t, res.Steps, 4)
	assert.True(t, res.Steps[1].IsError)
	assert.Contains(t, res.Steps[1].GetTextContent(), "redFlag")
	// play_video is registered but not offered to this responder
	assert.True(t, res.Steps[3].IsError)
	assert.Contains(t, res.Steps[3].GetTextContent(), "unknown tool")
	assert.Empty(t, rec.Alerts())
	assert.Empty(t, rec.Activities())
}

func TestRunToolRoundsExceeded(t *testing.T) {
	client := llmtest.NewFunc(func(llm.ChatRequest) llmtest.Reply {
		return llmtest.Call(tools.AlertCNA, `{"redFlag":"fever"}`)
	})
	eng, rec := setup(t, client, func(c *config.SystemConfig) { c.MaxToolRounds = 2 })

	_, err := eng.Run(context.Background(), wellness, history())
	require.ErrorIs(t, err, agent.ErrToolRoundsExceeded)

	// two rounds run, the third request is refused
	assert.Len(t, client.Requests(), 3)
	assert.Len(t, rec.Alerts(), 2)
}

func TestRunZeroToolRoundsUsesDefault(t *testing.T) {
	client := llmtest.NewScripted(
		llmtest.Call(tools.AlertCNA, `{"redFlag":"fever"}`),
		llmtest.Text("A nurse is on the way."),
	)
	eng, rec := setup(t, client, func(c *config.SystemConfig) { c.MaxToolRounds = 0 })

	res, err := eng.Run(context.Background(), wellness, history())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rounds)
	assert.Len(t, rec.Alerts(), 1)
}

func TestRunModelFailureIsFatal(t *testing.T) {
	boom := errors.New("invalid api key")
	client := llmtest.NewScripted(llmtest.Fail(boom))
	eng, _ := setup(t, client, nil)

	_, err := eng.Run(context.Background(), wellness, history())
	require.ErrorIs(t, err, agent.ErrModel)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, client.Requests(), 1)
}

func TestRunRetriesTransientFailures(t *testing.T) {
	client := llmtest.NewScripted(
		llmtest.Fail(llmtest.ErrTransient),
		llmtest.Reply{Text: "partial", StreamErr: llmtest.ErrTransient},
		llmtest.Text("Hello again"),
	)
	eng, _ := setup(t, client, func(c *config.SystemConfig) { c.MaxRetries = 3 })

	res, err := eng.Run(context.Background(), wellness, history())
	require.NoError(t, err)
	assert.Equal(t, "Hello again", res.Reply.GetTextContent())
	assert.Equal(t, 0, client.Remaining())
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	client := llmtest.NewScripted(
		llmtest.Fail(llmtest.ErrTransient),
		llmtest.Fail(llmtest.ErrTransient),
	)
	eng, _ := setup(t, client, func(c *config.SystemConfig) { c.MaxRetries = 2 })

	_, err := eng.Run(context.Background(), wellness, history())
	require.ErrorIs(t, err, agent.ErrModel)
	assert.ErrorIs(t, err, llmtest.ErrTransient)
}

func TestRunEmptyReplyIsReplaced(t *testing.T) {
	client := llmtest.NewScripted(llmtest.Text("   "))
	eng, _ := setup(t, client, nil)

	res, err := eng.Run(context.Background(), wellness, history())
	require.NoError(t, err)
	assert.Equal(t, agent.EmptyReply, res.Reply.GetTextContent())
}

func TestRunDropsOrphanToolResultsFromRequest(t *testing.T) {
	client := llmtest.NewScripted(llmtest.Text("ok"))
	eng, _ := setup(t, client, nil)

	orphan := llm.NewToolResultMessage(llm.ToolCall{ID: "gone", Name: tools.AlertCNA}, "x", false)
	hist := append([]llm.Message{orphan}, history()...)

	_, err := eng.Run(context.Background(), wellness, hist)
	require.NoError(t, err)
	reqs := client.Requests()
	require.Len(t, reqs[0].Messages, 1)
	assert.Equal(t, llm.RoleHuman, reqs[0].Messages[0].Role)
	assert.Len(t, hist, 2)
}

func TestValidateUnknownTool(t *testing.T) {
	eng, _ := setup(t, llmtest.NewScripted(), nil)
	err := eng.Validate(agent.Responder{Name: "x", Tools: []string{"teleport"}})
	assert.ErrorIs(t, err, tools.ErrUnknownTool)
	assert.NoError(t, eng.Validate(wellness))
}
