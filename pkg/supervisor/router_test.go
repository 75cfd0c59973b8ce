package supervisor

import (
	"context"
	"errors"
	"testing"

	"airose/pkg/config"
	"airose/pkg/llm"
	"airose/pkg/llm/llmtest"
	"airose/pkg/prompts"
	"airose/pkg/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(client llm.LLMClient) *Router {
	sys := config.DefaultSystemConfig()
	sys.MaxRetries = 1
	return NewRouter(client, prompts.DefaultMembers(), "", sys)
}

func convo(text string) []llm.Message {
	return []llm.Message{llm.NewHumanMessage(text)}
}

func TestRouteToResponder(t *testing.T) {
	client := llmtest.NewScripted(llmtest.Call(RouteTool, `{"next":"classes_agent"}`))
	r := newRouter(client)

	d := r.Route(context.Background(), convo("what classes are there today?"))
	assert.Equal(t, Decision{Next: prompts.Classes}, d)

	reqs := client.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, RouteTool, req.ForceTool)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, RouteTool, req.Tools[0].Name())
	assert.Contains(t, req.System, "AI Rose")
	assert.Contains(t, req.System, "wellness_check_agent (")

	// 最後一則是路由指示，不是使用者的話
	require.Len(t, req.Messages, 2)
	last := req.Messages[1]
	assert.Equal(t, llm.RoleHuman, last.Role)
	assert.Contains(t, last.GetTextContent(), "who should act next?")
	assert.Contains(t, last.GetTextContent(), "__end__, wellness_check_agent, classes_agent")
}

func TestRouteEnumIncludesEveryMember(t *testing.T) {
	r := newRouter(llmtest.NewScripted())
	params := routeTool{options: r.Options()}.Parameters()
	next := params["next"].(map[string]any)
	assert.Equal(t, []string{
		state.End, prompts.WellnessCheck, prompts.Classes, prompts.Videos, prompts.Documents, prompts.SocialChat,
	}, next["enum"])
}

func TestRouteClarification(t *testing.T) {
	client := llmtest.NewScripted(llmtest.Call(RouteTool, `{"next":"__end__","message":"  What would you like to do today? "}`))
	d := newRouter(client).Route(context.Background(), convo("hi"))
	assert.Equal(t, state.End, d.Next)
	assert.Equal(t, "What would you like to do today?", d.Message)
}

func TestRouteTrimMeansEnd(t *testing.T) {
	client := llmtest.NewScripted(llmtest.Call(RouteTool, `{"next":"trim_messages","message":"Could you tell me more?"}`))
	d := newRouter(client).Route(context.Background(), convo("hmm"))
	assert.Equal(t, Decision{Next: state.End, Message: "Could you tell me more?"}, d)
}

func TestRouteFallbacks(t *testing.T) {
	tests := []struct {
		name  string
		reply llmtest.Reply
	}{
		{"api failure", llmtest.Fail(errors.New("quota exceeded"))},
		{"stream failure", llmtest.Reply{StreamErr: errors.New("connection reset")}},
		{"no tool call", llmtest.Text("I think classes")},
		{"wrong tool", llmtest.Call("alert_cna", `{"redFlag":"x"}`)},
		{"malformed arguments", llmtest.Call(RouteTool, `{"next":`)},
		{"message not a string", llmtest.Call(RouteTool, `{"next":"__end__","message":42}`)},
		{"next outside enum", llmtest.Call(RouteTool, `{"next":"cooking_agent"}`)},
		{"missing next", llmtest.Call(RouteTool, `{"message":"hello"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newRouter(llmtest.NewScripted(tt.reply)).Route(context.Background(), convo("help"))
			assert.Equal(t, Fallback(), d)
			assert.Equal(t, FallbackMessage, d.Message)
		})
	}
}

func TestRouteCustomPersona(t *testing.T) {
	client := llmtest.NewScripted(llmtest.Call(RouteTool, `{"next":"__end__"}`))
	r := NewRouter(client, []prompts.Member{{Name: "a"}}, "Pick from {members}.", nil)

	d := r.Route(context.Background(), convo("bye"))
	assert.Equal(t, Decision{Next: state.End}, d)
	assert.Equal(t, "Pick from a.", client.Requests()[0].System)
}

func TestRouteDoesNotMutateHistory(t *testing.T) {
	client := llmtest.NewScripted(llmtest.Call(RouteTool, `{"next":"videos_agent"}`))
	msgs := make([]llm.Message, 1, 4)
	msgs[0] = llm.NewHumanMessage("show me a video")

	newRouter(client).Route(context.Background(), msgs)
	assert.Len(t, msgs, 1)
	assert.Len(t, msgs[:cap(msgs)][1].Content, 0)
}
