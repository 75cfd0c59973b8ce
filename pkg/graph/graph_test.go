package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"airose/pkg/agent"
	"airose/pkg/checkpoint"
	"airose/pkg/config"
	"airose/pkg/llm"
	"airose/pkg/llm/llmtest"
	"airose/pkg/prompts"
	"airose/pkg/search"
	"airose/pkg/state"
	"airose/pkg/supervisor"
	"airose/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// script answers routing calls and responder calls from separate queues.
type script struct {
	mu        sync.Mutex
	routes    []llmtest.Reply
	responses []llmtest.Reply
}

func (s *script) client() *llmtest.ScriptedClient {
	return llmtest.NewFunc(func(req llm.ChatRequest) llmtest.Reply {
		s.mu.Lock()
		defer s.mu.Unlock()
		queue := &s.responses
		if req.ForceTool == supervisor.RouteTool {
			queue = &s.routes
		}
		if len(*queue) == 0 {
			return llmtest.Fail(llmtest.ErrScriptExhausted)
		}
		r := (*queue)[0]
		*queue = (*queue)[1:]
		return r
	})
}

func route(next, message string) llmtest.Reply {
	return llmtest.Call(supervisor.RouteTool, fmt.Sprintf(`{"next":%q,"message":%q}`, next, message))
}

type fixture struct {
	graph  *Graph
	store  *checkpoint.MemoryStore
	client *llmtest.ScriptedClient
	rec    *tools.Recorder
	sys    *config.SystemConfig
}

func newFixture(t *testing.T, s *script, mutate func(*config.SystemConfig)) *fixture {
	t.Helper()
	sys := config.DefaultSystemConfig()
	sys.MaxRetries = 1
	if mutate != nil {
		mutate(sys)
	}

	idx := search.NewMemoryIndex(nil)
	require.NoError(t, idx.Seed(context.Background(), search.DefaultCatalog()))
	rec := tools.NewRecorder()
	reg, err := tools.NewCareRegistry(tools.CareDeps{Notifier: rec, Activities: rec, Searcher: idx})
	require.NoError(t, err)

	client := s.client()
	store := checkpoint.NewMemoryStore()
	g, err := New(Deps{
		Router:     supervisor.NewRouter(client, prompts.DefaultMembers(), "", sys),
		Engine:     agent.NewEngine(client, reg, sys),
		Store:      store,
		Responders: prompts.DefaultResponders(),
		SysCfg:     sys,
	})
	require.NoError(t, err)
	return &fixture{graph: g, store: store, client: client, rec: rec, sys: sys}
}

func roles(msgs []llm.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestEnrollScenario(t *testing.T) {
	s := &script{
		routes: []llmtest.Reply{route(prompts.Classes, "")},
		responses: []llmtest.Reply{
			llmtest.Call(tools.RecommendClasses, `{"userQuery":"bleeding first aid"}`),
			llmtest.Text("Here are some classes:\n1. Fixing bleeding\n2. Stopping blood"),
		},
	}
	f := newFixture(t, s, nil)

	res, err := f.graph.Run(context.Background(), "c1", "I'd like to enroll in a class")
	require.NoError(t, err)

	assert.Equal(t, prompts.Classes, res.Route)
	assert.Contains(t, res.Reply, "Here are some classes")
	assert.Equal(t, 3, res.Nodes) // supervisor, classes, trim
	assert.Equal(t, state.End, res.State.Next)
	assert.LessOrEqual(t, len(res.State.Messages), f.sys.TrimKeep)
	assert.Equal(t, []string{llm.RoleHuman, llm.RoleAssistant, llm.RoleTool, llm.RoleAssistant}, roles(res.State.Messages))
	assert.Contains(t, res.State.Messages[2].GetTextContent(), "class id 1, title Fixing bleeding")

	saved, err := f.store.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 4)
}

func TestBleedingScenarioAlertsBeforeReplying(t *testing.T) {
	s := &script{
		routes: []llmtest.Reply{route(prompts.WellnessCheck, "")},
		responses: []llmtest.Reply{
			llmtest.Call(tools.AlertCNA, `{"redFlag":"fell and bleeding"}`),
			llmtest.Text("I've let your nurse know. Please press a clean cloth on the wound."),
		},
	}
	f := newFixture(t, s, nil)

	reply, err := f.graph.RunTurn(context.Background(), "c2", "I fell and I'm bleeding")
	require.NoError(t, err)
	assert.Contains(t, reply, "nurse")

	alerts := f.rec.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, tools.TargetCNA, alerts[0].Target)
	assert.Equal(t, "fell and bleeding", alerts[0].RedFlag)
	assert.Equal(t, "c2", alerts[0].ConversationID)

	// the alert result precedes the final reply in history
	hist, err := f.graph.History(context.Background(), "c2")
	require.NoError(t, err)
	require.Len(t, hist, 4)
	assert.Equal(t, llm.RoleTool, hist[2].Role)
	assert.Equal(t, llm.RoleAssistant, hist[3].Role)
}

func TestClarificationScenario(t *testing.T) {
	s := &script{routes: []llmtest.Reply{route(state.End, "Hi! Would you like a wellness check, classes or videos?")}}
	f := newFixture(t, s, nil)

	res, err := f.graph.Run(context.Background(), "c3", "hi")
	require.NoError(t, err)

	assert.Equal(t, state.End, res.Route)
	assert.Equal(t, "Hi! Would you like a wellness check, classes or videos?", res.Reply)
	assert.Equal(t, 2, res.Nodes) // supervisor, trim
	assert.Equal(t, []string{llm.RoleHuman, llm.RoleAssistant}, roles(res.State.Messages))

	// no responder ever ran
	assert.Len(t, f.client.Requests(), 1)
}

func TestRouterFailureScenario(t *testing.T) {
	s := &script{routes: []llmtest.Reply{llmtest.Text("classes_agent please")}}
	f := newFixture(t, s, nil)

	res, err := f.graph.Run(context.Background(), "c4", "help me")
	require.NoError(t, err)
	assert.Equal(t, supervisor.FallbackMessage, res.Reply)
	assert.Equal(t, []string{llm.RoleHuman, llm.RoleAssistant}, roles(res.State.Messages))
}

func TestRouteWithReformulatedRequest(t *testing.T) {
	s := &script{
		routes:    []llmtest.Reply{route(prompts.Videos, "Show me travel videos")},
		responses: []llmtest.Reply{llmtest.Text("Here is Kyoto in autumn.")},
	}
	f := newFixture(t, s, nil)

	res, err := f.graph.Run(context.Background(), "c5", "travel stuff")
	require.NoError(t, err)

	require.Len(t, res.State.Messages, 3)
	assert.Equal(t, llm.RoleHuman, res.State.Messages[1].Role)
	assert.Equal(t, "Show me travel videos", res.State.Messages[1].GetTextContent())
	assert.Equal(t, "Here is Kyoto in autumn.", res.Reply)

	// the responder saw the injected request last
	reqs := f.client.Requests()
	last := reqs[len(reqs)-1].Messages
	assert.Equal(t, "Show me travel videos", last[len(last)-1].GetTextContent())
}

func TestSilentEndSkipsTrim(t *testing.T) {
	s := &script{routes: []llmtest.Reply{route(state.End, "")}}
	f := newFixture(t, s, nil)

	res, err := f.graph.Run(context.Background(), "c6", "thanks, bye")
	require.NoError(t, err)
	assert.Empty(t, res.Reply)
	assert.Equal(t, 1, res.Nodes)
	assert.Len(t, res.State.Messages, 1)
}

func TestTrimBoundAcrossTurns(t *testing.T) {
	s := &script{}
	for i := range 12 {
		s.routes = append(s.routes, route(prompts.SocialChat, ""))
		s.responses = append(s.responses, llmtest.Text(fmt.Sprintf("reply %d", i)))
	}
	f := newFixture(t, s, func(c *config.SystemConfig) { c.TrimKeep = 5 })

	for i := range 12 {
		res, err := f.graph.Run(context.Background(), "c7", fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(res.State.Messages), 5)
	}
	hist, err := f.graph.History(context.Background(), "c7")
	require.NoError(t, err)
	assert.Equal(t, "reply 11", hist[len(hist)-1].GetTextContent())
}

func TestToolRoundBoundAbortsWithoutSaving(t *testing.T) {
	s := &script{routes: []llmtest.Reply{route(prompts.SocialChat, "")}}
	for range 3 {
		s.responses = append(s.responses, llmtest.Call(tools.AlertFamily, `{"redFlag":"sad"}`))
	}
	f := newFixture(t, s, func(c *config.SystemConfig) { c.MaxToolRounds = 2 })

	prior := &state.State{Messages: []llm.Message{llm.NewHumanMessage("earlier")}, Next: state.End}
	require.NoError(t, f.store.Save(context.Background(), "c8", prior))

	_, err := f.graph.Run(context.Background(), "c8", "I feel awful")
	require.ErrorIs(t, err, agent.ErrToolRoundsExceeded)

	saved, err := f.store.Load(context.Background(), "c8")
	require.NoError(t, err)
	require.Len(t, saved.Messages, 1)
	assert.Equal(t, "earlier", saved.Messages[0].GetTextContent())
}

func TestModelFailureInsideResponderIsFatal(t *testing.T) {
	s := &script{
		routes:    []llmtest.Reply{route(prompts.Documents, "")},
		responses: []llmtest.Reply{llmtest.Fail(errors.New("model offline"))},
	}
	f := newFixture(t, s, nil)

	_, err := f.graph.Run(context.Background(), "c9", "what is a healthy diet?")
	require.ErrorIs(t, err, agent.ErrModel)

	_, err = f.store.Load(context.Background(), "c9")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestRecursionLimit(t *testing.T) {
	s := &script{
		routes:    []llmtest.Reply{route(prompts.Classes, "")},
		responses: []llmtest.Reply{llmtest.Text("ok")},
	}
	f := newFixture(t, s, func(c *config.SystemConfig) { c.RecursionLimit = 2 })

	_, err := f.graph.Run(context.Background(), "c10", "classes please")
	require.ErrorIs(t, err, ErrRecursionLimit)

	_, err = f.store.Load(context.Background(), "c10")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestInvalidInput(t *testing.T) {
	f := newFixture(t, &script{}, nil)

	for _, tc := range []struct{ id, text string }{{"", "hi"}, {"c", "   "}, {" ", ""}} {
		_, err := f.graph.Run(context.Background(), tc.id, tc.text)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Empty(t, f.client.Requests())
	ids, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHistoryAccumulatesAcrossTurns(t *testing.T) {
	s := &script{
		routes: []llmtest.Reply{
			route(state.End, "What would you like to do?"),
			route(prompts.Videos, ""),
		},
		responses: []llmtest.Reply{llmtest.Text("Here are some videos.")},
	}
	f := newFixture(t, s, nil)
	ctx := context.Background()

	_, err := f.graph.RunTurn(ctx, "c11", "hi")
	require.NoError(t, err)
	_, err = f.graph.RunTurn(ctx, "c11", "videos please")
	require.NoError(t, err)

	hist, err := f.graph.History(ctx, "c11")
	require.NoError(t, err)
	assert.Equal(t, []string{llm.RoleHuman, llm.RoleAssistant, llm.RoleHuman, llm.RoleAssistant}, roles(hist))

	// the second routing call saw the whole conversation plus the instruction
	reqs := f.client.Requests()
	assert.Len(t, reqs[1].Messages, 4)

	empty, err := f.graph.History(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

type badRouter struct{}

func (badRouter) Route(context.Context, []llm.Message) supervisor.Decision {
	return supervisor.Decision{Next: "cooking_agent"}
}

func TestUnknownRouteIsFatal(t *testing.T) {
	sys := config.DefaultSystemConfig()
	g, err := New(Deps{
		Router: badRouter{},
		Engine: agent.NewEngine(llmtest.NewScripted(), tools.NewToolRegistry(), sys),
		Store:  checkpoint.NewMemoryStore(),
		SysCfg: sys,
	})
	require.NoError(t, err)

	_, err = g.Run(context.Background(), "c", "hello")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestNewRejectsBadRoster(t *testing.T) {
	sys := config.DefaultSystemConfig()
	base := Deps{
		Router: badRouter{},
		Engine: agent.NewEngine(llmtest.NewScripted(), tools.NewToolRegistry(), sys),
		Store:  checkpoint.NewMemoryStore(),
	}

	for _, roster := range [][]agent.Responder{
		{{Name: state.NodeTrim}},
		{{Name: "a"}, {Name: "a"}},
		{{Name: "a", Tools: []string{"missing"}}},
	} {
		d := base
		d.Responders = roster
		_, err := New(d)
		assert.Error(t, err)
	}

	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestResetForgetsConversation(t *testing.T) {
	s := &script{routes: []llmtest.Reply{route(state.End, "How are you feeling today?")}}
	f := newFixture(t, s, nil)
	ctx := context.Background()

	_, err := f.graph.Run(ctx, "c9", "hi")
	require.NoError(t, err)

	require.NoError(t, f.graph.Reset(ctx, "c9"))
	hist, err := f.graph.History(ctx, "c9")
	require.NoError(t, err)
	assert.Empty(t, hist)

	// unknown conversations reset cleanly
	assert.NoError(t, f.graph.Reset(ctx, "never-seen"))
}
