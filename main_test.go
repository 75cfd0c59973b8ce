package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"airose/pkg/api"
	"airose/pkg/channels/web"
	"airose/pkg/checkpoint"
	"airose/pkg/config"
	"airose/pkg/gateway"
	"airose/pkg/handler"
	"airose/pkg/llm"
	"airose/pkg/llm/llmtest"
	"airose/pkg/prompts"
	"airose/pkg/search"
	"airose/pkg/supervisor"
	"airose/pkg/tools"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queues answers routing and responder requests from separate scripts.
type queues struct {
	mu        sync.Mutex
	routes    []llmtest.Reply
	responses []llmtest.Reply
}

func (q *queues) client() llm.LLMClient {
	return llmtest.NewFunc(func(req llm.ChatRequest) llmtest.Reply {
		q.mu.Lock()
		defer q.mu.Unlock()
		queue := &q.responses
		if req.ForceTool == supervisor.RouteTool {
			queue = &q.routes
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

func newTestApp(t *testing.T, q *queues) *app {
	t.Helper()
	idx := search.NewMemoryIndex(nil)
	require.NoError(t, idx.Seed(context.Background(), search.DefaultCatalog()))
	rec := tools.NewRecorder()
	reg, err := tools.NewCareRegistry(tools.CareDeps{Notifier: rec, Activities: rec, Searcher: idx})
	require.NoError(t, err)

	a := &app{
		cfg:      &config.Config{},
		client:   q.client(),
		registry: reg,
		store:    checkpoint.NewMemoryStore(),
		locker:   checkpoint.NewLocalLocker(),
		recorder: rec,
	}
	sys := config.DefaultSystemConfig()
	sys.MaxRetries = 1
	require.NoError(t, a.reload(sys))
	return a
}

func TestREPLConversation(t *testing.T) {
	q := &queues{
		routes: []llmtest.Reply{
			route("__end__", "Could you tell me a bit more?"),
			route(prompts.SocialChat, ""),
		},
		responses: []llmtest.Reply{
			llmtest.Call(tools.AlertFamily, `{"redFlag":"feels hopeless"}`),
			llmtest.Text("I'm here with you. I've asked your family to call."),
		},
	}
	a := newTestApp(t, q)

	var out bytes.Buffer
	r := &repl{app: a, convID: "cli_test", out: &out}
	in := strings.NewReader("hello\nI feel hopeless\n/history\n/reset\n/history\n/quit\nnever read\n")
	require.NoError(t, r.loop(context.Background(), in))

	text := out.String()
	assert.Contains(t, text, "AI Rose: Could you tell me a bit more?")
	assert.Contains(t, text, "AI Rose: I'm here with you.")
	assert.Contains(t, text, "[ALERT -> family] feels hopeless")
	assert.Contains(t, text, "[call "+tools.AlertFamily+"]")
	assert.Contains(t, text, "(conversation cleared)")
	assert.NotContains(t, text, "never read")
	assert.NotContains(t, text, "\x1b[", "plain writers get no ANSI codes")

	_, err := a.store.Load(context.Background(), "cli_test")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestREPLColorsTerminalOutput(t *testing.T) {
	q := &queues{
		routes:    []llmtest.Reply{route(prompts.SocialChat, "")},
		responses: []llmtest.Reply{
			llmtest.Call(tools.AlertFamily, `{"redFlag":"feels hopeless"}`),
			llmtest.Text("I'm here with you."),
		},
	}
	a := newTestApp(t, q)

	var out bytes.Buffer
	assert.False(t, isTerminal(&out))
	r := &repl{app: a, convID: "cli_color", out: &out, color: true}
	require.NoError(t, r.loop(context.Background(), strings.NewReader("I feel hopeless\n")))

	assert.Contains(t, out.String(), "\x1b[33m[ALERT -> family]\x1b[0m feels hopeless")
}

func TestREPLReportsFatalTurn(t *testing.T) {
	q := &queues{
		routes:    []llmtest.Reply{route(prompts.Videos, "")},
		responses: nil, // responder model call fails
	}
	a := newTestApp(t, q)

	var out bytes.Buffer
	r := &repl{app: a, convID: "cli_fail", out: &out}
	require.NoError(t, r.loop(context.Background(), strings.NewReader("play something\n")))

	assert.Contains(t, out.String(), "error:")
	_, err := a.store.Load(context.Background(), "cli_fail")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

// TestHTTPStack drives POST /chat through the gateway, the chat handler and
// the graph, the same wiring serve uses.
func TestHTTPStack(t *testing.T) {
	q := &queues{
		routes: []llmtest.Reply{route(prompts.Classes, "")},
		responses: []llmtest.Reply{
			llmtest.Call(tools.EnrollClass, `{"classId":"4"}`),
			llmtest.Text("You're enrolled in Chair yoga!"),
		},
	}
	a := newTestApp(t, q)
	g, sys := a.current()

	ch := web.NewWebChannel(web.WebConfig{}, g, 0)
	gw := gateway.NewGatewayManager()
	gw.Register(ch)
	chat := handler.NewChatHandler(g, a.locker, sys)
	chat.SetResponder(gw)
	gw.SetMessageHandler(chat.OnMessage)

	srv := httptest.NewServer(ch.Router(gw))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/chat", "application/json",
		strings.NewReader(`{"conversation_id":"room1","message":"sign me up for chair yoga"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body web.ChatResponse
	require.NoError(t, jsoniter.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "You're enrolled in Chair yoga!", body.Response)

	acts := a.recorder.Activities()
	require.Len(t, acts, 1)
	assert.Equal(t, "web_room1", acts[0].ConversationID)

	hist, err := g.History(context.Background(), api.SessionContext{ChannelID: "web", ChatID: "room1"}.ConversationID())
	require.NoError(t, err)
	assert.Len(t, hist, 4)
}
