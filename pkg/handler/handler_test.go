package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"airose/pkg/agent"
	"airose/pkg/api"
	"airose/pkg/checkpoint"
	"airose/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResponder struct {
	mu      sync.Mutex
	replies []string
	errors  []string
	signals []string
	onSig   func()
}

func (f *fakeResponder) SendReply(_ api.SessionContext, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, content)
	return nil
}

func (f *fakeResponder) SendError(_ api.SessionContext, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, content)
	return nil
}

func (f *fakeResponder) SendSignal(_ api.SessionContext, signal string) error {
	f.mu.Lock()
	f.signals = append(f.signals, signal)
	cb := f.onSig
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

type runnerFunc func(ctx context.Context, id, text string) (string, error)

func (f runnerFunc) RunTurn(ctx context.Context, id, text string) (string, error) {
	return f(ctx, id, text)
}

type resettableRunner struct {
	runnerFunc
	reset []string
}

func (r *resettableRunner) Reset(_ context.Context, id string) error {
	r.reset = append(r.reset, id)
	return nil
}

func quietConfig() *config.SystemConfig {
	cfg := config.DefaultSystemConfig()
	cfg.ThinkingInitDelayMs = 60000
	return cfg
}

func newMessage(text string) (*api.UnifiedMessage, *doneRecorder) {
	rec := &doneRecorder{}
	return &api.UnifiedMessage{
		Session: api.SessionContext{ChannelID: "web", ChatID: "42", UserID: "u1", Username: "alice"},
		Content: text,
		Done:    rec.done,
	}, rec
}

type doneRecorder struct {
	called bool
	reply  string
	err    error
}

func (d *doneRecorder) done(reply string, err error) {
	d.called, d.reply, d.err = true, reply, err
}

func TestOnMessageSendsReply(t *testing.T) {
	var gotID, gotText string
	h := NewChatHandler(runnerFunc(func(_ context.Context, id, text string) (string, error) {
		gotID, gotText = id, text
		return "hello there", nil
	}), nil, quietConfig())
	resp := &fakeResponder{}
	h.SetResponder(resp)

	msg, rec := newMessage("  hi  ")
	h.OnMessage(msg)

	assert.Equal(t, "web_42", gotID)
	assert.Equal(t, "hi", gotText)
	assert.Equal(t, []string{"hello there"}, resp.replies)
	assert.True(t, rec.called)
	assert.Equal(t, "hello there", rec.reply)
	assert.NoError(t, rec.err)
	assert.NotEmpty(t, msg.TurnID)
}

func TestOnMessageSilentTurnSendsNothing(t *testing.T) {
	h := NewChatHandler(runnerFunc(func(context.Context, string, string) (string, error) {
		return "", nil
	}), nil, quietConfig())
	resp := &fakeResponder{}
	h.SetResponder(resp)

	msg, rec := newMessage("ok bye")
	h.OnMessage(msg)

	assert.Empty(t, resp.replies)
	assert.Empty(t, resp.errors)
	assert.True(t, rec.called)
	assert.Equal(t, "", rec.reply)
}

func TestOnMessageMapsErrorsToNotices(t *testing.T) {
	cases := []struct {
		err    error
		notice string
	}{
		{fmt.Errorf("wrap: %w", agent.ErrToolRoundsExceeded), NoticeToolRounds},
		{fmt.Errorf("%w: responder x: boom", agent.ErrModel), NoticeModel},
		{context.DeadlineExceeded, NoticeTimeout},
		{errors.New("disk full"), NoticeFailure},
	}
	for _, tc := range cases {
		t.Run(tc.notice, func(t *testing.T) {
			h := NewChatHandler(runnerFunc(func(context.Context, string, string) (string, error) {
				return "", tc.err
			}), nil, quietConfig())
			resp := &fakeResponder{}
			h.SetResponder(resp)

			msg, rec := newMessage("hi")
			h.OnMessage(msg)

			assert.Equal(t, []string{tc.notice}, resp.errors)
			assert.Empty(t, resp.replies)
			assert.ErrorIs(t, rec.err, tc.err)
		})
	}
}

func TestOnMessageIgnoresBlankText(t *testing.T) {
	called := false
	h := NewChatHandler(runnerFunc(func(context.Context, string, string) (string, error) {
		called = true
		return "", nil
	}), nil, quietConfig())
	resp := &fakeResponder{}
	h.SetResponder(resp)

	msg, rec := newMessage("   ")
	h.OnMessage(msg)

	assert.False(t, called)
	assert.Empty(t, resp.errors)
	assert.Error(t, rec.err)
}

func TestOnMessageBusyConversation(t *testing.T) {
	locker := checkpoint.NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "web_42", time.Minute)
	require.NoError(t, err)
	defer unlock(context.Background())

	h := NewChatHandler(runnerFunc(func(context.Context, string, string) (string, error) {
		t.Fatal("runner must not be called while the conversation is locked")
		return "", nil
	}), locker, quietConfig())
	resp := &fakeResponder{}
	h.SetResponder(resp)

	msg, rec := newMessage("hi")
	h.OnMessage(msg)

	assert.Equal(t, []string{NoticeBusy}, resp.errors)
	assert.Error(t, rec.err)
}

func TestThinkingSignalBeforeSlowReply(t *testing.T) {
	signalled := make(chan struct{})
	cfg := quietConfig()
	cfg.ThinkingInitDelayMs = 1

	h := NewChatHandler(runnerFunc(func(ctx context.Context, _, _ string) (string, error) {
		select {
		case <-signalled:
			return "done", nil
		case <-time.After(2 * time.Second):
			return "", errors.New("no thinking signal")
		}
	}), nil, cfg)
	var once sync.Once
	resp := &fakeResponder{onSig: func() { once.Do(func() { close(signalled) }) }}
	h.SetResponder(resp)

	msg, _ := newMessage("hi")
	h.OnMessage(msg)

	assert.Equal(t, []string{"done"}, resp.replies)
	assert.Contains(t, resp.signals, "thinking")
}

func TestAsyncSerializesSameConversation(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0
	h := NewChatHandler(runnerFunc(func(context.Context, string, string) (string, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return "ok", nil
	}), nil, quietConfig(), WithAsync())
	resp := &fakeResponder{}
	h.SetResponder(resp)

	for i := 0; i < 3; i++ {
		msg, _ := newMessage(fmt.Sprintf("msg %d", i))
		h.OnMessage(msg)
	}
	h.Wait()

	assert.Equal(t, 1, peak)
	assert.Len(t, resp.replies, 3)
}

func TestSlashReset(t *testing.T) {
	runner := &resettableRunner{runnerFunc: func(context.Context, string, string) (string, error) {
		t.Fatal("slash commands must not start a turn")
		return "", nil
	}}
	h := NewChatHandler(runner, nil, quietConfig())
	resp := &fakeResponder{}
	h.SetResponder(resp)

	msg, _ := newMessage("/reset")
	h.OnMessage(msg)
	assert.Equal(t, []string{"web_42"}, runner.reset)
	assert.Equal(t, []string{NoticeReset}, resp.replies)

	msg, _ = newMessage("/dance now")
	h.OnMessage(msg)
	assert.Equal(t, NoticeUnknownCmd, resp.replies[1])
}

func TestSetRunnerSwapsLaterTurns(t *testing.T) {
	h := NewChatHandler(runnerFunc(func(context.Context, string, string) (string, error) {
		return "old", nil
	}), nil, quietConfig())
	resp := &fakeResponder{}
	h.SetResponder(resp)

	h.SetRunner(runnerFunc(func(context.Context, string, string) (string, error) {
		return "new", nil
	}))
	msg, _ := newMessage("hi")
	h.OnMessage(msg)

	assert.Equal(t, []string{"new"}, resp.replies)
}
