// Package handler turns inbound gateway messages into conversation turns.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"airose/pkg/agent"
	"airose/pkg/api"
	"airose/pkg/checkpoint"
	"airose/pkg/config"
	"airose/pkg/graph"
	"airose/pkg/monitor"
	"airose/pkg/utils"
)

// User facing notices. The graph's errors stay in the logs.
const (
	NoticeBusy        = "I'm still working on your previous message, please wait a moment."
	NoticeToolRounds  = "Sorry, I couldn't finish looking that up. Please try asking in a different way."
	NoticeModel       = "Sorry, I'm having trouble thinking right now. Please try again later."
	NoticeTimeout     = "Sorry, that took too long. Please try again."
	NoticeFailure     = "Sorry, something went wrong. Please try again."
	NoticeReset       = "Conversation cleared. Let's start over!"
	NoticeUnknownCmd  = "Unknown command. Available: /reset"
	thinkingSignal    = "thinking"
	lockAcquireWindow = 2 * time.Second
)

// ChatHandler serializes turns per conversation and reports their outcome
// back through the gateway. The runner and system config can be swapped at
// runtime when system.json is reloaded.
type ChatHandler struct {
	runner    atomic.Pointer[runnerBox]
	sysCfg    atomic.Pointer[config.SystemConfig]
	locker    checkpoint.Locker
	responder api.MessageResponder
	wg        sync.WaitGroup
	async     bool
}

type runnerBox struct{ api.TurnRunner }

// Option tweaks a ChatHandler.
type Option func(*ChatHandler)

// WithAsync runs each message on its own goroutine so slow turns do not
// block the channel's receive loop.
func WithAsync() Option {
	return func(h *ChatHandler) { h.async = true }
}

// NewChatHandler builds a handler. The responder is injected later by the
// gateway builder through SetResponder.
func NewChatHandler(runner api.TurnRunner, locker checkpoint.Locker, sysCfg *config.SystemConfig, opts ...Option) *ChatHandler {
	if sysCfg == nil {
		sysCfg = config.DefaultSystemConfig()
	}
	if locker == nil {
		locker = checkpoint.NewLocalLocker()
	}
	h := &ChatHandler{locker: locker}
	h.runner.Store(&runnerBox{runner})
	h.sysCfg.Store(sysCfg)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetResponder implements api.ResponderAware.
func (h *ChatHandler) SetResponder(r api.MessageResponder) {
	h.responder = r
}

// SetRunner swaps the turn runner. Turns already running keep the old one.
func (h *ChatHandler) SetRunner(r api.TurnRunner) {
	h.runner.Store(&runnerBox{r})
}

// SetSystemConfig swaps the engine parameters used by later turns.
func (h *ChatHandler) SetSystemConfig(cfg *config.SystemConfig) {
	if cfg != nil {
		h.sysCfg.Store(cfg)
	}
}

// Wait blocks until every in-flight async turn has finished.
func (h *ChatHandler) Wait() {
	h.wg.Wait()
}

// OnMessage implements api.MessageProcessor.
func (h *ChatHandler) OnMessage(msg *api.UnifiedMessage) {
	if msg.TurnID == "" {
		msg.TurnID = utils.TurnID()
	}
	if !h.async {
		h.handle(msg)
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.handle(msg)
	}()
}

func (h *ChatHandler) handle(msg *api.UnifiedMessage) {
	ctx := monitor.WithTurnID(context.Background(), msg.TurnID)
	content := strings.TrimSpace(msg.Content)
	convID := msg.Session.ConversationID()

	if content == "" {
		h.finish(msg, "", fmt.Errorf("%w: empty message", graph.ErrInvalidInput))
		return
	}

	// --- Slash Commands ---
	// 指令不進入對話紀錄，直接處理後返回
	if strings.HasPrefix(content, "/") {
		h.handleSlashCommand(ctx, msg, content)
		return
	}

	cfg := h.sysCfg.Load()
	unlock, err := h.lock(ctx, convID)
	if err != nil {
		slog.WarnContext(ctx, "Conversation busy", "conversation", convID, "error", err)
		h.notify(msg, NoticeBusy, err)
		return
	}
	defer func() {
		if err := unlock(context.Background()); err != nil {
			slog.WarnContext(ctx, "Failed to release conversation lock", "conversation", convID, "error", err)
		}
	}()

	// 回覆太慢時先送 thinking 訊號
	delay := time.Duration(cfg.ThinkingInitDelayMs) * time.Millisecond
	timer := time.AfterFunc(delay, func() {
		if h.responder != nil {
			_ = h.responder.SendSignal(msg.Session, thinkingSignal)
		}
	})

	start := time.Now()
	reply, err := h.runner.Load().RunTurn(ctx, convID, content)
	timer.Stop()

	slog.InfoContext(ctx, "Turn handled", "conversation", convID, "duration", time.Since(start).String(), "ok", err == nil)
	h.finish(msg, reply, err)
}

// lock 取得對話鎖，同一對話同時間只跑一個 turn
func (h *ChatHandler) lock(ctx context.Context, convID string) (checkpoint.UnlockFunc, error) {
	ttl := time.Duration(h.sysCfg.Load().TurnLockTTLMs) * time.Millisecond
	lockCtx, cancel := context.WithTimeout(ctx, lockAcquireWindow)
	defer cancel()
	return h.locker.Lock(lockCtx, convID, ttl)
}

// finish delivers the outcome of a turn. A turn that ended without a reply
// (the supervisor chose to stay silent) sends nothing.
func (h *ChatHandler) finish(msg *api.UnifiedMessage, reply string, err error) {
	if err != nil {
		h.notify(msg, noticeFor(err), err)
		return
	}
	if reply != "" && h.responder != nil {
		if sendErr := h.responder.SendReply(msg.Session, reply); sendErr != nil {
			slog.Error("Failed to send reply", "channel", msg.Session.ChannelID, "error", sendErr)
		}
	}
	if msg.Done != nil {
		msg.Done(reply, nil)
	}
}

func (h *ChatHandler) notify(msg *api.UnifiedMessage, notice string, err error) {
	if h.responder != nil && !errors.Is(err, graph.ErrInvalidInput) {
		if sendErr := h.responder.SendError(msg.Session, notice); sendErr != nil {
			slog.Error("Failed to send error notice", "channel", msg.Session.ChannelID, "error", sendErr)
		}
	}
	if msg.Done != nil {
		msg.Done("", err)
	}
}

// noticeFor maps a turn error to what the user is told.
func noticeFor(err error) string {
	switch {
	case errors.Is(err, agent.ErrToolRoundsExceeded):
		return NoticeToolRounds
	case errors.Is(err, agent.ErrModel):
		return NoticeModel
	case errors.Is(err, context.DeadlineExceeded):
		return NoticeTimeout
	default:
		return NoticeFailure
	}
}

// handleSlashCommand executes the administrative commands.
// Format: /command
func (h *ChatHandler) handleSlashCommand(ctx context.Context, msg *api.UnifiedMessage, content string) {
	name := ""
	if fields := strings.Fields(strings.TrimPrefix(content, "/")); len(fields) > 0 {
		name = strings.ToLower(fields[0])
	}

	switch name {
	case "reset":
		resetter, ok := h.runner.Load().TurnRunner.(api.ConversationResetter)
		if !ok {
			h.notify(msg, NoticeFailure, errors.New("runner cannot reset conversations"))
			return
		}
		convID := msg.Session.ConversationID()
		unlock, err := h.lock(ctx, convID)
		if err != nil {
			h.notify(msg, NoticeBusy, err)
			return
		}
		defer unlock(context.Background())
		if err := resetter.Reset(ctx, convID); err != nil {
			slog.ErrorContext(ctx, "Reset failed", "conversation", convID, "error", err)
			h.notify(msg, NoticeFailure, err)
			return
		}
		slog.InfoContext(ctx, "Conversation reset", "conversation", convID)
		h.finish(msg, NoticeReset, nil)
	default:
		h.finish(msg, NoticeUnknownCmd, nil)
	}
}
