// Package graph runs one conversation turn through the fixed
// supervisor -> responder -> trim state machine and checkpoints the result.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"airose/pkg/agent"
	"airose/pkg/checkpoint"
	"airose/pkg/config"
	"airose/pkg/llm"
	"airose/pkg/monitor"
	"airose/pkg/state"
	"airose/pkg/supervisor"
	"airose/pkg/tools"
	"airose/pkg/utils"
)

var (
	// ErrInvalidInput rejects a blank message or conversation id before any side effect.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRecursionLimit aborts a turn that executed too many nodes.
	ErrRecursionLimit = errors.New("recursion limit reached")
	// ErrUnknownNode means a routing decision named a node the graph does not have.
	ErrUnknownNode = errors.New("unknown node")
)

// Router picks the next node from the conversation so far.
type Router interface {
	Route(ctx context.Context, msgs []llm.Message) supervisor.Decision
}

// Runner answers the conversation as one responder.
type Runner interface {
	Run(ctx context.Context, r agent.Responder, history []llm.Message) (*agent.Result, error)
}

// Deps wires a Graph.
type Deps struct {
	Router     Router
	Engine     Runner
	Store      checkpoint.Store
	Responders []agent.Responder
	SysCfg     *config.SystemConfig
}

// Graph is safe to share; every turn works on its own copy of the state.
// Callers serialize turns of the same conversation.
type Graph struct {
	router     Router
	engine     Runner
	store      checkpoint.Store
	responders map[string]agent.Responder
	sysCfg     *config.SystemConfig
}

// TurnResult describes one finished turn.
type TurnResult struct {
	// Reply is the last assistant text appended this turn, or "".
	Reply string
	// Route is the supervisor's choice: a responder name or state.End.
	Route string
	// State is what was checkpointed.
	State *state.State
	// Nodes counts node executions.
	Nodes int
}

// New validates the roster and builds a graph.
func New(d Deps) (*Graph, error) {
	if d.Router == nil || d.Engine == nil || d.Store == nil {
		return nil, errors.New("graph needs a router, an engine and a store")
	}
	if d.SysCfg == nil {
		d.SysCfg = config.DefaultSystemConfig()
	}

	g := &Graph{
		router:     d.Router,
		engine:     d.Engine,
		store:      d.Store,
		responders: make(map[string]agent.Responder, len(d.Responders)),
		sysCfg:     d.SysCfg,
	}
	for _, r := range d.Responders {
		switch r.Name {
		case "", state.End, state.NodeSupervisor, state.NodeTrim:
			return nil, fmt.Errorf("responder name %q is reserved", r.Name)
		}
		if _, dup := g.responders[r.Name]; dup {
			return nil, fmt.Errorf("duplicate responder %q", r.Name)
		}
		if v, ok := d.Engine.(interface{ Validate(agent.Responder) error }); ok {
			if err := v.Validate(r); err != nil {
				return nil, err
			}
		}
		g.responders[r.Name] = r
	}
	return g, nil
}

// RunTurn is the transport entry point: it returns only the reply text.
func (g *Graph) RunTurn(ctx context.Context, conversationID, text string) (string, error) {
	res, err := g.Run(ctx, conversationID, text)
	if err != nil {
		return "", err
	}
	return res.Reply, nil
}

// Run loads the checkpoint, appends the user's message, walks the graph and
// saves the new state. A fatal error returns before saving, so the previous
// checkpoint stays authoritative.
func (g *Graph) Run(ctx context.Context, conversationID, text string) (res *TurnResult, err error) {
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(text) == "" {
		monitor.ObserveTurn("invalid")
		return nil, fmt.Errorf("%w: conversation id and message must not be blank", ErrInvalidInput)
	}

	// transport 已指定 turn id 時沿用，log 才串得起來
	turnID := monitor.TurnID(ctx)
	if turnID == "" {
		turnID = utils.TurnID()
		ctx = monitor.WithTurnID(ctx, turnID)
	}
	ctx = llm.WithDebugDir(ctx, turnID)
	ctx = tools.WithConversationID(ctx, conversationID)
	if g.sysCfg.TurnTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(g.sysCfg.TurnTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		monitor.ObserveTurn(outcome)
		if err != nil {
			slog.ErrorContext(ctx, "Turn failed", "conversation", conversationID, "error", err)
			return
		}
		slog.InfoContext(ctx, "Turn finished", "conversation", conversationID,
			"route", res.Route, "nodes", res.Nodes, "messages", len(res.State.Messages), "elapsed", time.Since(start))
	}()

	st, err := checkpoint.LoadOrNew(ctx, g.store, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	st = st.Apply(state.Update{Messages: state.Append{Messages: []llm.Message{llm.NewHumanMessage(text)}}})
	res = &TurnResult{Route: state.End}

	limit := g.sysCfg.RecursionLimit
	if limit <= 0 {
		limit = config.DefaultSystemConfig().RecursionLimit
	}

	node := state.NodeSupervisor
	for node != state.End {
		res.Nodes++
		if res.Nodes > limit {
			return nil, fmt.Errorf("%w: %d node executions", ErrRecursionLimit, limit)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		monitor.ObserveNode(node)

		upd, err := g.step(ctx, node, st, res)
		if err != nil {
			return nil, err
		}
		st = st.Apply(upd)
		node = st.Next
	}

	if err := g.store.Save(ctx, conversationID, st); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}
	res.State = st
	return res, nil
}

// step executes one node and returns its state update.
func (g *Graph) step(ctx context.Context, node string, st *state.State, res *TurnResult) (state.Update, error) {
	switch node {
	case state.NodeSupervisor:
		d := g.router.Route(ctx, st.Messages)
		res.Route = d.Next
		return g.interpret(d, res)

	case state.NodeTrim:
		slog.DebugContext(ctx, "Trimming messages", "count", len(st.Messages), "keep", g.sysCfg.TrimKeep)
		return state.Trim(g.sysCfg.TrimKeep), nil
	}

	r, ok := g.responders[node]
	if !ok {
		return state.Update{}, fmt.Errorf("%w: %q", ErrUnknownNode, node)
	}
	slog.InfoContext(ctx, "Responder started", "responder", r.Name)
	out, err := g.engine.Run(ctx, r, st.Messages)
	if err != nil {
		return state.Update{}, err
	}

	msgs := out.Messages()
	for i := range msgs {
		msgs[i] = msgs[i].Clone()
	}
	res.Reply = out.Reply.GetTextContent()
	return state.AppendThen(state.NodeTrim, msgs...), nil
}

// interpret turns a routing decision into a state update.
//
//	empty message          -> go to Next
//	message, Next == End   -> ask the user, then trim
//	message, responder     -> reformulated request ahead of the responder
func (g *Graph) interpret(d supervisor.Decision, res *TurnResult) (state.Update, error) {
	if d.Next != state.End {
		if _, ok := g.responders[d.Next]; !ok {
			return state.Update{}, fmt.Errorf("%w: %q", ErrUnknownNode, d.Next)
		}
	}

	switch {
	case d.Message == "":
		return state.Goto(d.Next), nil
	case d.Next == state.End:
		res.Reply = d.Message
		return state.AppendThen(state.NodeTrim, llm.NewAssistantMessage(d.Message)), nil
	default:
		return state.AppendThen(d.Next, llm.NewHumanMessage(d.Message)), nil
	}
}

// History returns the checkpointed messages of a conversation, oldest first.
// An unknown conversation has an empty history.
func (g *Graph) History(ctx context.Context, conversationID string) ([]llm.Message, error) {
	st, err := checkpoint.LoadOrNew(ctx, g.store, conversationID)
	if err != nil {
		return nil, err
	}
	return st.Messages, nil
}

// Reset deletes the conversation's checkpoint. Resetting an unknown
// conversation is not an error.
func (g *Graph) Reset(ctx context.Context, conversationID string) error {
	if err := g.store.Delete(ctx, conversationID); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return fmt.Errorf("reset %s: %w", conversationID, err)
	}
	return nil
}
