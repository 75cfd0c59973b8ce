package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"airose/pkg/api"
	"airose/pkg/graph"
	"airose/pkg/llm"
	"airose/pkg/monitor"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

// httpUserID marks sessions opened by POST /chat. Their replies travel in
// the HTTP response, not through Send.
const httpUserID = "http"

type WebConfig struct {
	Port int `json:"port"` // Default: 8080
	// Metrics exposes the prometheus registry on /metrics. Default: true.
	Metrics *bool `json:"metrics,omitempty"`
	// ReplyTimeoutMs bounds how long POST /chat waits for a turn. Default: turn_timeout_ms + 5s.
	ReplyTimeoutMs int `json:"reply_timeout_ms,omitempty"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// ChatResponse answers POST /chat.
type ChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// IncomingMessage is what a websocket client sends. Plain text frames are
// accepted too.
type IncomingMessage struct {
	Text string `json:"text"`
}

// OutgoingMessage is every frame the websocket pushes.
type OutgoingMessage struct {
	Type  string            `json:"type"` // message / error / signal / history
	Text  string            `json:"text,omitempty"`
	Value string            `json:"value,omitempty"`
	Data  []TranscriptEntry `json:"data,omitempty"`
}

type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(websocket.TextMessage, data)
}

type WebChannel struct {
	config      WebConfig
	server      *http.Server
	history     api.HistoryReader
	replyWait   time.Duration
	connections map[string]*SafeConn // Map ChatID -> WS Connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig, history api.HistoryReader, replyWait time.Duration) *WebChannel {
	if replyWait <= 0 {
		replyWait = 5 * time.Minute
	}
	return &WebChannel{
		config:      cfg,
		history:     history,
		replyWait:   replyWait,
		connections: make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

// Router builds the HTTP surface. Start serves it; tests mount it on httptest.
func (c *WebChannel) Router(ctx api.ChannelContext) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/chat", func(w http.ResponseWriter, req *http.Request) {
		c.handleChat(w, req, ctx)
	})
	r.Get("/history/{id}", c.handleHistory)
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		c.handleWebSocket(w, req, ctx)
	})
	if c.config.Metrics == nil || *c.config.Metrics {
		r.Method(http.MethodGet, "/metrics", monitor.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           c.Router(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Web API listening", "port", c.config.Port)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Web API server error", "error", err)
		}
	}()

	return nil
}

func (c *WebChannel) Stop() error {
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}

func (c *WebChannel) conn(session api.SessionContext) (*SafeConn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connections[session.ChatID]
	return conn, ok
}

func (c *WebChannel) Send(session api.SessionContext, message string) error {
	if session.UserID == httpUserID {
		return nil
	}
	conn, ok := c.conn(session)
	if !ok {
		return fmt.Errorf("web chat %s not connected", session.ChatID)
	}
	return conn.WriteJSON(OutgoingMessage{Type: "message", Text: message})
}

// SendSignal implements the gateway.SignalingChannel interface
func (c *WebChannel) SendSignal(session api.SessionContext, signal string) error {
	if session.UserID == httpUserID {
		return nil
	}
	conn, ok := c.conn(session)
	if !ok {
		return fmt.Errorf("web chat %s not connected", session.ChatID)
	}
	return conn.WriteJSON(OutgoingMessage{Type: "signal", Value: signal})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func (c *WebChannel) handleChat(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message must not be empty"})
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	type outcome struct {
		reply string
		err   error
	}
	done := make(chan outcome, 1)
	ctx.OnMessage(c.ID(), &api.UnifiedMessage{
		Session: api.SessionContext{
			ChannelID: c.ID(),
			UserID:    httpUserID,
			ChatID:    req.ConversationID,
			Username:  "HTTP",
		},
		Content: req.Message,
		Done: func(reply string, err error) {
			done <- outcome{reply, err}
		},
	})

	timer := time.NewTimer(c.replyWait)
	defer timer.Stop()

	select {
	case out := <-done:
		switch {
		case out.err == nil:
			writeJSON(w, http.StatusOK, ChatResponse{ConversationID: req.ConversationID, Response: out.reply})
		case errors.Is(out.err, graph.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: out.err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: out.err.Error()})
		}
	case <-timer.C:
		writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "turn did not finish in time"})
	case <-r.Context().Done():
		slog.Warn("Client went away before the reply", "conversation", req.ConversationID)
	}
}

func (c *WebChannel) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if c.history == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "history is not available"})
		return
	}
	session := api.SessionContext{ChannelID: c.ID(), ChatID: id}
	msgs, err := c.history.History(r.Context(), session.ConversationID())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        Transcript(msgs),
	})
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	chatID := r.URL.Query().Get("conversation_id")
	if chatID == "" {
		chatID = uuid.NewString()
	}

	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "error", err)
		return
	}

	// Wrap connection
	conn := &SafeConn{Conn: rawConn}

	// 同一個 chat 只保留最新的連線
	c.mu.Lock()
	if old, ok := c.connections[chatID]; ok {
		old.Close()
	}
	c.connections[chatID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.connections[chatID] == conn {
			delete(c.connections, chatID)
		}
		c.mu.Unlock()
		conn.Close()
	}()

	session := api.SessionContext{
		ChannelID: c.ID(),
		UserID:    r.RemoteAddr,
		ChatID:    chatID,
		Username:  "WebUser",
	}

	// Send history immediately (if any)
	if c.history != nil {
		msgs, err := c.history.History(r.Context(), session.ConversationID())
		if err != nil {
			slog.Error("Failed to load history", "conversation", session.ConversationID(), "error", err)
		} else if entries := Transcript(msgs); len(entries) > 0 {
			if err := conn.WriteJSON(OutgoingMessage{Type: "history", Data: entries}); err != nil {
				slog.Error("Failed to send history", "error", err)
			}
		}
	}

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		// Try to parse as JSON, fall back to plain text
		content := string(msgBytes)
		var incoming IncomingMessage
		if err := json.Unmarshal(msgBytes, &incoming); err == nil && incoming.Text != "" {
			content = incoming.Text
		}

		ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: session,
			Content: content,
		})
	}
}

// TranscriptEntry is one visible line of a conversation.
type TranscriptEntry struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Transcript keeps what a person would see in the chat: human and assistant
// text. Tool results and tool-call-only assistant steps are dropped.
func Transcript(msgs []llm.Message) []TranscriptEntry {
	out := make([]TranscriptEntry, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == llm.RoleTool {
			continue
		}
		text := m.GetTextContent()
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, TranscriptEntry{Role: m.Role, Text: text, Timestamp: m.Timestamp})
	}
	return out
}
