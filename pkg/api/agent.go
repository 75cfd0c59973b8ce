package api

import (
	"context"

	"airose/pkg/llm"
)

// TurnRunner processes one user message for a conversation and returns the
// assistant's reply text. Callers must not run two turns for the same
// conversation id at once.
type TurnRunner interface {
	RunTurn(ctx context.Context, conversationID, text string) (string, error)
}

// HistoryReader exposes the persisted messages of a conversation.
type HistoryReader interface {
	History(ctx context.Context, conversationID string) ([]llm.Message, error)
}

// ConversationResetter forgets everything persisted for a conversation.
type ConversationResetter interface {
	Reset(ctx context.Context, conversationID string) error
}
