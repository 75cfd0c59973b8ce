package llm

import (
	"context"
	"errors"
	"time"

	"airose/pkg/utils"
)

// Collect drains a chunk channel into one assistant message.
// A chunk carrying RawError aborts collection and returns the partial message
// with that error. Context cancellation is reported the same way.
func Collect(ctx context.Context, chunkCh <-chan StreamChunk) (Message, error) {
	msg := Message{
		ID:        utils.GenerateID(),
		Role:      RoleAssistant,
		Content:   []ContentBlock{},
		Timestamp: time.Now().Unix(),
	}

	for {
		select {
		case <-ctx.Done():
			return msg, ctx.Err()
		case chunk, ok := <-chunkCh:
			if !ok {
				return msg, nil
			}
			if chunk.RawError != nil {
				return msg, chunk.RawError
			}
			if chunk.Error != "" {
				if chunk.IsFinal {
					return msg, errors.New(chunk.Error)
				}
				msg.AddContentBlock(NewErrorBlock(chunk.Error))
			}

			for _, block := range chunk.ContentBlocks {
				msg.appendBlock(block)
			}
			for _, tc := range chunk.ToolCalls {
				if tc.ID == "" {
					tc.ID = "call_" + utils.GenerateID()
				}
				msg.ToolCalls = append(msg.ToolCalls, tc)
			}
			if chunk.Usage != nil {
				msg.Usage = chunk.Usage
			}
			if chunk.IsFinal {
				return msg, nil
			}
		}
	}
}

// appendBlock merges consecutive deltas of the same type into one block.
func (m *Message) appendBlock(block ContentBlock) {
	if block.Text == "" {
		return
	}
	if n := len(m.Content); n > 0 && m.Content[n-1].Type == block.Type && block.Type != BlockTypeError {
		m.Content[n-1].Text += block.Text
		return
	}
	m.Content = append(m.Content, block)
}

// SanitizeHistory drops tool-result messages whose originating call is not
// present earlier in msgs, and assistant tool calls whose results are missing.
// Providers reject either shape, and trimming can produce both.
func SanitizeHistory(msgs []Message) []Message {
	calls := make(map[string]bool)
	results := make(map[string]bool)
	for _, m := range msgs {
		if m.Role == RoleTool {
			results[m.ToolCallID] = true
		}
	}

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleAssistant:
			if len(m.ToolCalls) > 0 {
				kept := m.ToolCalls[:0:0]
				for _, tc := range m.ToolCalls {
					if results[tc.ID] {
						kept = append(kept, tc)
						calls[tc.ID] = true
					}
				}
				m.ToolCalls = kept
				if len(kept) == 0 && m.GetTextContent() == "" {
					continue
				}
			}
		case RoleTool:
			if !calls[m.ToolCallID] {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
