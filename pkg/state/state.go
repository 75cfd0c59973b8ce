// Package state holds the per-conversation state and its reducer.
//
// A State is never mutated in place: Apply builds the next one.
package state

import "airose/pkg/llm"

// Fixed node names of the conversation graph.
const (
	End            = "__end__"
	NodeSupervisor = "supervisor_agent"
	NodeTrim       = "trim_messages"
)

// State is what gets checkpointed per conversation id.
type State struct {
	Messages []llm.Message `json:"messages" cbor:"messages"`
	Next     string        `json:"next" cbor:"next"`
}

// New returns an empty state pointing at End.
func New() *State {
	return &State{Next: End}
}

// Clone returns a deep enough copy: the message slice is fresh, messages
// themselves are treated as immutable values.
func (s *State) Clone() *State {
	if s == nil {
		return New()
	}
	out := &State{Next: s.Next}
	if len(s.Messages) > 0 {
		out.Messages = make([]llm.Message, len(s.Messages))
		copy(out.Messages, s.Messages)
	}
	if out.Next == "" {
		out.Next = End
	}
	return out
}

// Last returns the most recent message, or false when there is none.
func (s *State) Last() (llm.Message, bool) {
	if s == nil || len(s.Messages) == 0 {
		return llm.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
