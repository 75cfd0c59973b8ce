package state

import "airose/pkg/llm"

// MessagesUpdate is either Append or Keep.
type MessagesUpdate interface {
	apply(msgs []llm.Message) []llm.Message
}

// Append adds messages after the existing ones.
type Append struct {
	Messages []llm.Message
}

// Keep replaces the list with msgs[From:To]. Negative indices count from the
// end; a nil To means the end of the list. Out-of-range bounds are clamped.
type Keep struct {
	From int
	To   *int
}

// Update is a node's contribution to the state.
type Update struct {
	Messages MessagesUpdate
	// Next is last-write-wins. nil resets it to End.
	Next *string
}

// Goto is shorthand for an Update that only sets Next.
func Goto(next string) Update {
	return Update{Next: &next}
}

// AppendThen appends msgs and sets Next in one update.
func AppendThen(next string, msgs ...llm.Message) Update {
	return Update{Messages: Append{Messages: msgs}, Next: &next}
}

// Apply returns the state that results from u. s is left untouched.
func (s *State) Apply(u Update) *State {
	out := s.Clone()
	if u.Messages != nil {
		out.Messages = u.Messages.apply(out.Messages)
	}
	if u.Next != nil && *u.Next != "" {
		out.Next = *u.Next
	} else {
		out.Next = End
	}
	return out
}

func (a Append) apply(msgs []llm.Message) []llm.Message {
	if len(a.Messages) == 0 {
		return msgs
	}
	out := make([]llm.Message, 0, len(msgs)+len(a.Messages))
	out = append(out, msgs...)
	return append(out, a.Messages...)
}

func (k Keep) apply(msgs []llm.Message) []llm.Message {
	n := len(msgs)
	from := resolve(k.From, n)
	to := n
	if k.To != nil {
		to = resolve(*k.To, n)
	}
	if from >= to {
		return nil
	}
	out := make([]llm.Message, to-from)
	copy(out, msgs[from:to])
	return out
}

// resolve maps a possibly negative index into [0, n].
func resolve(i, n int) int {
	if i < 0 {
		i += n
	}
	return max(0, min(i, n))
}
