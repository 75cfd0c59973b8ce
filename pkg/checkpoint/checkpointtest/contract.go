// Package checkpointtest holds the behavior every checkpoint.Store must share.
package checkpointtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"airose/pkg/checkpoint"
	"airose/pkg/llm"
	"airose/pkg/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *state.State {
	call := llm.ToolCall{ID: "call_1", Name: "alert_cna", Arguments: `{"redFlag":"fever"}`}
	assistant := llm.NewAssistantMessage("")
	assistant.ToolCalls = []llm.ToolCall{call}

	return &state.State{
		Messages: []llm.Message{
			llm.NewHumanMessage("I have a fever"),
			assistant,
			llm.NewToolResultMessage(call, "fever is sent to alert CNA.", false),
			llm.NewAssistantMessage("I let the nurse know."),
		},
		Next: state.End,
	}
}

// RunStoreContract checks a fresh, empty store.
func RunStoreContract(t *testing.T, store checkpoint.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing id", func(t *testing.T) {
		_, err := store.Load(ctx, "nobody")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		st, err := checkpoint.LoadOrNew(ctx, store, "nobody")
		require.NoError(t, err)
		assert.Equal(t, state.End, st.Next)
		assert.Empty(t, st.Messages)
	})

	t.Run("round trip", func(t *testing.T) {
		want := sample()
		require.NoError(t, store.Save(ctx, "conv-1", want))

		got, err := store.Load(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, want.Next, got.Next)
		require.Len(t, got.Messages, len(want.Messages))
		for i := range want.Messages {
			assert.Equal(t, want.Messages[i].ID, got.Messages[i].ID)
			assert.Equal(t, want.Messages[i].Role, got.Messages[i].Role)
			assert.Equal(t, want.Messages[i].Content, got.Messages[i].Content)
			assert.Equal(t, want.Messages[i].ToolCallID, got.Messages[i].ToolCallID)
			assert.Equal(t, want.Messages[i].Timestamp, got.Messages[i].Timestamp)
		}
		require.Len(t, got.Messages[1].ToolCalls, 1)
		assert.Equal(t, "alert_cna", got.Messages[1].ToolCalls[0].Name)
		assert.JSONEq(t, `{"redFlag":"fever"}`, got.Messages[1].ToolCalls[0].Arguments)
	})

	t.Run("overwrite", func(t *testing.T) {
		first := sample()
		require.NoError(t, store.Save(ctx, "conv-2", first))

		second := first.Apply(state.Trim(1))
		require.NoError(t, store.Save(ctx, "conv-2", second))

		got, err := store.Load(ctx, "conv-2")
		require.NoError(t, err)
		assert.Len(t, got.Messages, 1)
	})

	t.Run("save does not alias caller state", func(t *testing.T) {
		st := sample()
		require.NoError(t, store.Save(ctx, "conv-3", st))
		st.Messages[0] = llm.NewHumanMessage("changed")

		got, err := store.Load(ctx, "conv-3")
		require.NoError(t, err)
		assert.Equal(t, "I have a fever", got.Messages[0].GetTextContent())
	})

	t.Run("odd ids", func(t *testing.T) {
		for _, id := range []string{"telegram_12345", "web/../../etc", "émoji 💬"} {
			require.NoError(t, store.Save(ctx, id, sample()))
			_, err := store.Load(ctx, id)
			assert.NoError(t, err, id)
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Subset(t, ids, []string{"conv-1", "conv-2", "conv-3", "web/../../etc"})

		require.NoError(t, store.Delete(ctx, "conv-1"))
		require.NoError(t, store.Delete(ctx, "conv-1"))
		_, err = store.Load(ctx, "conv-1")
		assert.True(t, errors.Is(err, checkpoint.ErrNotFound))

		ids, err = store.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, ids, "conv-1")
	})

	t.Run("concurrent ids", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := fmt.Sprintf("parallel-%d", i)
				assert.NoError(t, store.Save(ctx, id, sample()))
				_, err := store.Load(ctx, id)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
	})
}
