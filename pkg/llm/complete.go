package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CallOptions bounds a single Complete call.
type CallOptions struct {
	// MaxRetries is the number of attempts on transient errors. Minimum 1.
	MaxRetries int
	RetryDelay time.Duration
	// Timeout cuts off each attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
}

// Complete streams one request and collects the reply, retrying transient
// failures (as judged by client.IsTransientError) with a fixed delay.
func Complete(ctx context.Context, client LLMClient, req ChatRequest, opts CallOptions) (Message, error) {
	maxRetries := max(opts.MaxRetries, 1)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			slog.WarnContext(ctx, "Abnormal response, retrying",
				"error", lastErr,
				"retry", fmt.Sprintf("%d/%d", attempt-1, maxRetries-1),
			)
			select {
			case <-ctx.Done():
				return Message{}, ctx.Err()
			case <-time.After(opts.RetryDelay):
			}
		}

		msg, err := completeOnce(ctx, client, req, opts.Timeout)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if !client.IsTransientError(err) {
			slog.ErrorContext(ctx, "Non-transient error, skipping retry", "error", err)
			break
		}
	}
	return Message{}, lastErr
}

func completeOnce(ctx context.Context, client LLMClient, req ChatRequest, timeout time.Duration) (Message, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ch, err := client.StreamChat(runCtx, req)
	if err != nil {
		return Message{}, err
	}
	msg, err := Collect(runCtx, ch)
	if err != nil {
		return Message{}, err
	}
	if msg.Usage != nil && msg.Usage.StopReason == StopReasonLength {
		slog.InfoContext(ctx, "Response truncated by length limit", "preview", preview(msg.GetTextContent()))
	}
	return msg, nil
}

func preview(text string) string {
	if len(text) > 100 {
		return text[:100] + "..."
	}
	return text
}
