package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrDeadLettered marks failures whose message is already in the dead letter stream
var ErrDeadLettered = errors.New("moved to dead letter queue")

type RetryHandler struct {
	client     *redis.Client
	dlqKey     string
	maxRetries int
	baseDelay  time.Duration
}

func NewRetryHandler(client *redis.Client, dlqKey string) *RetryHandler {
	return &RetryHandler{
		client:     client,
		dlqKey:     dlqKey,
		maxRetries: 3,
		baseDelay:  time.Second,
	}
}

// RetryWithBackoff runs fn up to maxRetries times, doubling the delay between attempts.
// When every attempt fails the message is dead-lettered and the last error returned.
func (h *RetryHandler) RetryWithBackoff(ctx context.Context, fn func() error, msgID string, fields map[string]interface{}) error {
	var lastErr error
	delay := h.baseDelay

	for attempt := 1; attempt <= h.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		log.Warn().
			Err(lastErr).
			Str("message_id", msgID).
			Int("attempt", attempt).
			Int("max_retries", h.maxRetries).
			Msg("Processing attempt failed")

		if attempt == h.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	if err := h.DeadLetter(ctx, msgID, fields, lastErr); err != nil {
		return fmt.Errorf("failed to dead-letter message after %d attempts: %w", h.maxRetries, err)
	}

	return fmt.Errorf("message %s failed after %d attempts, %w: %w", msgID, h.maxRetries, ErrDeadLettered, lastErr)
}

// DeadLetter copies a message to the dead letter stream with the failure reason
func (h *RetryHandler) DeadLetter(ctx context.Context, msgID string, fields map[string]interface{}, cause error) error {
	values := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		values[k] = v
	}
	values["originalId"] = msgID
	values["failedAt"] = time.Now().UTC().Format(time.RFC3339)
	if cause != nil {
		values["error"] = cause.Error()
	}

	err := h.client.XAdd(ctx, &redis.XAddArgs{
		Stream: h.dlqKey,
		Values: values,
	}).Err()
	if err != nil {
		log.Error().Err(err).Str("message_id", msgID).Msg("Failed to write to dead letter queue")
		return err
	}

	log.Warn().
		Str("message_id", msgID).
		Str("dlq", h.dlqKey).
		Msg("Message moved to dead letter queue")

	return nil
}
