package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RishiKendai/phosphorus/internal/metrics"
	"github.com/RishiKendai/phosphorus/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SubmissionProcessor handles one parsed submission
type SubmissionProcessor interface {
	ProcessSubmission(ctx context.Context, submission *models.Submission) error
}

type ConsumerConfig struct {
	StreamKey     string
	ConsumerGroup string
	ConsumerName  string
	// Retention bounds how long entries stay in the stream before trimming
	Retention time.Duration
}

type Consumer struct {
	client          *redis.Client
	cfg             ConsumerConfig
	processor       SubmissionProcessor
	retryHandler    *RetryHandler
	batchSize       int64
	block           time.Duration
	minIdle         time.Duration
	claimInterval   time.Duration
	cleanupInterval time.Duration
	lastClaim       time.Time
}

func NewConsumer(client *redis.Client, cfg ConsumerConfig, processor SubmissionProcessor, retryHandler *RetryHandler) *Consumer {
	return &Consumer{
		client:          client,
		cfg:             cfg,
		processor:       processor,
		retryHandler:    retryHandler,
		batchSize:       10,
		block:           time.Second,
		minIdle:         time.Minute,
		claimInterval:   30 * time.Second,
		cleanupInterval: time.Hour,
	}
}

// Start reads the stream until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	// entries a crashed consumer left pending
	if _, err := c.claimIdle(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to claim idle pending submissions on startup")
	}
	c.lastClaim = time.Now()

	if c.cfg.Retention > 0 {
		go c.trimPeriodically(ctx)
	}

	log.Info().
		Str("stream", c.cfg.StreamKey).
		Str("group", c.cfg.ConsumerGroup).
		Str("consumer", c.cfg.ConsumerName).
		Msg("Submission consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Since(c.lastClaim) > c.claimInterval {
			if _, err := c.claimIdle(ctx); err != nil {
				log.Warn().Err(err).Msg("Failed to claim idle pending submissions")
			}
			c.lastClaim = time.Now()
		}

		if _, err := c.readOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Error consuming submissions")
			time.Sleep(time.Second)
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	// MKSTREAM creates the stream when it does not exist yet
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.StreamKey, c.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// readOnce reads one batch of new entries and returns how many were handled
func (c *Consumer) readOnce(ctx context.Context) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.ConsumerGroup,
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{c.cfg.StreamKey, ">"},
		Count:    c.batchSize,
		Block:    c.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read from stream: %w", err)
	}

	handled := 0
	for _, stream := range streams {
		for i := range stream.Messages {
			c.handle(ctx, &stream.Messages[i])
			handled++
		}
	}
	return handled, nil
}

// claimIdle takes over entries other consumers left pending longer than minIdle
func (c *Consumer) claimIdle(ctx context.Context) (int, error) {
	claimed := 0
	start := "0-0"
	for {
		messages, next, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.StreamKey,
			Group:    c.cfg.ConsumerGroup,
			Consumer: c.cfg.ConsumerName,
			MinIdle:  c.minIdle,
			Start:    start,
			Count:    c.batchSize,
		}).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim pending submissions: %w", err)
		}

		for i := range messages {
			c.handle(ctx, &messages[i])
			claimed++
		}

		if next == "0-0" || len(messages) == 0 {
			break
		}
		start = next
	}

	if claimed > 0 {
		log.Info().Int("claimed", claimed).Msg("Processed claimed pending submissions")
	}
	return claimed, nil
}

// handle processes one entry. Entries are acknowledged once stored or dead-lettered.
func (c *Consumer) handle(ctx context.Context, msg *redis.XMessage) {
	fields := make(map[string]string, len(msg.Values))
	values := make(map[string]interface{}, len(msg.Values))
	for key, val := range msg.Values {
		if value, ok := val.(string); ok {
			fields[key] = value
		}
		values[key] = val
	}

	submission, err := ParseSubmission(&StreamMessage{ID: msg.ID, Fields: fields})
	if err != nil {
		metrics.IngestedSubmissions.WithLabelValues("invalid").Inc()
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Rejected malformed submission")
		if dlqErr := c.retryHandler.DeadLetter(ctx, msg.ID, values, err); dlqErr == nil {
			c.acknowledge(ctx, msg.ID)
		}
		return
	}

	err = c.retryHandler.RetryWithBackoff(ctx, func() error {
		return c.processor.ProcessSubmission(ctx, submission)
	}, msg.ID, values)
	if err != nil {
		metrics.IngestedSubmissions.WithLabelValues("failed").Inc()
		log.Error().
			Err(err).
			Str("message_id", msg.ID).
			Str("submission_id", submission.SubmissionID).
			Msg("Failed to store submission")
		// left pending for a later claim unless it reached the dead letter queue
		if errors.Is(err, ErrDeadLettered) {
			c.acknowledge(ctx, msg.ID)
		}
		return
	}

	metrics.IngestedSubmissions.WithLabelValues("stored").Inc()
	log.Debug().
		Str("message_id", msg.ID).
		Str("submission_id", submission.SubmissionID).
		Str("contest_id", submission.ContestID).
		Msg("Submission stored")
	c.acknowledge(ctx, msg.ID)
}

func (c *Consumer) acknowledge(ctx context.Context, messageID string) {
	if err := c.client.XAck(ctx, c.cfg.StreamKey, c.cfg.ConsumerGroup, messageID).Err(); err != nil {
		log.Error().Err(err).Str("message_id", messageID).Msg("Failed to acknowledge message")
	}
}

// trim removes entries older than the retention window
func (c *Consumer) trim(ctx context.Context) error {
	cutoff := time.Now().Add(-c.cfg.Retention)
	minID := fmt.Sprintf("%d-0", cutoff.UnixMilli())

	trimmed, err := c.client.XTrimMinID(ctx, c.cfg.StreamKey, minID).Result()
	if err != nil {
		return fmt.Errorf("failed to trim stream: %w", err)
	}
	if trimmed > 0 {
		log.Debug().
			Int64("trimmed", trimmed).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Trimmed old submissions from stream")
	}
	return nil
}

func (c *Consumer) trimPeriodically(ctx context.Context) {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	if err := c.trim(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to trim stream")
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.trim(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to trim stream")
			}
		}
	}
}
