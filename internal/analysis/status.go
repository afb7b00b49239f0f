package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RishiKendai/phosphorus/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	statusKeyPrefix = "plagiarism_report_status:"
	leaseKeyPrefix  = "plagiarism_report_lease:"
	statusTTL       = 12 * time.Hour
)

// acquireScript takes the contest lease and marks the contest initiated in one step.
// KEYS: lease, status. ARGV: owner, lease ttl ms, step, status ttl s.
var acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SET", KEYS[2], ARGV[3], "EX", ARGV[4])
return 1
`)

// releaseScript drops the lease only while the caller still owns it
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var validSteps = map[models.Step]bool{
	models.StepIdle:      true,
	models.StepInitiated: true,
	models.StepStarted:   true,
	models.StepPreparing: true,
	models.StepAnalyzing: true,
	models.StepCompleted: true,
	models.StepFailed:    true,
}

// StatusTracker keeps the current compute step of each contest in Redis
type StatusTracker struct {
	client *redis.Client
}

func NewStatusTracker(client *redis.Client) *StatusTracker {
	return &StatusTracker{client: client}
}

func statusKey(contestID string) string {
	return statusKeyPrefix + contestID
}

func leaseKey(contestID string) string {
	return leaseKeyPrefix + contestID
}

func (s *StatusTracker) UpdateStatus(ctx context.Context, contestID string, step models.Step) error {
	if !validSteps[step] {
		return fmt.Errorf("unknown step: %s", step)
	}

	rkey := statusKey(contestID)
	err := s.client.Set(ctx, rkey, string(step), statusTTL).Err()
	if err != nil {
		log.Error().Err(err).
			Str("step", string(step)).
			Str("contestID", contestID).
			Str("redisKey", rkey).
			Msg("Failed to update status in Redis")
		return fmt.Errorf("failed to update status in Redis: %w", err)
	}

	log.Trace().
		Str("step", string(step)).
		Str("contestID", contestID).
		Msg("Status updated in Redis")

	return nil
}

// GetStatus returns the contest's step, idle when none is recorded
func (s *StatusTracker) GetStatus(ctx context.Context, contestID string) (models.Step, error) {
	val, err := s.client.Get(ctx, statusKey(contestID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.StepIdle, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status from Redis: %w", err)
	}
	return models.Step(val), nil
}

// Acquire takes the compute lease of a contest for owner and sets the step to initiated.
// It reports false while another owner holds an unexpired lease.
func (s *StatusTracker) Acquire(ctx context.Context, contestID, owner string, ttl time.Duration) (bool, error) {
	acquired, err := acquireScript.Run(ctx, s.client,
		[]string{leaseKey(contestID), statusKey(contestID)},
		owner, ttl.Milliseconds(), string(models.StepInitiated), int64(statusTTL.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire compute lease: %w", err)
	}
	return acquired == 1, nil
}

// Release gives the lease back. A lease that expired and was taken over is left alone.
func (s *StatusTracker) Release(ctx context.Context, contestID, owner string) error {
	released, err := releaseScript.Run(ctx, s.client, []string{leaseKey(contestID)}, owner).Int()
	if err != nil {
		return fmt.Errorf("failed to release compute lease: %w", err)
	}
	if released == 0 {
		log.Warn().Str("contestID", contestID).Str("owner", owner).Msg("Compute lease was no longer held")
	}
	return nil
}
