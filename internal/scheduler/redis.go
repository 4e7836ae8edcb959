package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/notify-engine/internal/config"
	"github.com/jwalitptl/notify-engine/pkg/logger"
	"github.com/jwalitptl/notify-engine/pkg/metrics"
)

// RedisScheduler keeps delayed jobs in a sorted set scored by execute time and
// polls for due entries. Removal from the set is the claim: ZREM returns 1 for
// exactly one competing dispatcher.
type RedisScheduler struct {
	client   *redis.Client
	queueKey string
	interval time.Duration
	batch    int
	handler  Handler
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewRedisScheduler(client *redis.Client, cfg config.SchedulerConfig, logger *logger.Logger, m *metrics.Metrics) *RedisScheduler {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	queueKey := cfg.QueueKey
	if queueKey == "" {
		queueKey = "notify:scheduler:jobs"
	}
	return &RedisScheduler{
		client:   client,
		queueKey: queueKey,
		interval: interval,
		batch:    batch,
		logger:   logger.WithComponent("scheduler"),
		metrics:  m,
	}
}

// SetHandler registers the callback that receives due jobs. Must be called
// before Run.
func (s *RedisScheduler) SetHandler(handler Handler) {
	s.handler = handler
}

func (s *RedisScheduler) EnqueueAt(ctx context.Context, job Job, executeAt time.Time) (string, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.ExecuteAt = executeAt.UTC()

	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	err = s.client.ZAdd(ctx, s.queueKey, redis.Z{
		Score:  float64(job.ExecuteAt.UnixMilli()),
		Member: payload,
	}).Err()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	s.metrics.JobsEnqueued.Inc()
	return job.ID, nil
}

// Run polls for due jobs until the context is cancelled.
func (s *RedisScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler dispatcher started", "queue", s.queueKey)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler dispatcher stopping")
			return
		case <-ticker.C:
			if err := s.dispatchDue(ctx); err != nil {
				s.logger.Error(err, "failed to dispatch due jobs")
			}
		}
	}
}

func (s *RedisScheduler) dispatchDue(ctx context.Context) error {
	now := time.Now().UTC()
	members, err := s.client.ZRangeByScore(ctx, s.queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: int64(s.batch),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read due jobs: %w", err)
	}
	s.metrics.JobsDue.Set(float64(len(members)))

	for _, member := range members {
		removed, err := s.client.ZRem(ctx, s.queueKey, member).Result()
		if err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}
		if removed == 0 {
			// Another dispatcher took it.
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			s.logger.Error(err, "dropping undecodable job payload")
			continue
		}

		if err := s.handler(ctx, job); err != nil {
			s.logger.Error(err, "job handler failed, re-enqueueing", "job_id", job.ID)
			if _, reErr := s.EnqueueAt(ctx, job, now.Add(s.interval*2)); reErr != nil {
				s.logger.Error(reErr, "failed to re-enqueue job", "job_id", job.ID)
			}
			continue
		}
		s.metrics.JobsDelivered.Inc()
	}
	return nil
}
