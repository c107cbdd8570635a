package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/obralens/obralens-backend/internal/logger"
	"github.com/obralens/obralens-backend/internal/types"
	"github.com/obralens/obralens-backend/internal/utils"
)

// JobEvent is published on every comparison-job status change so frontends
// can follow progress without polling the status endpoint.
type JobEvent struct {
	JobID        string          `json:"job_id"`
	CompanyID    string          `json:"company_id"`
	Status       types.JobStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	At           time.Time       `json:"at"`
}

type JobNotifier interface {
	PublishTransition(ctx context.Context, job *types.ComparisonJob)
	Close() error
}

type redisJobNotifier struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisJobNotifier(log *logger.Logger) (JobNotifier, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	channel := utils.GetEnv("REDIS_JOB_CHANNEL", "comparison-jobs", log)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisJobNotifier{
		log:     log.With("service", "RedisJobNotifier"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

// PublishTransition is best-effort: a publish failure is logged and never
// affects the job pipeline.
func (n *redisJobNotifier) PublishTransition(ctx context.Context, job *types.ComparisonJob) {
	if n == nil || n.rdb == nil || job == nil {
		return
	}
	raw, err := json.Marshal(JobEvent{
		JobID:        job.ID.String(),
		CompanyID:    job.CompanyID.String(),
		Status:       job.Status,
		ErrorMessage: job.ErrorMessage,
		At:           time.Now(),
	})
	if err != nil {
		return
	}
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		n.log.Warn("Failed to publish job event", "job_id", job.ID, "error", err)
	}
}

func (n *redisJobNotifier) Close() error {
	if n == nil || n.rdb == nil {
		return nil
	}
	return n.rdb.Close()
}
