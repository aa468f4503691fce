// Package delivery holds the durable Redis-backed delivery queue and the worker pool that drains it.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/models"

	"github.com/redis/go-redis/v9"
)

const priorityBand = 1e13

// QueueConfig tunes one Queue.
type QueueConfig struct {
	KeyPrefix         string
	BackoffBase       time.Duration
	VisibilityTimeout time.Duration
	Retention         int64
	MaxAttempts       int
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "delivery"
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

type keys struct {
	ready, jobs, processing, delayed, succeeded, failed string
}

func newKeys(prefix string) keys {
	return keys{
		ready:      prefix + ":ready",
		jobs:       prefix + ":jobs",
		processing: prefix + ":processing",
		delayed:    prefix + ":delayed",
		succeeded:  prefix + ":succeeded",
		failed:     prefix + ":failed",
	}
}

// Queue is a priority queue of delivery jobs shared by every process pointed at the same Redis.
// Ready jobs are ordered by priority, then by enqueue time. A dequeued job stays in the
// processing set until it is acknowledged, failed, or its visibility deadline passes.
type Queue struct {
	client redis.UniversalClient
	keys   keys
	cfg    QueueConfig
	now    func() time.Time
}

func NewQueue(client redis.UniversalClient, cfg QueueConfig) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		client: client,
		keys:   newKeys(cfg.KeyPrefix),
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Score orders the ready set: higher priority first, FIFO within a priority.
func Score(priority int, at time.Time) float64 {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	return float64(10-priority)*priorityBand + float64(at.UnixMilli())
}

// Backoff returns the delay before retrying after the given failed attempt.
func (q *Queue) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(float64(q.cfg.BackoffBase) * math.Pow(2, float64(attempt-1)))
}

func unavailable(op string, err error) error {
	return apperrors.NewQueueUnavailableError(op, err)
}

func (q *Queue) Enqueue(ctx context.Context, job *models.DeliveryJob) error {
	if job.ID == "" {
		return apperrors.NewValidationError("delivery job id is required")
	}
	now := q.now()
	job.EnqueuedAt = now
	job.NextAttemptAt = now
	if job.MaxAttempts <= 0 || job.MaxAttempts > q.cfg.MaxAttempts {
		job.MaxAttempts = q.cfg.MaxAttempts
	}

	body, err := json.Marshal(job)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("encode delivery job: %v", err))
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys.jobs, job.ID, body)
		pipe.ZAdd(ctx, q.keys.ready, redis.Z{Score: Score(job.Priority, now), Member: job.ID})
		return nil
	})
	if err != nil {
		return unavailable("enqueue", err)
	}
	return nil
}

// dequeueScript pops the best ready job and leases it in one step, so two workers never
// receive the same job.
var dequeueScript = redis.NewScript(`
local popped = redis.call('ZPOPMIN', KEYS[1])
if #popped == 0 then
  return false
end
local id = popped[1]
local body = redis.call('HGET', KEYS[3], id)
if not body then
  return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return body
`)

// Dequeue leases the next job, or returns nil when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*models.DeliveryJob, error) {
	deadline := q.now().Add(q.cfg.VisibilityTimeout).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.keys.ready, q.keys.processing, q.keys.jobs},
		deadline,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("dequeue", err)
	}

	var job models.DeliveryJob
	if err := json.Unmarshal([]byte(res), &job); err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("decode delivery job: %w", err))
	}
	return &job, nil
}

func (q *Queue) archive(ctx context.Context, pipe redis.Pipeliner, list string, body []byte) {
	pipe.LPush(ctx, list, body)
	pipe.LTrim(ctx, list, 0, q.cfg.Retention-1)
}

// Ack records a completed job in the succeeded list.
func (q *Queue) Ack(ctx context.Context, job *models.DeliveryJob) error {
	done := q.now()
	job.CompletedAt = &done
	body, err := json.Marshal(job)
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.keys.processing, job.ID)
		pipe.HDel(ctx, q.keys.jobs, job.ID)
		q.archive(ctx, pipe, q.keys.succeeded, body)
		return nil
	})
	if err != nil {
		return unavailable("ack", err)
	}
	return nil
}

// Fail records a failed attempt. The job is scheduled again after the backoff when retry is
// set and attempts remain; otherwise it moves to the failed list for good.
func (q *Queue) Fail(ctx context.Context, job *models.DeliveryJob, cause error, retry bool) (terminal bool, err error) {
	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}

	terminal = !retry || job.Attempts >= job.MaxAttempts
	now := q.now()
	if terminal {
		job.CompletedAt = &now
	} else {
		job.NextAttemptAt = now.Add(q.Backoff(job.Attempts))
	}

	body, err := json.Marshal(job)
	if err != nil {
		return terminal, apperrors.NewInternalError(err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.keys.processing, job.ID)
		if terminal {
			pipe.HDel(ctx, q.keys.jobs, job.ID)
			q.archive(ctx, pipe, q.keys.failed, body)
			return nil
		}
		pipe.HSet(ctx, q.keys.jobs, job.ID, body)
		pipe.ZAdd(ctx, q.keys.delayed, redis.Z{Score: float64(job.NextAttemptAt.UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return terminal, unavailable("fail", err)
	}
	return terminal, nil
}

// sweepBatch bounds the members one maintenance script moves, so a backlog cannot stall Redis.
const sweepBatch = 500

// promoteScript moves due delayed jobs into the ready set in one step. The ready score is
// rebuilt from the job's priority and its retry time, which is the delayed score.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES', 'LIMIT', 0, ARGV[2])
local promoted = 0
for i = 1, #due, 2 do
  local id = due[i]
  local at = tonumber(due[i + 1])
  redis.call('ZREM', KEYS[1], id)
  local body = redis.call('HGET', KEYS[3], id)
  if body then
    local priority = tonumber(cjson.decode(body)['priority']) or 1
    if priority < 1 then priority = 1 end
    if priority > 10 then priority = 10 end
    redis.call('ZADD', KEYS[2], string.format('%.0f', (10 - priority) * tonumber(ARGV[3]) + at), id)
    promoted = promoted + 1
  end
end
return promoted
`)

// reclaimScript takes over expired leases by pushing their deadline forward, so exactly one
// caller sees each expired job. Leases whose job body is gone are dropped.
var reclaimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
local claimed = {}
for _, id in ipairs(due) do
  local body = redis.call('HGET', KEYS[2], id)
  if body then
    redis.call('ZADD', KEYS[1], ARGV[2], id)
    table.insert(claimed, body)
  else
    redis.call('ZREM', KEYS[1], id)
  end
end
return claimed
`)

// PromoteDue moves delayed jobs whose retry time has come back to the ready set.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	promoted := 0
	for {
		n, err := promoteScript.Run(ctx, q.client,
			[]string{q.keys.delayed, q.keys.ready, q.keys.jobs},
			q.now().UnixMilli(), sweepBatch, int64(priorityBand),
		).Int()
		if err != nil {
			return promoted, unavailable("promote", err)
		}
		promoted += n
		if n < sweepBatch {
			return promoted, nil
		}
	}
}

// RecoverStuck fails jobs whose lease expired, typically because their worker died. A reclaimed
// job keeps a fresh lease until Fail moves it, so a crash in between leaves it recoverable.
func (q *Queue) RecoverStuck(ctx context.Context) (int, error) {
	now := q.now()
	bodies, err := reclaimScript.Run(ctx, q.client,
		[]string{q.keys.processing, q.keys.jobs},
		now.UnixMilli(), now.Add(q.cfg.VisibilityTimeout).UnixMilli(), sweepBatch,
	).StringSlice()
	if err != nil {
		return 0, unavailable("recover", err)
	}

	recovered := 0
	for _, body := range bodies {
		var job models.DeliveryJob
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			return recovered, apperrors.NewInternalError(fmt.Errorf("decode delivery job: %w", err))
		}
		if _, err := q.Fail(ctx, &job, fmt.Errorf("visibility timeout exceeded"), true); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

func (q *Queue) history(ctx context.Context, key string, n int64) ([]models.DeliveryJob, error) {
	if n <= 0 {
		n = 50
	}
	raw, err := q.client.LRange(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, unavailable("history", err)
	}
	jobs := make([]models.DeliveryJob, 0, len(raw))
	for _, body := range raw {
		var job models.DeliveryJob
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Failed returns up to n terminally failed jobs, newest first.
func (q *Queue) Failed(ctx context.Context, n int64) ([]models.DeliveryJob, error) {
	return q.history(ctx, q.keys.failed, n)
}

// Succeeded returns up to n completed jobs, newest first.
func (q *Queue) Succeeded(ctx context.Context, n int64) ([]models.DeliveryJob, error) {
	return q.history(ctx, q.keys.succeeded, n)
}

type Stats struct {
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var ready, processing, delayed *redis.IntCmd
	var succeeded, failed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		ready = pipe.ZCard(ctx, q.keys.ready)
		processing = pipe.ZCard(ctx, q.keys.processing)
		delayed = pipe.ZCard(ctx, q.keys.delayed)
		succeeded = pipe.LLen(ctx, q.keys.succeeded)
		failed = pipe.LLen(ctx, q.keys.failed)
		return nil
	})
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return Stats{
		Ready:      ready.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Succeeded:  succeeded.Val(),
		Failed:     failed.Val(),
	}, nil
}
