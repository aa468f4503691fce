package delivery

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	apperrors "approval-notify/internal/common/errors"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/common/metrics"
	"approval-notify/internal/common/observability"
	"approval-notify/internal/models"
)

// Handler executes one leased job.
type Handler interface {
	Handle(ctx context.Context, job *models.DeliveryJob) error
}

type PoolConfig struct {
	Workers          int
	JobTimeout       time.Duration
	PollInterval     time.Duration
	MaintenanceEvery time.Duration
}

// Pool drains the queue with a bounded number of workers, independent of request handling.
type Pool struct {
	queue   *Queue
	handler Handler
	errors  *apperrors.ErrorHandler
	obs     *observability.Observability
	cfg     PoolConfig
	logger  logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewPool(queue *Queue, handler Handler, obs *observability.Observability, cfg PoolConfig, log logger.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaintenanceEvery <= 0 {
		cfg.MaintenanceEvery = 5 * time.Second
	}
	if obs == nil {
		obs = observability.NewNoop()
	}
	log = log.WithFields(map[string]interface{}{"component": "delivery_pool"})
	return &Pool{
		queue:   queue,
		handler: handler,
		errors:  apperrors.NewErrorHandler(log),
		obs:     obs,
		cfg:     cfg,
		logger:  log,
	}
}

// Start launches the workers and the maintenance loop. It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(p.cfg.Workers + 1)
	for i := 0; i < p.cfg.Workers; i++ {
		go p.work(ctx, i)
	}
	go p.maintain(ctx)

	p.logger.Info("Delivery pool started", map[string]interface{}{
		"workers":    p.cfg.Workers,
		"jobTimeout": p.cfg.JobTimeout.String(),
	})
}

// Stop signals the workers and waits for in-flight jobs until ctx expires.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Delivery pool stopped", nil)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delivery pool stop: %w", ctx.Err())
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.ProcessNext(ctx)
		if err != nil {
			p.logger.Warn("Delivery worker cannot reach queue", map[string]interface{}{
				"worker": id,
				"error":  err.Error(),
			})
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

func (p *Pool) maintain(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.MaintenanceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Maintain(ctx)
		}
	}
}

// Maintain promotes due retries, recovers expired leases and records queue depth.
func (p *Pool) Maintain(ctx context.Context) {
	if n, err := p.queue.PromoteDue(ctx); err != nil {
		p.logger.Warn("Promoting delayed jobs failed", map[string]interface{}{"error": err.Error()})
	} else if n > 0 {
		p.logger.Debug("Promoted delayed jobs", map[string]interface{}{"count": n})
	}

	if n, err := p.queue.RecoverStuck(ctx); err != nil {
		p.logger.Warn("Recovering expired jobs failed", map[string]interface{}{"error": err.Error()})
	} else if n > 0 {
		p.logger.Warn("Recovered jobs with expired leases", map[string]interface{}{"count": n})
	}

	stats, err := p.queue.Stats(ctx)
	if err != nil {
		return
	}
	p.obs.RecordQueueDepth(ctx, "ready", stats.Ready)
	p.obs.RecordQueueDepth(ctx, "processing", stats.Processing)
	p.obs.RecordQueueDepth(ctx, "delayed", stats.Delayed)
}

// ProcessNext leases and executes one job. processed is false when the queue was empty.
// A job whose execution panics is failed like any other error.
func (p *Pool) ProcessNext(ctx context.Context) (processed bool, err error) {
	job, err := p.queue.Dequeue(ctx)
	if err != nil || job == nil {
		return false, err
	}

	metrics.DeliveryJobsActive.Inc()
	defer metrics.DeliveryJobsActive.Dec()

	start := time.Now()
	handleErr := p.run(ctx, job)
	elapsed := time.Since(start)
	metrics.DeliveryJobDuration.WithLabelValues(string(job.Kind)).Observe(elapsed.Seconds())

	// Outcomes are recorded even when the pool is stopping.
	recordCtx := context.WithoutCancel(ctx)

	if handleErr == nil {
		p.obs.RecordJobProcessed(ctx, string(job.Kind), "completed")
		p.obs.RecordJobDuration(ctx, elapsed, "completed")
		metrics.DeliveryJobsCompleted.WithLabelValues(string(job.Kind)).Inc()
		return true, p.queue.Ack(recordCtx, job)
	}

	decision := p.errors.HandleJobError(apperrors.JobFailure{
		JobID:          job.ID,
		NotificationID: job.NotificationID,
		Kind:           string(job.Kind),
		Attempt:        job.Attempts + 1,
		MaxAttempts:    job.MaxAttempts,
	}, handleErr)

	terminal, err := p.queue.Fail(recordCtx, job, decision.Err, decision.Retry)
	status := "retry"
	if terminal {
		status = "failed"
	}
	p.obs.RecordJobProcessed(ctx, string(job.Kind), status)
	p.obs.RecordJobDuration(ctx, elapsed, status)
	metrics.DeliveryJobsFailed.WithLabelValues(string(job.Kind), string(decision.Err.Code), strconv.FormatBool(terminal)).Inc()
	return true, err
}

func (p *Pool) run(ctx context.Context, job *models.DeliveryJob) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.NewInternalError(fmt.Errorf("delivery handler panic: %v", r))
		}
	}()
	return p.handler.Handle(ctx, job)
}
