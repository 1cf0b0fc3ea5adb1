package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/valter-silva-au/memory-talk/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Default job polling parameters.
const (
	DefaultJobInitialInterval = time.Second
	DefaultJobInterval        = 3 * time.Second
	DefaultJobRetries         = 1
	DefaultRetryBackoff       = 500 * time.Millisecond
)

// JobPollerOptions configures a JobPoller. Zero durations select defaults.
type JobPollerOptions struct {
	// InitialInterval is the delay between attempts while no snapshot has
	// been obtained yet.
	InitialInterval time.Duration
	// Interval is the delay between polls once a snapshot exists.
	Interval time.Duration
	// Retries is the number of extra attempts after a failed fetch.
	Retries      int
	RetryBackoff time.Duration

	Decoder     *JobDecoder
	Cache       QueryCache
	Instruments Instruments
	Logger      *zap.Logger
}

// JobPoller keeps a job snapshot fresh until the job reaches a terminal state.
type JobPoller struct {
	fetcher JobFetcher
	opts    JobPollerOptions
	flights singleflight.Group
	force   atomic.Bool
}

// NewJobPoller creates a JobPoller reading jobs through fetcher.
func NewJobPoller(fetcher JobFetcher, opts JobPollerOptions) *JobPoller {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = DefaultJobInitialInterval
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultJobInterval
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Decoder == nil {
		opts.Decoder = NewJobDecoder(opts.Logger)
	}
	if opts.Cache == nil {
		opts.Cache = nopCache{}
	}
	if opts.Instruments == nil {
		opts.Instruments = nopInstruments{}
	}
	return &JobPoller{fetcher: fetcher, opts: opts}
}

// SetForcePolling controls whether awaiting_selection stops polling.
func (p *JobPoller) SetForcePolling(force bool) {
	p.force.Store(force)
}

// ForcePolling reports the current force-polling setting.
func (p *JobPoller) ForcePolling() bool {
	return p.force.Load()
}

// Latest returns the most recent cached snapshot of a job, if any.
func (p *JobPoller) Latest(jobID string) (models.Job, bool) {
	v, ok := p.opts.Cache.Get(JobCacheKey(jobID))
	if !ok {
		return models.Job{}, false
	}
	job, ok := v.(models.Job)
	return job, ok
}

// Invalidate drops the cached snapshot of a job.
func (p *JobPoller) Invalidate(jobID string) {
	p.opts.Cache.Delete(JobCacheKey(jobID))
}

// Poll fetches one snapshot of the job. Fetch failures become a synthetic
// error-status job; the only error returned is a context error. Concurrent
// calls for the same job share a single request.
func (p *JobPoller) Poll(ctx context.Context, jobID string) (models.Job, error) {
	v, err, _ := p.flights.Do(jobID, func() (any, error) {
		return p.fetch(ctx, jobID)
	})
	if err != nil {
		return models.Job{}, err
	}
	return v.(models.Job), nil
}

func (p *JobPoller) fetch(ctx context.Context, jobID string) (models.Job, error) {
	start := time.Now()
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		b, err := p.fetcher.FetchJob(ctx, jobID)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return b, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.opts.RetryBackoff)),
		backoff.WithMaxTries(uint(p.opts.Retries+1)),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return models.Job{}, ctxErr
	}

	var job models.Job
	if err != nil {
		p.opts.Instruments.ObservePoll("job", OutcomeError, time.Since(start))
		p.opts.Logger.Warn("job poll failed", zap.String("job_id", jobID), zap.Error(err))
		job = models.Job{
			JobID:  jobID,
			Status: models.JobError,
			Error:  fmt.Sprintf("fetching job status: %v", err),
		}
	} else {
		p.opts.Instruments.ObservePoll("job", OutcomeOK, time.Since(start))
		job = p.opts.Decoder.Decode(body, jobID)
	}

	p.opts.Cache.Set(JobCacheKey(jobID), job)
	return job, nil
}

// Run polls the job until it reaches a terminal state or ctx ends, calling
// onJob with every snapshot. It returns immediately when jobID is empty.
// The terminal check reads the force-polling flag at each snapshot.
func (p *JobPoller) Run(ctx context.Context, jobID string, onJob func(models.Job)) error {
	if jobID == "" {
		return nil
	}

	var wait time.Duration
	for {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		job, err := p.Poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A shared request was cancelled by another caller.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				wait = p.opts.InitialInterval
				continue
			}
			return err
		}

		onJob(job)
		if job.IsTerminal(p.ForcePolling()) {
			return nil
		}
		wait = p.opts.Interval
	}
}
