package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/valter-silva-au/memory-talk/pkg/models"
	"go.uber.org/zap"
)

// DefaultAgentInterval is the proactive-message polling cadence.
const DefaultAgentInterval = 3 * time.Second

// AgentPollerOptions configures an AgentPoller. Zero values select defaults.
type AgentPollerOptions struct {
	Interval    time.Duration
	Cache       QueryCache
	Instruments Instruments
	Logger      *zap.Logger
}

// AgentPoller asks the backend for proactive persona messages at a fixed
// cadence. Every result it produces carries a sequence number unique within
// the poller, so consumers can tell repeated results apart.
type AgentPoller struct {
	fetcher AgentPollFetcher
	opts    AgentPollerOptions
	seq     atomic.Uint64
}

// NewAgentPoller creates an AgentPoller reading through fetcher.
func NewAgentPoller(fetcher AgentPollFetcher, opts AgentPollerOptions) *AgentPoller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultAgentInterval
	}
	if opts.Cache == nil {
		opts.Cache = nopCache{}
	}
	if opts.Instruments == nil {
		opts.Instruments = nopInstruments{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &AgentPoller{fetcher: fetcher, opts: opts}
}

// Poll performs a single agent poll. Failures are reported in the result's
// Error field with ShouldSend false.
func (p *AgentPoller) Poll(ctx context.Context, sessionID string) models.AgentPollResult {
	start := time.Now()
	res, err := p.fetcher.PollAgent(ctx, sessionID)
	if err != nil {
		p.opts.Instruments.ObservePoll("agent", OutcomeError, time.Since(start))
		p.opts.Logger.Debug("agent poll failed", zap.String("session_id", sessionID), zap.Error(err))
		res = models.AgentPollResult{Error: fmt.Sprintf("polling agent: %v", err)}
	} else {
		p.opts.Instruments.ObservePoll("agent", OutcomeOK, time.Since(start))
	}
	res.Seq = p.seq.Add(1)
	p.opts.Cache.Set(AgentPollCacheKey(sessionID), res)
	return res
}

// Run polls immediately and then every Interval until ctx ends.
func (p *AgentPoller) Run(ctx context.Context, sessionID string, onResult func(models.AgentPollResult)) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		res := p.Poll(ctx, sessionID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		onResult(res)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
