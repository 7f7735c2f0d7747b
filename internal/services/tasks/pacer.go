package tasks

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Pacer decides how long to hold back the start of the task at the given ordinal
type Pacer interface {
	Pace(ctx context.Context, ordinal int) error
}

// PacerFunc adapts a function to Pacer
type PacerFunc func(ctx context.Context, ordinal int) error

// Pace implements Pacer
func (f PacerFunc) Pace(ctx context.Context, ordinal int) error {
	return f(ctx, ordinal)
}

// PacerConfig holds the request pacing policy for detail fetches
type PacerConfig struct {
	MinDelay   time.Duration // Per-task delay lower bound
	MaxDelay   time.Duration // Per-task delay upper bound; equal to MinDelay for a fixed delay
	BatchSize  int           // Pause after every BatchSize tasks (0 disables)
	BatchPause time.Duration // Length of the batch pause
	MaxRate    float64       // Optional cap on task starts per second (0 disables)
}

// BatchPacer applies a randomized per-task delay plus a longer pause after every batch
type BatchPacer struct {
	config  PacerConfig
	limiter *rate.Limiter
	onPause func(ordinal int, pause time.Duration)
}

// NewBatchPacer creates a pacer; onPause may be nil
func NewBatchPacer(config PacerConfig, onPause func(ordinal int, pause time.Duration)) *BatchPacer {
	if config.MaxDelay < config.MinDelay {
		config.MaxDelay = config.MinDelay
	}

	p := &BatchPacer{
		config:  config,
		onPause: onPause,
	}
	if config.MaxRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.MaxRate), 1)
	}
	return p
}

// Pace blocks for the batch pause (when ordinal starts a new batch) and then the per-task delay.
// It returns early with the context's error once ctx is done.
func (p *BatchPacer) Pace(ctx context.Context, ordinal int) error {
	if p.IsBatchBoundary(ordinal) {
		if p.onPause != nil {
			p.onPause(ordinal, p.config.BatchPause)
		}
		if err := sleepCtx(ctx, p.config.BatchPause); err != nil {
			return err
		}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	return sleepCtx(ctx, p.NextDelay())
}

// IsBatchBoundary reports whether a batch pause precedes the task at ordinal
func (p *BatchPacer) IsBatchBoundary(ordinal int) bool {
	return p.config.BatchSize > 0 && ordinal > 0 && ordinal%p.config.BatchSize == 0
}

// NextDelay draws the per-task delay from [MinDelay, MaxDelay]
func (p *BatchPacer) NextDelay() time.Duration {
	span := p.config.MaxDelay - p.config.MinDelay
	if span <= 0 {
		return p.config.MinDelay
	}
	return p.config.MinDelay + rand.N(span+1)
}
