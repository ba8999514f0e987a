// Package workerpool runs batches of work with bounded parallelism.
package workerpool

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config configures a Pool.
type Config struct {
	MaxConcurrent int // default 4
	// PerSecond throttles item starts; 0 disables throttling.
	PerSecond float64
}

// DefaultConfig returns a pool of four workers without throttling.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 4}
}

// Pool bounds how many items execute at once and, optionally, how fast
// they start.
type Pool struct {
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a pool.
func New(config Config, logger *zap.Logger) *Pool {
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	p := &Pool{
		config: config,
		logger: logger.Named("worker-pool"),
	}
	if config.PerSecond > 0 {
		burst := int(config.PerSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(config.PerSecond), burst)
	}
	return p
}

// MaxConcurrent returns the effective concurrency bound.
func (p *Pool) MaxConcurrent() int {
	return p.config.MaxConcurrent
}

// Item is one unit of work.
type Item[T any] struct {
	ID      string
	Execute func(ctx context.Context) (T, error)
}

// Result is the outcome of one Item.
type Result[T any] struct {
	ID     string
	Result T
	Err    error
}

// Process executes items with bounded parallelism and returns their results
// in completion order. A failing item does not stop the others; items that
// have not started when ctx ends report ctx.Err().
func Process[T any](ctx context.Context, pool *Pool, items []Item[T], onProgress func(completed, total int)) []Result[T] {
	if len(items) == 0 {
		return nil
	}

	resultsChan := make(chan Result[T], len(items))
	sem := make(chan struct{}, pool.config.MaxConcurrent)

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item Item[T]) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				resultsChan <- Result[T]{ID: item.ID, Err: ctx.Err()}
				return
			}

			if err := ctx.Err(); err != nil {
				resultsChan <- Result[T]{ID: item.ID, Err: err}
				return
			}

			if pool.limiter != nil {
				if err := pool.limiter.Wait(ctx); err != nil {
					resultsChan <- Result[T]{ID: item.ID, Err: err}
					return
				}
			}

			result, err := item.Execute(ctx)
			resultsChan <- Result[T]{ID: item.ID, Result: result, Err: err}
		}(item)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]Result[T], 0, len(items))
	for result := range resultsChan {
		results = append(results, result)
		if onProgress != nil {
			onProgress(len(results), len(items))
		}
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		pool.logger.Debug("Batch finished with failures",
			zap.Int("total", len(items)),
			zap.Int("failed", failed))
	}

	return results
}
