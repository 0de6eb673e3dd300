// Package dispatcher fans a fixed pool of workers out over the job
// queue and waits for them to drain on shutdown.
package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Runner is one queue consumer loop. *worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher runs Concurrency copies of a Runner until the context is
// canceled.
type Dispatcher struct {
	runner      Runner
	concurrency int
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// New constructs a Dispatcher. Concurrency values below one are
// clamped to the default pool of two.
func New(runner Runner, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 2
	}
	return &Dispatcher{
		runner:      runner,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Start launches the worker pool and returns immediately.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("starting worker pool", zap.Int("concurrency", d.concurrency))
	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.runner.Run(ctx)
			d.logger.Debug("worker exited", zap.Int("worker", id))
		}(i)
	}
}

// Wait blocks until every worker loop has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
