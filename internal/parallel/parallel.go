// Package parallel spreads independent index ranges across goroutines.
package parallel

import (
	"runtime"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Maximum number of concurrent goroutines.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 4,
	}
}

// For executes f(i) for i in [0, n). Work is split into contiguous chunks run
// by at most cfg.NumWorkers goroutines; it runs sequentially if parallelism is
// disabled or n is below cfg.MinChunkSize.
//
// A panic inside f is re-raised on the calling goroutine once all chunks finish.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < 2*max(cfg.MinChunkSize, 1) {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)
	var g errgroup.Group
	g.SetLimit(cfg.NumWorkers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			exception := exceptions.Try(func() {
				for i := start; i < end; i++ {
					f(i)
				}
			})
			if exception == nil {
				return nil
			}
			if err, ok := exception.(error); ok {
				return err
			}
			return errors.Errorf("panic in parallel.For: %v", exception)
		})
	}
	if err := g.Wait(); err != nil {
		panic(err)
	}
}

// ForBatch iterates the batch*channels grid, e.g. (batch, head) pairs.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	n := batch * channels
	For(n, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
