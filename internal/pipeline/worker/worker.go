// Package worker runs a function over a batch of items with bounded concurrency, a
// shared rate limit and retry of transient failures.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/logging"
	"github.com/shpitdev/docfetch/internal/util"
)

type FailurePolicy int

const (
	// ContinueOnError records per-item failures and keeps going.
	ContinueOnError FailurePolicy = iota
	// StopOnError cancels the batch at the first failed item.
	StopOnError
)

type Options struct {
	Workers    int
	MaxRetries int
	// ItemTimeout bounds one attempt at one item.
	ItemTimeout time.Duration

	// RateLimitRPS is shared by all workers. <=0 disables it.
	RateLimitRPS float64
	Burst        int

	FailurePolicy FailurePolicy

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64

	Logger *zap.Logger
}

// Result is the outcome for one input item.
type Result[In any, Out any] struct {
	Index    int
	Input    In
	Output   Out
	Err      error
	Attempts int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 5 * time.Minute
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// Run processes items and returns results in input order.
func Run[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return RunWithCallback(ctx, items, fn, nil, opts)
}

// RunWithCallback is Run with onResult invoked as each item completes, in completion
// order, from a single goroutine. A callback error stops the batch.
func RunWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), opts.Burst)
	}

	out := make([]Result[In, Out], len(items))
	jobs := make(chan int)
	done := make(chan Result[In, Out], opts.Workers)

	var (
		mu       sync.Mutex
		firstErr error
	)
	stop := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if runCtx.Err() != nil {
					return
				}
				res := attempt(runCtx, idx, items[idx], fn, limiter, opts)
				select {
				case done <- res:
				case <-runCtx.Done():
					return
				}
				if res.Err != nil && opts.FailurePolicy == StopOnError {
					stop(res.Err)
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range items {
			select {
			case jobs <- i:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	for res := range done {
		out[res.Index] = res
		if onResult != nil {
			if err := onResult(res); err != nil {
				stop(err)
			}
		}
	}

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func attempt[In any, Out any](
	ctx context.Context,
	idx int,
	item In,
	fn func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) Result[In, Out] {
	res := Result[In, Out]{Index: idx, Input: item}
	for try := 0; ; try++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				res.Err = err
				return res
			}
		}

		itemCtx, cancel := context.WithTimeout(ctx, opts.ItemTimeout)
		output, err := fn(itemCtx, item)
		cancel()
		res.Output, res.Err, res.Attempts = output, err, try+1
		if err == nil {
			return res
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			res.Err = ctx.Err()
			return res
		}
		if !IsTransient(err) || try >= retryBudget(opts.MaxRetries, err) {
			return res
		}

		sleep := backoff(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, try)
		opts.Logger.Debug("retrying item",
			zap.Int("index", idx),
			zap.Int("attempt", try+1),
			zap.Duration("sleep", sleep),
			zap.String("error", util.RedactSecrets(err.Error())),
		)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			res.Err = ctx.Err()
			return res
		}
	}
}

// retryCapper lets an error lower the retry budget for itself.
type retryCapper interface {
	MaxExtraRetries() int
}

func retryBudget(configured int, err error) int {
	var c retryCapper
	if errors.As(err, &c) {
		if n := max(c.MaxExtraRetries(), 0); n < configured {
			return n
		}
	}
	return configured
}

type temporary interface {
	Temporary() bool
}

// IsTransient reports whether retrying err later could succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *acquire.TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var tmp temporary
	return errors.As(err, &tmp) && tmp.Temporary()
}

func backoff(initial, limit time.Duration, jitterFrac float64, try int) time.Duration {
	sleep := initial
	for i := 0; i < try && sleep < limit; i++ {
		sleep = min(sleep*2, limit)
	}
	if jitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
