package worker_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shpitdev/docfetch/internal/acquire"
	"github.com/shpitdev/docfetch/internal/fetch"
	"github.com/shpitdev/docfetch/internal/pipeline/worker"
)

var fast = worker.Options{
	Workers:        1,
	BackoffInitial: time.Millisecond,
	BackoffMax:     2 * time.Millisecond,
}

type cappedErr struct{ extra int }

func (e cappedErr) Error() string        { return "capped" }
func (e cappedErr) MaxExtraRetries() int { return e.extra }
func (e cappedErr) Temporary() bool      { return true }

func TestRun_RetriesTransient(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		if calls.Add(1) <= 2 {
			return "", &acquire.TransientError{Err: errors.New("try again")}
		}
		return "ok", nil
	}

	opts := fast
	opts.MaxRetries = 3
	out, err := worker.Run(context.Background(), []string{"a.eml"}, fn, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Err != nil || out[0].Output != "ok" {
		t.Fatalf("unexpected output: %#v", out)
	}
	if out[0].Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls %d)", out[0].Attempts, calls.Load())
	}
}

func TestRun_RetriesTemporaryHTTPError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		if calls.Add(1) == 1 {
			return "", &fetch.HTTPError{Op: "download", StatusCode: 503, Status: "503 Service Unavailable"}
		}
		return "ok", nil
	}

	opts := fast
	opts.MaxRetries = 1
	out, err := worker.Run(context.Background(), []string{"a.eml"}, fn, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err != nil {
		t.Fatalf("expected success after retry, got %v", out[0].Err)
	}
}

func TestRun_DoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", errors.New("permanent")
	}

	opts := fast
	opts.MaxRetries = 10
	out, err := worker.Run(context.Background(), []string{"a.eml"}, fn, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err == nil || out[0].Err.Error() != "permanent" {
		t.Fatalf("unexpected output: %#v", out[0])
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestRun_RespectsPerErrorRetryCap(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", cappedErr{extra: 1}
	}

	opts := fast
	opts.MaxRetries = 10
	out, err := worker.Run(context.Background(), []string{"a.eml"}, fn, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err == nil {
		t.Fatalf("expected error output, got %#v", out[0])
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls (1 initial + 1 retry), got %d", calls.Load())
	}
}

func TestRun_StopOnError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, name string) (string, error) {
		calls.Add(1)
		if name == "bad.eml" {
			return "", errors.New("boom")
		}
		t.Errorf("unexpected call for %q", name)
		return "", nil
	}

	opts := fast
	opts.FailurePolicy = worker.StopOnError
	out, err := worker.Run(context.Background(), []string{"bad.eml", "good.eml"}, fn, opts)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output, got %#v", out)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestRun_ContinueOnErrorKeepsInputOrder(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, name string) (string, error) {
		if name == "bad.eml" {
			return "", errors.New("boom")
		}
		return name, nil
	}

	opts := fast
	opts.Workers = 3
	out, err := worker.Run(context.Background(), []string{"bad.eml", "b.eml", "c.eml"}, fn, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(out))
	}
	if out[0].Err == nil || out[1].Output != "b.eml" || out[2].Output != "c.eml" {
		t.Fatalf("unexpected output: %#v", out)
	}
	for i, r := range out {
		if r.Index != i {
			t.Fatalf("result %d has index %d", i, r.Index)
		}
	}
}

func TestRunWithCallback_CompletionOrder(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	fn := func(_ context.Context, name string) (string, error) {
		if name == "slow.eml" {
			close(started)
			<-release
		}
		return name, nil
	}

	var mu sync.Mutex
	var seen []string
	firstSeen := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		_, err := worker.RunWithCallback(context.Background(), []string{"slow.eml", "fast.eml"}, fn,
			func(res worker.Result[string, string]) error {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, res.Input)
				if len(seen) == 1 {
					close(firstSeen)
				}
				return nil
			},
			worker.Options{Workers: 2},
		)
		errc <- err
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for slow item to start")
	}
	select {
	case <-firstSeen:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fast item")
	}
	close(release)
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(seen, []string{"fast.eml", "slow.eml"}) {
		t.Fatalf("unexpected callback order: %v", seen)
	}
}

func TestRunWithCallback_CallbackErrorStopsRun(t *testing.T) {
	t.Parallel()

	cbErr := errors.New("callback failed")
	_, err := worker.RunWithCallback(context.Background(), []string{"a.eml"},
		func(_ context.Context, name string) (string, error) { return name, nil },
		func(worker.Result[string, string]) error { return cbErr },
		worker.Options{Workers: 1},
	)
	if !errors.Is(err, cbErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("x"), false},
		{&acquire.TransientError{Err: errors.New("x")}, true},
		{context.DeadlineExceeded, true},
		{&fetch.HTTPError{StatusCode: 429}, true},
		{&fetch.HTTPError{StatusCode: 404}, false},
	}
	for _, c := range cases {
		if got := worker.IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
