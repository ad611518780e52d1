package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osfoffline/osfsync/internal/logging"
	"github.com/osfoffline/osfsync/internal/mirror/events"
	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

type recorder struct {
	mu      sync.Mutex
	applied []events.Notification
	active  int32
	overlap bool
}

func (r *recorder) Apply(_ context.Context, n events.Notification) error {
	if atomic.AddInt32(&r.active, 1) > 1 {
		r.overlap = true
	}
	defer atomic.AddInt32(&r.active, -1)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, n)
	return nil
}

func (r *recorder) snapshot() []events.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Notification(nil), r.applied...)
}

func start(t *testing.T, h Handler, size int) (*Bridge, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	b := New(h, logging.Discard(), size)
	go func() { _ = b.Run(ctx) }()
	t.Cleanup(func() {
		b.Stop()
		<-b.Done()
		cancel()
	})
	return b, ctx
}

func TestBridge_AppliesInSubmissionOrder(t *testing.T) {
	rec := &recorder{}
	b, ctx := start(t, rec, 4)

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Submit(ctx, events.NewCreated(fmt.Sprintf("/root/f%02d", i), false)))
	}
	require.NoError(t, b.Flush(ctx))

	applied := rec.snapshot()
	require.Len(t, applied, 20)
	for i, n := range applied {
		assert.Equal(t, uint64(i+1), n.Seq)
		assert.Equal(t, fmt.Sprintf("/root/f%02d", i), n.SrcPath)
	}
	assert.Equal(t, uint64(20), b.Submitted())
}

func TestBridge_ConcurrentProducersNeverInterleave(t *testing.T) {
	rec := &recorder{}
	b, ctx := start(t, rec, 8)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, b.Submit(ctx, events.NewModified(fmt.Sprintf("/root/p%d/%d", p, i), false)))
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, b.Flush(ctx))

	applied := rec.snapshot()
	require.Len(t, applied, 200)
	assert.False(t, rec.overlap, "handler ran concurrently")
	for i := 1; i < len(applied); i++ {
		assert.Less(t, applied[i-1].Seq, applied[i].Seq)
	}
}

func TestBridge_HandlerErrorsDoNotStopWorker(t *testing.T) {
	var results []string
	h := HandlerFunc(func(_ context.Context, n events.Notification) error {
		switch n.SrcPath {
		case "/root/missing":
			return schema.ErrNotFound
		case "/root/boom":
			panic("boom")
		case "/root/broken":
			return errors.New("disk I/O error")
		}
		return nil
	})
	b, ctx := start(t, h, 4)
	b.Observe(func(_ events.Notification, err error, _ time.Duration) {
		results = append(results, Result(err))
	})

	for _, p := range []string{"/root/missing", "/root/boom", "/root/broken", "/root/ok"} {
		require.NoError(t, b.Submit(ctx, events.NewDeleted(p, false)))
	}
	require.NoError(t, b.Flush(ctx))

	assert.Equal(t, []string{ResultDropped, ResultFailed, ResultFailed, ResultApplied}, results)
}

func TestBridge_Stopped(t *testing.T) {
	b := New(&recorder{}, logging.Discard(), 1)
	ctx := context.Background()

	go func() { _ = b.Run(ctx) }()
	b.Stop()
	<-b.Done()

	assert.ErrorIs(t, b.Flush(ctx), ErrStopped)
	assert.ErrorIs(t, b.Submit(ctx, events.NewCreated("/root/a", false)), ErrStopped)
	assert.Zero(t, b.Submitted())
}

func TestBridge_SubmitHonorsContext(t *testing.T) {
	b := New(&recorder{}, logging.Discard(), 1)
	require.NoError(t, b.Submit(context.Background(), events.NewCreated("/root/a", false)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Submit(ctx, events.NewCreated("/root/b", false)), context.Canceled)
	assert.Equal(t, uint64(1), b.Submitted())
}

func TestResult(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultApplied},
		{fmt.Errorf("hash: %w", schema.ErrTransientSource), ResultTransient},
		{schema.ErrNotFound, ResultDropped},
		{schema.ErrReservedName, ResultRejected},
		{schema.ErrParentIsFile, ResultRejected},
		{errors.New("database is locked"), ResultFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Result(tt.err), "%v", tt.err)
	}
}
