package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

func TestPool_NeverExceedsSize(t *testing.T) {
	p := NewPool(3)
	defer p.Close(context.Background())

	var running, peak int32
	var handles []*Handle
	for i := 0; i < 20; i++ {
		h, err := p.Submit(context.Background(), func(ctx context.Context) {
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&peak)
				if n <= cur || atomic.CompareAndSwapInt32(&peak, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		h.Wait()
	}

	assert.LessOrEqual(t, peak, int32(3))
	assert.Equal(t, int64(20), p.Stats().Completed)
	assert.Equal(t, int32(0), p.Stats().InProgress)
}

func TestPool_SubmitBlocksUntilWorkerFree(t *testing.T) {
	p := NewPool(1)
	defer p.Close(context.Background())

	release := make(chan struct{})
	_, err := p.Submit(context.Background(), func(ctx context.Context) { <-release })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = p.Submit(ctx, func(ctx context.Context) {})
	assert.Equal(t, sgerrors.KindTimeout, sgerrors.GetKind(err))

	close(release)
	h, err := p.Submit(context.Background(), func(ctx context.Context) {})
	require.NoError(t, err)
	h.Wait()
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool(1)
	defer p.Close(context.Background())

	h, err := p.Submit(context.Background(), func(ctx context.Context) { panic("boom") })
	require.NoError(t, err)
	h.Wait()
	assert.Equal(t, "boom", h.Panic())

	h, err = p.Submit(context.Background(), func(ctx context.Context) {})
	require.NoError(t, err)
	h.Wait()
	assert.Nil(t, h.Panic())
	assert.Equal(t, int64(1), p.Stats().Panicked)
}

func TestPool_Close(t *testing.T) {
	p := NewPool(0)
	assert.Equal(t, 1, p.Size())

	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))

	_, err := p.Submit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}
