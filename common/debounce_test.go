package common_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bakehouse/backoffice/common"
)

func TestDebouncer_CoalescesToLastCall(t *testing.T) {
	d := common.NewDebouncer[string](100 * time.Millisecond)

	var calls atomic.Int32
	terms := []string{"b", "br", "bri", "brioche"}
	results := make([]string, len(terms))
	var wg sync.WaitGroup
	for i, term := range terms {
		wg.Add(1)
		go func(i int, term string) {
			defer wg.Done()
			v, err := d.Call(context.Background(), func() (string, error) {
				calls.Add(1)
				return "result for " + term, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i, term)
		// stay well inside the window
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	// every caller shares the single result
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
	assert.Contains(t, results[0], "result for b")
	assert.False(t, d.Pending())
}

func TestDebouncer_SeparateWindows(t *testing.T) {
	d := common.NewDebouncer[int](5 * time.Millisecond)

	v, err := d.Call(context.Background(), func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = d.Call(context.Background(), func() (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestDebouncer_Cancel(t *testing.T) {
	d := common.NewDebouncer[int](time.Hour)

	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Call(context.Background(), func() (int, error) {
			ran.Store(true)
			return 1, nil
		})
		errCh <- err
	}()

	require.Eventually(t, d.Pending, time.Second, time.Millisecond)
	d.Cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, common.ErrDebounceCanceled)
	case <-time.After(time.Second):
		t.Fatal("canceled call did not return")
	}
	assert.False(t, ran.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_Flush(t *testing.T) {
	d := common.NewDebouncer[string](time.Hour)

	resCh := make(chan string, 1)
	go func() {
		v, _ := d.Call(context.Background(), func() (string, error) { return "now", nil })
		resCh <- v
	}()

	require.Eventually(t, d.Pending, time.Second, time.Millisecond)
	d.Flush()

	select {
	case v := <-resCh:
		assert.Equal(t, "now", v)
	case <-time.After(time.Second):
		t.Fatal("flushed call did not return")
	}

	// nothing pending: a no-op
	d.Flush()
	d.Cancel()
}

func TestDebouncer_CallerContext(t *testing.T) {
	d := common.NewDebouncer[int](time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Call(ctx, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	d.Cancel()
}
