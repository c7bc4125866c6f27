package workerpool

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionWorkCoversEveryItemExactlyOnce(t *testing.T) {
	const nItems = 17
	const nWorkers = 5
	seen := make([]int, nItems)
	for w := 0; w < nWorkers; w++ {
		start, end := PartitionWork(w, nWorkers, nItems)
		for i := start; i < end; i++ {
			seen[i]++
		}
	}
	for i, c := range seen {
		assert.Equal(t, 1, c, "item %d covered %d times", i, c)
	}
}

func TestPartitionWorkBalancesWithinOneItem(t *testing.T) {
	const nItems = 10
	const nWorkers = 3
	sizes := make([]int, nWorkers)
	for w := 0; w < nWorkers; w++ {
		start, end := PartitionWork(w, nWorkers, nItems)
		sizes[w] = end - start
	}
	min, max := sizes[0], sizes[0]
	for _, s := range sizes {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	assert.LessOrEqual(t, max-min, 1)
}

func TestPartitionWorkHandlesMoreWorkersThanItems(t *testing.T) {
	start, end := PartitionWork(3, 10, 2)
	assert.Equal(t, start, end, "worker beyond item count gets an empty range")
}

func TestPartitionWorkZeroItems(t *testing.T) {
	start, end := PartitionWork(0, 4, 0)
	assert.Equal(t, 0, start)
	assert.Equal(t, 0, end)
}

func TestNewClampsNonPositiveWorkersToOne(t *testing.T) {
	assert.Equal(t, 1, New(0).Workers())
	assert.Equal(t, 1, New(-5).Workers())
	assert.Equal(t, 4, New(4).Workers())
}

func TestParallelForRunsEveryIndex(t *testing.T) {
	p := New(4)
	var count atomic.Int64
	err := p.ParallelFor(100, func(i int) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), count.Load())
}

func TestParallelForPropagatesFirstError(t *testing.T) {
	p := New(4)
	boom := errors.New("boom")
	err := p.ParallelFor(50, func(i int) error {
		if i == 10 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestParallelForZeroItemsIsANoOp(t *testing.T) {
	p := New(4)
	err := p.ParallelFor(0, func(i int) error {
		t.Fatal("body must not run for n=0")
		return nil
	})
	assert.NoError(t, err)
}

func TestBatchParallelForCapsConcurrencyBelowWorkers(t *testing.T) {
	p := New(8)
	var active atomic.Int32
	var maxActive atomic.Int32
	err := p.BatchParallelFor(20, 2, func(i int) error {
		n := active.Add(1)
		for {
			cur := maxActive.Load()
			if n <= cur || maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
		active.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, maxActive.Load(), int32(2))
}

func TestBatchParallelForSingleWorkerRunsSerially(t *testing.T) {
	p := New(4)
	var order []int
	err := p.BatchParallelFor(5, 1, func(i int) error {
		order = append(order, i)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
