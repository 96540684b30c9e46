package bufferpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundUpToPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {4, 4}, {5, 8}, {1023, 1024}, {1024, 1024}, {1025, 2048},
	}
	for _, c := range cases {
		got := RoundUpToPow2(c.in)
		assert.Equalf(t, c.want, got, "RoundUpToPow2(%d)", c.in)
	}
}

func TestRoundUpToPow2Bounds(t *testing.T) {
	for n := 1; n <= 1<<24; n *= 2 {
		for _, probe := range []int{n - 1, n, n + 1} {
			if probe < 1 || probe > 1<<24 {
				continue
			}
			got := RoundUpToPow2(probe)
			require.GreaterOrEqualf(t, got, probe, "n=%d", probe)
			if probe != 1 {
				require.Lessf(t, got, 2*probe, "n=%d", probe)
			}
		}
	}
}

func TestAcquireResetsPositionAndLimit(t *testing.T) {
	p := New(nil, nil)
	buf := p.Acquire(100)
	assert.Equal(t, 0, buf.Position())
	assert.Equal(t, 100, buf.Limit())
	buf.SetPosition(50)
	buf.Release()

	buf2 := p.Acquire(100)
	assert.Equal(t, 0, buf2.Position())
	assert.Equal(t, 100, buf2.Limit())
}

func TestAcquireZero(t *testing.T) {
	p := New(nil, nil)
	buf := p.Acquire(0)
	require.NotNil(t, buf)
	assert.Equal(t, 0, buf.Limit())
	assert.Equal(t, 0, buf.Position())
	buf.Release()
}

func TestAboveCeilingIsOneShot(t *testing.T) {
	var acquires int
	p := New(func(shift int, fresh bool) { acquires++ }, nil)
	big := 1<<MaxShift + 1
	buf := p.Acquire(big)
	assert.False(t, buf.pooled)
	assert.Equal(t, 0, acquires, "observer should not fire for one-shot buffers")
	buf.Release() // must not panic, must not be requeued
}

func TestReleaseReturnsToMatchingSubPool(t *testing.T) {
	p := New(nil, nil)
	buf := p.Acquire(1000) // rounds to 1024 = 2^10
	wantShift := shiftFor(1024)
	buf.Release()

	p.mu.Lock()
	n := len(p.idle[wantShift])
	p.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestReleaseBelowZeroPanics(t *testing.T) {
	p := New(nil, nil)
	buf := p.Acquire(16)
	buf.Release()
	assert.Panics(t, func() { buf.Release() })
}

func TestOnlyFinalReleaseReturnsBuffer(t *testing.T) {
	p := New(nil, nil)
	buf := p.Acquire(16)
	buf.Retain() // refcount now 2
	buf.Release()

	p.mu.Lock()
	n := len(p.idle[shiftFor(16)])
	p.mu.Unlock()
	assert.Equal(t, 0, n, "buffer must not be recycled until the final release")

	buf.Release()
	p.mu.Lock()
	n = len(p.idle[shiftFor(16)])
	p.mu.Unlock()
	assert.Equal(t, 1, n)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	p := New(nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := p.Acquire(1 << (uint(i) % 12))
				buf.Slice()
				buf.Release()
			}
		}(i)
	}
	wg.Wait()
}
