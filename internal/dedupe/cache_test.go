// ABOUTME: Tests for the seen-message-id cache
// ABOUTME: Validates TTL expiry, size eviction order, lazy sweeping, and atomic Seen

package dedupe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(ttl time.Duration, size int) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, size)
	c.now = clock.now
	return c, clock
}

func TestCache_SeenFirstTimeIsFalse(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	assert.False(t, c.Seen("m1"))
	assert.True(t, c.Seen("m1"))
	assert.True(t, c.Contains("m1"))
}

func TestCache_ContainsDoesNotRecord(t *testing.T) {
	c, _ := newTestCache(time.Minute, 10)

	assert.False(t, c.Contains("m1"))
	assert.False(t, c.Seen("m1"))
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)

	c.Seen("m1")
	clock.advance(59 * time.Second)
	assert.True(t, c.Contains("m1"))

	clock.advance(2 * time.Second)
	assert.False(t, c.Contains("m1"))
	assert.False(t, c.Seen("m1"), "expired id counts as new")
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	c, clock := newTestCache(time.Minute, 10)

	c.Seen("m1")
	c.Seen("m2")
	clock.advance(2 * time.Minute)
	c.Seen("m3")

	assert.Equal(t, 1, c.Len())
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	c, clock := newTestCache(time.Hour, 3)

	for _, id := range []string{"first", "second", "third"} {
		c.Seen(id)
		clock.advance(time.Millisecond)
	}
	c.Seen("fourth")

	assert.False(t, c.Contains("first"))
	assert.True(t, c.Contains("second"))
	assert.True(t, c.Contains("third"))
	assert.True(t, c.Contains("fourth"))

	c.Seen("fifth")
	assert.False(t, c.Contains("second"))
	assert.Equal(t, 3, c.Len())
}

func TestCache_Reset(t *testing.T) {
	c, _ := newTestCache(time.Hour, 10)
	c.Seen("m1")

	c.Reset()

	assert.Zero(t, c.Len())
	assert.False(t, c.Seen("m1"))
}

func TestCache_Defaults(t *testing.T) {
	c := New(0, 0)
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
}

func TestCache_SeenIsAtomic(t *testing.T) {
	c := New(time.Minute, 100)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			if !c.Seen("contested") {
				winners.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}
