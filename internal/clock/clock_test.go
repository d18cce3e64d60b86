package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func TestMockClock_AdvanceFiresExpiredTimers(t *testing.T) {
	c := NewMockClock(epoch)

	var fired []string
	c.AfterFunc(2*time.Hour, func() { fired = append(fired, "two") })
	c.AfterFunc(time.Hour, func() { fired = append(fired, "one") })
	c.AfterFunc(3*time.Hour, func() { fired = append(fired, "three") })
	assert.Equal(t, 3, c.PendingTimers())

	c.Advance(30 * time.Minute)
	assert.Empty(t, fired)

	c.Advance(2 * time.Hour)
	assert.Equal(t, []string{"one", "two"}, fired, "fired in deadline order")
	assert.Equal(t, 1, c.PendingTimers())
	assert.Equal(t, epoch.Add(150*time.Minute), c.Now())
}

func TestMockClock_Stop(t *testing.T) {
	c := NewMockClock(epoch)

	fired := false
	timer := c.AfterFunc(time.Minute, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second stop reports inactive")

	c.Advance(time.Hour)
	assert.False(t, fired)
	assert.Equal(t, 0, c.PendingTimers())
}

func TestMockClock_CallbackCanReschedule(t *testing.T) {
	c := NewMockClock(epoch)

	count := 0
	var schedule func()
	schedule = func() {
		c.AfterFunc(time.Hour, func() {
			count++
			schedule()
		})
	}
	schedule()

	for i := 0; i < 3; i++ {
		c.Advance(time.Hour)
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, c.PendingTimers())

	next, ok := c.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(4*time.Hour), next)
}

func TestMockClock_Set(t *testing.T) {
	c := NewMockClock(epoch)

	fired := false
	c.AfterFunc(time.Hour, func() { fired = true })

	// Moving backwards never fires timers
	c.Set(epoch.Add(-time.Hour))
	assert.False(t, fired)
	assert.Equal(t, epoch.Add(-time.Hour), c.Now())

	c.Set(epoch.Add(time.Hour))
	assert.True(t, fired)
	assert.Equal(t, 2*time.Hour, c.Since(epoch.Add(-time.Hour)))
}

func TestMockClock_NextDeadlineEmpty(t *testing.T) {
	c := NewMockClock(epoch)
	_, ok := c.NextDeadline()
	assert.False(t, ok)
}

func TestRealClock(t *testing.T) {
	c := NewRealClock()
	before := time.Now()
	assert.False(t, c.Now().Before(before))
	assert.GreaterOrEqual(t, c.Since(before), time.Duration(0))

	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AfterFunc did not fire")
	}

	timer := c.AfterFunc(time.Hour, func() {})
	assert.True(t, timer.Stop())
}
