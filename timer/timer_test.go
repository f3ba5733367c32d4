package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodicTimerFiresExactlyNTimes(t *testing.T) {
	m := NewManager()
	var fires []time.Time

	start := time.Now()
	id := m.ScheduleAfter(10*time.Millisecond, 5, func() {
		fires = append(fires, time.Now())
	})

	deadline := start.Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && len(fires) < 5 {
		m.Update(time.Now())
		time.Sleep(time.Millisecond)
	}

	require.Len(t, fires, 5)
	for i := 1; i < len(fires); i++ {
		assert.GreaterOrEqual(t, fires[i].Sub(fires[i-1]), 5*time.Millisecond)
	}

	assert.False(t, m.Cancel(id))
}

func TestCancelDuringFireStopsFurtherFiring(t *testing.T) {
	m := NewManager()
	var count int
	var id ID

	id = m.ScheduleAfter(5*time.Millisecond, Forever, func() {
		count++
		m.Cancel(id)
	})

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		m.Update(time.Now())
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, 1, count)
	assert.False(t, m.Cancel(id))
}

func TestCancelSiblingFromCallback(t *testing.T) {
	m := NewManager()
	var aFired, bFired int

	var bID ID
	m.ScheduleAfter(5*time.Millisecond, 1, func() {
		aFired++
		m.Cancel(bID)
	})
	bID = m.ScheduleAfter(5*time.Millisecond, 1, func() {
		bFired++
	})

	time.Sleep(10 * time.Millisecond)
	m.Update(time.Now())

	assert.Equal(t, 1, aFired)
	assert.Equal(t, 0, bFired)
}

func TestNearestEmptyIsMax(t *testing.T) {
	m := NewManager()
	assert.True(t, m.Nearest() > time.Hour)
}

func TestNearestReflectsSoonestTimer(t *testing.T) {
	m := NewManager()
	m.ScheduleAfter(50*time.Millisecond, 1, func() {})
	m.ScheduleAfter(5*time.Millisecond, 1, func() {})

	d := m.Nearest()
	assert.LessOrEqual(t, d, 50*time.Millisecond)
}

func TestOneShotDoesNotRefire(t *testing.T) {
	m := NewManager()
	var count int
	m.ScheduleAfter(2*time.Millisecond, 1, func() { count++ })

	time.Sleep(5 * time.Millisecond)
	m.Update(time.Now())
	m.Update(time.Now())

	assert.Equal(t, 1, count)
}

func TestScheduleAtSameInstantFiresFIFO(t *testing.T) {
	m := NewManager()
	at := time.Now().Add(time.Millisecond)
	var order []int

	m.ScheduleAt(at, 0, 1, func() { order = append(order, 1) })
	m.ScheduleAt(at, 0, 1, func() { order = append(order, 2) })
	m.ScheduleAt(at, 0, 1, func() { order = append(order, 3) })

	time.Sleep(3 * time.Millisecond)
	m.Update(time.Now())

	assert.Equal(t, []int{1, 2, 3}, order)
}
