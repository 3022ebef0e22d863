package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestTracker_InitialStateIsConfigurable(t *testing.T) {
	optimistic := NewTracker(DefaultOfflineThreshold, true, t0)
	assert.True(t, optimistic.Status().IsOnline)
	assert.Nil(t, optimistic.Status().LastSeen)

	pessimistic := NewTracker(DefaultOfflineThreshold, false, t0)
	assert.False(t, pessimistic.Status().IsOnline)
}

func TestTracker_NoArrivalTimesOutFromStart(t *testing.T) {
	tr := NewTracker(DefaultOfflineThreshold, true, t0)

	assert.True(t, tr.OnTick(t0.Add(60*time.Second)).IsOnline)
	assert.False(t, tr.OnTick(t0.Add(70*time.Second)).IsOnline)
}

func TestTracker_ArrivalMarksOnline(t *testing.T) {
	tr := NewTracker(DefaultOfflineThreshold, false, t0)

	st := tr.OnSnapshotArrived(t0.Add(time.Second))
	assert.True(t, st.IsOnline)
	require.NotNil(t, st.LastSeen)
	assert.Equal(t, t0.Add(time.Second), *st.LastSeen)
}

func TestTracker_GoesOfflineWithinOneTick(t *testing.T) {
	tr := NewTracker(DefaultOfflineThreshold, true, t0)
	tr.OnSnapshotArrived(t0)

	// 每 10s tick 一次，超过 60s 后的第一个 tick 必须标记离线
	var offlineAt time.Time
	for i := 1; i <= 10; i++ {
		now := t0.Add(time.Duration(i) * DefaultTickInterval)
		if !tr.OnTick(now).IsOnline {
			offlineAt = now
			break
		}
	}
	require.False(t, offlineAt.IsZero())
	assert.True(t, offlineAt.Sub(t0) > DefaultOfflineThreshold)
	assert.True(t, offlineAt.Sub(t0.Add(DefaultOfflineThreshold)) <= DefaultTickInterval)
}

func TestTracker_TickNeverMarksOnline(t *testing.T) {
	tr := NewTracker(DefaultOfflineThreshold, true, t0)
	tr.OnSnapshotArrived(t0)
	tr.MarkOffline()

	assert.False(t, tr.OnTick(t0.Add(time.Second)).IsOnline)
}

func TestTracker_MarkOfflineKeepsLastSeen(t *testing.T) {
	tr := NewTracker(DefaultOfflineThreshold, true, t0)
	tr.OnSnapshotArrived(t0)

	st := tr.MarkOffline()
	assert.False(t, st.IsOnline)
	require.NotNil(t, st.LastSeen)

	st = tr.OnSnapshotArrived(t0.Add(5 * time.Second))
	assert.True(t, st.IsOnline)
}
