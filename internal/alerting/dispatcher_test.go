package alerting

import (
	"context"
	"errors"
	"hive-watch/internal/clock"
	"hive-watch/internal/evaluator"
	"hive-watch/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

var granted = models.NotificationPreferences{Enabled: true, Permission: models.PermissionGranted}

type recordingChannel struct {
	name       string
	permission bool
	err        error
	panics     bool

	mu    sync.Mutex
	calls []models.Notification
}

func (c *recordingChannel) Name() string             { return c.name }
func (c *recordingChannel) RequiresPermission() bool { return c.permission }

func (c *recordingChannel) Notify(ctx context.Context, n models.Notification) error {
	if c.panics {
		panic("boom")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, n)
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *recordingChannel) last() models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

type fakeRecorder struct {
	mu      sync.Mutex
	started int
	cleared int
}

func (r *fakeRecorder) AlertStarted(ctx context.Context, state models.AlertState, snapshot models.SensorSnapshot, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
}

func (r *fakeRecorder) AlertCleared(ctx context.Context, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
}

// blockingChannel 在 release 关闭前一直阻塞
type blockingChannel struct {
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (c *blockingChannel) Name() string             { return ChannelPush }
func (c *blockingChannel) RequiresPermission() bool { return true }

func (c *blockingChannel) Notify(ctx context.Context, n models.Notification) error {
	select {
	case <-c.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *blockingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (r *fakeRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.cleared
}

func snapshot(temp, humidity, air float64) *models.SensorSnapshot {
	return &models.SensorSnapshot{
		Temperature: models.Float(temp),
		Humidity:    models.Float(humidity),
		AirQuality:  models.Float(air),
	}
}

// feed 模拟事件循环：评估快照并通知分发器
func feed(d *Dispatcher, s *models.SensorSnapshot) {
	d.OnAlertStateChanged(context.Background(), evaluator.Evaluate(*s), s)
}

// advanceTick 推进时钟并处理一次到期的 tick
func advanceTick(t *testing.T, clk *clock.Fake, d *Dispatcher, after time.Duration) {
	t.Helper()
	clk.Add(after)
	select {
	case <-d.Tick():
		d.OnTick(context.Background())
	case <-time.After(time.Second):
		t.Fatal("expected repeat tick")
	}
}

// fireTick 处理一次 tick 并等待分发完成
func fireTick(t *testing.T, clk *clock.Fake, d *Dispatcher, after time.Duration) {
	t.Helper()
	advanceTick(t, clk, d, after)
	d.Flush()
}

func TestDispatcher_RepeatsEveryInterval(t *testing.T) {
	clk := clock.NewFake(t0)
	toast := &recordingChannel{name: ChannelToast}
	d := NewDispatcher([]Channel{toast}, models.NotificationPreferences{}, DefaultRepeatInterval, clk, nil, zap.NewNop())
	defer d.Stop()

	feed(d, snapshot(15, 70, 80))
	d.Flush()
	assert.Equal(t, 1, toast.count(), "dispatch at t=0")
	assert.Equal(t, StateAlerting, d.State())

	fireTick(t, clk, d, 5*time.Second)
	assert.Equal(t, 2, toast.count(), "dispatch at t=5s")

	fireTick(t, clk, d, 5*time.Second)
	assert.Equal(t, 3, toast.count(), "dispatch at t=10s")
	assert.Equal(t, "Temperature: 15°C", toast.last().Body)
}

func TestDispatcher_TickUsesCurrentSnapshot(t *testing.T) {
	clk := clock.NewFake(t0)
	toast := &recordingChannel{name: ChannelToast}
	d := NewDispatcher([]Channel{toast}, models.NotificationPreferences{}, DefaultRepeatInterval, clk, nil, zap.NewNop())
	defer d.Stop()

	feed(d, snapshot(25, 55, 80))
	feed(d, snapshot(25, 50, 40))

	fireTick(t, clk, d, 5*time.Second)
	require.Equal(t, 2, toast.count())
	assert.Equal(t, "Humidity: 50%, Air Quality: 40%", toast.last().Body)
}

func TestDispatcher_StopsOnRecovery(t *testing.T) {
	clk := clock.NewFake(t0)
	toast := &recordingChannel{name: ChannelToast}
	rec := &fakeRecorder{}
	d := NewDispatcher([]Channel{toast}, models.NotificationPreferences{}, DefaultRepeatInterval, clk, rec, zap.NewNop())
	defer d.Stop()

	feed(d, snapshot(15, 70, 80))
	require.Equal(t, 1, clk.Tickers())

	feed(d, snapshot(22, 70, 80))
	d.Flush()

	assert.Equal(t, StateIdle, d.State())
	assert.Nil(t, d.Tick())
	assert.Equal(t, 0, clk.Tickers())

	clk.Add(time.Minute)
	d.OnTick(context.Background())
	d.Flush()

	// 恢复时不发送通知
	assert.Equal(t, 1, toast.count())
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, 1, rec.cleared)
}

func TestDispatcher_ReentryKeepsPhase(t *testing.T) {
	clk := clock.NewFake(t0)
	toast := &recordingChannel{name: ChannelToast}
	d := NewDispatcher([]Channel{toast}, models.NotificationPreferences{}, DefaultRepeatInterval, clk, nil, zap.NewNop())
	defer d.Stop()

	feed(d, snapshot(15, 70, 80))
	clk.Add(3 * time.Second)
	feed(d, snapshot(14, 70, 80))
	d.Flush()

	// 第二个异常快照不会立即分发，也不重新开始计时
	assert.Equal(t, 1, toast.count())
	assert.Equal(t, 1, clk.Tickers())

	fireTick(t, clk, d, 2*time.Second)
	assert.Equal(t, 2, toast.count())
	assert.Equal(t, "Temperature: 14°C", toast.last().Body)
}

func TestDispatcher_SingleTransitionForHumidityDrop(t *testing.T) {
	clk := clock.NewFake(t0)
	toast := &recordingChannel{name: ChannelToast}
	rec := &fakeRecorder{}
	d := NewDispatcher([]Channel{toast}, models.NotificationPreferences{}, DefaultRepeatInterval, clk, rec, zap.NewNop())
	defer d.Stop()

	feed(d, snapshot(25, 65, 80))
	d.Flush()
	assert.Equal(t, 0, toast.count())

	feed(d, snapshot(25, 55, 80))
	feed(d, snapshot(25, 55, 80))
	feed(d, snapshot(25, 54, 80))
	d.Flush()

	assert.Equal(t, 1, toast.count())
	assert.Equal(t, "Humidity: 55%", toast.calls[0].Body)
	assert.Equal(t, 1, rec.started)
}

func TestDispatcher_ChannelFailuresAreIsolated(t *testing.T) {
	clk := clock.NewFake(t0)
	failing := &recordingChannel{name: "failing", err: errors.New("unavailable")}
	panicking := &recordingChannel{name: "panicking", panics: true}
	healthy := &recordingChannel{name: "healthy"}
	d := NewDispatcher([]Channel{failing, panicking, healthy}, granted, DefaultRepeatInterval, clk, nil, zap.NewNop())
	defer d.Stop()

	feed(d, snapshot(35, 70, 80))
	d.Flush()

	assert.Equal(t, 1, failing.count())
	assert.Equal(t, 1, healthy.count())

	fireTick(t, clk, d, 5*time.Second)
	assert.Equal(t, 2, healthy.count())
}

func TestDispatcher_PermissionGatesChannels(t *testing.T) {
	clk := clock.NewFake(t0)
	toast := &recordingChannel{name: ChannelToast}
	local := &recordingChannel{name: ChannelLocal, permission: true}
	pushed := &recordingChannel{name: ChannelPush, permission: true}
	denied := models.NotificationPreferences{Enabled: true, Permission: models.PermissionDenied}
	d := NewDispatcher([]Channel{toast, local, pushed}, denied, DefaultRepeatInterval, clk, nil, zap.NewNop())
	defer d.Stop()

	feed(d, snapshot(15, 70, 80))
	d.Flush()
	assert.Equal(t, 1, toast.count())
	assert.Equal(t, 0, local.count())
	assert.Equal(t, 0, pushed.count())

	d.SetPreferences(granted)
	fireTick(t, clk, d, 5*time.Second)
	assert.Equal(t, 2, toast.count())
	assert.Equal(t, 1, local.count())
	assert.Equal(t, 1, pushed.count())
	assert.Equal(t, evaluator.AlertTag, local.last().Tag)
}

func TestDispatcher_StopTearsDown(t *testing.T) {
	clk := clock.NewFake(t0)
	toast := &recordingChannel{name: ChannelToast}
	d := NewDispatcher([]Channel{toast}, models.NotificationPreferences{}, DefaultRepeatInterval, clk, nil, zap.NewNop())

	feed(d, snapshot(15, 70, 80))
	d.Stop()

	assert.Equal(t, 0, clk.Tickers())
	assert.Nil(t, d.Tick())
	assert.Equal(t, 1, toast.count())

	// Stop 之后的调用不产生任何效果
	feed(d, snapshot(10, 70, 80))
	d.OnTick(context.Background())
	d.Stop()
	assert.Equal(t, 1, toast.count())
}

func TestDispatcher_NilSnapshotIgnored(t *testing.T) {
	clk := clock.NewFake(t0)
	toast := &recordingChannel{name: ChannelToast}
	d := NewDispatcher([]Channel{toast}, models.NotificationPreferences{}, DefaultRepeatInterval, clk, nil, zap.NewNop())
	defer d.Stop()

	d.OnAlertStateChanged(context.Background(), models.AlertState{IsAbnormal: true}, nil)
	d.Flush()

	assert.Equal(t, StateIdle, d.State())
	assert.Equal(t, 0, toast.count())
}

func TestDispatcher_SlowChannelDoesNotDelayOthers(t *testing.T) {
	clk := clock.NewFake(t0)
	toast := &recordingChannel{name: ChannelToast}
	pushed := &blockingChannel{release: make(chan struct{})}
	d := NewDispatcher([]Channel{toast, pushed}, granted, DefaultRepeatInterval, clk, nil, zap.NewNop())
	defer d.Stop()

	feed(d, snapshot(15, 70, 80))
	require.Eventually(t, func() bool { return toast.count() == 1 }, time.Second, 5*time.Millisecond)

	advanceTick(t, clk, d, 5*time.Second)
	advanceTick(t, clk, d, 5*time.Second)

	// push 仍然阻塞，toast 按节奏送达
	require.Eventually(t, func() bool { return toast.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, pushed.count())

	close(pushed.release)
	d.Flush()
	assert.Equal(t, 3, pushed.count())
}

func TestDispatcher_LifecycleEventsSurviveFullQueue(t *testing.T) {
	clk := clock.NewFake(t0)
	toast := &recordingChannel{name: ChannelToast}
	pushed := &blockingChannel{release: make(chan struct{})}
	rec := &fakeRecorder{}
	d := NewDispatcher([]Channel{toast, pushed}, granted, DefaultRepeatInterval, clk, rec, zap.NewNop())
	defer d.Stop()

	feed(d, snapshot(15, 70, 80))
	for i := 0; i < 20; i++ {
		advanceTick(t, clk, d, 5*time.Second)
		want := i + 2
		require.Eventually(t, func() bool { return toast.count() == want }, time.Second, time.Millisecond)
	}
	feed(d, snapshot(22, 70, 80))

	// push 队列已满并丢弃轮次，报警结束事件仍然记录
	require.Eventually(t, func() bool {
		started, cleared := rec.counts()
		return started == 1 && cleared == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 21, toast.count())
	assert.Equal(t, StateIdle, d.State())

	close(pushed.release)
	d.Flush()
	assert.LessOrEqual(t, pushed.count(), queueSize+1)
}
