package alerting

import (
	"context"
	"fmt"
	"hive-watch/internal/clock"
	"hive-watch/internal/evaluator"
	"hive-watch/internal/metrics"
	"hive-watch/internal/models"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRepeatInterval 异常持续期间的重复提醒间隔
const DefaultRepeatInterval = 5 * time.Second

// 分发状态
const (
	StateIdle     = "idle"
	StateAlerting = "alerting"
)

// queueSize 每个渠道待执行的分发轮次上限，超出时丢弃（不保证送达）
const queueSize = 16

// notifyTimeout 单个渠道单次发送的超时
const notifyTimeout = 15 * time.Second

// Recorder 报警事件记录（Idle→Alerting 开始，Alerting→Idle 结束）
type Recorder interface {
	AlertStarted(ctx context.Context, state models.AlertState, snapshot models.SensorSnapshot, at time.Time)
	AlertCleared(ctx context.Context, at time.Time)
}

// Dispatcher 报警分发器
//
// 状态变更方法（OnAlertStateChanged/OnTick/SetPreferences/Stop）只能由同一个
// goroutine 调用（monitor 的事件循环）。每个渠道有自己的 worker 和队列，
// 慢渠道只会积压自己的轮次；报警事件记录走独立的不丢弃队列。
type Dispatcher struct {
	workers  []*channelWorker
	clock    clock.Clock
	interval time.Duration
	recorder Recorder
	logger   *zap.Logger

	prefs    models.NotificationPreferences
	alerting bool
	ticker   clock.Ticker
	state    models.AlertState
	current  *models.SensorSnapshot
	stopped  bool

	events *eventQueue
	wg     sync.WaitGroup
}

// channelWorker 单个渠道的串行 worker
type channelWorker struct {
	channel Channel
	jobs    chan func()
}

// NewDispatcher 创建报警分发器并启动 worker
// recorder 可以为 nil
func NewDispatcher(
	channels []Channel,
	prefs models.NotificationPreferences,
	interval time.Duration,
	clk clock.Clock,
	recorder Recorder,
	logger *zap.Logger,
) *Dispatcher {
	if interval <= 0 {
		interval = DefaultRepeatInterval
	}
	if clk == nil {
		clk = clock.Real{}
	}
	d := &Dispatcher{
		clock:    clk,
		interval: interval,
		recorder: recorder,
		logger:   logger,
		prefs:    prefs,
		events:   newEventQueue(),
	}

	for _, ch := range channels {
		w := &channelWorker{channel: ch, jobs: make(chan func(), queueSize)}
		d.workers = append(d.workers, w)
		d.wg.Add(1)
		go d.run(w.jobs)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.events.run()
	}()

	return d
}

func (d *Dispatcher) run(jobs <-chan func()) {
	defer d.wg.Done()
	for job := range jobs {
		job()
	}
}

// OnAlertStateChanged 每个快照评估后调用
//
// Idle→Alerting：立即分发一次并启动重复提醒定时器。
// Alerting 期间：只更新当前快照，不重置定时器相位。
// Alerting→Idle：停止定时器，不发送"恢复"通知。
func (d *Dispatcher) OnAlertStateChanged(ctx context.Context, state models.AlertState, snapshot *models.SensorSnapshot) {
	if d.stopped {
		return
	}

	if state.IsAbnormal && snapshot != nil {
		cur := *snapshot
		d.current = &cur
		d.state = state

		if d.alerting {
			return
		}

		d.alerting = true
		metrics.AlertActive.Set(1)
		d.logger.Info("Alert started",
			zap.String("body", evaluator.Describe(state, snapshot).Body),
			zap.Int("reason_count", len(state.Reasons)),
		)
		if d.recorder != nil {
			at := d.clock.Now()
			d.events.push(func() { d.recorder.AlertStarted(ctx, state, cur, at) })
		}
		d.dispatch(ctx)
		d.ticker = d.clock.NewTicker(d.interval)
		return
	}

	if !state.IsAbnormal && d.alerting {
		d.stopTicker()
		d.alerting = false
		d.current = nil
		d.state = state
		metrics.AlertActive.Set(0)
		d.logger.Info("Alert cleared")
		if d.recorder != nil {
			at := d.clock.Now()
			d.events.push(func() { d.recorder.AlertCleared(ctx, at) })
		}
	}
}

// Tick 重复提醒定时器（Idle 时为 nil，select 中永远不会就绪）
func (d *Dispatcher) Tick() <-chan time.Time {
	if d.ticker == nil {
		return nil
	}
	return d.ticker.C()
}

// OnTick 定时器触发：按当前快照重新分发
func (d *Dispatcher) OnTick(ctx context.Context) {
	if d.stopped || !d.alerting || d.current == nil {
		return
	}
	d.dispatch(ctx)
}

// SetPreferences 更新通知偏好（下一次分发生效）
func (d *Dispatcher) SetPreferences(prefs models.NotificationPreferences) {
	d.prefs = prefs
}

// Preferences 当前通知偏好
func (d *Dispatcher) Preferences() models.NotificationPreferences {
	return d.prefs
}

// State 当前分发状态
func (d *Dispatcher) State() string {
	if d.alerting {
		return StateAlerting
	}
	return StateIdle
}

// Flush 等待所有渠道和事件记录中已排队的任务执行完成
func (d *Dispatcher) Flush() {
	if d.stopped {
		return
	}
	var wg sync.WaitGroup
	barrier := func() { wg.Done() }

	wg.Add(len(d.workers) + 1)
	for _, w := range d.workers {
		w.jobs <- barrier
	}
	d.events.push(barrier)
	wg.Wait()
}

// Stop 停止定时器和 worker（等待排队中的任务执行完）
func (d *Dispatcher) Stop() {
	if d.stopped {
		return
	}
	d.stopped = true
	d.stopTicker()
	d.alerting = false
	d.current = nil
	metrics.AlertActive.Set(0)
	for _, w := range d.workers {
		close(w.jobs)
	}
	d.events.close()
	d.wg.Wait()
}

func (d *Dispatcher) stopTicker() {
	if d.ticker != nil {
		d.ticker.Stop()
		d.ticker = nil
	}
}

// dispatch 将一轮分发放入各渠道的队列
// 通知内容在这里生成，worker 不读取分发器状态。
func (d *Dispatcher) dispatch(ctx context.Context) {
	n := evaluator.Describe(d.state, d.current)
	granted := d.prefs.Granted()

	for _, w := range d.workers {
		ch := w.channel
		if ch.RequiresPermission() && !granted {
			metrics.Dispatches.WithLabelValues(ch.Name(), "skipped").Inc()
			continue
		}

		select {
		case w.jobs <- func() { d.deliver(ctx, ch, n) }:
		default:
			metrics.Dispatches.WithLabelValues(ch.Name(), "dropped").Inc()
			d.logger.Warn("Alert dispatch queue full, dropping round",
				zap.String("channel", ch.Name()),
			)
		}
	}
}

// deliver 调用单个渠道，失败只记录日志
func (d *Dispatcher) deliver(ctx context.Context, ch Channel, n models.Notification) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if err := notifySafely(ctx, ch, n); err != nil {
		metrics.Dispatches.WithLabelValues(ch.Name(), "error").Inc()
		d.logger.Error("Failed to dispatch alert",
			zap.String("channel", ch.Name()),
			zap.Error(err),
		)
		return
	}
	metrics.Dispatches.WithLabelValues(ch.Name(), "ok").Inc()
}

func notifySafely(ctx context.Context, ch Channel, n models.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", ch.Name(), r)
		}
	}()
	return ch.Notify(ctx, n)
}

// eventQueue 无界 FIFO，报警开始/结束事件不会被丢弃
type eventQueue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(job func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run 按顺序执行事件，close 之后执行完剩余事件再返回
func (q *eventQueue) run() {
	for {
		q.mu.Lock()
		jobs := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		if len(jobs) > 0 {
			for _, job := range jobs {
				job()
			}
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}
