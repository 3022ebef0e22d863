package store

import (
	"context"
	"errors"
	"hive-watch/internal/models"
	"net"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// healthCheckInterval 订阅空闲时的 PING 间隔
const healthCheckInterval = 30 * time.Second

// Subscription 实时节点订阅
//
// Updates 上的 nil 表示节点为空（已连接但没有数据）。
// Errors 上的错误表示连接问题，订阅本身会继续重试。
type Subscription struct {
	updates chan *models.SensorSnapshot
	errs    chan error
	stop    func() error
	once    sync.Once
	err     error
}

// NewSubscription 使用调用方提供的通道创建订阅，Close 时调用 stop
// 用于接入其他数据源（以及测试）。
func NewSubscription(updates chan *models.SensorSnapshot, errs chan error, stop func() error) *Subscription {
	return &Subscription{updates: updates, errs: errs, stop: stop}
}

// Updates 快照通道
func (s *Subscription) Updates() <-chan *models.SensorSnapshot { return s.updates }

// Errors 错误通道
func (s *Subscription) Errors() <-chan error { return s.errs }

// Close 取消订阅（可重复调用）
func (s *Subscription) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.err = s.stop()
		}
	})
	return s.err
}

// Subscribe 订阅实时节点：订阅建立（及每次重连）后先推送当前值，之后推送每次变更
func (s *Store) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.keys.Updates)

	ctx, cancel := context.WithCancel(ctx)
	updates := make(chan *models.SensorSnapshot, 16)
	errs := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		s.receive(ctx, pubsub, updates, errs)
	}()

	return NewSubscription(updates, errs, func() error {
		cancel()
		err := pubsub.Close()
		<-done
		return err
	}), nil
}

func (s *Store) receive(ctx context.Context, pubsub *redis.PubSub, updates chan<- *models.SensorSnapshot, errs chan<- error) {
	backoffDuration := time.Second // 初始退避时间
	maxBackoff := 30 * time.Second // 最大退避时间

	for {
		msg, err := pubsub.ReceiveTimeout(ctx, healthCheckInterval)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// 空闲：发送 PING，连接异常会在下一次 Receive 时暴露
				if pingErr := pubsub.Ping(ctx); pingErr != nil {
					s.reportError(errs, pingErr)
				}
				continue
			}

			s.logger.Error("Live subscription error",
				zap.String("channel", s.keys.Updates),
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			s.reportError(errs, err)

			// 指数退避：等待后重试（PubSub 在下一次 Receive 时自动重连并重新订阅）
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second

		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind != "subscribe" {
				continue
			}
			// 订阅建立后推送当前值
			current, err := s.Live(ctx)
			if err != nil && !errors.Is(err, ErrNotFound) {
				s.reportError(errs, err)
				continue
			}
			if !deliver(ctx, updates, current) {
				return
			}
		case *redis.Message:
			snapshot, err := decodeSnapshot([]byte(m.Payload))
			if err != nil && !errors.Is(err, ErrNotFound) {
				s.logger.Warn("Skipping malformed live update",
					zap.String("channel", m.Channel),
					zap.Error(err),
				)
				continue
			}
			if !deliver(ctx, updates, snapshot) {
				return
			}
		case *redis.Pong:
		}
	}
}

func deliver(ctx context.Context, updates chan<- *models.SensorSnapshot, snapshot *models.SensorSnapshot) bool {
	select {
	case updates <- snapshot:
		return true
	case <-ctx.Done():
		return false
	}
}

// reportError 错误通道满时丢弃（消费方只关心"出错了"）
func (s *Store) reportError(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}
