package alerting

import (
	"context"
	"errors"
	"fmt"
	"hive-watch/internal/models"
	"hive-watch/internal/push"
)

// 渠道名称
const (
	ChannelToast = "toast"
	ChannelLocal = "local"
	ChannelPush  = "push"
)

// Channel 通知渠道（策略），每个渠道独立失败
type Channel interface {
	Name() string
	// RequiresPermission 为 true 时，仅在通知偏好已授权时调用
	RequiresPermission() bool
	Notify(ctx context.Context, n models.Notification) error
}

// Presenter 展示层（WebSocket hub 实现）
type Presenter interface {
	ShowToast(t models.Toast) error
	ShowNotification(n models.Notification) error
}

// TokenSource 推送 token 注册表
type TokenSource interface {
	Tokens(ctx context.Context) ([]string, error)
}

// PushSender 推送服务客户端
type PushSender interface {
	Send(ctx context.Context, tokens []string, n models.Notification) error
}

// ToastChannel 应用内提示，不需要权限
type ToastChannel struct {
	presenter Presenter
}

// NewToastChannel 创建 toast 渠道
func NewToastChannel(presenter Presenter) *ToastChannel {
	return &ToastChannel{presenter: presenter}
}

func (c *ToastChannel) Name() string             { return ChannelToast }
func (c *ToastChannel) RequiresPermission() bool { return false }

func (c *ToastChannel) Notify(ctx context.Context, n models.Notification) error {
	return c.presenter.ShowToast(models.Toast{
		Title:       n.Title,
		Description: n.Body,
		Variant:     models.ToastDestructive,
	})
}

// LocalNotificationChannel 本地系统通知（相同 tag 替换旧通知）
type LocalNotificationChannel struct {
	presenter Presenter
}

// NewLocalNotificationChannel 创建本地通知渠道
func NewLocalNotificationChannel(presenter Presenter) *LocalNotificationChannel {
	return &LocalNotificationChannel{presenter: presenter}
}

func (c *LocalNotificationChannel) Name() string             { return ChannelLocal }
func (c *LocalNotificationChannel) RequiresPermission() bool { return true }

func (c *LocalNotificationChannel) Notify(ctx context.Context, n models.Notification) error {
	n.RequireInteraction = true
	return c.presenter.ShowNotification(n)
}

// PushChannel 后台推送：发送时读取 token 注册表
type PushChannel struct {
	tokens TokenSource
	sender PushSender
}

// NewPushChannel 创建推送渠道
func NewPushChannel(tokens TokenSource, sender PushSender) *PushChannel {
	return &PushChannel{tokens: tokens, sender: sender}
}

func (c *PushChannel) Name() string             { return ChannelPush }
func (c *PushChannel) RequiresPermission() bool { return true }

func (c *PushChannel) Notify(ctx context.Context, n models.Notification) error {
	tokens, err := c.tokens.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("failed to read push tokens: %w", err)
	}
	if err := c.sender.Send(ctx, tokens, n); err != nil {
		// 没有注册的设备不算失败
		if errors.Is(err, push.ErrNoTokens) {
			return nil
		}
		return err
	}
	return nil
}

// DefaultChannels 固定顺序：toast → local → push
// push 为 nil 时不启用推送渠道
func DefaultChannels(presenter Presenter, pushChannel *PushChannel) []Channel {
	channels := []Channel{
		NewToastChannel(presenter),
		NewLocalNotificationChannel(presenter),
	}
	if pushChannel != nil {
		channels = append(channels, pushChannel)
	}
	return channels
}
