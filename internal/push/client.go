package push

import (
	"context"
	"errors"
	"fmt"
	"hive-watch/internal/models"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrNoTokens 没有已注册的推送 token
var ErrNoTokens = errors.New("no push tokens registered")

// NotificationPayload 推送通知内容（由后台 service worker 展示）
type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// SendRequest 推送服务请求
type SendRequest struct {
	Tokens       []string            `json:"tokens"`
	Notification NotificationPayload `json:"notification"`
	Data         map[string]string   `json:"data,omitempty"`
}

// SendResponse 推送服务响应
type SendResponse struct {
	SuccessCount int    `json:"success_count"`
	FailureCount int    `json:"failure_count"`
	Message      string `json:"message,omitempty"`
}

// Client 推送触发客户端（投递由推送服务负责，这里只触发）
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建推送客户端
func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// Send 向所有 token 发送推送
func (c *Client) Send(ctx context.Context, tokens []string, n models.Notification) error {
	if len(tokens) == 0 {
		return ErrNoTokens
	}

	request := SendRequest{
		Tokens: tokens,
		Notification: NotificationPayload{
			Title: n.Title,
			Body:  n.Body,
			Tag:   n.Tag,
		},
		Data: n.Data,
	}

	var response SendResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("/send")
	if err != nil {
		c.logger.Error("Push service call failed",
			zap.Error(err),
			zap.Int("token_count", len(tokens)),
		)
		return fmt.Errorf("failed to call push service: %w", err)
	}

	if resp.IsError() {
		c.logger.Error("Push service returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("push service error: status %d", resp.StatusCode())
	}

	c.logger.Debug("Push sent",
		zap.Int("token_count", len(tokens)),
		zap.Int("success_count", response.SuccessCount),
		zap.Int("failure_count", response.FailureCount),
	)
	return nil
}
