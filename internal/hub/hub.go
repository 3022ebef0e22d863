package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hive-watch/internal/models"
	"sync/atomic"

	"go.uber.org/zap"
)

// 消息类型
const (
	TypeView         = "view"
	TypeToast        = "toast"
	TypeNotification = "notification"
)

// ErrClosed hub 已停止
var ErrClosed = errors.New("hub closed")

// Message 推送给展示层的消息
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub 维护所有 WebSocket 连接并广播消息
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcastMsg
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	logger     *zap.Logger
	count      int64
	lastView   []byte // 新连接先收到最新视图（只在 Run 中访问）
}

type broadcastMsg struct {
	msgType string
	data    []byte
}

// NewHub 创建 hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcastMsg, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 处理注册、注销和广播，直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			close(client.send)
			delete(h.clients, client)
		}
		atomic.StoreInt64(&h.count, 0)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			atomic.StoreInt64(&h.count, int64(len(h.clients)))
			h.logger.Debug("WebSocket client registered", zap.String("remote_addr", client.remoteAddr()))
			if h.lastView != nil {
				client.send <- h.lastView
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				atomic.StoreInt64(&h.count, int64(len(h.clients)))
				h.logger.Debug("WebSocket client unregistered", zap.String("remote_addr", client.remoteAddr()))
			}

		case msg := <-h.broadcast:
			if msg.msgType == TypeView {
				h.lastView = msg.data
			}
			for client := range h.clients {
				select {
				case client.send <- msg.data:
				default:
					// 客户端阻塞或已断开
					h.logger.Warn("WebSocket client send buffer full, removing",
						zap.String("remote_addr", client.remoteAddr()),
					)
					close(client.send)
					delete(h.clients, client)
					atomic.StoreInt64(&h.count, int64(len(h.clients)))
				}
			}
		}
	}
}

// Broadcast 广播一条消息
func (h *Hub) Broadcast(msgType string, payload interface{}) error {
	data, err := json.Marshal(Message{Type: msgType, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msgType, err)
	}

	select {
	case h.broadcast <- broadcastMsg{msgType: msgType, data: data}:
		return nil
	case <-h.done:
		return ErrClosed
	}
}

// PublishView 广播最新视图
func (h *Hub) PublishView(view interface{}) error {
	return h.Broadcast(TypeView, view)
}

// ShowToast 广播应用内提示
func (h *Hub) ShowToast(t models.Toast) error {
	return h.Broadcast(TypeToast, t)
}

// ShowNotification 广播本地通知
func (h *Hub) ShowNotification(n models.Notification) error {
	return h.Broadcast(TypeNotification, n)
}

// Clients 当前连接数
func (h *Hub) Clients() int {
	return int(atomic.LoadInt64(&h.count))
}
