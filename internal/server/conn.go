package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/internal/json"
	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
)

// defaultSendQueueSize 为每条连接的发送队列容量。
const defaultSendQueueSize = 256

// writeTimeout 限制单帧写出的耗时，慢接收方超时后连接被判定异常。
const writeTimeout = 10 * time.Second

// connIDGen 为进程内连接 ID 发生器。
var connIDGen atomic.Uint64

// Conn 包装一条 WebSocket 连接。
//
// 设计目标：
//   - Send 仅负责将消息投递到连接级发送队列，由独立的发送协程
//     按顺序序列化并写入底层连接，避免多协程并发写导致的报文交叉；
//   - Close 幂等，可被读循环、发送协程与上层并发调用。
type Conn struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	ws *websocket.Conn

	sendQueue chan any
	closeOnce sync.Once
}

// NewConn 基于已升级的 WebSocket 连接创建 Conn 并启动其发送协程。
func NewConn(parent context.Context, ws *websocket.Conn) *Conn {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	c := &Conn{
		id:        connIDGen.Inc(),
		ctx:       ctx,
		cancel:    cancel,
		ws:        ws,
		sendQueue: make(chan any, defaultSendQueueSize),
	}
	go c.sendLoop()
	return c
}

// ID 返回进程内唯一的连接 ID。
func (c *Conn) ID() uint64 {
	return c.id
}

// Context 返回连接的生命周期上下文，连接关闭后随之取消。
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Send 将消息投递到发送队列。
// 连接已关闭时返回上下文错误；队列打满说明接收方长期不消费，
// 同样按连接异常处理。
func (c *Conn) Send(msg any) error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case c.sendQueue <- msg:
		return nil
	default:
		// 队列满：主动断开慢接收方，交由其读循环完成清理。
		c.cancel()
		return c.ctx.Err()
	}
}

// ReadMessage 阻塞读取下一帧的原始负载。
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Close 关闭连接。幂等。
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.ws.Close()
	})
	return err
}

// sendLoop 为连接的专职发送协程。
func (c *Conn) sendLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.sendQueue:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Warn("encode outbound message failed",
					zap.Uint64("conn", c.id),
					zap.Error(err))
				continue
			}

			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				// 写失败视为连接异常，取消上下文以触发上层清理。
				c.cancel()
				return
			}
		}
	}
}
