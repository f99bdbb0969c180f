package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
	"github.com/lk2023060901/tabletop-garden-go/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 身份由上层协议中的 userId/characterId 表达，来源不做限制。
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS 将 HTTP 请求升级为 WebSocket 并进入读循环。
//
// 读循环只负责收帧与投递，消息处理在协程池中执行；
// 连接断开时仅解除注册，在途的 handler 跑完为止，不做任何状态回收。
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		return
	}

	conn := NewConn(s.ctx, ws)
	metrics.LiveConnections.Inc()
	log.Info("websocket connected",
		zap.Uint64("conn", conn.ID()),
		zap.String("remote", r.RemoteAddr))

	defer func() {
		code := s.dispatcher.Registry().Unregister(conn.ID())
		_ = conn.Close()
		metrics.LiveConnections.Dec()
		log.Info("websocket disconnected",
			zap.Uint64("conn", conn.ID()),
			zap.String("code", code))
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed",
					zap.Uint64("conn", conn.ID()),
					zap.Error(err))
			}
			return
		}
		s.dispatcher.Submit(conn.Context(), conn, data)
	}
}
