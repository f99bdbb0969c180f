// Package server 承载两条对外通道：
//   - /ws        ：WebSocket 长连接，主通道；
//   - /api/*     ：HTTP/JSON 一次性调用，面向读多写少的协作方；
//
// 两条通道共用同一个分发引擎，语义完全一致。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/tabletop-garden-go/application"
	"github.com/lk2023060901/tabletop-garden-go/internal/dispatch"
	"github.com/lk2023060901/tabletop-garden-go/internal/store"
	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
)

// Server 聚合服务的运行时组件。
type Server struct {
	ctx context.Context

	cfg        *application.ServerConfig
	store      *store.Store
	dispatcher *dispatch.Dispatcher

	httpServer *http.Server
}

// New 创建 Server。所有依赖显式注入。
func New(cfg *application.ServerConfig, st *store.Store, d *dispatch.Dispatcher) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		dispatcher: d,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withCORS(s.newMux()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run 启动服务并阻塞，直到 ctx 取消或监听失败。
// ctx 取消后按配置的超时优雅关闭。
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("http server listening", zap.String("addr", s.cfg.ListenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		log.Info("shutting down http server")
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
