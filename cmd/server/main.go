package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/application"
	"github.com/lk2023060901/tabletop-garden-go/internal/dispatch"
	"github.com/lk2023060901/tabletop-garden-go/internal/registry"
	"github.com/lk2023060901/tabletop-garden-go/internal/server"
	"github.com/lk2023060901/tabletop-garden-go/internal/store"
	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
	"github.com/lk2023060901/tabletop-garden-go/pkg/metrics"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/conc"
)

// processStatsInterval 为进程级指标的采样周期。
const processStatsInterval = 15 * time.Second

func main() {
	app := application.New()
	if err := app.Run(); err != nil {
		// 日志系统此时可能尚未初始化，直接写 stderr。
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	cfg := app.ServerConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register(prometheus.DefaultRegisterer)
	metrics.RegisterProcessStats(prometheus.DefaultRegisterer)
	metrics.StartProcessStatsLoop(ctx, processStatsInterval)

	st, err := store.Open(ctx, store.Config{
		Addr:            cfg.RedisAddr,
		Password:        cfg.RedisPassword,
		DB:              cfg.RedisDB,
		Prefix:          cfg.KeyPrefix,
		OpTimeout:       cfg.StoreOpTimeout,
		EmptySessionTTL: cfg.EmptySessionTTL,
	})
	if err != nil {
		log.Fatal("open session store failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	defer st.Close()

	pool, err := conc.NewPool(cfg.DispatchPoolSize, conc.WithPreAlloc(true))
	if err != nil {
		log.Fatal("create dispatch pool failed", zap.Error(err))
	}
	defer pool.Release()

	d := dispatch.New(st, registry.New(), pool)
	srv := server.New(cfg, st, d)

	log.Info("garden server starting",
		zap.String("listen", cfg.ListenAddr),
		zap.String("redis", cfg.RedisAddr),
		zap.Int("dispatchPoolSize", cfg.DispatchPoolSize))

	if err := srv.Run(ctx); err != nil {
		log.Error("garden server exited with error", zap.Error(err))
	} else {
		log.Info("garden server stopped")
	}
	_ = log.Sync()
}
