// Package dispatch 实现消息分发引擎：
// 解析入站信封、按类型路由、对存储执行读-改-写、触发扇出广播。
//
// 并发模型：每条入站消息作为一个短任务提交到共享协程池执行；
// 同一会话的并发写不做互斥，以“最后写入者胜”收敛（存储层提供可选的
// 乐观保护写 PutPartyGuarded，本引擎有意不启用）。
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/internal/registry"
	"github.com/lk2023060901/tabletop-garden-go/internal/store"
	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
	"github.com/lk2023060901/tabletop-garden-go/pkg/metrics"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/conc"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

// 请求通道标识，用于指标标签与注册行为控制。
const (
	ChannelWS   = "ws"
	ChannelHTTP = "http"
)

// timeLayout 为快照中时间字符串的格式，与客户端持久化格式一致。
const timeLayout = time.RFC3339

// Conn 为分发引擎对一条连接的最小要求，与 registry.Sender 一致。
type Conn = registry.Sender

// Clock 为可注入的时钟源，测试中用固定时钟保证 lastUpdated 单调可控。
type Clock func() time.Time

// Dispatcher 为消息分发引擎。所有依赖显式注入，不持有全局状态。
type Dispatcher struct {
	store *store.Store
	reg   *registry.Registry
	pool  *conc.Pool
	now   Clock
}

// Option 配置 Dispatcher 的可选项。
type Option func(*Dispatcher)

// WithClock 注入自定义时钟源。
func WithClock(c Clock) Option {
	return func(d *Dispatcher) {
		d.now = c
	}
}

// New 创建 Dispatcher。pool 为 nil 时消息在调用方协程同步执行。
func New(s *store.Store, reg *registry.Registry, pool *conc.Pool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store: s,
		reg:   reg,
		pool:  pool,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry 返回引擎使用的连接注册表。
func (d *Dispatcher) Registry() *registry.Registry {
	return d.reg
}

// Store 返回引擎使用的存储层句柄。
func (d *Dispatcher) Store() *store.Store {
	return d.store
}

// Submit 将一条原始入站消息提交到协程池异步处理。
// 协程池拒绝任务时直接回复错误，不阻塞读循环。
func (d *Dispatcher) Submit(ctx context.Context, conn Conn, raw []byte) {
	task := func() {
		d.dispatchRaw(ctx, conn, raw)
	}

	if d.pool == nil {
		task()
		return
	}
	if err := d.pool.Submit(task); err != nil {
		log.Ctx(ctx).Warn("dispatch pool rejected task",
			zap.Uint64("conn", conn.ID()),
			zap.Error(err))
		_ = conn.Send(newErrorReply(merr.WrapErrStoreUnavailable(err, "server busy")))
	}
}

func (d *Dispatcher) dispatchRaw(ctx context.Context, conn Conn, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		metrics.MessageTotal.WithLabelValues("unknown", ChannelWS, "fail").Inc()
		log.Ctx(ctx).Warn("malformed inbound message",
			zap.Uint64("conn", conn.ID()),
			zap.Error(err))
		_ = conn.Send(newErrorReply(err))
		return
	}

	if err := d.Handle(ctx, ChannelWS, conn, msg); err != nil && !msg.IsHeartbeat() {
		_ = conn.Send(newErrorReply(err))
	}
}

// Handle 同步处理一条已解析的消息，供 WebSocket 循环与 HTTP 通道共用。
// 返回的错误已分类（merr），由调用方决定回复方式；心跳的错误永不回复。
func (d *Dispatcher) Handle(ctx context.Context, channel string, conn Conn, msg *Message) error {
	start := time.Now()

	var err error
	switch msg.Type {
	case KindPartyCreate:
		err = d.handlePartyCreate(ctx, channel, conn, msg)
	case KindPartyJoin:
		err = d.handlePartyJoin(ctx, channel, conn, msg)
	case KindPartyUpdate:
		err = d.handlePartyUpdate(ctx, conn, msg)
	case KindRollInitiative:
		err = d.handleRollInitiative(ctx, conn, msg)
	case KindPartyHeartbeat:
		err = d.handlePartyHeartbeat(ctx, msg)
	case KindPartyLeave:
		err = d.handlePartyLeave(ctx, channel, conn, msg)

	case KindGameCreate:
		err = d.handleGameCreate(ctx, channel, conn, msg)
	case KindGameJoin:
		err = d.handleGameJoin(ctx, channel, conn, msg)
	case KindGameLeave:
		err = d.handleGameLeave(ctx, channel, conn, msg)
	case KindGameHeartbeat:
		err = d.handleGameHeartbeat(ctx, msg)
	case KindPlayerMove:
		err = d.handlePlayerMove(ctx, conn, msg)
	case KindEnemyAdd:
		err = d.handleEnemyAdd(ctx, msg)
	case KindEnemyMove:
		err = d.handleEnemyMove(ctx, msg)
	case KindEnemyRemove:
		err = d.handleEnemyRemove(ctx, msg)
	case KindTerrainAdd:
		err = d.handleTerrainAdd(ctx, msg)
	case KindTerrainRemove:
		err = d.handleTerrainRemove(ctx, msg)

	case KindUserLogin:
		err = d.handleUserLogin(ctx, conn, msg)
	case KindCharacterSave:
		err = d.handleCharacterSave(ctx, conn, msg)
	case KindCharacterDelete:
		err = d.handleCharacterDelete(ctx, conn, msg)
	case KindGetCharacter:
		err = d.handleGetCharacter(ctx, conn, msg)
	case KindGetUserCharacters:
		err = d.handleGetUserCharacters(ctx, conn, msg)
	case KindGetGames:
		err = d.handleGetGames(ctx, conn, msg)

	default:
		err = merr.WrapErrUnknownKind(msg.Type)
	}

	status := "ok"
	if err != nil {
		status = "fail"
		log.Ctx(ctx).Warn("message handling failed",
			zap.String("kind", msg.Type),
			zap.String("channel", channel),
			zap.Int32("code", merr.Code(err)),
			zap.Error(err))
	}
	metrics.MessageTotal.WithLabelValues(msg.Type, channel, status).Inc()
	metrics.MessageLatency.WithLabelValues(msg.Type).
		Observe(float64(time.Since(start).Milliseconds()))

	return err
}

// register 将连接绑定到会话码。仅长连接通道需要注册，HTTP 一次性调用跳过。
func (d *Dispatcher) register(channel string, st registry.SessionType, code, participantID string, conn Conn) {
	if channel != ChannelWS || conn == nil {
		return
	}
	d.reg.Register(st, code, participantID, conn)
}

// unregister 解除连接绑定，HTTP 通道同样跳过。
func (d *Dispatcher) unregister(channel string, conn Conn) {
	if channel != ChannelWS || conn == nil {
		return
	}
	d.reg.Unregister(conn.ID())
}
