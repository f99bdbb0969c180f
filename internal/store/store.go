// Package store 实现基于 Redis 的会话存储层。
//
// 键空间布局（均带可配置前缀）：
//   - party:<code>      小队快照
//   - game:<code>       游戏快照（规范键）
//   - game:id:<uuid>    游戏 UUID 到游戏码的索引
//   - user:<id>         用户档案
//   - character:<id>    角色卡
//
// 空会话不会被立即删除，而是设置一个宽限 TTL，由 Redis 过期机制回收；
// 在宽限期内写入新成员会重新转为持久键。
package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/internal/json"
	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
	"github.com/lk2023060901/tabletop-garden-go/pkg/metrics"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/retry"
)

const (
	defaultPrefix    = "garden"
	defaultOpTimeout = 3 * time.Second
	defaultEmptyTTL  = time.Hour

	// scanBatchSize 为一次 SCAN 命令返回的键数量提示值。
	scanBatchSize = 128

	// noExpiry 表示持久键。
	noExpiry = time.Duration(0)
)

// Config 为存储层连接配置。
type Config struct {
	// Addr 为 Redis 地址（host:port）。
	Addr string
	// Password 为可选的认证口令。
	Password string
	// DB 为 Redis 逻辑库编号。
	DB int
	// Prefix 为所有键的公共前缀。
	Prefix string
	// OpTimeout 限制单次存储往返的耗时。
	OpTimeout time.Duration
	// EmptySessionTTL 为空会话的宽限存活时间。
	EmptySessionTTL time.Duration
	// PoolSize 为连接池大小。
	PoolSize int
}

// Store 为 Redis 存储层句柄，所有方法并发安全。
type Store struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
	emptyTTL  time.Duration
}

// Open 建立到 Redis 的连接并完成连通性检查。
// 首次 Ping 失败时按指数退避重试，直到成功或 ctx 结束。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err := backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis ping failed, will retry", zap.String("addr", cfg.Addr), zap.Error(err))
			return err
		}
		return nil
	}, bo)
	if err != nil {
		_ = client.Close()
		return nil, merr.WrapErrStoreUnavailable(err, "dial redis")
	}

	return newStore(client, cfg.Prefix, cfg.OpTimeout, cfg.EmptySessionTTL), nil
}

// NewFromClient 基于已有客户端创建 Store，主要用于测试（miniredis）。
func NewFromClient(client *redis.Client, prefix string, opTimeout, emptyTTL time.Duration) *Store {
	return newStore(client, prefix, opTimeout, emptyTTL)
}

func newStore(client *redis.Client, prefix string, opTimeout, emptyTTL time.Duration) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultEmptyTTL
	}
	return &Store{
		client:    client,
		prefix:    prefix,
		opTimeout: opTimeout,
		emptyTTL:  emptyTTL,
	}
}

// Close 释放底层连接池。
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping 检查存储连通性，供健康检查使用。
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return merr.WrapErrStoreUnavailable(err)
	}
	return nil
}

func (s *Store) partyKey(code string) string     { return s.prefix + ":party:" + code }
func (s *Store) gameKey(code string) string      { return s.prefix + ":game:" + code }
func (s *Store) gameIDKey(id string) string      { return s.prefix + ":game:id:" + id }
func (s *Store) userKey(id string) string        { return s.prefix + ":user:" + id }
func (s *Store) characterKey(id string) string   { return s.prefix + ":character:" + id }
func (s *Store) partyScanPattern() string        { return s.prefix + ":party:*" }
func (s *Store) gameScanPattern() string         { return s.prefix + ":game:*" }
func (s *Store) gameIDScanPrefix() string        { return s.prefix + ":game:id:" }
func (s *Store) userScanPattern() string         { return s.prefix + ":user:*" }

// getJSON 读取并反序列化一个键。
// 键不存在时返回 ErrKeyNotFound，内容损坏时返回 ErrStoreCorrupted，两者均不重试。
func (s *Store) getJSON(ctx context.Context, key string, dst any) error {
	start := time.Now()
	err := retry.Do(ctx, func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		data, err := s.client.Get(opCtx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return retry.Unrecoverable(merr.WrapErrKeyNotFound(key))
			}
			return merr.WrapErrStoreUnavailable(err)
		}
		if err := json.Unmarshal(data, dst); err != nil {
			return retry.Unrecoverable(merr.WrapErrStoreCorrupted(key, err))
		}
		return nil
	}, retry.Attempts(3), retry.Sleep(50*time.Millisecond))
	s.observe("get", start, err)
	return err
}

// setJSON 序列化并写入一个键。ttl 为 0 表示持久键。
func (s *Store) setJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return merr.WrapErrStoreCorrupted(key, err)
	}

	start := time.Now()
	err = retry.Do(ctx, func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		if err := s.client.Set(opCtx, key, data, ttl).Err(); err != nil {
			return merr.WrapErrStoreUnavailable(err)
		}
		return nil
	}, retry.Attempts(3), retry.Sleep(50*time.Millisecond))
	s.observe("put", start, err)
	return err
}

// setString 写入一个纯字符串键（索引键）。
func (s *Store) setString(ctx context.Context, key, val string, ttl time.Duration) error {
	start := time.Now()
	err := retry.Do(ctx, func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		if err := s.client.Set(opCtx, key, val, ttl).Err(); err != nil {
			return merr.WrapErrStoreUnavailable(err)
		}
		return nil
	}, retry.Attempts(3), retry.Sleep(50*time.Millisecond))
	s.observe("put", start, err)
	return err
}

// getString 读取一个纯字符串键。
func (s *Store) getString(ctx context.Context, key string) (string, error) {
	start := time.Now()
	var val string
	err := retry.Do(ctx, func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		v, err := s.client.Get(opCtx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return retry.Unrecoverable(merr.WrapErrKeyNotFound(key))
			}
			return merr.WrapErrStoreUnavailable(err)
		}
		val = v
		return nil
	}, retry.Attempts(3), retry.Sleep(50*time.Millisecond))
	s.observe("get", start, err)
	return val, err
}

// del 删除一组键。键不存在不视为错误。
func (s *Store) del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := retry.Do(ctx, func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		if err := s.client.Del(opCtx, keys...).Err(); err != nil {
			return merr.WrapErrStoreUnavailable(err)
		}
		return nil
	}, retry.Attempts(3), retry.Sleep(50*time.Millisecond))
	s.observe("delete", start, err)
	return err
}

// scanKeys 按模式枚举键。
func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	var keys []string

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	iter := s.client.Scan(opCtx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(opCtx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		err = merr.WrapErrStoreUnavailable(err)
		s.observe("list", start, err)
		return nil, err
	}

	s.observe("list", start, nil)
	return keys, nil
}

func (s *Store) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "fail"
	}
	metrics.StoreOpLatency.WithLabelValues(op, status).
		Observe(float64(time.Since(start).Milliseconds()))
}
