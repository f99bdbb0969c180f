package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/lk2023060901/tabletop-garden-go/internal/json"
	"github.com/lk2023060901/tabletop-garden-go/internal/model"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

// GetParty 读取小队快照。
// 会话不存在（从未创建或宽限期后过期）时返回 ErrSessionNotFound。
func (s *Store) GetParty(ctx context.Context, code string) (*model.Party, error) {
	var p model.Party
	if err := s.getJSON(ctx, s.partyKey(code), &p); err != nil {
		if errors.Is(err, merr.ErrKeyNotFound) {
			return nil, merr.WrapErrSessionNotFound(code)
		}
		return nil, err
	}
	return &p, nil
}

// PutParty 写入小队快照。
// 快照中无成员时设置宽限 TTL 而非删除，期间再次写入非空快照会重新转为持久键。
func (s *Store) PutParty(ctx context.Context, p *model.Party) error {
	ttl := noExpiry
	if len(p.Members) == 0 {
		ttl = s.emptyTTL
	}
	return s.setJSON(ctx, s.partyKey(p.Code), p, ttl)
}

// PutPartyGuarded 带乐观并发保护的写入。
// 仅当存储中快照的 lastUpdated 与 expectedLastUpdated 一致时写入成功，
// 否则返回 ErrStoreConflict，由调用方重读后重试。
func (s *Store) PutPartyGuarded(ctx context.Context, p *model.Party, expectedLastUpdated int64) error {
	key := s.partyKey(p.Code)

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return merr.WrapErrStoreUnavailable(err)
		}
		if err == nil {
			var cur model.Party
			if err := json.Unmarshal(data, &cur); err != nil {
				return merr.WrapErrStoreCorrupted(key, err)
			}
			if cur.LastUpdated != expectedLastUpdated {
				return merr.WrapErrStoreConflict(key, expectedLastUpdated, cur.LastUpdated)
			}
		}

		payload, err := json.Marshal(p)
		if err != nil {
			return merr.WrapErrStoreCorrupted(key, err)
		}
		ttl := noExpiry
		if len(p.Members) == 0 {
			ttl = s.emptyTTL
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		if err != nil {
			return merr.WrapErrStoreUnavailable(err)
		}
		return nil
	}

	err := s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// WATCH 观察到并发写入，视为版本冲突。
		return merr.WrapErrStoreConflict(key, expectedLastUpdated, -1)
	}
	return err
}

// DeleteParty 删除小队快照。正常生命周期下由 TTL 回收，删除仅用于管理操作。
func (s *Store) DeleteParty(ctx context.Context, code string) error {
	return s.del(ctx, s.partyKey(code))
}

// ListParties 枚举当前所有小队快照（含宽限期内的空会话）。
func (s *Store) ListParties(ctx context.Context) ([]*model.Party, error) {
	keys, err := s.scanKeys(ctx, s.partyScanPattern())
	if err != nil {
		return nil, err
	}

	parties := make([]*model.Party, 0, len(keys))
	for _, key := range keys {
		var p model.Party
		if err := s.getJSON(ctx, key, &p); err != nil {
			// SCAN 与 GET 之间过期的键直接跳过。
			if errors.Is(err, merr.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		parties = append(parties, &p)
	}
	return parties, nil
}
