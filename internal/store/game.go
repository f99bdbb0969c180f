package store

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/tabletop-garden-go/internal/gamecode"
	"github.com/lk2023060901/tabletop-garden-go/internal/model"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

// GetGame 读取游戏快照，codeOrID 可以是 6 位游戏码或游戏 UUID。
// UUID 先经索引解析为游戏码，再读取规范键。
func (s *Store) GetGame(ctx context.Context, codeOrID string) (*model.Game, error) {
	code := codeOrID
	if !gamecode.IsGameCode(codeOrID) {
		resolved, err := s.getString(ctx, s.gameIDKey(codeOrID))
		if err != nil {
			if errors.Is(err, merr.ErrKeyNotFound) {
				return nil, merr.WrapErrSessionNotFound(codeOrID)
			}
			return nil, err
		}
		code = resolved
	}

	var g model.Game
	if err := s.getJSON(ctx, s.gameKey(code), &g); err != nil {
		if errors.Is(err, merr.ErrKeyNotFound) {
			return nil, merr.WrapErrSessionNotFound(code)
		}
		return nil, err
	}
	return &g, nil
}

// PutGame 写入游戏快照。
// 规范键为游戏码，同时维护 UUID 索引；两个键的 TTL 保持一致。
func (s *Store) PutGame(ctx context.Context, g *model.Game) error {
	ttl := noExpiry
	if len(g.Players) == 0 {
		ttl = s.emptyTTL
	}

	if err := s.setJSON(ctx, s.gameKey(g.Code), g, ttl); err != nil {
		return err
	}
	return s.setString(ctx, s.gameIDKey(g.ID), g.Code, ttl)
}

// DeleteGame 删除游戏快照及其 UUID 索引。
func (s *Store) DeleteGame(ctx context.Context, g *model.Game) error {
	return s.del(ctx, s.gameKey(g.Code), s.gameIDKey(g.ID))
}

// ListGames 枚举当前所有游戏快照。索引键不计入结果。
func (s *Store) ListGames(ctx context.Context) ([]*model.Game, error) {
	keys, err := s.scanKeys(ctx, s.gameScanPattern())
	if err != nil {
		return nil, err
	}

	games := make([]*model.Game, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, s.gameIDScanPrefix()) {
			continue
		}
		var g model.Game
		if err := s.getJSON(ctx, key, &g); err != nil {
			if errors.Is(err, merr.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		games = append(games, &g)
	}
	return games, nil
}
