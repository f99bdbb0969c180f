package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/tabletop-garden-go/internal/model"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

// GetUser 读取用户档案，不存在时返回 ErrUserNotFound。
func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	if err := s.getJSON(ctx, s.userKey(userID), &u); err != nil {
		if errors.Is(err, merr.ErrKeyNotFound) {
			return nil, merr.WrapErrUserNotFound(userID)
		}
		return nil, err
	}
	return &u, nil
}

// PutUser 写入用户档案。用户档案为持久键。
func (s *Store) PutUser(ctx context.Context, u *model.User) error {
	return s.setJSON(ctx, s.userKey(u.ID), u, noExpiry)
}

// ListUsers 枚举所有用户档案。
func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	keys, err := s.scanKeys(ctx, s.userScanPattern())
	if err != nil {
		return nil, err
	}

	users := make([]*model.User, 0, len(keys))
	for _, key := range keys {
		var u model.User
		if err := s.getJSON(ctx, key, &u); err != nil {
			if errors.Is(err, merr.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, &u)
	}
	return users, nil
}

// GetCharacter 读取角色卡，不存在时返回 ErrCharacterNotFound。
func (s *Store) GetCharacter(ctx context.Context, characterID string) (*model.CharacterData, error) {
	var c model.CharacterData
	if err := s.getJSON(ctx, s.characterKey(characterID), &c); err != nil {
		if errors.Is(err, merr.ErrKeyNotFound) {
			return nil, merr.WrapErrCharacterNotFound(characterID)
		}
		return nil, err
	}
	return &c, nil
}

// PutCharacter 写入角色卡。角色卡为持久键。
func (s *Store) PutCharacter(ctx context.Context, c *model.CharacterData) error {
	return s.setJSON(ctx, s.characterKey(c.ID), c, noExpiry)
}

// DeleteCharacter 删除角色卡。键不存在不视为错误。
func (s *Store) DeleteCharacter(ctx context.Context, characterID string) error {
	return s.del(ctx, s.characterKey(characterID))
}
