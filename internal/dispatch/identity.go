package dispatch

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/internal/model"
	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

// handleUserLogin 写入或更新用户档案。台账消息只回复发送方，从不广播。
func (d *Dispatcher) handleUserLogin(ctx context.Context, conn Conn, msg *Message) error {
	if msg.User == nil || msg.User.ID == "" {
		return merr.WrapErrMissingField("user")
	}

	now := d.now().UnixMilli()

	user, err := d.store.GetUser(ctx, msg.User.ID)
	switch {
	case err == nil:
		user.Email = msg.User.Email
		user.Name = msg.User.Name
		user.Picture = msg.User.Picture
		user.LastSeen = now
	case errors.Is(err, merr.ErrUserNotFound):
		user = &model.User{
			ID:                msg.User.ID,
			Email:             msg.User.Email,
			Name:              msg.User.Name,
			Picture:           msg.User.Picture,
			LastSeen:          now,
			GamesPlayed:       []string{},
			CharactersCreated: []string{},
		}
	default:
		return err
	}

	if err := d.store.PutUser(ctx, user); err != nil {
		return err
	}
	return conn.Send(userLoggedInReply{Type: ReplyUserLoggedIn, User: user})
}

// handleCharacterSave 持久化角色卡并把角色记入用户名下的索引。
func (d *Dispatcher) handleCharacterSave(ctx context.Context, conn Conn, msg *Message) error {
	if msg.CharacterData == nil || msg.CharacterData.ID == "" || msg.UserID == "" {
		return merr.WrapErrMissingField("characterData", "userId")
	}

	user, err := d.store.GetUser(ctx, msg.UserID)
	if err != nil {
		if !errors.Is(err, merr.ErrUserNotFound) {
			return err
		}
		// 未登录过的用户直接建立骨架档案。
		user = &model.User{
			ID:                msg.UserID,
			LastSeen:          d.now().UnixMilli(),
			GamesPlayed:       []string{},
			CharactersCreated: []string{},
		}
	}

	user.AddCharacter(msg.CharacterData.ID)
	if err := d.store.PutUser(ctx, user); err != nil {
		return err
	}

	character := *msg.CharacterData
	character.UserID = msg.UserID
	character.LastModified = d.now().UTC().Format(timeLayout)
	if err := d.store.PutCharacter(ctx, &character); err != nil {
		return err
	}

	return conn.Send(characterSavedReply{
		Type:          ReplyCharacterSaved,
		CharacterID:   character.ID,
		CharacterName: character.Name,
	})
}

// handleCharacterDelete 删除角色卡及用户索引。操作幂等。
func (d *Dispatcher) handleCharacterDelete(ctx context.Context, conn Conn, msg *Message) error {
	if msg.CharacterID == "" || msg.UserID == "" {
		return merr.WrapErrMissingField("characterId", "userId")
	}

	user, err := d.store.GetUser(ctx, msg.UserID)
	if err == nil {
		if user.RemoveCharacter(msg.CharacterID) {
			if err := d.store.PutUser(ctx, user); err != nil {
				return err
			}
		}
	} else if !errors.Is(err, merr.ErrUserNotFound) {
		return err
	}

	if err := d.store.DeleteCharacter(ctx, msg.CharacterID); err != nil {
		return err
	}

	return conn.Send(characterDeletedReply{
		Type:        ReplyCharacterDeleted,
		CharacterID: msg.CharacterID,
	})
}

// handleGetCharacter 按 ID 读取角色卡。
func (d *Dispatcher) handleGetCharacter(ctx context.Context, conn Conn, msg *Message) error {
	if msg.CharacterID == "" {
		return merr.WrapErrMissingField("characterId")
	}

	character, err := d.store.GetCharacter(ctx, msg.CharacterID)
	if err != nil {
		return err
	}
	return conn.Send(characterDataReply{Type: ReplyCharacterData, Character: character})
}

// handleGetUserCharacters 枚举用户名下的角色卡。
// 未知用户回复空列表；索引中已失效的角色直接跳过。
func (d *Dispatcher) handleGetUserCharacters(ctx context.Context, conn Conn, msg *Message) error {
	if msg.UserID == "" {
		return merr.WrapErrMissingField("userId")
	}

	user, err := d.store.GetUser(ctx, msg.UserID)
	if err != nil {
		if errors.Is(err, merr.ErrUserNotFound) {
			return conn.Send(userCharactersReply{
				Type:       ReplyUserCharacters,
				Characters: []model.CharacterData{},
			})
		}
		return err
	}

	characters := make([]model.CharacterData, 0, len(user.CharactersCreated))
	for _, id := range user.CharactersCreated {
		c, err := d.store.GetCharacter(ctx, id)
		if err != nil {
			if errors.Is(err, merr.ErrCharacterNotFound) {
				log.Ctx(ctx).RatedDebug(10, "dangling character index entry",
					zap.String("user", msg.UserID),
					zap.String("character", id))
				continue
			}
			return err
		}
		characters = append(characters, *c)
	}

	return conn.Send(userCharactersReply{Type: ReplyUserCharacters, Characters: characters})
}

// handleGetGames 枚举当前所有游戏快照。
func (d *Dispatcher) handleGetGames(ctx context.Context, conn Conn, msg *Message) error {
	games, err := d.store.ListGames(ctx)
	if err != nil {
		return err
	}
	return conn.Send(gamesListReply{Type: ReplyGamesList, Games: games})
}
