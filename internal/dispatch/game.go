package dispatch

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/tabletop-garden-go/internal/gamecode"
	"github.com/lk2023060901/tabletop-garden-go/internal/model"
	"github.com/lk2023060901/tabletop-garden-go/internal/registry"
	"github.com/lk2023060901/tabletop-garden-go/pkg/log"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

// handleGameCreate 创建一个新的游戏会话，创建者固定为整局的 DM。
func (d *Dispatcher) handleGameCreate(ctx context.Context, channel string, conn Conn, msg *Message) error {
	if msg.GameData == nil || msg.UserID == "" {
		return merr.WrapErrMissingField("gameData", "userId")
	}

	now := d.now()
	game := *msg.GameData
	game.ID = gamecode.NewID()
	game.Code = gamecode.NewGameCode()
	game.OwnerID = msg.UserID
	game.DungeonMasterID = msg.UserID
	game.CreatedAt = now.UTC().Format(timeLayout)
	game.LastModified = game.CreatedAt
	if game.Players == nil {
		game.Players = []model.Player{}
	}
	if game.Enemies == nil {
		game.Enemies = []model.Enemy{}
	}
	if game.Terrain == nil {
		game.Terrain = []model.Terrain{}
	}
	for i := range game.Players {
		if game.Players[i].ID == "" {
			game.Players[i].ID = gamecode.NewID()
		}
		game.Players[i].LastSeen = now.UnixMilli()
	}

	if err := d.store.PutGame(ctx, &game); err != nil {
		return err
	}

	d.register(channel, registry.SessionGame, game.Code, msg.UserID, conn)
	return conn.Send(gameCreatedReply{Type: ReplyGameCreated, Game: &game})
}

// handleGameJoin 加入已存在的游戏。
// 同一用户的玩家已在快照中时视为重连：重新注册连接并回放快照，不追加玩家、不广播。
func (d *Dispatcher) handleGameJoin(ctx context.Context, channel string, conn Conn, msg *Message) error {
	if msg.GameCode == "" || msg.UserID == "" {
		return merr.WrapErrMissingField("gameCode", "userId")
	}

	game, err := d.store.GetGame(ctx, msg.GameCode)
	if err != nil {
		return err
	}

	now := d.now()

	if existing := game.FindPlayerByUser(msg.UserID); existing != nil {
		existing.LastSeen = now.UnixMilli()
		if err := d.store.PutGame(ctx, game); err != nil {
			return err
		}
		d.register(channel, registry.SessionGame, game.Code, msg.UserID, conn)
		return conn.Send(gameJoinedReply{
			Type:            ReplyGameJoined,
			Game:            game,
			IsDungeonMaster: game.IsDungeonMaster(msg.UserID),
			CurrentPlayerID: existing.ID,
		})
	}

	player := model.Player{
		ID:          gamecode.NewID(),
		CharacterID: msg.CharacterID,
		Name:        "Player",
		Position:    model.DefaultPlayerPosition,
		IsActive:    true,
		UserID:      msg.UserID,
		LastSeen:    now.UnixMilli(),
	}
	if msg.User != nil {
		if msg.User.Name != "" {
			player.Name = msg.User.Name
		}
		player.UserEmail = msg.User.Email
		player.UserName = msg.User.Name
	}

	game.Players = append(game.Players, player)
	game.Touch(now)

	if err := d.store.PutGame(ctx, game); err != nil {
		return err
	}

	d.register(channel, registry.SessionGame, game.Code, msg.UserID, conn)
	if err := conn.Send(gameJoinedReply{
		Type:            ReplyGameJoined,
		Game:            game,
		IsDungeonMaster: game.IsDungeonMaster(msg.UserID),
		CurrentPlayerID: player.ID,
	}); err != nil {
		return err
	}

	d.broadcast(registry.SessionGame, game.Code,
		gameEvent{Type: ReplyPlayerJoined, Game: game}, msg.UserID)
	return nil
}

// handleGameLeave 将玩家移出游戏。操作幂等，重复离开仍回复成功。
// playerId 字段沿用线上协议，语义为用户 ID。
func (d *Dispatcher) handleGameLeave(ctx context.Context, channel string, conn Conn, msg *Message) error {
	if msg.GameCode == "" || msg.PlayerID == "" {
		return merr.WrapErrMissingField("gameCode", "playerId")
	}

	d.unregister(channel, conn)

	game, err := d.store.GetGame(ctx, msg.GameCode)
	if err != nil {
		if errors.Is(err, merr.ErrSessionNotFound) {
			return conn.Send(leftGameReply{Type: ReplyLeftGame})
		}
		return err
	}

	if game.RemovePlayerByUser(msg.PlayerID) {
		game.Touch(d.now())
		if err := d.store.PutGame(ctx, game); err != nil {
			return err
		}
		d.broadcast(registry.SessionGame, game.Code,
			gameEvent{Type: ReplyPlayerLeft, Game: game}, msg.PlayerID)
	}

	return conn.Send(leftGameReply{Type: ReplyLeftGame})
}

// handleGameHeartbeat 只刷新玩家的 lastSeen。心跳从不回复，失败只记日志。
func (d *Dispatcher) handleGameHeartbeat(ctx context.Context, msg *Message) error {
	if msg.GameCode == "" || msg.UserID == "" {
		return nil
	}

	game, err := d.store.GetGame(ctx, msg.GameCode)
	if err != nil {
		log.Ctx(ctx).RatedDebug(10, "heartbeat for unknown game",
			zap.String("game", msg.GameCode))
		return nil
	}

	player := game.FindPlayerByUser(msg.UserID)
	if player == nil {
		return nil
	}
	player.LastSeen = d.now().UnixMilli()

	if err := d.store.PutGame(ctx, game); err != nil {
		log.Ctx(ctx).Warn("persist heartbeat failed",
			zap.String("game", msg.GameCode),
			zap.Error(err))
	}
	return nil
}

// handlePlayerMove 更新玩家坐标。地图不做占位唯一性约束，重叠合法。
func (d *Dispatcher) handlePlayerMove(ctx context.Context, conn Conn, msg *Message) error {
	if msg.GameCode == "" || msg.PlayerID == "" || msg.Position == nil {
		return merr.WrapErrMissingField("gameCode", "playerId", "position")
	}

	game, err := d.store.GetGame(ctx, msg.GameCode)
	if err != nil {
		return err
	}

	player := game.FindPlayerByUser(msg.PlayerID)
	if player == nil {
		return merr.WrapErrPlayerNotFound(msg.GameCode, msg.PlayerID)
	}
	player.Position = *msg.Position
	player.LastSeen = d.now().UnixMilli()
	game.Touch(d.now())

	if err := d.store.PutGame(ctx, game); err != nil {
		return err
	}

	event := gameEvent{
		Type:     ReplyPlayerMoved,
		PlayerID: msg.PlayerID,
		Position: msg.Position,
		Game:     game,
	}
	if err := conn.Send(event); err != nil {
		return err
	}
	d.broadcast(registry.SessionGame, game.Code, event, msg.PlayerID)
	return nil
}

// handleEnemyAdd 追加敌人。仅 DM 可操作；事件广播给包括 DM 在内的所有连接。
func (d *Dispatcher) handleEnemyAdd(ctx context.Context, msg *Message) error {
	if msg.GameCode == "" || msg.Enemy == nil || msg.UserID == "" {
		return merr.WrapErrMissingField("gameCode", "enemy", "userId")
	}

	game, err := d.loadGameAsController(ctx, msg.GameCode, msg.UserID)
	if err != nil {
		return err
	}

	enemy := *msg.Enemy
	if enemy.ID == "" {
		enemy.ID = gamecode.NewID()
	}
	game.Enemies = append(game.Enemies, enemy)
	game.Touch(d.now())

	if err := d.store.PutGame(ctx, game); err != nil {
		return err
	}

	d.broadcast(registry.SessionGame, game.Code,
		gameEvent{Type: ReplyEnemyAdded, Enemy: &enemy, Game: game})
	return nil
}

// handleEnemyMove 更新敌人坐标。仅 DM 可操作。
func (d *Dispatcher) handleEnemyMove(ctx context.Context, msg *Message) error {
	if msg.GameCode == "" || msg.Enemy == nil || msg.Enemy.ID == "" || msg.Position == nil || msg.UserID == "" {
		return merr.WrapErrMissingField("gameCode", "enemy", "position", "userId")
	}

	game, err := d.loadGameAsController(ctx, msg.GameCode, msg.UserID)
	if err != nil {
		return err
	}

	enemy := game.FindEnemy(msg.Enemy.ID)
	if enemy == nil {
		return merr.WrapErrEnemyNotFound(msg.GameCode, msg.Enemy.ID)
	}
	enemy.Position = *msg.Position
	game.Touch(d.now())

	if err := d.store.PutGame(ctx, game); err != nil {
		return err
	}

	d.broadcast(registry.SessionGame, game.Code, gameEvent{
		Type:     ReplyEnemyMoved,
		EnemyID:  enemy.ID,
		Position: msg.Position,
		Game:     game,
	})
	return nil
}

// handleEnemyRemove 移除敌人。仅 DM 可操作。
func (d *Dispatcher) handleEnemyRemove(ctx context.Context, msg *Message) error {
	enemyID := msg.EnemyID
	if enemyID == "" && msg.Enemy != nil {
		enemyID = msg.Enemy.ID
	}
	if msg.GameCode == "" || enemyID == "" || msg.UserID == "" {
		return merr.WrapErrMissingField("gameCode", "enemyId", "userId")
	}

	game, err := d.loadGameAsController(ctx, msg.GameCode, msg.UserID)
	if err != nil {
		return err
	}

	if !game.RemoveEnemy(enemyID) {
		return merr.WrapErrEnemyNotFound(msg.GameCode, enemyID)
	}
	game.Touch(d.now())

	if err := d.store.PutGame(ctx, game); err != nil {
		return err
	}

	d.broadcast(registry.SessionGame, game.Code,
		gameEvent{Type: ReplyEnemyRemoved, EnemyID: enemyID, Game: game})
	return nil
}

// handleTerrainAdd 追加地形。仅 DM 可操作。
func (d *Dispatcher) handleTerrainAdd(ctx context.Context, msg *Message) error {
	if msg.GameCode == "" || msg.Terrain == nil || msg.UserID == "" {
		return merr.WrapErrMissingField("gameCode", "terrain", "userId")
	}

	game, err := d.loadGameAsController(ctx, msg.GameCode, msg.UserID)
	if err != nil {
		return err
	}

	terrain := *msg.Terrain
	if terrain.ID == "" {
		terrain.ID = gamecode.NewID()
	}
	game.Terrain = append(game.Terrain, terrain)
	game.Touch(d.now())

	if err := d.store.PutGame(ctx, game); err != nil {
		return err
	}

	d.broadcast(registry.SessionGame, game.Code,
		gameEvent{Type: ReplyTerrainAdded, Terrain: &terrain, Game: game})
	return nil
}

// handleTerrainRemove 移除地形。仅 DM 可操作。
func (d *Dispatcher) handleTerrainRemove(ctx context.Context, msg *Message) error {
	terrainID := msg.TerrainID
	if terrainID == "" && msg.Terrain != nil {
		terrainID = msg.Terrain.ID
	}
	if msg.GameCode == "" || terrainID == "" || msg.UserID == "" {
		return merr.WrapErrMissingField("gameCode", "terrainId", "userId")
	}

	game, err := d.loadGameAsController(ctx, msg.GameCode, msg.UserID)
	if err != nil {
		return err
	}

	if !game.RemoveTerrain(terrainID) {
		return merr.WrapErrTerrainNotFound(msg.GameCode, terrainID)
	}
	game.Touch(d.now())

	if err := d.store.PutGame(ctx, game); err != nil {
		return err
	}

	d.broadcast(registry.SessionGame, game.Code,
		gameEvent{Type: ReplyTerrainRemoved, TerrainID: terrainID, Game: game})
	return nil
}

// loadGameAsController 读取游戏并校验调用者是否为 DM。
// 校验失败时存储保持原样。
func (d *Dispatcher) loadGameAsController(ctx context.Context, code, userID string) (*model.Game, error) {
	game, err := d.store.GetGame(ctx, code)
	if err != nil {
		return nil, err
	}
	if !game.IsDungeonMaster(userID) {
		return nil, merr.WrapErrNotController(code, userID)
	}
	return game, nil
}
