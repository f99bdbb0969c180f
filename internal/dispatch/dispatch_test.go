package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/tabletop-garden-go/internal/model"
	"github.com/lk2023060901/tabletop-garden-go/internal/registry"
	"github.com/lk2023060901/tabletop-garden-go/internal/store"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

type fakeConn struct {
	id uint64

	mu   sync.Mutex
	sent []any
}

func (f *fakeConn) ID() uint64 { return f.id }

func (f *fakeConn) Send(msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) last() any {
	msgs := f.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (f *fakeConn) countType(t string) int {
	n := 0
	for _, m := range f.messages() {
		switch v := m.(type) {
		case partyEvent:
			if v.Type == t {
				n++
			}
		case gameEvent:
			if v.Type == t {
				n++
			}
		case gameCreatedReply:
			if v.Type == t {
				n++
			}
		case gameJoinedReply:
			if v.Type == t {
				n++
			}
		case leftGameReply:
			if v.Type == t {
				n++
			}
		case errorReply:
			if v.Type == t {
				n++
			}
		}
	}
	return n
}

func setupDispatcher(t *testing.T) (*miniredis.Miniredis, *Dispatcher) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewFromClient(client, "test", time.Second, time.Hour)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return mr, New(s, registry.New(), nil)
}

func testCharacter(id string) *model.CharacterData {
	return &model.CharacterData{
		ID:   id,
		Name: "Character " + id,
		HitPoints: model.HitPoints{
			Maximum: 30,
			Current: 30,
		},
	}
}

func createParty(t *testing.T, d *Dispatcher, conn *fakeConn, characterID string) *model.Party {
	t.Helper()

	err := d.Handle(context.Background(), ChannelWS, conn, &Message{
		Type:          KindPartyCreate,
		CharacterData: testCharacter(characterID),
	})
	require.NoError(t, err)

	reply, ok := conn.last().(partyEvent)
	require.True(t, ok)
	require.Equal(t, ReplyPartyCreated, reply.Type)
	require.NotNil(t, reply.PartyData)
	require.Len(t, reply.PartyData.Code, 5)
	return reply.PartyData
}

func TestPartyCreateJoinUpdateFlow(t *testing.T) {
	_, d := setupDispatcher(t)
	ctx := context.Background()

	connA := &fakeConn{id: 1}
	connB := &fakeConn{id: 2}

	party := createParty(t, d, connA, "char-a")

	// B 加入后：B 收到回复，A 收到广播。
	require.NoError(t, d.Handle(ctx, ChannelWS, connB, &Message{
		Type:          KindPartyJoin,
		PartyCode:     party.Code,
		CharacterData: testCharacter("char-b"),
	}))
	assert.Equal(t, 1, connB.countType(ReplyMemberJoined))
	assert.Equal(t, 1, connA.countType(ReplyMemberJoined))

	// B 修改生命值：B 收到回复，A 收到广播，快照更新。
	updated := testCharacter("char-b")
	updated.HitPoints.Current = 12
	require.NoError(t, d.Handle(ctx, ChannelWS, connB, &Message{
		Type:          KindPartyUpdate,
		PartyCode:     party.Code,
		CharacterData: updated,
	}))
	assert.Equal(t, 1, connB.countType(ReplyMemberUpdated))
	assert.Equal(t, 1, connA.countType(ReplyMemberUpdated))

	got, err := d.store.GetParty(ctx, party.Code)
	require.NoError(t, err)
	member := got.FindMember("char-b")
	require.NotNil(t, member)
	assert.Equal(t, 12, member.CharacterData.HitPoints.Current)
	assert.GreaterOrEqual(t, got.LastUpdated, party.LastUpdated)
}

func TestJoinUnknownPartyFails(t *testing.T) {
	_, d := setupDispatcher(t)

	err := d.Handle(context.Background(), ChannelWS, &fakeConn{id: 1}, &Message{
		Type:          KindPartyJoin,
		PartyCode:     "99999",
		CharacterData: testCharacter("char-a"),
	})
	assert.ErrorIs(t, err, merr.ErrSessionNotFound)
}

func TestPartyRejoinDoesNotDuplicate(t *testing.T) {
	_, d := setupDispatcher(t)
	ctx := context.Background()

	connA := &fakeConn{id: 1}
	party := createParty(t, d, connA, "char-a")

	// 同一角色带新连接重入（断线重连）。
	connA2 := &fakeConn{id: 3}
	require.NoError(t, d.Handle(ctx, ChannelWS, connA2, &Message{
		Type:          KindPartyJoin,
		PartyCode:     party.Code,
		CharacterData: testCharacter("char-a"),
	}))

	got, err := d.store.GetParty(ctx, party.Code)
	require.NoError(t, err)
	assert.Len(t, got.Members, 1)

	// 重连只回放快照，不向旧连接广播。
	assert.Equal(t, 1, connA2.countType(ReplyMemberJoined))
	assert.Equal(t, 0, connA.countType(ReplyMemberJoined))
}

func TestPartyLeaveIsIdempotent(t *testing.T) {
	mr, d := setupDispatcher(t)
	ctx := context.Background()

	connA := &fakeConn{id: 1}
	party := createParty(t, d, connA, "char-a")

	leave := &Message{Type: KindPartyLeave, PartyCode: party.Code, CharacterID: "char-a"}
	require.NoError(t, d.Handle(ctx, ChannelWS, connA, leave))
	require.NoError(t, d.Handle(ctx, ChannelWS, connA, leave))
	assert.Equal(t, 2, connA.countType(ReplyLeftParty))

	// 最后一名成员离开后快照进入宽限期而非删除。
	assert.Equal(t, time.Hour, mr.TTL("test:party:"+party.Code))
}

func TestPartyLeaveBroadcastsToRemaining(t *testing.T) {
	_, d := setupDispatcher(t)
	ctx := context.Background()

	connA := &fakeConn{id: 1}
	connB := &fakeConn{id: 2}
	party := createParty(t, d, connA, "char-a")
	require.NoError(t, d.Handle(ctx, ChannelWS, connB, &Message{
		Type:          KindPartyJoin,
		PartyCode:     party.Code,
		CharacterData: testCharacter("char-b"),
	}))

	require.NoError(t, d.Handle(ctx, ChannelWS, connB, &Message{
		Type:        KindPartyLeave,
		PartyCode:   party.Code,
		CharacterID: "char-b",
	}))

	assert.Equal(t, 1, connA.countType(ReplyMemberLeft))
	assert.Equal(t, 1, connB.countType(ReplyLeftParty))
	assert.Equal(t, 0, connB.countType(ReplyMemberLeft))
}

func TestHeartbeatNeverReplies(t *testing.T) {
	_, d := setupDispatcher(t)
	ctx := context.Background()

	conn := &fakeConn{id: 1}

	// 未知小队的心跳静默忽略。
	require.NoError(t, d.Handle(ctx, ChannelWS, conn, &Message{
		Type:        KindPartyHeartbeat,
		PartyCode:   "99999",
		CharacterID: "char-a",
	}))
	assert.Empty(t, conn.messages())

	// 正常心跳只刷新 lastSeen，同样无回复。
	party := createParty(t, d, conn, "char-a")
	before := party.Members[0].LastSeen
	sent := len(conn.messages())

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, d.Handle(ctx, ChannelWS, conn, &Message{
		Type:        KindPartyHeartbeat,
		PartyCode:   party.Code,
		CharacterID: "char-a",
	}))
	assert.Len(t, conn.messages(), sent)

	got, err := d.store.GetParty(ctx, party.Code)
	require.NoError(t, err)
	assert.Greater(t, got.Members[0].LastSeen, before)
	// 心跳不算会话级修改。
	assert.Equal(t, party.LastUpdated, got.LastUpdated)
}

func TestRollInitiativeBroadcastsRoll(t *testing.T) {
	_, d := setupDispatcher(t)
	ctx := context.Background()

	connA := &fakeConn{id: 1}
	connB := &fakeConn{id: 2}
	party := createParty(t, d, connA, "char-a")
	require.NoError(t, d.Handle(ctx, ChannelWS, connB, &Message{
		Type:          KindPartyJoin,
		PartyCode:     party.Code,
		CharacterData: testCharacter("char-b"),
	}))

	rolled := testCharacter("char-b")
	rolled.InitiativeRoll = &model.InitiativeRoll{Total: 18, Roll: 15, Modifier: 3, Timestamp: time.Now().UnixMilli()}
	require.NoError(t, d.Handle(ctx, ChannelWS, connB, &Message{
		Type:      KindRollInitiative,
		PartyCode: party.Code,
		PartyMember: &model.PartyMember{
			CharacterID:   "char-b",
			CharacterData: *rolled,
		},
	}))

	assert.Equal(t, 1, connA.countType(ReplyInitiativeRolled))
	for _, m := range connA.messages() {
		if ev, ok := m.(partyEvent); ok && ev.Type == ReplyInitiativeRolled {
			require.NotNil(t, ev.InitiativeRoll)
			assert.Equal(t, 18, ev.InitiativeRoll.Total)
			assert.Equal(t, "char-b", ev.CharacterID)
		}
	}
}

func createGame(t *testing.T, d *Dispatcher, conn *fakeConn, userID string) *model.Game {
	t.Helper()

	err := d.Handle(context.Background(), ChannelWS, conn, &Message{
		Type:     KindGameCreate,
		UserID:   userID,
		GameData: &model.Game{Name: "Skirmish", MapSize: model.MapSize{Width: 50, Height: 50}},
	})
	require.NoError(t, err)

	reply, ok := conn.last().(gameCreatedReply)
	require.True(t, ok)
	require.NotNil(t, reply.Game)
	require.Len(t, reply.Game.Code, 6)
	require.Equal(t, userID, reply.Game.DungeonMasterID)
	return reply.Game
}

func joinGame(t *testing.T, d *Dispatcher, conn *fakeConn, code, userID string) gameJoinedReply {
	t.Helper()

	err := d.Handle(context.Background(), ChannelWS, conn, &Message{
		Type:     KindGameJoin,
		GameCode: code,
		UserID:   userID,
		User:     &model.User{ID: userID, Name: "Player " + userID},
	})
	require.NoError(t, err)

	reply, ok := conn.last().(gameJoinedReply)
	require.True(t, ok)
	return reply
}

func TestGameCreateAndEnemyFlow(t *testing.T) {
	_, d := setupDispatcher(t)
	ctx := context.Background()

	dm := &fakeConn{id: 1}
	player := &fakeConn{id: 2}

	game := createGame(t, d, dm, "user-dm")
	joined := joinGame(t, d, player, game.Code, "user-p1")
	assert.False(t, joined.IsDungeonMaster)
	assert.Equal(t, model.DefaultPlayerPosition, joined.Game.Players[0].Position)

	// DM 添加敌人：包括 DM 在内的所有连接都收到广播。
	require.NoError(t, d.Handle(ctx, ChannelWS, dm, &Message{
		Type:     KindEnemyAdd,
		GameCode: game.Code,
		UserID:   "user-dm",
		Enemy: &model.Enemy{
			Name:     "Probe Droid",
			Type:     "droid",
			Position: model.MapPosition{X: 10, Y: 10},
			Health:   model.Health{Current: 20, Maximum: 20},
			IsActive: true,
		},
	}))
	assert.Equal(t, 1, dm.countType(ReplyEnemyAdded))
	assert.Equal(t, 1, player.countType(ReplyEnemyAdded))

	got, err := d.store.GetGame(ctx, game.Code)
	require.NoError(t, err)
	require.Len(t, got.Enemies, 1)
	enemyID := got.Enemies[0].ID
	require.NotEmpty(t, enemyID)

	// DM 移动敌人。
	require.NoError(t, d.Handle(ctx, ChannelWS, dm, &Message{
		Type:     KindEnemyMove,
		GameCode: game.Code,
		UserID:   "user-dm",
		Enemy:    &model.Enemy{ID: enemyID},
		Position: &model.MapPosition{X: 12, Y: 10},
	}))

	got, err = d.store.GetGame(ctx, game.Code)
	require.NoError(t, err)
	assert.Equal(t, model.MapPosition{X: 12, Y: 10}, got.Enemies[0].Position)
	assert.Equal(t, 1, player.countType(ReplyEnemyMoved))

	// DM 移除敌人。
	require.NoError(t, d.Handle(ctx, ChannelWS, dm, &Message{
		Type:     KindEnemyRemove,
		GameCode: game.Code,
		UserID:   "user-dm",
		EnemyID:  enemyID,
	}))
	got, err = d.store.GetGame(ctx, game.Code)
	require.NoError(t, err)
	assert.Empty(t, got.Enemies)
}

func TestControllerOnlyKindsRejectNonDM(t *testing.T) {
	_, d := setupDispatcher(t)
	ctx := context.Background()

	dm := &fakeConn{id: 1}
	player := &fakeConn{id: 2}
	game := createGame(t, d, dm, "user-dm")
	joinGame(t, d, player, game.Code, "user-p1")

	err := d.Handle(ctx, ChannelWS, player, &Message{
		Type:     KindEnemyAdd,
		GameCode: game.Code,
		UserID:   "user-p1",
		Enemy:    &model.Enemy{Name: "Rancor", Type: "beast"},
	})
	assert.ErrorIs(t, err, merr.ErrNotController)

	// 存储保持原样。
	got, getErr := d.store.GetGame(ctx, game.Code)
	require.NoError(t, getErr)
	assert.Empty(t, got.Enemies)
}

func TestPlayerMoveExcludesSender(t *testing.T) {
	_, d := setupDispatcher(t)
	ctx := context.Background()

	dm := &fakeConn{id: 1}
	player := &fakeConn{id: 2}
	game := createGame(t, d, dm, "user-dm")
	joinGame(t, d, player, game.Code, "user-p1")

	require.NoError(t, d.Handle(ctx, ChannelWS, player, &Message{
		Type:     KindPlayerMove,
		GameCode: game.Code,
		PlayerID: "user-p1",
		Position: &model.MapPosition{X: 30, Y: 28},
	}))

	// 发送方收到一次直接回复，DM 收到一次广播，互不重复。
	assert.Equal(t, 1, player.countType(ReplyPlayerMoved))
	assert.Equal(t, 1, dm.countType(ReplyPlayerMoved))

	got, err := d.store.GetGame(ctx, game.Code)
	require.NoError(t, err)
	assert.Equal(t, model.MapPosition{X: 30, Y: 28}, got.Players[0].Position)
}

func TestGameRejoinDoesNotDuplicatePlayer(t *testing.T) {
	_, d := setupDispatcher(t)

	dm := &fakeConn{id: 1}
	game := createGame(t, d, dm, "user-dm")

	player := &fakeConn{id: 2}
	first := joinGame(t, d, player, game.Code, "user-p1")

	reconnected := &fakeConn{id: 3}
	second := joinGame(t, d, reconnected, game.Code, "user-p1")

	assert.Equal(t, first.CurrentPlayerID, second.CurrentPlayerID)
	assert.Len(t, second.Game.Players, 1)
}

func TestGameLeaveIsIdempotent(t *testing.T) {
	mr, d := setupDispatcher(t)
	ctx := context.Background()

	dm := &fakeConn{id: 1}
	game := createGame(t, d, dm, "user-dm")
	player := &fakeConn{id: 2}
	joinGame(t, d, player, game.Code, "user-p1")

	leave := &Message{Type: KindGameLeave, GameCode: game.Code, PlayerID: "user-p1"}
	require.NoError(t, d.Handle(ctx, ChannelWS, player, leave))
	require.NoError(t, d.Handle(ctx, ChannelWS, player, leave))
	assert.Equal(t, 2, player.countType(ReplyLeftGame))
	assert.Equal(t, 1, dm.countType(ReplyPlayerLeft))

	// 清空玩家后进入宽限期。
	require.NoError(t, d.Handle(ctx, ChannelWS, dm, &Message{
		Type: KindGameLeave, GameCode: game.Code, PlayerID: "user-dm",
	}))
	assert.Equal(t, time.Hour, mr.TTL("test:game:"+game.Code))
}

func TestUnknownKindReturnsError(t *testing.T) {
	_, d := setupDispatcher(t)

	err := d.Handle(context.Background(), ChannelWS, &fakeConn{id: 1}, &Message{Type: "warp_drive"})
	assert.ErrorIs(t, err, merr.ErrUnknownKind)
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.ErrorIs(t, err, merr.ErrBadMessage)

	_, err = Decode([]byte(`{"partyCode":"12345"}`))
	assert.ErrorIs(t, err, merr.ErrMissingField)
}

func TestIdentityLedgerFlow(t *testing.T) {
	_, d := setupDispatcher(t)
	ctx := context.Background()

	conn := &fakeConn{id: 1}

	// 登录建档。
	require.NoError(t, d.Handle(ctx, ChannelWS, conn, &Message{
		Type: KindUserLogin,
		User: &model.User{ID: "user-1", Email: "p@example.com", Name: "Player"},
	}))
	loggedIn, ok := conn.last().(userLoggedInReply)
	require.True(t, ok)
	assert.Equal(t, "user-1", loggedIn.User.ID)

	// 保存角色并按用户取回。
	require.NoError(t, d.Handle(ctx, ChannelWS, conn, &Message{
		Type:          KindCharacterSave,
		UserID:        "user-1",
		CharacterData: testCharacter("char-1"),
	}))
	require.NoError(t, d.Handle(ctx, ChannelWS, conn, &Message{
		Type:   KindGetUserCharacters,
		UserID: "user-1",
	}))
	chars, ok := conn.last().(userCharactersReply)
	require.True(t, ok)
	require.Len(t, chars.Characters, 1)
	assert.Equal(t, "char-1", chars.Characters[0].ID)

	// 删除后列表回到空，未知用户同样得到空列表。
	require.NoError(t, d.Handle(ctx, ChannelWS, conn, &Message{
		Type:        KindCharacterDelete,
		UserID:      "user-1",
		CharacterID: "char-1",
	}))
	require.NoError(t, d.Handle(ctx, ChannelWS, conn, &Message{
		Type:   KindGetUserCharacters,
		UserID: "user-1",
	}))
	chars, ok = conn.last().(userCharactersReply)
	require.True(t, ok)
	assert.Empty(t, chars.Characters)

	err := d.Handle(ctx, ChannelWS, conn, &Message{Type: KindGetCharacter, CharacterID: "char-1"})
	assert.ErrorIs(t, err, merr.ErrCharacterNotFound)
}

func TestGetGamesListsCanonicalOnly(t *testing.T) {
	_, d := setupDispatcher(t)
	ctx := context.Background()

	dm := &fakeConn{id: 1}
	createGame(t, d, dm, "user-dm")
	createGame(t, d, dm, "user-dm2")

	conn := &fakeConn{id: 9}
	require.NoError(t, d.Handle(ctx, ChannelWS, conn, &Message{Type: KindGetGames}))
	list, ok := conn.last().(gamesListReply)
	require.True(t, ok)
	assert.Len(t, list.Games, 2)
}
