package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/tabletop-garden-go/internal/model"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

func setupStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewFromClient(client, "test", time.Second, time.Hour)

	t.Cleanup(func() {
		_ = s.Close()
	})

	return mr, s
}

func newTestParty(code string, memberIDs ...string) *model.Party {
	now := time.Now().UnixMilli()
	p := &model.Party{
		Code:        code,
		CreatedAt:   now,
		LastUpdated: now,
	}
	for _, id := range memberIDs {
		p.Members = append(p.Members, model.PartyMember{
			CharacterID: id,
			CharacterData: model.CharacterData{
				ID:   id,
				Name: "Member " + id,
			},
			LastSeen: now,
		})
	}
	return p
}

func newTestGame(code, id, dmID string) *model.Game {
	now := time.Now().UTC().Format(time.RFC3339)
	return &model.Game{
		ID:              id,
		Name:            "Test Game",
		Code:            code,
		DungeonMasterID: dmID,
		OwnerID:         dmID,
		Players: []model.Player{{
			ID:       "player-1",
			UserID:   dmID,
			Name:     "DM",
			Position: model.DefaultPlayerPosition,
			IsActive: true,
		}},
		MapSize:      model.MapSize{Width: 50, Height: 50},
		CreatedAt:    now,
		LastModified: now,
	}
}

func TestPartyRoundTrip(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	p := newTestParty("12345", "char-1", "char-2")
	require.NoError(t, s.PutParty(ctx, p))

	got, err := s.GetParty(ctx, "12345")
	require.NoError(t, err)
	assert.Equal(t, p.Code, got.Code)
	assert.Len(t, got.Members, 2)
	assert.Equal(t, "char-1", got.Members[0].CharacterID)
	assert.Equal(t, p.LastUpdated, got.LastUpdated)
}

func TestPartyNotFound(t *testing.T) {
	_, s := setupStore(t)

	_, err := s.GetParty(context.Background(), "99999")
	assert.ErrorIs(t, err, merr.ErrSessionNotFound)
}

func TestEmptyPartyExpiresAfterGrace(t *testing.T) {
	mr, s := setupStore(t)
	ctx := context.Background()

	// 非空快照为持久键。
	require.NoError(t, s.PutParty(ctx, newTestParty("12345", "char-1")))
	assert.Equal(t, time.Duration(0), mr.TTL("test:party:12345"))

	// 最后一名成员离开后进入宽限期。
	require.NoError(t, s.PutParty(ctx, newTestParty("12345")))
	assert.Equal(t, time.Hour, mr.TTL("test:party:12345"))

	// 宽限期内重新加入会恢复为持久键。
	require.NoError(t, s.PutParty(ctx, newTestParty("12345", "char-2")))
	assert.Equal(t, time.Duration(0), mr.TTL("test:party:12345"))

	// 再次清空并越过宽限期后，会话彻底消失。
	require.NoError(t, s.PutParty(ctx, newTestParty("12345")))
	mr.FastForward(time.Hour + time.Minute)

	_, err := s.GetParty(ctx, "12345")
	assert.ErrorIs(t, err, merr.ErrSessionNotFound)
}

func TestPutPartyGuarded(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	p := newTestParty("12345", "char-1")
	require.NoError(t, s.PutParty(ctx, p))

	// 版本一致时写入成功。
	updated := newTestParty("12345", "char-1", "char-2")
	updated.CreatedAt = p.CreatedAt
	updated.LastUpdated = p.LastUpdated + 10
	require.NoError(t, s.PutPartyGuarded(ctx, updated, p.LastUpdated))

	// 基于过期版本的写入被拒绝。
	stale := newTestParty("12345", "char-3")
	err := s.PutPartyGuarded(ctx, stale, p.LastUpdated)
	assert.ErrorIs(t, err, merr.ErrStoreConflict)

	got, err := s.GetParty(ctx, "12345")
	require.NoError(t, err)
	assert.Len(t, got.Members, 2)
}

func TestGameDualKeyLookup(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	g := newTestGame("ABC123", "550e8400-e29b-41d4-a716-446655440000", "user-dm")
	require.NoError(t, s.PutGame(ctx, g))

	byCode, err := s.GetGame(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, g.ID, byCode.ID)

	byID, err := s.GetGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.Code, byID.Code)

	_, err = s.GetGame(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, merr.ErrSessionNotFound)
}

func TestListGamesSkipsIndexKeys(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutGame(ctx, newTestGame("ABC123", "id-1", "user-1")))
	require.NoError(t, s.PutGame(ctx, newTestGame("XYZ789", "id-2", "user-2")))

	games, err := s.ListGames(ctx)
	require.NoError(t, err)
	assert.Len(t, games, 2)
}

func TestEmptyGameExpiresAfterGrace(t *testing.T) {
	mr, s := setupStore(t)
	ctx := context.Background()

	g := newTestGame("ABC123", "id-1", "user-dm")
	g.Players = nil
	require.NoError(t, s.PutGame(ctx, g))

	assert.Equal(t, time.Hour, mr.TTL("test:game:ABC123"))
	assert.Equal(t, time.Hour, mr.TTL("test:game:id:id-1"))

	mr.FastForward(time.Hour + time.Minute)

	_, err := s.GetGame(ctx, "ABC123")
	assert.ErrorIs(t, err, merr.ErrSessionNotFound)
	_, err = s.GetGame(ctx, "id-1")
	assert.ErrorIs(t, err, merr.ErrSessionNotFound)
}

func TestUserAndCharacterRoundTrip(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	u := &model.User{
		ID:       "user-1",
		Email:    "player@example.com",
		Name:     "Player One",
		LastSeen: time.Now().UnixMilli(),
	}
	u.AddCharacter("char-1")
	require.NoError(t, s.PutUser(ctx, u))

	gotUser, err := s.GetUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"char-1"}, gotUser.CharactersCreated)

	c := &model.CharacterData{ID: "char-1", Name: "Kira", UserID: "user-1"}
	require.NoError(t, s.PutCharacter(ctx, c))

	gotChar, err := s.GetCharacter(ctx, "char-1")
	require.NoError(t, err)
	assert.Equal(t, "Kira", gotChar.Name)

	require.NoError(t, s.DeleteCharacter(ctx, "char-1"))
	_, err = s.GetCharacter(ctx, "char-1")
	assert.ErrorIs(t, err, merr.ErrCharacterNotFound)

	_, err = s.GetUser(ctx, "user-unknown")
	assert.ErrorIs(t, err, merr.ErrUserNotFound)
}

func TestListPartiesAndUsers(t *testing.T) {
	_, s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutParty(ctx, newTestParty("11111", "a")))
	require.NoError(t, s.PutParty(ctx, newTestParty("22222", "b")))
	require.NoError(t, s.PutUser(ctx, &model.User{ID: "user-1"}))

	parties, err := s.ListParties(ctx)
	require.NoError(t, err)
	assert.Len(t, parties, 2)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
