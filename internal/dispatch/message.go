package dispatch

import (
	"github.com/lk2023060901/tabletop-garden-go/internal/json"
	"github.com/lk2023060901/tabletop-garden-go/internal/model"
	"github.com/lk2023060901/tabletop-garden-go/pkg/util/merr"
)

// 入站消息类型。
const (
	// Party 会话。
	KindPartyCreate    = "create"
	KindPartyJoin      = "join"
	KindPartyUpdate    = "update"
	KindPartyHeartbeat = "heartbeat"
	KindPartyLeave     = "leave"
	KindRollInitiative = "roll_initiative"

	// Game 会话。
	KindGameCreate    = "game_create"
	KindGameJoin      = "game_join"
	KindGameLeave     = "game_leave"
	KindGameHeartbeat = "game_heartbeat"
	KindPlayerMove    = "player_move"
	KindEnemyAdd      = "enemy_add"
	KindEnemyMove     = "enemy_move"
	KindEnemyRemove   = "enemy_remove"
	KindTerrainAdd    = "terrain_add"
	KindTerrainRemove = "terrain_remove"

	// 用户与角色台账。
	KindUserLogin         = "user_login"
	KindCharacterSave     = "character_save"
	KindCharacterDelete   = "character_delete"
	KindGetCharacter      = "get_character"
	KindGetUserCharacters = "get_user_characters"
	KindGetGames          = "get_games"
)

// 出站消息类型。
const (
	ReplyError = "error"

	ReplyPartyCreated     = "party_created"
	ReplyMemberJoined     = "member_joined"
	ReplyMemberUpdated    = "member_updated"
	ReplyMemberLeft       = "member_left"
	ReplyLeftParty        = "left_party"
	ReplyInitiativeRolled = "initiative_rolled"

	ReplyGameCreated    = "game_created"
	ReplyGameJoined     = "game_joined"
	ReplyPlayerJoined   = "player_joined"
	ReplyPlayerLeft     = "player_left"
	ReplyLeftGame       = "left_game"
	ReplyPlayerMoved    = "player_moved"
	ReplyEnemyAdded     = "enemy_added"
	ReplyEnemyMoved     = "enemy_moved"
	ReplyEnemyRemoved   = "enemy_removed"
	ReplyTerrainAdded   = "terrain_added"
	ReplyTerrainRemoved = "terrain_removed"

	ReplyUserLoggedIn     = "user_logged_in"
	ReplyCharacterSaved   = "character_saved"
	ReplyCharacterDeleted = "character_deleted"
	ReplyCharacterData    = "character_data"
	ReplyUserCharacters   = "user_characters"
	ReplyGamesList        = "games_list"
)

// Message 为统一的入站信封。
// 字段按消息类型选择性填充，校验由各 handler 在入口处完成。
type Message struct {
	Type string `json:"type"`

	// Party 会话字段。
	PartyCode     string               `json:"partyCode,omitempty"`
	CharacterID   string               `json:"characterId,omitempty"`
	CharacterData *model.CharacterData `json:"characterData,omitempty"`
	PartyMember   *model.PartyMember   `json:"partyMember,omitempty"`

	// Game 会话字段。
	GameCode  string             `json:"gameCode,omitempty"`
	GameData  *model.Game        `json:"gameData,omitempty"`
	PlayerID  string             `json:"playerId,omitempty"`
	Position  *model.MapPosition `json:"position,omitempty"`
	Enemy     *model.Enemy       `json:"enemy,omitempty"`
	EnemyID   string             `json:"enemyId,omitempty"`
	Terrain   *model.Terrain     `json:"terrain,omitempty"`
	TerrainID string             `json:"terrainId,omitempty"`

	// 用户与角色台账字段。
	UserID string      `json:"userId,omitempty"`
	User   *model.User `json:"user,omitempty"`
}

// Decode 解析入站信封。
// 任何解析失败都归类为协议错误，绝不中断连接。
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, merr.WrapErrBadMessage(err)
	}
	if m.Type == "" {
		return nil, merr.WrapErrMissingField("type")
	}
	return &m, nil
}

// IsHeartbeat 判断消息是否为心跳。心跳永不回复，包括失败时。
func (m *Message) IsHeartbeat() bool {
	return m.Type == KindPartyHeartbeat || m.Type == KindGameHeartbeat
}

// errorReply 为发给发送方的统一错误信封。
type errorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newErrorReply(err error) errorReply {
	return errorReply{Type: ReplyError, Error: err.Error()}
}

// partyEvent 覆盖所有携带小队快照的出站消息。
type partyEvent struct {
	Type           string                `json:"type"`
	PartyData      *model.Party          `json:"partyData,omitempty"`
	CharacterID    string                `json:"characterId,omitempty"`
	InitiativeRoll *model.InitiativeRoll `json:"initiativeRoll,omitempty"`
}

type gameCreatedReply struct {
	Type string      `json:"type"`
	Game *model.Game `json:"game"`
}

type gameJoinedReply struct {
	Type            string      `json:"type"`
	Game            *model.Game `json:"game"`
	IsDungeonMaster bool        `json:"isDungeonMaster"`
	CurrentPlayerID string      `json:"currentPlayerId"`
}

// gameEvent 覆盖所有携带游戏快照的广播消息。
type gameEvent struct {
	Type      string             `json:"type"`
	Game      *model.Game        `json:"game,omitempty"`
	PlayerID  string             `json:"playerId,omitempty"`
	Position  *model.MapPosition `json:"position,omitempty"`
	Enemy     *model.Enemy       `json:"enemy,omitempty"`
	EnemyID   string             `json:"enemyId,omitempty"`
	Terrain   *model.Terrain     `json:"terrain,omitempty"`
	TerrainID string             `json:"terrainId,omitempty"`
}

type leftGameReply struct {
	Type string `json:"type"`
}

type userLoggedInReply struct {
	Type string      `json:"type"`
	User *model.User `json:"user"`
}

type characterSavedReply struct {
	Type          string `json:"type"`
	CharacterID   string `json:"characterId"`
	CharacterName string `json:"characterName"`
}

type characterDeletedReply struct {
	Type        string `json:"type"`
	CharacterID string `json:"characterId"`
}

type characterDataReply struct {
	Type      string               `json:"type"`
	Character *model.CharacterData `json:"character"`
}

type userCharactersReply struct {
	Type       string                `json:"type"`
	Characters []model.CharacterData `json:"characters"`
}

type gamesListReply struct {
	Type  string        `json:"type"`
	Games []*model.Game `json:"games"`
}
