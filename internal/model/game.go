package model

import "time"

// MapPosition 为地图上的一个格子坐标。
type MapPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DefaultPlayerPosition 为新玩家落地的默认坐标（地图中心附近）。
var DefaultPlayerPosition = MapPosition{X: 25, Y: 25}

// MapSize 为游戏地图尺寸。
type MapSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Health 为敌人生命值二元组。
type Health struct {
	Current int `json:"current"`
	Maximum int `json:"maximum"`
}

// Terrain 为地图上的一块地形。
// Type 取值为 rock、tree、building、water、lava、wall 之一；
// Height 为 0-10 的高度刻度。
type Terrain struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Height     int         `json:"height"`
	Position   MapPosition `json:"position"`
	IsPassable bool        `json:"isPassable"`
}

// Enemy 为战斗地图上的一个敌方单位。
// Type 取值为 droid、beast、humanoid、vehicle 之一。
type Enemy struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Level      int         `json:"level"`
	Health     Health      `json:"health"`
	ArmorClass int         `json:"armorClass"`
	Position   MapPosition `json:"position"`
	Type       string      `json:"type"`
	Initiative int         `json:"initiative"`
	IsActive   bool        `json:"isActive"`
}

// Player 为游戏会话中的一名玩家。
type Player struct {
	ID          string      `json:"id"`
	CharacterID string      `json:"characterId"`
	Name        string      `json:"name"`
	Position    MapPosition `json:"position"`
	IsActive    bool        `json:"isActive"`
	UserID      string      `json:"userId"`
	UserEmail   string      `json:"userEmail,omitempty"`
	UserName    string      `json:"userName,omitempty"`
	// LastSeen 为最近一次心跳的 Unix 毫秒时间戳。
	LastSeen int64 `json:"lastSeen"`
}

// IsOnline 判断玩家在给定阈值内是否有过心跳。
func (p *Player) IsOnline(now time.Time, staleThreshold time.Duration) bool {
	return now.UnixMilli()-p.LastSeen <= staleThreshold.Milliseconds()
}

// Game 为一个游戏会话的完整快照。
// CreatedAt 与 LastModified 为 RFC3339 字符串，与客户端持久化格式一致。
type Game struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Code            string    `json:"code"`
	DungeonMasterID string    `json:"dungeonMasterId"`
	OwnerID         string    `json:"ownerId"`
	Players         []Player  `json:"players"`
	Enemies         []Enemy   `json:"enemies"`
	Terrain         []Terrain `json:"terrain"`
	MapSize         MapSize   `json:"mapSize"`
	CreatedAt       string    `json:"createdAt"`
	LastModified    string    `json:"lastModified"`
}

// FindPlayerByUser 按用户 ID 查找玩家，未找到时返回 nil。
func (g *Game) FindPlayerByUser(userID string) *Player {
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			return &g.Players[i]
		}
	}
	return nil
}

// FindEnemy 按敌人 ID 查找敌人，未找到时返回 nil。
func (g *Game) FindEnemy(enemyID string) *Enemy {
	for i := range g.Enemies {
		if g.Enemies[i].ID == enemyID {
			return &g.Enemies[i]
		}
	}
	return nil
}

// RemovePlayerByUser 按用户 ID 移除玩家，返回是否确实发生了移除。
func (g *Game) RemovePlayerByUser(userID string) bool {
	for i := range g.Players {
		if g.Players[i].UserID == userID {
			g.Players = append(g.Players[:i], g.Players[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveEnemy 按敌人 ID 移除敌人，返回是否确实发生了移除。
func (g *Game) RemoveEnemy(enemyID string) bool {
	for i := range g.Enemies {
		if g.Enemies[i].ID == enemyID {
			g.Enemies = append(g.Enemies[:i], g.Enemies[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveTerrain 按地形 ID 移除地形，返回是否确实发生了移除。
func (g *Game) RemoveTerrain(terrainID string) bool {
	for i := range g.Terrain {
		if g.Terrain[i].ID == terrainID {
			g.Terrain = append(g.Terrain[:i], g.Terrain[i+1:]...)
			return true
		}
	}
	return false
}

// IsDungeonMaster 判断给定用户是否为该游戏的 DM。
func (g *Game) IsDungeonMaster(userID string) bool {
	return g.DungeonMasterID == userID
}

// Touch 刷新 LastModified 为当前时刻。
func (g *Game) Touch(now time.Time) {
	g.LastModified = now.UTC().Format(time.RFC3339)
}
