package model

import "time"

// DefaultStaleThreshold 为成员心跳的默认过期阈值。
// 超过该时长未收到心跳的成员会被标记为离线，但不会被移出会话。
const DefaultStaleThreshold = 60 * time.Second

// Weapon 描述角色携带的一件武器。
type Weapon struct {
	Name        string `json:"name"`
	AttackBonus int    `json:"attackBonus"`
	Damage      string `json:"damage"`
	DamageType  string `json:"damageType"`
	Range       string `json:"range"`
	Properties  string `json:"properties"`
}

// Skill 描述角色的一项技能及熟练情况。
type Skill struct {
	Name       string `json:"name"`
	Ability    string `json:"ability"`
	Proficient bool   `json:"proficient"`
	Bonus      int    `json:"bonus"`
}

// HitPoints 为角色生命值三元组。
type HitPoints struct {
	Maximum   int `json:"maximum"`
	Current   int `json:"current"`
	Temporary int `json:"temporary"`
}

// DeathSaves 记录角色濒死豁免的成功与失败次数。
type DeathSaves struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// Proficiencies 记录角色的熟练项。
type Proficiencies struct {
	Armor     string `json:"armor"`
	Weapons   string `json:"weapons"`
	Tools     string `json:"tools"`
	Languages string `json:"languages"`
}

// Personality 记录角色的个性描述。
type Personality struct {
	Traits string `json:"traits"`
	Ideals string `json:"ideals"`
	Bonds  string `json:"bonds"`
	Flaws  string `json:"flaws"`
}

// InitiativeRoll 记录一次先攻骰结果。
// Timestamp 为掷骰时刻的 Unix 毫秒时间戳。
type InitiativeRoll struct {
	Total     int   `json:"total"`
	Roll      int   `json:"roll"`
	Modifier  int   `json:"modifier"`
	Timestamp int64 `json:"timestamp"`
}

// CharacterData 为完整的角色卡数据。
// 字段结构与客户端持久化格式保持一致，服务端不理解其中大部分字段，
// 仅在广播与存储时原样转发。
type CharacterData struct {
	ID               string        `json:"id"`
	ShortID          string        `json:"shortId,omitempty"`
	Name             string        `json:"name"`
	Level            int           `json:"level"`
	Class            string        `json:"class"`
	Background       string        `json:"background"`
	Species          string        `json:"species"`
	Alignment        string        `json:"alignment"`
	ExperiencePoints int           `json:"experiencePoints"`
	Strength         int           `json:"strength"`
	Dexterity        int           `json:"dexterity"`
	Constitution     int           `json:"constitution"`
	Intelligence     int           `json:"intelligence"`
	Wisdom           int           `json:"wisdom"`
	Charisma         int           `json:"charisma"`
	ArmorClass       int           `json:"armorClass"`
	Initiative       int           `json:"initiative"`
	Speed            int           `json:"speed"`
	HitPoints        HitPoints     `json:"hitPoints"`
	HitDice          string        `json:"hitDice"`
	HitDiceTotal     string        `json:"hitDiceTotal"`
	DeathSaves       DeathSaves    `json:"deathSaves"`
	Weapons          []Weapon      `json:"weapons"`
	Skills           []Skill       `json:"skills"`
	Proficiencies    Proficiencies `json:"proficiencies"`
	Features         string        `json:"features"`
	Credits          int           `json:"credits"`
	ForcePoints      int           `json:"forcePoints"`
	TechPoints       int           `json:"techPoints"`
	Exhaustion       int           `json:"exhaustion"`
	Equipment        string        `json:"equipment"`
	Personality      Personality   `json:"personality"`
	Notes            string        `json:"notes"`
	CreatedAt        string        `json:"createdAt"`
	LastModified     string        `json:"lastModified"`
	// UserID 为角色归属的用户，仅在服务端持久化时填充。
	UserID string `json:"userId,omitempty"`
	// InitiativeRoll 为最近一次先攻骰结果，未掷骰时为空。
	InitiativeRoll *InitiativeRoll `json:"initiativeRoll,omitempty"`
}

// PartyMember 为小队中的一名成员。
type PartyMember struct {
	CharacterID   string        `json:"characterId"`
	CharacterData CharacterData `json:"characterData"`
	// LastSeen 为最近一次心跳的 Unix 毫秒时间戳。
	LastSeen int64 `json:"lastSeen"`
}

// IsOnline 判断成员在给定阈值内是否有过心跳。
func (m *PartyMember) IsOnline(now time.Time, staleThreshold time.Duration) bool {
	return now.UnixMilli()-m.LastSeen <= staleThreshold.Milliseconds()
}

// Party 为一个小队会话的完整快照。
// CreatedAt 与 LastUpdated 均为 Unix 毫秒时间戳。
type Party struct {
	Code        string        `json:"code"`
	Members     []PartyMember `json:"members"`
	CreatedAt   int64         `json:"createdAt"`
	LastUpdated int64         `json:"lastUpdated"`
}

// FindMember 按角色 ID 查找成员，未找到时返回 nil。
func (p *Party) FindMember(characterID string) *PartyMember {
	for i := range p.Members {
		if p.Members[i].CharacterID == characterID {
			return &p.Members[i]
		}
	}
	return nil
}

// RemoveMember 按角色 ID 移除成员，返回是否确实发生了移除。
func (p *Party) RemoveMember(characterID string) bool {
	for i := range p.Members {
		if p.Members[i].CharacterID == characterID {
			p.Members = append(p.Members[:i], p.Members[i+1:]...)
			return true
		}
	}
	return false
}
