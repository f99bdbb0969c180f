package model

// User 为登录过的一名用户及其名下资源索引。
// LastSeen 为最近一次登录的 Unix 毫秒时间戳。
type User struct {
	ID                string   `json:"id"`
	Email             string   `json:"email"`
	Name              string   `json:"name"`
	Picture           string   `json:"picture,omitempty"`
	LastSeen          int64    `json:"lastSeen"`
	GamesPlayed       []string `json:"gamesPlayed"`
	CharactersCreated []string `json:"charactersCreated"`
}

// AddCharacter 将角色 ID 记入用户名下（幂等）。
func (u *User) AddCharacter(characterID string) {
	for _, id := range u.CharactersCreated {
		if id == characterID {
			return
		}
	}
	u.CharactersCreated = append(u.CharactersCreated, characterID)
}

// RemoveCharacter 将角色 ID 从用户名下移除，返回是否确实发生了移除。
func (u *User) RemoveCharacter(characterID string) bool {
	for i, id := range u.CharactersCreated {
		if id == characterID {
			u.CharactersCreated = append(u.CharactersCreated[:i], u.CharactersCreated[i+1:]...)
			return true
		}
	}
	return false
}
