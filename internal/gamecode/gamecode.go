// Package gamecode 负责生成各类会话标识：
//   - 小队码：5 位数字，便于口头传达；
//   - 游戏码：6 位大写字母与数字混合；
//   - 实体 ID：标准 UUID v4。
package gamecode

import (
	"math/rand/v2"

	"github.com/google/uuid"
)

const (
	gameCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	gameCodeLength   = 6

	partyCodeMin = 10000
	partyCodeMax = 99999
)

// NewPartyCode 生成一个 5 位数字小队码。
// 碰撞由调用方在存储层检测，本函数不保证唯一。
func NewPartyCode() string {
	n := partyCodeMin + rand.IntN(partyCodeMax-partyCodeMin+1)
	return itoa5(n)
}

// NewGameCode 生成一个 6 位大写字母与数字混合的游戏码。
// 碰撞由调用方在存储层检测，本函数不保证唯一。
func NewGameCode() string {
	buf := make([]byte, gameCodeLength)
	for i := range buf {
		buf[i] = gameCodeAlphabet[rand.IntN(len(gameCodeAlphabet))]
	}
	return string(buf)
}

// NewID 生成一个 UUID v4 字符串，用于玩家、敌人、地形等实体 ID。
func NewID() string {
	return uuid.NewString()
}

// IsPartyCode 判断字符串是否为合法的小队码格式。
func IsPartyCode(code string) bool {
	if len(code) != 5 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return code[0] != '0'
}

// IsGameCode 判断字符串是否为合法的游戏码格式。
func IsGameCode(code string) bool {
	if len(code) != gameCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// itoa5 将 [10000, 99999] 范围内的整数格式化为 5 位字符串。
func itoa5(n int) string {
	var buf [5]byte
	for i := 4; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[:])
}
