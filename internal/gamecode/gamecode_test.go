package gamecode

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPartyCodeFormat(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code := NewPartyCode()
		require.Len(t, code, 5)
		assert.True(t, IsPartyCode(code), "generated party code %q should validate", code)
	}
}

func TestNewGameCodeFormat(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code := NewGameCode()
		require.Len(t, code, 6)
		assert.True(t, IsGameCode(code), "generated game code %q should validate", code)
	}
}

func TestNewID(t *testing.T) {
	id := NewID()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewID())
}

func TestIsPartyCode(t *testing.T) {
	assert.True(t, IsPartyCode("12345"))
	assert.True(t, IsPartyCode("99999"))

	assert.False(t, IsPartyCode("01234"), "leading zero is not a valid party code")
	assert.False(t, IsPartyCode("1234"))
	assert.False(t, IsPartyCode("123456"))
	assert.False(t, IsPartyCode("12a45"))
	assert.False(t, IsPartyCode(""))
}

func TestIsGameCode(t *testing.T) {
	assert.True(t, IsGameCode("ABC123"))
	assert.True(t, IsGameCode("ZZZZZZ"))
	assert.True(t, IsGameCode("000000"))

	assert.False(t, IsGameCode("abc123"), "lowercase is not a valid game code")
	assert.False(t, IsGameCode("ABC12"))
	assert.False(t, IsGameCode("ABC1234"))
	assert.False(t, IsGameCode("ABC-12"))
	assert.False(t, IsGameCode(""))
}
