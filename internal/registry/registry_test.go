package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSender struct {
	id   uint64
	mu   sync.Mutex
	msgs []any
}

func (f *fakeSender) ID() uint64 { return f.id }

func (f *fakeSender) Send(msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestRegisterAndSnapshot(t *testing.T) {
	r := New()

	s1 := &fakeSender{id: 1}
	s2 := &fakeSender{id: 2}

	r.Register(SessionParty, "12345", "char-1", s1)
	r.Register(SessionParty, "12345", "char-2", s2)

	assert.Equal(t, 2, r.Count("12345"))
	assert.Len(t, r.Snapshot("12345"), 2)
	assert.Empty(t, r.Snapshot("99999"))
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := New()
	s1 := &fakeSender{id: 1}

	r.Register(SessionGame, "ABC123", "user-1", s1)
	assert.Equal(t, "ABC123", r.Unregister(1))
	assert.Equal(t, "", r.Unregister(1))
	assert.Equal(t, 0, r.Count("ABC123"))
}

func TestReregisterMovesConnection(t *testing.T) {
	r := New()
	s1 := &fakeSender{id: 1}

	r.Register(SessionParty, "11111", "char-1", s1)
	r.Register(SessionParty, "22222", "char-1", s1)

	assert.Equal(t, 0, r.Count("11111"))
	assert.Equal(t, 1, r.Count("22222"))

	e, ok := r.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, "22222", e.Code)
}

func TestReregisterSameCodeUpdatesParticipant(t *testing.T) {
	r := New()
	s1 := &fakeSender{id: 1}

	r.Register(SessionGame, "ABC123", "user-1", s1)
	r.Register(SessionGame, "ABC123", "user-1", s1)

	assert.Equal(t, 1, r.Count("ABC123"))
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			s := &fakeSender{id: id}
			r.Register(SessionParty, "12345", "char", s)
			r.Unregister(id)
		}(uint64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 0, r.Count("12345"))
}
