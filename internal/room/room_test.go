package room

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dankular/Babblefish/internal/protocol"
)

// recordingSink collects delivered messages
type recordingSink struct {
	mu       sync.Mutex
	messages []protocol.Message
	fail     bool
}

func (s *recordingSink) Send(msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("send queue full")
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSink) received() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Message(nil), s.messages...)
}

func newParticipant(id, language string) (*Participant, *recordingSink) {
	sink := &recordingSink{}
	return NewParticipant(id, "name-"+id, language, sink), sink
}

func TestAddParticipant(t *testing.T) {
	require := require.New(t)
	r := New("R1", 2, nil)

	alice, _ := newParticipant("a", "en")
	require.NoError(r.AddParticipant(alice))
	require.True(r.Has("a"))
	require.Equal(1, r.Count())

	err := r.AddParticipant(alice)
	require.ErrorIs(err, ErrDuplicateParticipant)
	require.Equal(1, r.Count())

	bob, _ := newParticipant("b", "fr")
	require.NoError(r.AddParticipant(bob))

	carol, _ := newParticipant("c", "de")
	err = r.AddParticipant(carol)
	require.ErrorIs(err, ErrRoomFull)
	require.False(r.Has("c"))
	require.Equal(2, r.Count())
}

func TestRemoveParticipant(t *testing.T) {
	require := require.New(t)
	r := New("R1", 4, nil)

	alice, _ := newParticipant("a", "en")
	require.NoError(r.AddParticipant(alice))

	removed, ok := r.RemoveParticipant("a")
	require.True(ok)
	require.Same(alice, removed)
	require.True(r.IsEmpty())

	_, ok = r.RemoveParticipant("a")
	require.False(ok)
}

func TestBroadcastSkipsSenderAndFailures(t *testing.T) {
	require := require.New(t)
	r := New("R1", 4, nil)

	alice, aliceSink := newParticipant("a", "en")
	bob, bobSink := newParticipant("b", "fr")
	carol, carolSink := newParticipant("c", "de")
	carolSink.fail = true
	for _, p := range []*Participant{alice, bob, carol} {
		require.NoError(r.AddParticipant(p))
	}

	result := r.Broadcast(protocol.NewParticipantLeft("x"), "a")
	require.Equal(1, result.Delivered)
	require.Equal(1, result.Failed)

	require.Empty(aliceSink.received())
	require.Len(bobSink.received(), 1)
	require.Empty(carolSink.received())
}

func TestBroadcastFuncPerRecipient(t *testing.T) {
	require := require.New(t)
	r := New("R1", 4, nil)

	alice, aliceSink := newParticipant("a", "en")
	bob, bobSink := newParticipant("b", "fr")
	require.NoError(r.AddParticipant(alice))
	require.NoError(r.AddParticipant(bob))

	result := r.BroadcastFunc(func(p *Participant) protocol.Message {
		if p.ID == "a" {
			return nil
		}
		return protocol.NewPong()
	}, "")

	require.Equal(1, result.Delivered)
	require.Empty(aliceSink.received())
	require.Len(bobSink.received(), 1)
}

func TestTargetLanguages(t *testing.T) {
	r := New("R1", 10, nil)

	for i, lang := range []string{"en", "fr", "fr", "de", "en"} {
		p, _ := newParticipant(string(rune('a'+i)), lang)
		require.NoError(t, r.AddParticipant(p))
	}

	// "a" speaks en, but "e" also wants en
	require.Equal(t, []string{"de", "en", "fr"}, r.TargetLanguages("a"))
	require.Equal(t, []string{"de", "en", "fr"}, r.TargetLanguages(""))

	solo := New("R2", 10, nil)
	p, _ := newParticipant("only", "en")
	require.NoError(t, solo.AddParticipant(p))
	require.Empty(t, solo.TargetLanguages("only"))
}

func TestOthersAndSnapshot(t *testing.T) {
	require := require.New(t)
	r := New("R1", 4, nil)

	alice, _ := newParticipant("a", "en")
	bob, _ := newParticipant("b", "fr")
	require.NoError(r.AddParticipant(alice))
	require.NoError(r.AddParticipant(bob))

	others := r.Others("a")
	require.Len(others, 1)
	require.Equal("b", others[0].ID)

	info := r.Snapshot()
	require.Equal("R1", info.ID)
	require.Equal(2, info.ParticipantCount)
	require.Equal(4, info.MaxParticipants)
	require.Equal([]string{"en", "fr"}, info.Languages)
	require.Len(info.Participants, 2)
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	r := New("R1", 5, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, _ := newParticipant(string(rune('A'+i)), "en")
			if r.AddParticipant(p) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 5, accepted)
	require.Equal(t, 5, r.Count())
}
