package room

import (
	"time"

	"github.com/Dankular/Babblefish/internal/protocol"
)

// Sink delivers messages to one participant's connection. Send must not
// block; a connection that cannot accept the message returns an error.
type Sink interface {
	Send(msg protocol.Message) error
}

// Participant is a member of a room. Its fields are fixed once it has been
// added to a room.
type Participant struct {
	ID           string
	Name         string
	Language     string // ISO 639-1 target language
	SpeakerID    string
	Capabilities protocol.Capabilities
	TTSMode      string
	TTSModel     string
	JoinedAt     time.Time

	sink Sink
}

// NewParticipant creates a participant with synthesis disabled
func NewParticipant(id, name, language string, sink Sink) *Participant {
	return &Participant{
		ID:        id,
		Name:      name,
		Language:  language,
		SpeakerID: id,
		TTSMode:   protocol.ModeNone,
		JoinedAt:  time.Now(),
		sink:      sink,
	}
}

// Send delivers msg to the participant's connection
func (p *Participant) Send(msg protocol.Message) error {
	if p.sink == nil {
		return ErrNoSink
	}
	return p.sink.Send(msg)
}

// Info returns the public view of the participant
func (p *Participant) Info() protocol.ParticipantInfo {
	return protocol.ParticipantInfo{
		ID:        p.ID,
		Name:      p.Name,
		Language:  p.Language,
		SpeakerID: p.SpeakerID,
		TTSMode:   p.TTSMode,
		TTSModel:  p.TTSModel,
	}
}
