package room

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Dankular/Babblefish/internal/protocol"
)

var (
	// ErrRoomFull is returned when a room is at its participant limit
	ErrRoomFull = errors.New("room is full")
	// ErrMaxRooms is returned when the registry cannot hold another room
	ErrMaxRooms = errors.New("maximum number of rooms reached")
	// ErrDuplicateParticipant is returned when a participant id is already present
	ErrDuplicateParticipant = errors.New("participant already in room")
	// ErrRoomExists is returned when creating a room under an id in use
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomClosed is returned when joining a room the registry has dropped
	ErrRoomClosed = errors.New("room is closed")
	// ErrNoSink is returned when sending to a participant without a connection
	ErrNoSink = errors.New("participant has no connection")
)

// Room is a set of participants sharing translated speech
type Room struct {
	ID        string
	CreatedAt time.Time

	maxParticipants int
	participants    map[string]*Participant
	lastActivity    time.Time
	closed          bool

	logger *slog.Logger
	mu     sync.RWMutex
}

// Info is a point-in-time view of a room for status endpoints
type Info struct {
	ID               string                     `json:"id"`
	CreatedAt        time.Time                  `json:"created_at"`
	LastActivity     time.Time                  `json:"last_activity"`
	Age              string                     `json:"age"`
	IdleTime         string                     `json:"idle_time"`
	ParticipantCount int                        `json:"participant_count"`
	MaxParticipants  int                        `json:"max_participants"`
	Languages        []string                   `json:"languages"`
	Participants     []protocol.ParticipantInfo `json:"participants"`
}

// BroadcastResult counts the outcome of a broadcast
type BroadcastResult struct {
	Delivered int
	Failed    int
}

// New creates an empty room
func New(id string, maxParticipants int, logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now()
	return &Room{
		ID:              id,
		CreatedAt:       now,
		maxParticipants: maxParticipants,
		participants:    make(map[string]*Participant),
		lastActivity:    now,
		logger:          logger.With(slog.String("room_id", id)),
	}
}

// AddParticipant adds p, enforcing uniqueness and capacity under one lock
func (r *Room) AddParticipant(p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("%w: %s", ErrRoomClosed, r.ID)
	}

	if _, exists := r.participants[p.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateParticipant, p.ID)
	}

	if len(r.participants) >= r.maxParticipants {
		return fmt.Errorf("%w: %s has %d participants", ErrRoomFull, r.ID, len(r.participants))
	}

	r.participants[p.ID] = p
	r.lastActivity = time.Now()

	r.logger.Info("Participant joined room",
		slog.String("participant_id", p.ID),
		slog.String("name", p.Name),
		slog.String("language", p.Language),
		slog.Int("participants", len(r.participants)),
	)

	return nil
}

// RemoveParticipant removes a participant and reports whether it was present
func (r *Room) RemoveParticipant(id string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.participants[id]
	if !exists {
		return nil, false
	}

	delete(r.participants, id)
	r.lastActivity = time.Now()

	r.logger.Info("Participant left room",
		slog.String("participant_id", id),
		slog.Duration("duration", time.Since(p.JoinedAt)),
		slog.Int("participants", len(r.participants)),
	)

	return p, true
}

// Get returns the participant with the given id
func (r *Room) Get(id string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.participants[id]
	return p, exists
}

// Has reports whether the participant is a current member of an open room
func (r *Room) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.participants[id]
	return exists && !r.closed
}

// Participants returns all members in join order
func (r *Room) Participants() []*Participant {
	return r.Others("")
}

// Others returns all members except excludeID, in join order
func (r *Room) Others(excludeID string) []*Participant {
	r.mu.RLock()
	others := make([]*Participant, 0, len(r.participants))
	for id, p := range r.participants {
		if id != excludeID {
			others = append(others, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(others, func(i, j int) bool {
		if others[i].JoinedAt.Equal(others[j].JoinedAt) {
			return others[i].ID < others[j].ID
		}
		return others[i].JoinedAt.Before(others[j].JoinedAt)
	})
	return others
}

// TargetLanguages returns the distinct languages of every member except excludeID
func (r *Room) TargetLanguages(excludeID string) []string {
	langs := lo.Uniq(lo.Map(r.Others(excludeID), func(p *Participant, _ int) string {
		return p.Language
	}))
	slices.Sort(langs)
	return langs
}

// Broadcast sends msg to every member except excludeID. Delivery failures
// are logged and do not stop delivery to the remaining members.
func (r *Room) Broadcast(msg protocol.Message, excludeID string) BroadcastResult {
	return r.BroadcastFunc(func(*Participant) protocol.Message { return msg }, excludeID)
}

// BroadcastFunc is Broadcast with a per-recipient message. A nil message
// skips that recipient.
func (r *Room) BroadcastFunc(build func(p *Participant) protocol.Message, excludeID string) BroadcastResult {
	var result BroadcastResult

	// Recipients are snapshotted; sends happen outside the room lock.
	for _, p := range r.Others(excludeID) {
		msg := build(p)
		if msg == nil {
			continue
		}

		if err := p.Send(msg); err != nil {
			result.Failed++
			r.logger.Warn("Failed to deliver message",
				slog.String("participant_id", p.ID),
				slog.String("type", string(msg.MessageType())),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Delivered++
	}

	return result
}

// Touch records activity in the room
func (r *Room) Touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

// Count returns the number of members
func (r *Room) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// IsEmpty reports whether the room has no members
func (r *Room) IsEmpty() bool {
	return r.Count() == 0
}

// Age returns the time since the room was created
func (r *Room) Age() time.Duration {
	return time.Since(r.CreatedAt)
}

// IdleTime returns the time since the last recorded activity
func (r *Room) IdleTime() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return time.Since(r.lastActivity)
}

// Closed reports whether the registry has dropped this room
func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Snapshot returns a point-in-time view of the room
func (r *Room) Snapshot() Info {
	participants := r.Participants()

	r.mu.RLock()
	lastActivity := r.lastActivity
	r.mu.RUnlock()

	return Info{
		ID:               r.ID,
		CreatedAt:        r.CreatedAt,
		LastActivity:     lastActivity,
		Age:              r.Age().Round(time.Second).String(),
		IdleTime:         time.Since(lastActivity).Round(time.Second).String(),
		ParticipantCount: len(participants),
		MaxParticipants:  r.maxParticipants,
		Languages:        r.TargetLanguages(""),
		Participants: lo.Map(participants, func(p *Participant, _ int) protocol.ParticipantInfo {
			return p.Info()
		}),
	}
}
