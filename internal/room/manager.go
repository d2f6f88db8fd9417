package room

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Dankular/Babblefish/internal/protocol"
)

const (
	roomIDLength   = 6
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Sweep reasons reported to ManagerConfig.OnSweep
const (
	SweepEmpty = "empty"
	SweepIdle  = "idle"
)

// ManagerConfig contains the registry limits
type ManagerConfig struct {
	MaxRooms        int
	MaxParticipants int
	IdleTimeout     time.Duration
	SweepInterval   time.Duration

	// OnSweep, if set, is called after each sweep pass that removed rooms
	OnSweep func(reason string, removed int)
}

// Manager is the registry of live rooms. Rooms are removed when they become
// empty and by a periodic sweep of empty and idle rooms.
type Manager struct {
	rooms  map[string]*Room
	config ManagerConfig
	logger *slog.Logger
	mu     sync.RWMutex

	// Sweep management
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewManager creates an empty registry
func NewManager(config ManagerConfig, logger *slog.Logger) (*Manager, error) {
	if config.MaxRooms < 1 {
		return nil, fmt.Errorf("max rooms must be at least 1, got %d", config.MaxRooms)
	}
	if config.MaxParticipants < 1 {
		return nil, fmt.Errorf("max participants must be at least 1, got %d", config.MaxParticipants)
	}
	if config.SweepInterval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %v", config.SweepInterval)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		rooms:  make(map[string]*Room),
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// CreateRoom creates a room. An empty id generates an unused random id.
func (m *Manager) CreateRoom(id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createLocked(id)
}

func (m *Manager) createLocked(id string) (*Room, error) {
	if len(m.rooms) >= m.config.MaxRooms {
		return nil, fmt.Errorf("%w (%d)", ErrMaxRooms, m.config.MaxRooms)
	}

	if id == "" {
		id = m.generateRoomIDLocked()
	} else if _, exists := m.rooms[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRoomExists, id)
	}

	r := New(id, m.config.MaxParticipants, m.logger)
	m.rooms[id] = r

	m.logger.Info("Created room",
		slog.String("room_id", id),
		slog.Int("room_count", len(m.rooms)),
	)

	return r, nil
}

// GetRoom returns the room with the given id
func (m *Manager) GetRoom(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, exists := m.rooms[id]
	return r, exists
}

// GetOrCreateRoom returns the room with the given id, creating it if needed
func (m *Manager) GetOrCreateRoom(id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, exists := m.rooms[id]; exists && id != "" {
		return r, nil
	}
	return m.createLocked(id)
}

// JoinRoom adds p to the room with the given id, creating the room if it
// does not exist. Lookup, creation and insertion happen under the registry
// lock so a sweep cannot remove the room in between.
func (m *Manager) JoinRoom(id string, p *Participant) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, exists := m.rooms[id]
	created := false
	if !exists || id == "" {
		var err error
		if r, err = m.createLocked(id); err != nil {
			return nil, err
		}
		created = true
	}

	if err := r.AddParticipant(p); err != nil {
		if created {
			m.deleteLocked(r.ID)
		}
		return nil, err
	}

	return r, nil
}

// LeaveRoom removes the participant and deletes the room once it is empty.
// It returns the removed participant.
func (m *Manager) LeaveRoom(r *Room, participantID string) (*Participant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, removed := r.RemoveParticipant(participantID)
	if r.IsEmpty() {
		if current, exists := m.rooms[r.ID]; exists && current == r {
			m.deleteLocked(r.ID)
		}
	}
	return p, removed
}

// DeleteRoom removes a room from the registry
func (m *Manager) DeleteRoom(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.deleteLocked(id)
}

func (m *Manager) deleteLocked(id string) bool {
	r, exists := m.rooms[id]
	if !exists {
		return false
	}

	r.close()
	delete(m.rooms, id)

	m.logger.Info("Deleted room",
		slog.String("room_id", id),
		slog.Duration("age", r.Age()),
		slog.Int("room_count", len(m.rooms)),
	)
	return true
}

// CleanupEmptyRooms removes every room without participants
func (m *Manager) CleanupEmptyRooms() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, r := range m.rooms {
		if r.IsEmpty() && m.deleteLocked(id) {
			removed++
		}
	}
	return removed
}

// CleanupIdleRooms removes rooms with no activity for longer than maxIdle.
// Members still in a removed room are told it is gone.
func (m *Manager) CleanupIdleRooms(maxIdle time.Duration) int {
	m.mu.Lock()
	var closed []*Room
	for id, r := range m.rooms {
		idle := r.IdleTime()
		if idle <= maxIdle {
			continue
		}

		m.logger.Info("Cleaning up idle room",
			slog.String("room_id", id),
			slog.Duration("idle", idle),
			slog.Int("participants", r.Count()),
		)
		if m.deleteLocked(id) {
			closed = append(closed, r)
		}
	}
	m.mu.Unlock()

	for _, r := range closed {
		if r.IsEmpty() {
			continue
		}
		r.Broadcast(protocol.NewError(protocol.CodeNotJoined,
			"room %s was closed after %v without activity", r.ID, maxIdle), "")
	}
	return len(closed)
}

// RoomCount returns the number of live rooms
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// TotalParticipants returns the number of participants across all rooms
func (m *Manager) TotalParticipants() int {
	return lo.SumBy(m.Rooms(), func(r *Room) int { return r.Count() })
}

// Rooms returns a snapshot of all live rooms, oldest first
func (m *Manager) Rooms() []*Room {
	m.mu.RLock()
	rooms := lo.Values(m.rooms)
	m.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms
}

// Start launches the periodic sweep. It runs until ctx is cancelled or
// Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		go m.sweepLoop(ctx)
	})
}

// Stop ends the periodic sweep and waits for it to exit
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.startOnce.Do(func() {}) // prevent a later Start
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}

		m.logger.Info("Room manager stopped",
			slog.Int("remaining_rooms", m.RoomCount()),
			slog.Int("remaining_participants", m.TotalParticipants()),
		)
	})
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	m.logger.Info("Room sweep started",
		slog.Duration("idle_timeout", m.config.IdleTimeout),
		slog.Duration("check_interval", m.config.SweepInterval),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Room sweep stopping")
			return

		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one cleanup pass over empty and idle rooms
func (m *Manager) Sweep() (empty, idle int) {
	empty = m.CleanupEmptyRooms()
	if m.config.IdleTimeout > 0 {
		idle = m.CleanupIdleRooms(m.config.IdleTimeout)
	}

	if empty > 0 || idle > 0 {
		m.logger.Info("Swept rooms",
			slog.Int("empty", empty),
			slog.Int("idle", idle),
			slog.Int("room_count", m.RoomCount()),
		)
	}

	if m.config.OnSweep != nil {
		if empty > 0 {
			m.config.OnSweep(SweepEmpty, empty)
		}
		if idle > 0 {
			m.config.OnSweep(SweepIdle, idle)
		}
	}

	return empty, idle
}

// generateRoomIDLocked returns a random id not currently in use
func (m *Manager) generateRoomIDLocked() string {
	for {
		id := randomRoomID()
		if _, exists := m.rooms[id]; !exists {
			return id
		}
	}
}

func randomRoomID() string {
	max := big.NewInt(int64(len(roomIDAlphabet)))
	id := make([]byte, roomIDLength)
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("failed to generate room id: %v", err))
		}
		id[i] = roomIDAlphabet[n.Int64()]
	}
	return string(id)
}
