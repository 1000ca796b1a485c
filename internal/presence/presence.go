package presence

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// EventType is a presence transition.
type EventType string

const (
	EventTypeJoin  EventType = "join"
	EventTypeLeave EventType = "leave"
)

// Event announces a participant joining or leaving a room. Presence drives
// participant lists only, never reconciliation.
type Event struct {
	Type          EventType `json:"type"`
	RoomID        uuid.UUID `json:"room_id"`
	ParticipantID string    `json:"participant_id"`
	At            time.Time `json:"at"`
}

func subject(roomID uuid.UUID) string {
	return fmt.Sprintf("rooms.%s.presence", roomID)
}

// Publisher announces presence transitions over NATS.
type Publisher struct {
	nc *nats.Conn
}

func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

func (p *Publisher) Publish(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal presence event: %w", err)
	}
	if err := p.nc.Publish(subject(event.RoomID), data); err != nil {
		return fmt.Errorf("failed to publish presence event: %w", err)
	}
	return nil
}

// Subscribe invokes handler for every presence event in the room.
func Subscribe(nc *nats.Conn, roomID uuid.UUID, handler func(Event)) (*nats.Subscription, error) {
	sub, err := nc.Subscribe(subject(roomID), func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn().
				Err(err).
				Str("room_id", roomID.String()).
				Msg("dropping malformed presence event")
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to presence: %w", err)
	}
	return sub, nil
}

// Roster tracks who is currently in each room.
type Roster struct {
	mu      sync.RWMutex
	members map[uuid.UUID]map[string]time.Time
}

func NewRoster() *Roster {
	return &Roster{members: make(map[uuid.UUID]map[string]time.Time)}
}

// HandleEvent applies a presence transition to the roster.
func (r *Roster) HandleEvent(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Type {
	case EventTypeJoin:
		if r.members[event.RoomID] == nil {
			r.members[event.RoomID] = make(map[string]time.Time)
		}
		r.members[event.RoomID][event.ParticipantID] = event.At
	case EventTypeLeave:
		if room, ok := r.members[event.RoomID]; ok {
			delete(room, event.ParticipantID)
			if len(room) == 0 {
				delete(r.members, event.RoomID)
			}
		}
	}
}

// Participants returns the sorted participant ids currently in the room.
func (r *Roster) Participants(roomID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.members[roomID]
	ids := make([]string, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
