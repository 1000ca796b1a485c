package strokes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// EventType identifies a stroke broadcast event.
type EventType string

const (
	EventTypeDrawBatch EventType = "draw_batch"
	EventTypeClear     EventType = "clear"
)

// Event is the wire envelope for stroke broadcasts.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NATSBroadcaster fans stroke events out over core NATS, fire-and-forget.
type NATSBroadcaster struct {
	nc     *nats.Conn
	roomID uuid.UUID
}

func NewNATSBroadcaster(nc *nats.Conn, roomID uuid.UUID) *NATSBroadcaster {
	return &NATSBroadcaster{nc: nc, roomID: roomID}
}

func (b *NATSBroadcaster) subject() string {
	return fmt.Sprintf("rooms.%s.strokes", b.roomID)
}

// PublishBatch broadcasts in-progress points to peers.
func (b *NATSBroadcaster) PublishBatch(ctx context.Context, batch Batch) error {
	return b.publish(EventTypeDrawBatch, batch)
}

// PublishClear broadcasts a canvas wipe to peers.
func (b *NATSBroadcaster) PublishClear(ctx context.Context, clear Clear) error {
	return b.publish(EventTypeClear, clear)
}

func (b *NATSBroadcaster) publish(eventType EventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	envelope, err := json.Marshal(Event{Type: eventType, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	if err := b.nc.Publish(b.subject(), envelope); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

// Subscribe routes incoming stroke events to the given handlers. Malformed
// events are logged and skipped.
func (b *NATSBroadcaster) Subscribe(onBatch func(Batch), onClear func(Clear)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(b.subject(), func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn().
				Err(err).
				Str("room_id", b.roomID.String()).
				Msg("dropping malformed stroke event")
			return
		}

		switch event.Type {
		case EventTypeDrawBatch:
			var batch Batch
			if err := json.Unmarshal(event.Data, &batch); err != nil {
				log.Warn().Err(err).Str("room_id", b.roomID.String()).Msg("dropping malformed draw batch")
				return
			}
			onBatch(batch)
		case EventTypeClear:
			var clear Clear
			if err := json.Unmarshal(event.Data, &clear); err != nil {
				log.Warn().Err(err).Str("room_id", b.roomID.String()).Msg("dropping malformed clear event")
				return
			}
			onClear(clear)
		default:
			log.Debug().
				Str("room_id", b.roomID.String()).
				Str("type", string(event.Type)).
				Msg("ignoring unknown stroke event type")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to stroke events: %w", err)
	}
	return sub, nil
}
