package playback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSChannel carries playback snapshots for one room over core NATS.
// Delivery is at-most-once with no acknowledgements; the reconciliation
// protocol is state-based, so dropped or reordered snapshots only delay
// convergence.
type NATSChannel struct {
	nc     *nats.Conn
	roomID uuid.UUID
}

func NewNATSChannel(nc *nats.Conn, roomID uuid.UUID) *NATSChannel {
	return &NATSChannel{nc: nc, roomID: roomID}
}

func (c *NATSChannel) subject() string {
	return fmt.Sprintf("rooms.%s.playback", c.roomID)
}

// Publish sends a snapshot to every subscriber of the room.
func (c *NATSChannel) Publish(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.nc.Publish(c.subject(), data); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// Subscribe invokes handler for every snapshot published to the room.
// Undecodable payloads are logged and skipped, never surfaced as updates.
func (c *NATSChannel) Subscribe(handler func(Snapshot)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(c.subject(), func(msg *nats.Msg) {
		var snap Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			log.Warn().
				Err(err).
				Str("room_id", c.roomID.String()).
				Msg("dropping malformed playback snapshot")
			return
		}
		handler(snap)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to playback channel: %w", err)
	}
	return sub, nil
}
