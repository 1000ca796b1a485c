package gateway

import (
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/reelroom/sync/internal/playback"
	"github.com/reelroom/sync/internal/presence"
	"github.com/reelroom/sync/internal/strokes"
)

// roomBridge ties one room's NATS subjects to the local websocket pool. It
// lives from the first local connection to the room until the last one
// leaves, so multiple gateway instances can serve the same room through the
// broker.
type roomBridge struct {
	roomID  uuid.UUID
	refs    int
	channel *playback.NATSChannel
	bcast   *strokes.NATSBroadcaster
	subs    []*nats.Subscription
}

// openBridge subscribes the room's playback, stroke and presence subjects
// and forwards everything into the connection manager.
func (s *Service) openBridge(roomID uuid.UUID) (*roomBridge, error) {
	bridge := &roomBridge{
		roomID:  roomID,
		channel: playback.NewNATSChannel(s.nc, roomID),
		bcast:   strokes.NewNATSBroadcaster(s.nc, roomID),
	}

	playbackSub, err := bridge.channel.Subscribe(func(snap playback.Snapshot) {
		event, err := playbackEvent(roomID.String(), snap, s.clock.Now())
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to build playback event")
			return
		}
		s.manager.BroadcastToRoom(roomID, event)
	})
	if err != nil {
		return nil, err
	}
	bridge.subs = append(bridge.subs, playbackSub)

	strokeSub, err := bridge.bcast.Subscribe(
		func(batch strokes.Batch) {
			event, err := newRoomEvent(roomID.String(), EventTypeDrawBatch, batch, s.clock.Now())
			if err != nil {
				log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to build draw_batch event")
				return
			}
			s.manager.BroadcastToRoom(roomID, event)
		},
		func(clear strokes.Clear) {
			event, err := newRoomEvent(roomID.String(), EventTypeClear, clear, s.clock.Now())
			if err != nil {
				log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to build clear event")
				return
			}
			s.manager.BroadcastToRoom(roomID, event)
		},
	)
	if err != nil {
		bridge.close()
		return nil, err
	}
	bridge.subs = append(bridge.subs, strokeSub)

	presenceSub, err := presence.Subscribe(s.nc, roomID, func(ev presence.Event) {
		s.roster.HandleEvent(ev)
		payload := PresencePayload{Participants: s.roster.Participants(roomID)}
		event, err := newRoomEvent(roomID.String(), EventTypePresence, payload, s.clock.Now())
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to build presence event")
			return
		}
		s.manager.BroadcastToRoom(roomID, event)
	})
	if err != nil {
		bridge.close()
		return nil, err
	}
	bridge.subs = append(bridge.subs, presenceSub)

	log.Info().Str("room_id", roomID.String()).Msg("room bridge opened")
	return bridge, nil
}

// acquireBridge returns the bridge for a room, opening it on first use.
func (s *Service) acquireBridge(roomID uuid.UUID) (*roomBridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bridge, ok := s.bridges[roomID]; ok {
		bridge.refs++
		return bridge, nil
	}

	bridge, err := s.openBridge(roomID)
	if err != nil {
		return nil, err
	}
	bridge.refs = 1
	s.bridges[roomID] = bridge
	return bridge, nil
}

// releaseBridge drops one reference and tears the bridge down when the last
// local connection leaves the room.
func (s *Service) releaseBridge(roomID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bridge, ok := s.bridges[roomID]
	if !ok {
		return
	}
	bridge.refs--
	if bridge.refs > 0 {
		return
	}
	delete(s.bridges, roomID)
	bridge.close()
	log.Info().Str("room_id", roomID.String()).Msg("room bridge closed")
}

// bridgeFor returns the open bridge for a room, if any.
func (s *Service) bridgeFor(roomID uuid.UUID) *roomBridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridges[roomID]
}

func (b *roomBridge) close() {
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("room_id", b.roomID.String()).Msg("failed to unsubscribe room bridge")
		}
	}
	b.subs = nil
}
