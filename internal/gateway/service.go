package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/reelroom/sync/internal/playback"
	"github.com/reelroom/sync/internal/presence"
	"github.com/reelroom/sync/internal/strokes"
)

// PlaybackStore is what the gateway needs from playback persistence.
type PlaybackStore interface {
	Load(ctx context.Context, roomID uuid.UUID) (*playback.Snapshot, error)
	Save(ctx context.Context, roomID uuid.UUID, snap playback.Snapshot) error
	Reset(ctx context.Context, roomID uuid.UUID, videoRef *string, updatedBy string) error
}

// Service relays room traffic between websocket participants, the broker
// and durable storage. Participant-side reconciliation (throttling, drift
// correction, batching) stays in the playback and strokes sessions; the
// gateway persists writes, fans events out, and hydrates late joiners.
type Service struct {
	manager   *ConnectionManager
	wsHandler *WebSocketHandler

	nc           *nats.Conn
	playbackRepo PlaybackStore
	strokeStore  strokes.Store
	presencePub  *presence.Publisher
	roster       *presence.Roster
	clock        clockwork.Clock

	mu      sync.Mutex
	bridges map[uuid.UUID]*roomBridge
}

// Config holds configuration for the room gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	Clock            clockwork.Clock
}

// DefaultConfig returns default configuration for the room gateway.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		Clock:            clockwork.NewRealClock(),
	}
}

// NewService creates a room gateway service.
func NewService(config Config, nc *nats.Conn, playbackRepo PlaybackStore, strokeStore strokes.Store) *Service {
	manager := NewConnectionManager(config.ConnectionConfig)

	s := &Service{
		manager:      manager,
		nc:           nc,
		playbackRepo: playbackRepo,
		strokeStore:  strokeStore,
		presencePub:  presence.NewPublisher(nc),
		roster:       presence.NewRoster(),
		clock:        config.Clock,
		bridges:      make(map[uuid.UUID]*roomBridge),
	}
	s.wsHandler = NewWebSocketHandler(manager)
	manager.SetCommandHandler(s)
	manager.SetLifecycle(s)
	return s
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")

	go s.manager.Start(ctx)

	<-ctx.Done()

	log.Info().Msg("room gateway service shutting down")
	return s.Stop()
}

// Stop tears down every room bridge.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for roomID, bridge := range s.bridges {
		bridge.close()
		delete(s.bridges, roomID)
	}
	log.Info().Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the websocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// GetStats returns statistics about the gateway service.
func (s *Service) GetStats() map[string]interface{} {
	stats := s.manager.GetConnectionStats()
	stats["service"] = "room_gateway"
	stats["status"] = "running"
	return stats
}

// OnConnect hydrates the new participant and announces the join. Hydration
// events go down the connection's own send queue before any live broadcast
// for the room reaches it.
func (s *Service) OnConnect(conn *Connection) {
	if _, err := s.acquireBridge(conn.RoomID); err != nil {
		log.Error().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Msg("failed to open room bridge")
	}

	join := presence.Event{
		Type:          presence.EventTypeJoin,
		RoomID:        conn.RoomID,
		ParticipantID: conn.ParticipantID,
		At:            s.clock.Now(),
	}
	// Apply the join locally first so the hydration roster includes the
	// joiner; the broadcast only reaches connections already in the pool.
	s.roster.HandleEvent(join)

	s.hydrate(conn)

	err := s.presencePub.Publish(join)
	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Msg("failed to publish join event")
	}
}

// OnDisconnect announces the leave and releases the room bridge.
func (s *Service) OnDisconnect(conn *Connection) {
	err := s.presencePub.Publish(presence.Event{
		Type:          presence.EventTypeLeave,
		RoomID:        conn.RoomID,
		ParticipantID: conn.ParticipantID,
		At:            s.clock.Now(),
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Msg("failed to publish leave event")
	}

	s.releaseBridge(conn.RoomID)
}

// hydrate sends the current snapshot, the full ordered stroke history and
// the room roster to a newly connected participant.
func (s *Service) hydrate(conn *Connection) {
	ctx := context.Background()
	roomID := conn.RoomID

	snap, err := s.playbackRepo.Load(ctx, roomID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", roomID.String()).
			Msg("failed to load playback snapshot for hydration")
	} else if snap != nil {
		event, err := playbackEvent(roomID.String(), *snap, s.clock.Now())
		if err != nil {
			log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to build hydration playback event")
		} else {
			s.manager.SendToConnection(conn, event)
		}
	}

	history, err := s.strokeStore.List(ctx, roomID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("room_id", roomID.String()).
			Msg("failed to load stroke history for hydration")
		return
	}
	event, err := newRoomEvent(roomID.String(), EventTypeStrokeHistory, StrokeHistoryPayload{Strokes: history}, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to build stroke history event")
		return
	}
	s.manager.SendToConnection(conn, event)

	roster := PresencePayload{Participants: s.roster.Participants(roomID)}
	event, err = newRoomEvent(roomID.String(), EventTypePresence, roster, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to build hydration presence event")
		return
	}
	s.manager.SendToConnection(conn, event)

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", roomID.String()).
		Int("strokes", len(history)).
		Msg("participant hydrated")
}

// HandleCommand applies a participant command to the room.
func (s *Service) HandleCommand(conn *Connection, data []byte) {
	cmd, err := ParseCommand(data)
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("dropping malformed command")
		return
	}

	payload, err := ParseCommandPayload(cmd)
	if err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Str("command", string(cmd.Type)).
			Msg("dropping command with malformed payload")
		return
	}

	ctx := context.Background()

	switch cmd.Type {
	case CommandReportTime, CommandPlayPause, CommandSeek:
		s.applyPlaybackReport(ctx, conn, payload.(PlaybackReport))

	case CommandSetVideo:
		s.setVideo(ctx, conn, payload.(SetVideoCommand))

	case CommandDrawBatch:
		p := payload.(DrawBatchCommand)
		s.relayBatch(ctx, conn, strokes.Batch{
			SenderID: conn.ParticipantID,
			Points:   p.Points,
			Color:    p.Color,
		})

	case CommandEndStroke:
		p := payload.(EndStrokeCommand)
		s.persistStroke(ctx, conn, p)

	case CommandClear:
		s.clearRoom(ctx, conn)
	}
}

// applyPlaybackReport is the write path for all three playback commands:
// persist last-write-wins, then fan out.
func (s *Service) applyPlaybackReport(ctx context.Context, conn *Connection, report PlaybackReport) {
	if report.Position < 0 {
		report.Position = 0
	}
	snap := playback.Snapshot{
		IsPlaying: report.IsPlaying,
		Position:  report.Position,
		UpdatedAt: s.clock.Now(),
		UpdatedBy: conn.ParticipantID,
	}

	if err := s.playbackRepo.Save(ctx, conn.RoomID, snap); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Msg("failed to persist playback report")
	}

	bridge := s.bridgeFor(conn.RoomID)
	if bridge == nil {
		return
	}
	if err := bridge.channel.Publish(ctx, snap); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Msg("failed to publish playback report")
	}
}

// setVideo swaps the room's media reference and broadcasts the reset
// snapshot so every participant re-hydrates against position zero, paused.
func (s *Service) setVideo(ctx context.Context, conn *Connection, cmd SetVideoCommand) {
	if err := s.playbackRepo.Reset(ctx, conn.RoomID, cmd.VideoRef, conn.ParticipantID); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Msg("failed to reset playback for new video")
		return
	}

	snap := playback.Snapshot{
		VideoRef:  cmd.VideoRef,
		IsPlaying: false,
		Position:  0,
		UpdatedAt: s.clock.Now(),
		UpdatedBy: conn.ParticipantID,
	}
	bridge := s.bridgeFor(conn.RoomID)
	if bridge == nil {
		return
	}
	if err := bridge.channel.Publish(ctx, snap); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Msg("failed to publish video reset")
	}
}

func (s *Service) relayBatch(ctx context.Context, conn *Connection, batch strokes.Batch) {
	bridge := s.bridgeFor(conn.RoomID)
	if bridge == nil {
		return
	}
	if err := bridge.bcast.PublishBatch(ctx, batch); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Msg("failed to relay draw batch")
	}
}

func (s *Service) persistStroke(ctx context.Context, conn *Connection, cmd EndStrokeCommand) {
	stroke := strokes.Stroke{
		ID:        uuid.New(),
		RoomID:    conn.RoomID,
		Points:    cmd.Points,
		Color:     cmd.Color,
		CreatedAt: s.clock.Now(),
		CreatedBy: conn.ParticipantID,
	}
	if _, err := s.strokeStore.Append(ctx, stroke); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Msg("failed to persist stroke")
	}
}

// clearRoom broadcasts the wipe and then issues the durable delete. The
// broadcast is optimistic: on delete failure peers are already wiped while
// storage still holds the strokes, and the failure is logged.
func (s *Service) clearRoom(ctx context.Context, conn *Connection) {
	bridge := s.bridgeFor(conn.RoomID)
	if bridge != nil {
		if err := bridge.bcast.PublishClear(ctx, strokes.Clear{SenderID: conn.ParticipantID}); err != nil {
			log.Warn().
				Err(err).
				Str("room_id", conn.RoomID.String()).
				Msg("failed to broadcast clear")
		}
	}

	if err := s.strokeStore.DeleteAll(ctx, conn.RoomID); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", conn.RoomID.String()).
			Msg("failed to delete strokes on clear")
	}
}
