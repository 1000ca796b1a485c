package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/reelroom/sync/internal/playback"
	"github.com/reelroom/sync/internal/strokes"
)

// RoomEvent is the envelope pushed down to websocket participants.
type RoomEvent struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      RoomEventType   `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// RoomEventType identifies a server-to-client room event.
type RoomEventType string

const (
	EventTypePlayback      RoomEventType = "playback"
	EventTypeDrawBatch     RoomEventType = "draw_batch"
	EventTypeClear         RoomEventType = "clear"
	EventTypePresence      RoomEventType = "presence"
	EventTypeStrokeHistory RoomEventType = "stroke_history"
)

// StrokeHistoryPayload hydrates a late joiner with the full ordered stroke
// list before any live events.
type StrokeHistoryPayload struct {
	Strokes []strokes.Stroke `json:"strokes"`
}

// PresencePayload carries the current participant roster for UI lists.
type PresencePayload struct {
	Participants []string `json:"participants"`
}

// CommandType identifies a client-to-server command.
type CommandType string

const (
	CommandReportTime CommandType = "report_time"
	CommandPlayPause  CommandType = "play_pause"
	CommandSeek       CommandType = "seek"
	CommandSetVideo   CommandType = "set_video"
	CommandDrawBatch  CommandType = "draw_batch"
	CommandEndStroke  CommandType = "end_stroke"
	CommandClear      CommandType = "clear"
)

// Command is the envelope read from websocket participants.
type Command struct {
	Type CommandType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// PlaybackReport is the payload for report_time, play_pause and seek. All
// three produce the same authoritative snapshot write; only the client-side
// throttling differs.
type PlaybackReport struct {
	Position  float64 `json:"position"`
	IsPlaying bool    `json:"is_playing"`
}

// SetVideoCommand changes the room's media reference and resets playback
// to paused at position zero.
type SetVideoCommand struct {
	VideoRef *string `json:"video_ref"`
}

// DrawBatchCommand relays in-progress points to peers.
type DrawBatchCommand struct {
	Points []strokes.Point `json:"points"`
	Color  string          `json:"color"`
}

// EndStrokeCommand persists one completed stroke.
type EndStrokeCommand struct {
	Points []strokes.Point `json:"points"`
	Color  string          `json:"color"`
}

// ParseCommand decodes a client command envelope.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("failed to parse command: %w", err)
	}
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("command type is required")
	}
	return cmd, nil
}

// ParseCommandPayload decodes the payload for a command type.
func ParseCommandPayload(cmd Command) (interface{}, error) {
	switch cmd.Type {
	case CommandReportTime, CommandPlayPause, CommandSeek:
		var payload PlaybackReport
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse %s payload: %w", cmd.Type, err)
		}
		return payload, nil

	case CommandSetVideo:
		var payload SetVideoCommand
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse set_video payload: %w", err)
		}
		return payload, nil

	case CommandDrawBatch:
		var payload DrawBatchCommand
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse draw_batch payload: %w", err)
		}
		return payload, nil

	case CommandEndStroke:
		var payload EndStrokeCommand
		if err := json.Unmarshal(cmd.Data, &payload); err != nil {
			return nil, fmt.Errorf("failed to parse end_stroke payload: %w", err)
		}
		return payload, nil

	case CommandClear:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown command type %q", cmd.Type)
	}
}

// newRoomEvent wraps a payload in the event envelope.
func newRoomEvent(roomID string, eventType RoomEventType, payload any, now time.Time) (*RoomEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	return &RoomEvent{
		ID:        newEventID(),
		RoomID:    roomID,
		Type:      eventType,
		Timestamp: now,
		Data:      data,
	}, nil
}

// playbackEvent wraps an authoritative snapshot for fan-out.
func playbackEvent(roomID string, snap playback.Snapshot, now time.Time) (*RoomEvent, error) {
	return newRoomEvent(roomID, EventTypePlayback, snap, now)
}
