package playback

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Snapshot is the authoritative playback record for a room. Every
// participant reconciles its local player against the most recent snapshot;
// last-write-wins by UpdatedAt is the only conflict rule.
type Snapshot struct {
	VideoRef  *string   `json:"video_ref,omitempty"`
	IsPlaying bool      `json:"is_playing"`
	Position  float64   `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
}

// ExpectedPosition returns where the room timeline should be at now:
// the stored position advanced by elapsed wall time while playing.
func (s Snapshot) ExpectedPosition(now time.Time) float64 {
	if !s.IsPlaying {
		return s.Position
	}
	expected := s.Position + now.Sub(s.UpdatedAt).Seconds()
	if expected < 0 {
		return 0
	}
	return expected
}

// Valid reports whether the snapshot is well-formed enough to reconcile
// against. Malformed snapshots are treated as "no update".
func (s Snapshot) Valid() bool {
	return !s.UpdatedAt.IsZero() && s.Position >= 0
}

// State is the session's hydration state.
type State int

const (
	// StateUninitialized means no remote snapshot has been seen yet.
	StateUninitialized State = iota
	// StateHydrating means the first snapshot arrived but the seek has not
	// been applied yet (player not attached or not ready).
	StateHydrating
	// StateSynced means the session is reconciling normally.
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHydrating:
		return "hydrating"
	case StateSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Player is the opaque player-control handle. The media pipeline behind it
// is out of scope; a session only issues seek/play/pause commands and reads
// the current time.
type Player interface {
	SeekTo(seconds float64)
	CurrentTime() float64
	SetPlaying(playing bool)
	Ready() bool
}

// Channel publishes snapshots to the room. Fire-and-forget: a failed
// publish is superseded by the next periodic or user-triggered report.
type Channel interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// Config holds per-session tuning for playback reconciliation.
type Config struct {
	RoomID        uuid.UUID
	ParticipantID string

	// ThrottleInterval bounds outbound periodic time reports.
	ThrottleInterval time.Duration
	// DriftThreshold is the maximum |local - expected| before a corrective
	// seek is issued.
	DriftThreshold time.Duration
	// GuardWindow suppresses outbound echo after a locally applied
	// correction so it is not re-reported as a new drift event.
	GuardWindow time.Duration

	Clock clockwork.Clock
}

// DefaultConfig returns the recommended reconciliation tuning.
func DefaultConfig(roomID uuid.UUID, participantID string) Config {
	return Config{
		RoomID:           roomID,
		ParticipantID:    participantID,
		ThrottleInterval: 1500 * time.Millisecond,
		DriftThreshold:   1250 * time.Millisecond,
		GuardWindow:      250 * time.Millisecond,
		Clock:            clockwork.NewRealClock(),
	}
}
