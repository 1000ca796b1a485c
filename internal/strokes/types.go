package strokes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// PointKind distinguishes the first point of a path from its extensions.
type PointKind string

const (
	// PointStart begins a new path at the point's coordinates.
	PointStart PointKind = "start"
	// PointMove extends the current path with a line segment.
	PointMove PointKind = "move"
)

// Point is one sample of a freehand path. Order within a stroke is carried
// by the payload itself, never inferred from arrival order.
type Point struct {
	X    float64   `json:"x"`
	Y    float64   `json:"y"`
	Kind PointKind `json:"kind"`
}

// Stroke is one continuous freehand path from pointer-down to pointer-up,
// drawn with a single color. The visible canvas at any time is the in-order
// replay of all non-deleted strokes for the room.
type Stroke struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	Points    []Point   `json:"points"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// Batch is a short-lived buffer of in-progress points flushed to peers at
// the configured tick interval.
type Batch struct {
	SenderID string  `json:"sender_id"`
	Points   []Point `json:"points"`
	Color    string  `json:"color"`
}

// Clear asks peers to wipe their visible canvases.
type Clear struct {
	SenderID string `json:"sender_id"`
}

// Surface is the opaque drawing target. Trace processes points in order:
// a start point begins a new path, a move point draws a segment from the
// previous point (a move with no open path begins one, which keeps partial
// remote batches renderable). Rendering itself is out of scope.
type Surface interface {
	Color() string
	SetColor(color string)
	Trace(points []Point)
	// Wipe clears the visible pixels without touching surface dimensions.
	Wipe()
	// Reset reallocates the drawing buffer at new dimensions and scale,
	// discarding all pixels.
	Reset(width, height, scale float64)
}

// Store is the durable stroke history, the source of truth for late
// joiners.
type Store interface {
	List(ctx context.Context, roomID uuid.UUID) ([]Stroke, error)
	Append(ctx context.Context, stroke Stroke) (Stroke, error)
	DeleteAll(ctx context.Context, roomID uuid.UUID) error
}

// Broadcaster fans events out to peers, fire-and-forget.
type Broadcaster interface {
	PublishBatch(ctx context.Context, batch Batch) error
	PublishClear(ctx context.Context, clear Clear) error
}

// Config holds per-session tuning for the drawing protocol.
type Config struct {
	RoomID        uuid.UUID
	ParticipantID string

	// Color applied to strokes drawn by this participant.
	Color string
	// FlushInterval bounds both the outbound batch rate and the latency of
	// in-progress points.
	FlushInterval time.Duration

	Clock clockwork.Clock
}

// DefaultConfig returns the recommended drawing tuning.
func DefaultConfig(roomID uuid.UUID, participantID string) Config {
	return Config{
		RoomID:        roomID,
		ParticipantID: participantID,
		Color:         "#ffffff",
		FlushInterval: 10 * time.Millisecond,
		Clock:         clockwork.NewRealClock(),
	}
}
