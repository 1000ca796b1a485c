package strokes

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session owns one participant's view of a room canvas: the in-progress
// stroke buffer, the outbound batch buffer, and the ordered in-memory
// stroke list that repaints are replayed from. The surface handle and the
// list are mutated only through the session.
type Session struct {
	cfg     Config
	surface Surface
	store   Store
	bcast   Broadcaster

	mu      sync.Mutex
	strokes []Stroke
	current []Point
	pending []Point
	// open maps a remote sender to the index of its in-progress stroke in
	// the list, so continuation batches merge into one entry. tracer is
	// the owner of the surface's current path.
	open    map[string]int
	tracer  string
	drawing bool
	closed  bool

	flushStop chan struct{}
	flushDone chan struct{}
}

// NewSession creates a session for one participant in one room.
func NewSession(cfg Config, surface Surface, store Store, bcast Broadcaster) *Session {
	return &Session{
		cfg:     cfg,
		surface: surface,
		store:   store,
		bcast:   bcast,
		open:    make(map[string]int),
	}
}

// Join fetches the full stroke history for the room and replays it in
// creation order. Call before processing any live events.
func (s *Session) Join(ctx context.Context) error {
	history, err := s.store.List(ctx, s.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("failed to load stroke history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.strokes = history
	s.open = make(map[string]int)
	s.replayLocked()

	log.Info().
		Str("room_id", s.cfg.RoomID.String()).
		Str("participant_id", s.cfg.ParticipantID).
		Int("strokes", len(history)).
		Msg("stroke history replayed")
	return nil
}

// BeginStroke opens a new path at the pointer-down position and starts the
// batch flusher if it is not already running.
func (s *Session) BeginStroke(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.drawing {
		return
	}

	p := Point{X: x, Y: y, Kind: PointStart}
	s.surface.Trace([]Point{p})
	s.tracer = s.cfg.ParticipantID
	s.current = []Point{p}
	s.pending = append(s.pending, p)
	s.drawing = true
	s.startFlusherLocked()
}

// MovePoint extends the in-progress path. The point renders immediately and
// is buffered for the next batch flush. If a remote batch traced in the
// meantime, the local path is re-anchored at its own last point first.
func (s *Session) MovePoint(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.drawing {
		return
	}

	p := Point{X: x, Y: y, Kind: PointMove}
	if s.tracer != s.cfg.ParticipantID && len(s.current) > 0 {
		last := s.current[len(s.current)-1]
		s.surface.Trace([]Point{{X: last.X, Y: last.Y, Kind: PointStart}, p})
	} else {
		s.surface.Trace([]Point{p})
	}
	s.tracer = s.cfg.ParticipantID
	s.current = append(s.current, p)
	s.pending = append(s.pending, p)
}

// EndStroke closes the path: flushes any buffered remainder, stops the
// flusher, persists the whole stroke as one durable record, and appends it
// to the in-memory list. A failed append is logged and returned but the
// optimistic local state is not rolled back.
func (s *Session) EndStroke(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || !s.drawing {
		s.mu.Unlock()
		return nil
	}
	s.drawing = false
	points := s.current
	s.current = nil
	s.mu.Unlock()

	s.stopFlusher()
	s.flush(ctx)

	stroke := Stroke{
		ID:        uuid.New(),
		RoomID:    s.cfg.RoomID,
		Points:    points,
		Color:     s.cfg.Color,
		CreatedAt: s.cfg.Clock.Now(),
		CreatedBy: s.cfg.ParticipantID,
	}

	s.mu.Lock()
	s.strokes = append(s.strokes, stroke)
	s.mu.Unlock()

	if _, err := s.store.Append(ctx, stroke); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", s.cfg.RoomID.String()).
			Msg("failed to persist stroke")
		return fmt.Errorf("failed to persist stroke: %w", err)
	}
	return nil
}

// HandleBatch renders a peer's in-progress points. Batches echoed back for
// this participant are ignored. The event color temporarily overrides the
// surface color so concurrent local drawing is unaffected, and the points
// are retained in the in-memory list so they survive a later repaint.
//
// Concurrent drawers interleave: a sender's continuation batch (all move
// points) may arrive while the surface's current path belongs to someone
// else. The continuation is re-anchored at that sender's last known point
// so it never chains onto another drawer's stroke, and it merges into the
// sender's existing list entry so one logical stroke stays one entry.
func (s *Session) HandleBatch(batch Batch) {
	if batch.SenderID == s.cfg.ParticipantID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(batch.Points) == 0 {
		return
	}

	points := batch.Points
	idx, cont := s.open[batch.SenderID]
	if points[0].Kind == PointStart {
		cont = false
	}

	if points[0].Kind == PointMove && s.tracer != batch.SenderID {
		if cont && len(s.strokes[idx].Points) > 0 {
			// Re-anchor: resume the sender's path where it left off.
			// The synthetic start is render-only; the list entry stays
			// a contiguous point sequence.
			frag := s.strokes[idx].Points
			last := frag[len(frag)-1]
			points = append([]Point{{X: last.X, Y: last.Y, Kind: PointStart}}, points...)
		} else {
			// Partial delivery: the opening batch was lost, so the
			// first known point starts the path.
			points = append([]Point(nil), points...)
			points[0].Kind = PointStart
		}
	}

	prev := s.surface.Color()
	s.surface.SetColor(batch.Color)
	s.surface.Trace(points)
	s.surface.SetColor(prev)
	s.tracer = batch.SenderID

	if cont {
		s.strokes[idx].Points = append(s.strokes[idx].Points, batch.Points...)
		return
	}
	// A list entry always begins with a start point so replaying entries
	// back to back never chains one stroke onto another.
	stored := points
	if stored[0].Kind == PointMove {
		stored = append([]Point(nil), stored...)
		stored[0].Kind = PointStart
	}
	s.strokes = append(s.strokes, Stroke{
		RoomID:    s.cfg.RoomID,
		Points:    stored,
		Color:     batch.Color,
		CreatedAt: s.cfg.Clock.Now(),
		CreatedBy: batch.SenderID,
	})
	s.open[batch.SenderID] = len(s.strokes) - 1
}

// HandleClear wipes the visible canvas. The in-memory list is untouched:
// the authoritative clear is the clearing participant's durable delete.
func (s *Session) HandleClear(clear Clear) {
	if clear.SenderID == s.cfg.ParticipantID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.surface.Wipe()
	s.tracer = ""
}

// Clear wipes the local canvas optimistically, broadcasts the clear, and
// issues the durable delete. If the delete fails the retained list is
// replayed back so the visible canvas matches storage again.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.surface.Wipe()
	s.tracer = ""
	s.mu.Unlock()

	if err := s.bcast.PublishClear(ctx, Clear{SenderID: s.cfg.ParticipantID}); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", s.cfg.RoomID.String()).
			Msg("failed to broadcast clear")
	}

	if err := s.store.DeleteAll(ctx, s.cfg.RoomID); err != nil {
		s.mu.Lock()
		s.replayLocked()
		s.mu.Unlock()
		log.Warn().
			Err(err).
			Str("room_id", s.cfg.RoomID.String()).
			Msg("durable clear failed, restored strokes from memory")
		return fmt.Errorf("failed to clear strokes: %w", err)
	}

	s.mu.Lock()
	s.strokes = nil
	s.open = make(map[string]int)
	s.mu.Unlock()
	return nil
}

// Resize reallocates the drawing buffer at the new dimensions and rebuilds
// the visible drawing from the ordered list. Repaint is idempotent: visual
// state is always derivable from the list, never from pixel history.
func (s *Session) Resize(width, height, scale float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.surface.Reset(width, height, scale)
	s.replayLocked()
}

// Strokes returns a copy of the in-memory stroke list.
func (s *Session) Strokes() []Stroke {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Stroke, len(s.strokes))
	copy(out, s.strokes)
	return out
}

// Close stops the flusher and discards all buffers so no timer fires after
// teardown.
func (s *Session) Close() {
	s.stopFlusher()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.drawing = false
	s.strokes = nil
	s.current = nil
	s.pending = nil
	s.open = nil
	s.tracer = ""
}

// replayLocked redraws every stroke in order with its own color.
func (s *Session) replayLocked() {
	prev := s.surface.Color()
	for _, stroke := range s.strokes {
		s.surface.SetColor(stroke.Color)
		s.surface.Trace(stroke.Points)
	}
	s.surface.SetColor(prev)

	s.tracer = ""
	if n := len(s.strokes); n > 0 {
		s.tracer = s.strokes[n-1].CreatedBy
	}
}

// flush sends the outbound buffer as a single batch if non-empty. Failures
// are logged and dropped; the completed stroke is persisted in full on
// pointer-up regardless.
func (s *Session) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	points := s.pending
	s.pending = nil
	s.mu.Unlock()

	batch := Batch{
		SenderID: s.cfg.ParticipantID,
		Points:   points,
		Color:    s.cfg.Color,
	}
	if err := s.bcast.PublishBatch(ctx, batch); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", s.cfg.RoomID.String()).
			Msg("failed to broadcast stroke batch")
	}
}

// startFlusherLocked launches the periodic batch flusher. Caller holds mu.
func (s *Session) startFlusherLocked() {
	if s.flushStop != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.flushStop = stop
	s.flushDone = done

	go func() {
		defer close(done)
		ticker := s.cfg.Clock.NewTicker(s.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				s.flush(context.Background())
			}
		}
	}()
}

// stopFlusher stops the periodic flusher and waits for it to exit. Safe to
// call when no flusher is running. Caller must not hold mu.
func (s *Session) stopFlusher() {
	s.mu.Lock()
	stop := s.flushStop
	done := s.flushDone
	s.flushStop = nil
	s.flushDone = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
