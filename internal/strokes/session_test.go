package strokes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSurface records draw operations so tests can assert replay order
// without rendering pixels.
type recordSurface struct {
	mu    sync.Mutex
	color string
	ops   []string
}

func (s *recordSurface) Color() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.color
}

func (s *recordSurface) SetColor(color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.color = color
	s.ops = append(s.ops, "color "+color)
}

func (s *recordSurface) Trace(points []Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.ops = append(s.ops, fmt.Sprintf("%s %.0f,%.0f %s", p.Kind, p.X, p.Y, s.color))
	}
}

func (s *recordSurface) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, "wipe")
}

func (s *recordSurface) Reset(width, height, scale float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, fmt.Sprintf("reset %.0fx%.0f@%.1f", width, height, scale))
}

func (s *recordSurface) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

func (s *recordSurface) clearOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

type fakeStore struct {
	mu        sync.Mutex
	history   []Stroke
	appended  []Stroke
	deleteErr error
	deleted   int
}

func (f *fakeStore) List(ctx context.Context, roomID uuid.UUID) ([]Stroke, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeStore) Append(ctx context.Context, stroke Stroke) (Stroke, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, stroke)
	return stroke, nil
}

func (f *fakeStore) DeleteAll(ctx context.Context, roomID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted++
	return nil
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	batches []Batch
	clears  []Clear
	flushed chan struct{}
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{flushed: make(chan struct{}, 16)}
}

func (f *fakeBroadcaster) PublishBatch(ctx context.Context, batch Batch) error {
	f.mu.Lock()
	f.batches = append(f.batches, batch)
	f.mu.Unlock()
	f.flushed <- struct{}{}
	return nil
}

func (f *fakeBroadcaster) PublishClear(ctx context.Context, clear Clear) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears = append(f.clears, clear)
	return nil
}

func (f *fakeBroadcaster) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeBroadcaster) batch(i int) Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

func waitFlushed(t *testing.T, b *fakeBroadcaster) {
	t.Helper()
	select {
	case <-b.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch flush")
	}
}

func newTestStrokeSession(t *testing.T) (*Session, *recordSurface, *fakeStore, *fakeBroadcaster, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig(uuid.New(), "alice")
	cfg.Color = "#111111"
	cfg.Clock = clock
	surface := &recordSurface{color: cfg.Color}
	store := &fakeStore{}
	bcast := newFakeBroadcaster()
	session := NewSession(cfg, surface, store, bcast)
	t.Cleanup(session.Close)
	return session, surface, store, bcast, clock
}

func TestSession_BatchFlush(t *testing.T) {
	session, _, _, bcast, clock := newTestStrokeSession(t)

	session.BeginStroke(10, 10)
	session.MovePoint(20, 20)
	session.MovePoint(30, 30)

	// Wait for the flusher to arm its ticker before advancing.
	clock.BlockUntil(1)
	clock.Advance(10 * time.Millisecond)
	waitFlushed(t, bcast)

	require.Equal(t, 1, bcast.batchCount())
	batch := bcast.batch(0)
	assert.Equal(t, "alice", batch.SenderID)
	assert.Equal(t, "#111111", batch.Color)
	require.Len(t, batch.Points, 3)
	assert.Equal(t, PointStart, batch.Points[0].Kind)
	assert.Equal(t, PointMove, batch.Points[2].Kind)

	// Later points go out in the next tick, so the buffer never grows
	// unboundedly.
	session.MovePoint(40, 40)
	clock.Advance(10 * time.Millisecond)
	waitFlushed(t, bcast)

	require.Equal(t, 2, bcast.batchCount())
	second := bcast.batch(1)
	require.Len(t, second.Points, 1)
	assert.Equal(t, 40.0, second.Points[0].X)
}

func TestSession_EmptyBufferDoesNotFlush(t *testing.T) {
	session, _, _, bcast, clock := newTestStrokeSession(t)

	session.BeginStroke(1, 1)
	clock.BlockUntil(1)
	clock.Advance(10 * time.Millisecond)
	waitFlushed(t, bcast)

	// No new points buffered; further ticks publish nothing.
	clock.Advance(10 * time.Millisecond)
	clock.Advance(10 * time.Millisecond)
	assert.Equal(t, 1, bcast.batchCount())
}

func TestSession_EndStrokePersistsWholeStroke(t *testing.T) {
	session, _, store, bcast, clock := newTestStrokeSession(t)

	session.BeginStroke(10, 10)
	session.MovePoint(20, 20)
	require.NoError(t, session.EndStroke(context.Background()))

	// Remainder is flushed on pointer-up even if no tick fired.
	require.Equal(t, 1, bcast.batchCount())

	require.Len(t, store.appended, 1)
	stored := store.appended[0]
	assert.Equal(t, "#111111", stored.Color)
	assert.Equal(t, "alice", stored.CreatedBy)
	assert.Equal(t, clock.Now(), stored.CreatedAt)
	require.Len(t, stored.Points, 2)
	assert.Equal(t, PointStart, stored.Points[0].Kind)
	assert.Equal(t, PointMove, stored.Points[1].Kind)

	require.Len(t, session.Strokes(), 1)
}

func TestSession_SelfEchoSuppression(t *testing.T) {
	session, surface, _, _, _ := newTestStrokeSession(t)

	session.HandleBatch(Batch{
		SenderID: "alice",
		Points:   []Point{{X: 1, Y: 1, Kind: PointStart}},
		Color:    "#ff0000",
	})

	assert.Empty(t, surface.snapshot(), "own batches echoed back are never re-rendered")
	assert.Empty(t, session.Strokes())
}

func TestSession_RemoteBatchRendersWithEventColor(t *testing.T) {
	session, surface, _, _, _ := newTestStrokeSession(t)

	session.HandleBatch(Batch{
		SenderID: "bob",
		Points: []Point{
			{X: 10, Y: 10, Kind: PointStart},
			{X: 20, Y: 20, Kind: PointMove},
		},
		Color: "#00ff00",
	})

	ops := surface.snapshot()
	require.Equal(t, []string{
		"color #00ff00",
		"start 10,10 #00ff00",
		"move 20,20 #00ff00",
		"color #111111",
	}, ops, "event color overrides and then restores the local color")

	require.Len(t, session.Strokes(), 1)
	assert.Equal(t, "bob", session.Strokes()[0].CreatedBy)
}

func TestSession_InterleavedRemoteBatches(t *testing.T) {
	t.Run("continuation re-anchors after another drawer", func(t *testing.T) {
		session, surface, _, _, _ := newTestStrokeSession(t)

		session.HandleBatch(Batch{
			SenderID: "bob",
			Points:   []Point{{X: 1, Y: 1, Kind: PointStart}, {X: 2, Y: 2, Kind: PointMove}},
			Color:    "#0000ff",
		})
		session.HandleBatch(Batch{
			SenderID: "carol",
			Points:   []Point{{X: 100, Y: 100, Kind: PointStart}},
			Color:    "#00ff00",
		})
		session.HandleBatch(Batch{
			SenderID: "bob",
			Points:   []Point{{X: 3, Y: 3, Kind: PointMove}},
			Color:    "#0000ff",
		})

		require.Equal(t, []string{
			"color #0000ff",
			"start 1,1 #0000ff",
			"move 2,2 #0000ff",
			"color #111111",
			"color #00ff00",
			"start 100,100 #00ff00",
			"color #111111",
			"color #0000ff",
			"start 2,2 #0000ff",
			"move 3,3 #0000ff",
			"color #111111",
		}, surface.snapshot(), "continuation resumes at bob's last point, never carol's")

		list := session.Strokes()
		require.Len(t, list, 2, "one logical stroke stays one list entry")
		assert.Equal(t, "bob", list[0].CreatedBy)
		require.Len(t, list[0].Points, 3)
		assert.Equal(t, Point{X: 3, Y: 3, Kind: PointMove}, list[0].Points[2])
		assert.Equal(t, "carol", list[1].CreatedBy)
	})

	t.Run("replay renders merged strokes whole", func(t *testing.T) {
		session, surface, _, _, _ := newTestStrokeSession(t)
		session.HandleBatch(Batch{SenderID: "bob", Points: []Point{{X: 1, Y: 1, Kind: PointStart}}, Color: "#0000ff"})
		session.HandleBatch(Batch{SenderID: "carol", Points: []Point{{X: 100, Y: 100, Kind: PointStart}}, Color: "#00ff00"})
		session.HandleBatch(Batch{SenderID: "bob", Points: []Point{{X: 2, Y: 2, Kind: PointMove}}, Color: "#0000ff"})

		surface.clearOps()
		session.Resize(800, 600, 1)

		require.Equal(t, []string{
			"reset 800x600@1.0",
			"color #0000ff",
			"start 1,1 #0000ff",
			"move 2,2 #0000ff",
			"color #00ff00",
			"start 100,100 #00ff00",
			"color #111111",
		}, surface.snapshot())
	})

	t.Run("continuation without an opening batch starts its own path", func(t *testing.T) {
		session, surface, _, _, _ := newTestStrokeSession(t)

		session.HandleBatch(Batch{
			SenderID: "bob",
			Points:   []Point{{X: 5, Y: 5, Kind: PointMove}, {X: 6, Y: 6, Kind: PointMove}},
			Color:    "#0000ff",
		})

		assert.Contains(t, surface.snapshot(), "start 5,5 #0000ff")
		list := session.Strokes()
		require.Len(t, list, 1)
		assert.Equal(t, PointStart, list[0].Points[0].Kind)
	})

	t.Run("local stroke re-anchors after a remote batch", func(t *testing.T) {
		session, surface, _, _, _ := newTestStrokeSession(t)

		session.BeginStroke(1, 1)
		session.HandleBatch(Batch{SenderID: "bob", Points: []Point{{X: 50, Y: 50, Kind: PointStart}}, Color: "#0000ff"})
		surface.clearOps()
		session.MovePoint(2, 2)

		require.Equal(t, []string{
			"start 1,1 #111111",
			"move 2,2 #111111",
		}, surface.snapshot(), "local path resumes at its own last point")
	})
}

func TestSession_JoinReplaysHistoryInOrder(t *testing.T) {
	session, surface, store, _, _ := newTestStrokeSession(t)
	store.history = []Stroke{
		{Points: []Point{{X: 1, Y: 1, Kind: PointStart}}, Color: "#aaa"},
		{Points: []Point{{X: 2, Y: 2, Kind: PointStart}}, Color: "#bbb"},
	}

	require.NoError(t, session.Join(context.Background()))

	require.Equal(t, []string{
		"color #aaa",
		"start 1,1 #aaa",
		"color #bbb",
		"start 2,2 #bbb",
		"color #111111",
	}, surface.snapshot())
	assert.Len(t, session.Strokes(), 2)
}

func TestSession_ReplayIdempotence(t *testing.T) {
	session, surface, _, _, _ := newTestStrokeSession(t)
	session.HandleBatch(Batch{SenderID: "bob", Points: []Point{{X: 5, Y: 5, Kind: PointStart}}, Color: "#fff"})
	session.HandleBatch(Batch{SenderID: "carol", Points: []Point{{X: 9, Y: 9, Kind: PointStart}}, Color: "#abc"})

	surface.clearOps()
	session.Resize(800, 600, 2)
	first := surface.snapshot()

	surface.clearOps()
	session.Resize(800, 600, 2)
	second := surface.snapshot()

	assert.Equal(t, first, second, "replaying the same list produces the same result")
	assert.Equal(t, "reset 800x600@2.0", first[0])
}

func TestSession_Clear(t *testing.T) {
	t.Run("successful clear wipes and empties the list", func(t *testing.T) {
		session, surface, store, bcast, _ := newTestStrokeSession(t)
		session.HandleBatch(Batch{SenderID: "bob", Points: []Point{{X: 5, Y: 5, Kind: PointStart}}, Color: "#fff"})

		require.NoError(t, session.Clear(context.Background()))

		assert.Contains(t, surface.snapshot(), "wipe")
		assert.Equal(t, 1, store.deleted)
		assert.Len(t, bcast.clears, 1)
		assert.Empty(t, session.Strokes())
	})

	t.Run("failed durable delete restores the canvas from memory", func(t *testing.T) {
		session, surface, store, _, _ := newTestStrokeSession(t)
		store.deleteErr = errors.New("storage down")
		session.HandleBatch(Batch{SenderID: "bob", Points: []Point{{X: 5, Y: 5, Kind: PointStart}}, Color: "#fff"})

		surface.clearOps()
		err := session.Clear(context.Background())
		require.Error(t, err)

		ops := surface.snapshot()
		assert.Equal(t, "wipe", ops[0])
		assert.Contains(t, ops, "start 5,5 #fff", "retained strokes are replayed back")
		assert.Len(t, session.Strokes(), 1, "list survives until storage confirms")
	})

	t.Run("remote clear wipes but keeps the list", func(t *testing.T) {
		session, surface, _, _, _ := newTestStrokeSession(t)
		session.HandleBatch(Batch{SenderID: "bob", Points: []Point{{X: 5, Y: 5, Kind: PointStart}}, Color: "#fff"})

		session.HandleClear(Clear{SenderID: "carol"})

		assert.Contains(t, surface.snapshot(), "wipe")
		assert.Len(t, session.Strokes(), 1)
	})
}

func TestSession_CloseStopsFlusher(t *testing.T) {
	session, _, _, bcast, clock := newTestStrokeSession(t)

	session.BeginStroke(1, 1)
	clock.BlockUntil(1)
	session.Close()

	session.MovePoint(2, 2)
	clock.Advance(time.Second)
	assert.Equal(t, 0, bcast.batchCount(), "no timer fires after teardown")
	assert.Empty(t, session.Strokes())
}
