package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the authoritative playback row per room. Writes are
// guarded by updated_at so a stale report can never clobber a newer one.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Load returns the current snapshot for a room, or nil if the room has no
// playback row yet.
func (r *Repository) Load(ctx context.Context, roomID uuid.UUID) (*Snapshot, error) {
	var snap Snapshot
	err := r.pool.QueryRow(ctx, `
        SELECT video_ref, is_playing, position, updated_at, updated_by
        FROM room_playback
        WHERE room_id = $1
    `, roomID).Scan(&snap.VideoRef, &snap.IsPlaying, &snap.Position, &snap.UpdatedAt, &snap.UpdatedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load playback snapshot: %w", err)
	}
	return &snap, nil
}

// Save upserts the snapshot. The conflict guard keeps last-write-wins by
// updated_at at the store itself, so out-of-order writes are harmless.
func (r *Repository) Save(ctx context.Context, roomID uuid.UUID, snap Snapshot) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO room_playback (room_id, video_ref, is_playing, position, updated_at, updated_by)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (room_id) DO UPDATE SET
            video_ref  = EXCLUDED.video_ref,
            is_playing = EXCLUDED.is_playing,
            position   = EXCLUDED.position,
            updated_at = EXCLUDED.updated_at,
            updated_by = EXCLUDED.updated_by
        WHERE room_playback.updated_at <= EXCLUDED.updated_at
    `, roomID, snap.VideoRef, snap.IsPlaying, snap.Position, snap.UpdatedAt, snap.UpdatedBy)
	if err != nil {
		return fmt.Errorf("failed to save playback snapshot: %w", err)
	}
	return nil
}

// Reset puts the row back to defaults for a new media reference: paused at
// position zero.
func (r *Repository) Reset(ctx context.Context, roomID uuid.UUID, videoRef *string, updatedBy string) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO room_playback (room_id, video_ref, is_playing, position, updated_at, updated_by)
        VALUES ($1, $2, FALSE, 0, NOW(), $3)
        ON CONFLICT (room_id) DO UPDATE SET
            video_ref  = EXCLUDED.video_ref,
            is_playing = FALSE,
            position   = 0,
            updated_at = NOW(),
            updated_by = EXCLUDED.updated_by
    `, roomID, videoRef, updatedBy)
	if err != nil {
		return fmt.Errorf("failed to reset playback snapshot: %w", err)
	}
	return nil
}
