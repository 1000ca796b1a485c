package strokes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores completed strokes in Postgres. Point order is embedded
// in the JSONB payload; cross-stroke order is creation order.
type Repository struct {
	pool *pgxpool.Pool
}

func NewStrokeRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns every stroke for the room in creation order.
func (r *Repository) List(ctx context.Context, roomID uuid.UUID) ([]Stroke, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, room_id, points, color, created_at, created_by
        FROM strokes
        WHERE room_id = $1
        ORDER BY created_at, id
    `, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list strokes: %w", err)
	}
	defer rows.Close()

	var strokes []Stroke
	for rows.Next() {
		var (
			stroke    Stroke
			pointData []byte
		)
		if err := rows.Scan(&stroke.ID, &stroke.RoomID, &pointData, &stroke.Color, &stroke.CreatedAt, &stroke.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan stroke: %w", err)
		}
		if err := json.Unmarshal(pointData, &stroke.Points); err != nil {
			return nil, fmt.Errorf("failed to decode stroke points: %w", err)
		}
		strokes = append(strokes, stroke)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read strokes: %w", err)
	}
	return strokes, nil
}

// Append persists one completed stroke and returns the stored record.
func (r *Repository) Append(ctx context.Context, stroke Stroke) (Stroke, error) {
	if stroke.ID == uuid.Nil {
		stroke.ID = uuid.New()
	}
	pointData, err := json.Marshal(stroke.Points)
	if err != nil {
		return Stroke{}, fmt.Errorf("failed to encode stroke points: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
        INSERT INTO strokes (id, room_id, points, color, created_at, created_by)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, stroke.ID, stroke.RoomID, pointData, stroke.Color, stroke.CreatedAt, stroke.CreatedBy)
	if err != nil {
		return Stroke{}, fmt.Errorf("failed to append stroke: %w", err)
	}
	return stroke, nil
}

// DeleteAll removes every stroke for the room.
func (r *Repository) DeleteAll(ctx context.Context, roomID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM strokes WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("failed to delete strokes: %w", err)
	}
	return nil
}
