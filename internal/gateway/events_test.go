package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelroom/sync/internal/playback"
	"github.com/reelroom/sync/internal/strokes"
)

func TestParseCommand(t *testing.T) {
	t.Run("valid envelope", func(t *testing.T) {
		cmd, err := ParseCommand([]byte(`{"type":"seek","data":{"position":12.5,"is_playing":true}}`))
		require.NoError(t, err)
		assert.Equal(t, CommandSeek, cmd.Type)
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := ParseCommand([]byte(`{"data":{}}`))
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseCommand([]byte(`{not json`))
		assert.Error(t, err)
	})
}

func TestParseCommandPayload(t *testing.T) {
	t.Run("playback commands share one payload shape", func(t *testing.T) {
		for _, cmdType := range []CommandType{CommandReportTime, CommandPlayPause, CommandSeek} {
			cmd := Command{Type: cmdType, Data: json.RawMessage(`{"position":42,"is_playing":true}`)}
			payload, err := ParseCommandPayload(cmd)
			require.NoError(t, err)
			report := payload.(PlaybackReport)
			assert.Equal(t, 42.0, report.Position)
			assert.True(t, report.IsPlaying)
		}
	})

	t.Run("draw batch", func(t *testing.T) {
		cmd := Command{
			Type: CommandDrawBatch,
			Data: json.RawMessage(`{"points":[{"x":1,"y":2,"kind":"start"}],"color":"#fff"}`),
		}
		payload, err := ParseCommandPayload(cmd)
		require.NoError(t, err)
		batch := payload.(DrawBatchCommand)
		require.Len(t, batch.Points, 1)
		assert.Equal(t, strokes.PointStart, batch.Points[0].Kind)
		assert.Equal(t, "#fff", batch.Color)
	})

	t.Run("set video carries nullable ref", func(t *testing.T) {
		cmd := Command{Type: CommandSetVideo, Data: json.RawMessage(`{"video_ref":"movie-night.mp4"}`)}
		payload, err := ParseCommandPayload(cmd)
		require.NoError(t, err)
		setVideo := payload.(SetVideoCommand)
		require.NotNil(t, setVideo.VideoRef)
		assert.Equal(t, "movie-night.mp4", *setVideo.VideoRef)

		cmd = Command{Type: CommandSetVideo, Data: json.RawMessage(`{"video_ref":null}`)}
		payload, err = ParseCommandPayload(cmd)
		require.NoError(t, err)
		assert.Nil(t, payload.(SetVideoCommand).VideoRef)
	})

	t.Run("clear has no payload", func(t *testing.T) {
		payload, err := ParseCommandPayload(Command{Type: CommandClear})
		require.NoError(t, err)
		assert.Nil(t, payload)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := ParseCommandPayload(Command{Type: "mystery"})
		assert.Error(t, err)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := ParseCommandPayload(Command{Type: CommandSeek, Data: json.RawMessage(`"nope"`)})
		assert.Error(t, err)
	})
}

func TestPlaybackEvent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := playback.Snapshot{Position: 100, IsPlaying: true, UpdatedAt: now, UpdatedBy: "alice"}

	event, err := playbackEvent("room-1", snap, now)
	require.NoError(t, err)
	assert.Equal(t, EventTypePlayback, event.Type)
	assert.Equal(t, "room-1", event.RoomID)
	assert.NotEmpty(t, event.ID)

	var decoded playback.Snapshot
	require.NoError(t, json.Unmarshal(event.Data, &decoded))
	assert.Equal(t, snap.Position, decoded.Position)
	assert.Equal(t, snap.UpdatedBy, decoded.UpdatedBy)
}
