package playback

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Session reconciles one participant's local player against the room's
// authoritative playback snapshot. It owns no transport: remote snapshots
// are fed in through HandleRemote and outbound reports go through the
// configured Channel.
type Session struct {
	cfg     Config
	channel Channel

	mu            sync.Mutex
	player        Player
	state         State
	localPlaying  bool
	lastReport    time.Time
	lastApplied   time.Time
	suppressUntil time.Time
	pendingSeek   *float64
	closed        bool
}

// NewSession creates a session in StateUninitialized. The player may be nil
// if the media element has not loaded yet; attach it later with
// AttachPlayer.
func NewSession(cfg Config, player Player, channel Channel) *Session {
	return &Session{
		cfg:     cfg,
		channel: channel,
		player:  player,
		state:   StateUninitialized,
	}
}

// State returns the current hydration state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AttachPlayer installs the player control handle and applies any seek that
// was stashed while it was missing.
func (s *Session) AttachPlayer(player Player) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.player = player
	s.applyPendingLocked()
}

// ReportTime records a periodic local time observation. At most one
// outbound write per ThrottleInterval is published regardless of call
// frequency; reports inside the echo guard window are dropped.
func (s *Session) ReportTime(ctx context.Context, seconds float64) {
	s.mu.Lock()
	if s.closed || s.state != StateSynced {
		s.mu.Unlock()
		return
	}
	now := s.cfg.Clock.Now()
	if now.Before(s.suppressUntil) {
		s.mu.Unlock()
		return
	}
	if !s.lastReport.IsZero() && now.Sub(s.lastReport) < s.cfg.ThrottleInterval {
		s.mu.Unlock()
		return
	}
	s.lastReport = now
	snap := s.snapshotLocked(seconds, s.localPlaying, now)
	s.mu.Unlock()

	s.publish(ctx, snap)
}

// ReportPlayPause records a local user play/pause action. Local play-state
// memory updates immediately; the write bypasses the throttle so peers
// react without delay.
func (s *Session) ReportPlayPause(ctx context.Context, playing bool, seconds float64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.localPlaying = playing
	now := s.cfg.Clock.Now()
	if s.state != StateSynced || now.Before(s.suppressUntil) {
		s.mu.Unlock()
		return
	}
	s.lastReport = now
	snap := s.snapshotLocked(seconds, playing, now)
	s.mu.Unlock()

	s.publish(ctx, snap)
}

// ReportSeek records a local user seek action. Bypasses the throttle and
// preserves the current play state.
func (s *Session) ReportSeek(ctx context.Context, seconds float64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.cfg.Clock.Now()
	if s.state != StateSynced || now.Before(s.suppressUntil) {
		s.mu.Unlock()
		return
	}
	s.lastReport = now
	snap := s.snapshotLocked(seconds, s.localPlaying, now)
	s.mu.Unlock()

	s.publish(ctx, snap)
}

// HandleRemote processes a newly arrived authoritative snapshot. The first
// valid snapshot hydrates the session: seek to the stored position, stay
// paused. In StateSynced the local position is corrected only when drift
// exceeds the threshold, and the play state is reconciled last so a
// snapshot changing both applies the seek before playback resumes.
// Snapshots not newer than the last applied one are dropped: the transport
// may reorder, and last-write-wins by UpdatedAt means a stale arrival must
// never roll the room backwards.
func (s *Session) HandleRemote(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !snap.Valid() {
		return
	}
	if !snap.UpdatedAt.After(s.lastApplied) {
		return
	}
	s.lastApplied = snap.UpdatedAt

	now := s.cfg.Clock.Now()

	switch s.state {
	case StateUninitialized, StateHydrating:
		s.state = StateHydrating
		if s.player == nil || !s.player.Ready() {
			pos := snap.Position
			s.pendingSeek = &pos
			return
		}
		s.hydrateLocked(snap.Position, now)

	case StateSynced:
		expected := snap.ExpectedPosition(now)
		if s.player == nil || !s.player.Ready() {
			s.pendingSeek = &expected
			s.localPlaying = snap.IsPlaying
			return
		}

		local := s.player.CurrentTime()
		drift := local - expected
		if drift < 0 {
			drift = -drift
		}
		if drift > s.cfg.DriftThreshold.Seconds() {
			s.player.SeekTo(expected)
			s.suppressUntil = now.Add(s.cfg.GuardWindow)
			log.Debug().
				Str("room_id", s.cfg.RoomID.String()).
				Float64("local", local).
				Float64("expected", expected).
				Msg("drift correction applied")
		}

		if snap.IsPlaying != s.localPlaying {
			s.player.SetPlaying(snap.IsPlaying)
			s.localPlaying = snap.IsPlaying
			s.suppressUntil = now.Add(s.cfg.GuardWindow)
		}
	}
}

// Close tears the session down. Further operations are no-ops; pending
// buffers are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pendingSeek = nil
	s.player = nil
}

// hydrateLocked applies the one-time join seek: position only, playback
// stays paused until a later snapshot says otherwise.
func (s *Session) hydrateLocked(position float64, now time.Time) {
	s.player.SeekTo(position)
	s.player.SetPlaying(false)
	s.localPlaying = false
	s.suppressUntil = now.Add(s.cfg.GuardWindow)
	s.state = StateSynced

	log.Info().
		Str("room_id", s.cfg.RoomID.String()).
		Str("participant_id", s.cfg.ParticipantID).
		Float64("position", position).
		Msg("playback session hydrated")
}

// applyPendingLocked drains the stashed seek once a ready player exists.
func (s *Session) applyPendingLocked() {
	if s.closed || s.player == nil || !s.player.Ready() || s.pendingSeek == nil {
		return
	}

	now := s.cfg.Clock.Now()
	pos := *s.pendingSeek
	s.pendingSeek = nil

	if s.state == StateHydrating {
		s.hydrateLocked(pos, now)
		return
	}

	s.player.SeekTo(pos)
	s.player.SetPlaying(s.localPlaying)
	s.suppressUntil = now.Add(s.cfg.GuardWindow)
}

func (s *Session) snapshotLocked(position float64, playing bool, now time.Time) Snapshot {
	if position < 0 {
		position = 0
	}
	return Snapshot{
		IsPlaying: playing,
		Position:  position,
		UpdatedAt: now,
		UpdatedBy: s.cfg.ParticipantID,
	}
}

// publish sends the snapshot out. Failures are logged and not retried: the
// next periodic or user-triggered report carries current state anyway.
func (s *Session) publish(ctx context.Context, snap Snapshot) {
	if err := s.channel.Publish(ctx, snap); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", s.cfg.RoomID.String()).
			Msg("failed to publish playback snapshot")
	}
}
