// Package turntimer runs the per-turn countdown tied to whichever player
// currently holds the symbol that is on the move. Like package reconnect,
// each run is a context-scoped goroutine woken once a second; it is
// invalidated either by its own player-level generation counter (replaced
// by a fresher Start for the same player) or by the room's
// TurnTimerVersion (bumped wholesale on rematch reset).
package turntimer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tictactoe-rooms/internal/broadcast"
	"tictactoe-rooms/internal/engine"
	"tictactoe-rooms/internal/protocol"
	"tictactoe-rooms/internal/room"
)

type Service struct {
	turnSeconds int
	bcast       broadcast.Broadcaster
}

func NewService(turnSeconds int, bcast broadcast.Broadcaster) *Service {
	return &Service{turnSeconds: turnSeconds, bcast: bcast}
}

// Start begins the countdown for whoever currently holds r.CurrentTurn. It
// is a no-op if the game has no active turn holder. onExpire is invoked,
// outside any lock, with the id of the player whose turn ran out.
func (s *Service) Start(r *room.Room, onExpire func(r *room.Room, playerID string)) {
	r.Lock()
	if r.CurrentTurn == engine.NoSymbol {
		r.Unlock()
		return
	}
	var holder *room.Player
	for _, p := range r.Players {
		if p.Symbol == r.CurrentTurn {
			holder = p
			break
		}
	}
	if holder == nil || holder.ConnectionID == "" {
		r.Unlock()
		return
	}

	total := s.turnSeconds
	if holder.RemainingTurnSeconds != nil {
		total = *holder.RemainingTurnSeconds
		holder.RemainingTurnSeconds = nil
	}
	holder.TurnGen++
	gen := holder.TurnGen
	version := r.TurnTimerVersion
	ctx, cancel := context.WithCancel(r.Ctx)
	holder.TurnCancel = cancel
	holder.TurnExpiresAt = time.Now().Add(time.Duration(total) * time.Second)
	playerID := holder.PlayerID
	code := r.Code
	r.Unlock()

	now := time.Now()
	s.bcast.SendToGroup(code, protocol.EventTurnCountdownResumed, protocol.TurnCountdownResumedPayload{
		PlayerID: playerID, TotalSeconds: total, ExpiresAtUTC: now.Add(time.Duration(total) * time.Second), ServerNow: now,
	})

	go s.run(r, playerID, gen, version, ctx, total, onExpire)
}

// Pause stops playerID's in-flight turn countdown (if any) and preserves
// the seconds remaining on the Player so a later Start resumes rather than
// restarts. Called from the disconnect hook.
func (s *Service) Pause(r *room.Room, playerID string) {
	r.Lock()
	p, ok := r.Players[playerID]
	if !ok || p.TurnCancel == nil {
		r.Unlock()
		return
	}
	remaining := int(time.Until(p.TurnExpiresAt).Round(time.Second) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	p.TurnCancel()
	p.TurnCancel = nil
	p.RemainingTurnSeconds = &remaining
	code := r.Code
	r.Unlock()

	s.bcast.SendToGroup(code, protocol.EventTurnCountdownPaused, protocol.TurnCountdownPausedPayload{
		PlayerID: playerID, RemainingSeconds: remaining, ServerNow: time.Now(),
	})
}

// Cancel stops playerID's in-flight turn countdown without preserving the
// remaining time, and bumps r.TurnTimerVersion. Used on move completion and
// forfeit; room teardown stops the countdown through the room's context.
func (s *Service) Cancel(r *room.Room, playerID string) {
	r.Lock()
	r.TurnTimerVersion++
	p, ok := r.Players[playerID]
	if ok && p.TurnCancel != nil {
		p.TurnCancel()
		p.TurnCancel = nil
	}
	r.Unlock()
}

func (s *Service) run(r *room.Room, playerID string, gen uint64, version uint64, ctx context.Context, total int, onExpire func(r *room.Room, playerID string)) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("room", r.Code).Str("task", "turntimer").Msg("recovered in turn countdown")
		}
	}()

	remaining := total
	now := time.Now()
	s.bcast.SendToGroup(r.Code, protocol.EventTurnCountdownTick, protocol.TurnCountdownTickPayload{
		PlayerID: playerID, RemainingSeconds: remaining, ExpiresAtUTC: now.Add(time.Duration(remaining) * time.Second), ServerNow: now,
	})

	for remaining > 0 {
		timer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		r.Lock()
		p, ok := r.Players[playerID]
		if !ok || p.TurnGen != gen || r.TurnTimerVersion != version {
			r.Unlock()
			return
		}
		remaining--
		expiresAt := p.TurnExpiresAt
		r.Unlock()

		if remaining <= 0 {
			break
		}
		s.bcast.SendToGroup(r.Code, protocol.EventTurnCountdownTick, protocol.TurnCountdownTickPayload{
			PlayerID: playerID, RemainingSeconds: remaining, ExpiresAtUTC: expiresAt, ServerNow: time.Now(),
		})
	}

	r.Lock()
	p, ok := r.Players[playerID]
	if !ok || p.TurnGen != gen || r.TurnTimerVersion != version || p.ConnectionID == "" {
		r.Unlock()
		return
	}
	p.TurnCancel = nil
	r.Unlock()

	onExpire(r, playerID)
}
