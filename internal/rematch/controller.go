// Package rematch layers the rematch-window lifecycle on top of a room:
// starting the countdown-free window after game over, waiting for both
// seats to accept, and expiring the window (closing the room) if they
// don't in time. Offer/accept bookkeeping itself lives on room.Room; this
// package owns only the window's async timeout.
package rematch

import (
	"time"

	"github.com/rs/zerolog/log"

	"tictactoe-rooms/internal/broadcast"
	"tictactoe-rooms/internal/engine"
	"tictactoe-rooms/internal/protocol"
	"tictactoe-rooms/internal/room"
)

type Service struct {
	windowSeconds int
	bcast         broadcast.Broadcaster
	rng           engine.RNG
}

func NewService(windowSeconds int, bcast broadcast.Broadcaster, rng engine.RNG) *Service {
	return &Service{windowSeconds: windowSeconds, bcast: bcast, rng: rng}
}

// StartWindow arms the expiry goroutine for the window r.OfferRematch just
// opened. onExpire is called, outside any lock, if the window runs out
// with the room still in RematchOffered (i.e. not both players accepted).
func (s *Service) StartWindow(r *room.Room, onExpire func(r *room.Room)) {
	go s.run(r, onExpire)
}

func (s *Service) run(r *room.Room, onExpire func(r *room.Room)) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("room", r.Code).Str("task", "rematch").Msg("recovered in rematch window")
		}
	}()

	r.Lock()
	deadline := r.RematchExpiresAt
	ctx := r.Ctx
	r.Unlock()

	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	r.Lock()
	expired := r.ExpireRematchWindow()
	r.Unlock()
	if !expired {
		return
	}

	s.bcast.SendToGroup(r.Code, protocol.EventRematchWindowExpired, protocol.RematchWindowExpiredPayload{Code: r.Code})
	onExpire(r)
}

// AcceptAndMaybeStart records playerID's acceptance and, if both seats have
// now accepted, resets the board for a fresh game. It reports whether the
// rematch actually started, so the caller knows whether to kick off the
// first turn timer.
func (s *Service) AcceptAndMaybeStart(r *room.Room, playerID string) (started bool, err error) {
	r.Lock()
	defer r.Unlock()

	both, err := r.AcceptRematch(playerID)
	if err != nil || !both {
		return false, err
	}
	if err := r.ResetForRematch(s.rng); err != nil {
		return false, err
	}
	return true, nil
}
