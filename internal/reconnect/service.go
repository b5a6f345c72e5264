// Package reconnect runs the one-shot grace-period countdown for a player
// who drops connection mid-game. The countdown is a single goroutine per
// disconnect, parented off the room's own cancellation context and woken
// once a second via a timer/select rather than a bare sleep, so cancellation
// (reconnect, room teardown) takes effect immediately.
package reconnect

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tictactoe-rooms/internal/broadcast"
	"tictactoe-rooms/internal/protocol"
	"tictactoe-rooms/internal/room"
)

type Service struct {
	graceSeconds int
	bcast        broadcast.Broadcaster
}

func NewService(graceSeconds int, bcast broadcast.Broadcaster) *Service {
	return &Service{graceSeconds: graceSeconds, bcast: bcast}
}

// Start begins (or immediately forfeits in place of) the grace countdown
// for playerID in r. onForfeit is invoked, outside any lock, when the
// countdown runs out or when this is the player's second disconnect in the
// current game (the one-shot latch: graceUsed was already true).
func (s *Service) Start(r *room.Room, playerID string, onForfeit func(r *room.Room, playerID string)) {
	r.Lock()
	p, ok := r.Players[playerID]
	if !ok {
		r.Unlock()
		return
	}
	if p.GraceUsed {
		stillDisconnected := p.ConnectionID == ""
		r.Unlock()
		if stillDisconnected {
			onForfeit(r, playerID)
		}
		return
	}
	p.GraceUsed = true
	p.ReconnectGen++
	gen := p.ReconnectGen
	ctx, cancel := context.WithCancel(r.Ctx)
	p.ReconnectCancel = cancel
	total := s.graceSeconds
	p.ReconnectExpiresAt = time.Now().Add(time.Duration(total) * time.Second)
	r.Unlock()

	go s.run(r, playerID, gen, ctx, total, onForfeit)
}

// Cancel stops a player's in-flight grace countdown, if any, without
// invoking onForfeit. Used on reconnect.
func (s *Service) Cancel(r *room.Room, playerID string) {
	r.Lock()
	p, ok := r.Players[playerID]
	if ok && p.ReconnectCancel != nil {
		p.ReconnectCancel()
		p.ReconnectCancel = nil
	}
	r.Unlock()
}

func (s *Service) run(r *room.Room, playerID string, gen uint64, ctx context.Context, total int, onForfeit func(r *room.Room, playerID string)) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("room", r.Code).Str("task", "reconnect").Msg("recovered in reconnect countdown")
		}
	}()

	remaining := total
	s.bcast.SendToGroup(r.Code, protocol.EventCountdownTick, protocol.CountdownTickPayload{PlayerID: playerID, RemainingSeconds: remaining})

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
		if !ok || p.ReconnectGen != gen {
			r.Unlock()
			return
		}
		remaining--
		r.Unlock()

		s.bcast.SendToGroup(r.Code, protocol.EventCountdownTick, protocol.CountdownTickPayload{PlayerID: playerID, RemainingSeconds: remaining})
	}

	r.Lock()
	p, ok := r.Players[playerID]
	if !ok || p.ReconnectGen != gen || p.ConnectionID != "" {
		r.Unlock()
		return
	}
	p.ReconnectCancel = nil
	r.Unlock()

	onForfeit(r, playerID)
}
