// Package sweeper periodically scans the registry for rooms that are idle
// (never filled and stale) or fully disconnected, and closes them. The
// ticker loop mirrors the pack's hub-maintenance idiom: one ticker owned by
// the sweeper, stopped when the root context is cancelled at shutdown.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tictactoe-rooms/internal/broadcast"
	"tictactoe-rooms/internal/protocol"
	"tictactoe-rooms/internal/registry"
)

type Service struct {
	reg             *registry.Registry
	bcast           broadcast.Broadcaster
	idleTimeout     time.Duration
	sweepInterval   time.Duration
	onClose         func(code string)
}

func NewService(reg *registry.Registry, bcast broadcast.Broadcaster, idleTimeout, sweepInterval time.Duration, onClose func(code string)) *Service {
	return &Service{reg: reg, bcast: bcast, idleTimeout: idleTimeout, sweepInterval: sweepInterval, onClose: onClose}
}

// Run blocks, sweeping every interval, until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Service) sweepOnce() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("task", "sweep").Msg("recovered in idle sweep")
		}
	}()

	for _, r := range s.reg.GetAll() {
		r.Lock()
		idle := r.IsIdleForCleanup(s.idleTimeout)
		code := r.Code
		r.Unlock()
		if !idle {
			continue
		}

		log.Debug().Str("room", code).Msg("sweeping idle room")
		s.bcast.SendToGroup(code, protocol.EventGameOver, protocol.GameOverPayload{
			RoomCode:  code,
			Result:    protocol.ResultCancelled,
			Message:   "Room expired due to inactivity",
			IsGameOver: true,
		})
		s.reg.Delete(code)
		r.Cancel()
		if s.onClose != nil {
			s.onClose(code)
		}
		s.bcast.SendToGroup(code, protocol.EventRoomClosed, protocol.RoomClosedPayload{Code: code})
	}
}
