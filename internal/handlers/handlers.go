// Package handlers is the glue between transport events and the core: it
// implements every RPC in the protocol (CreateGame, JoinGame, Reconnect,
// GetGameState, MakeMove, OfferRematch, AcceptRematch) plus the disconnect
// hook, and never touches the network directly — it only calls into
// room/registry/broadcast/reconnect/turntimer/rematch.
package handlers

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tictactoe-rooms/internal/broadcast"
	"tictactoe-rooms/internal/codegen"
	"tictactoe-rooms/internal/config"
	"tictactoe-rooms/internal/engine"
	"tictactoe-rooms/internal/protocol"
	"tictactoe-rooms/internal/registry"
	"tictactoe-rooms/internal/reconnect"
	"tictactoe-rooms/internal/rematch"
	"tictactoe-rooms/internal/room"
	"tictactoe-rooms/internal/turntimer"
	"tictactoe-rooms/internal/xrand"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4,6}$`)

type membership struct {
	code     string
	playerID string
}

// Handlers owns every service the RPCs need and tracks, per connection,
// which room/player it currently represents so the disconnect hook knows
// what to tear down.
type Handlers struct {
	cfg     config.RoomConfig
	reg     *registry.Registry
	bcast   broadcast.Broadcaster
	gen     *codegen.Generator
	recon   *reconnect.Service
	turn    *turntimer.Service
	rematch *rematch.Service
	roomCtx context.Context

	rng *xrand.Safe

	connMu sync.Mutex
	conns  map[string]membership
}

func New(cfg config.RoomConfig, reg *registry.Registry, bcast broadcast.Broadcaster, roomCtx context.Context) *Handlers {
	rng := xrand.New(time.Now().UnixNano())
	h := &Handlers{
		cfg:     cfg,
		reg:     reg,
		bcast:   bcast,
		gen:     codegen.New(cfg.RoomCodeLength, cfg.RoomCodeAlphabet),
		roomCtx: roomCtx,
		rng:     rng,
		conns:   make(map[string]membership),
	}
	h.recon = reconnect.NewService(cfg.ReconnectionGracePeriodSeconds, bcast)
	h.turn = turntimer.NewService(cfg.TurnTimeoutSeconds, bcast)
	h.rematch = rematch.NewService(cfg.RematchWindowSeconds, bcast, rng)
	return h
}

func validPlayerID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (h *Handlers) track(connID, code, playerID string) {
	h.connMu.Lock()
	h.conns[connID] = membership{code: code, playerID: playerID}
	h.connMu.Unlock()
}

func (h *Handlers) untrack(connID string) (membership, bool) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	m, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
	}
	return m, ok
}

func boardPayload(b engine.Board) protocol.BoardPayload {
	var out protocol.BoardPayload
	for i, c := range b {
		out[i] = int(c)
	}
	return out
}

// ownsSlot reports whether connID is the live connection currently holding
// playerID's seat. Caller must hold r's lock.
func ownsSlot(r *room.Room, playerID, connID string) bool {
	p, exists := r.Players[playerID]
	return exists && p.ConnectionID == connID
}

// CreateGame creates a brand-new room, seats the caller, and subscribes
// the connection to the room's broadcast group.
func (h *Handlers) CreateGame(ctx context.Context, connID string, req protocol.CreateGameRequest) (protocol.GameCreatedPayload, *protocol.APIError) {
	if !validPlayerID(req.PlayerID) {
		return protocol.GameCreatedPayload{}, protocol.NewAPIError(protocol.ErrInvalid)
	}

	r := room.New(h.gen.Unique(h.reg.Exists), h.roomCtx)
	r.Lock()
	_, err := r.Seat(req.PlayerID, connID)
	snap := r.Snapshot()
	r.Unlock()
	if err != nil {
		return protocol.GameCreatedPayload{}, mapRoomError(err)
	}
	if err := h.reg.Create(r); err != nil {
		return protocol.GameCreatedPayload{}, protocol.NewAPIError(protocol.ErrInvalid)
	}

	h.bcast.AddToGroup(connID, r.Code)
	h.track(connID, r.Code, req.PlayerID)

	metricGamesCreatedTotal.Add(1)
	log.Info().Str("room", r.Code).Str("player", req.PlayerID).Msg("game created")
	return protocol.GameCreatedPayload{Code: r.Code, Board: boardPayload(snap.Board), PlayerID: req.PlayerID}, nil
}

// JoinGame seats a second, brand-new player into an existing room and
// starts the game once both seats are filled.
func (h *Handlers) JoinGame(ctx context.Context, connID string, req protocol.JoinGameRequest) (protocol.GameJoinedPayload, *protocol.APIError) {
	if !codePattern.MatchString(req.Code) || !validPlayerID(req.PlayerID) {
		return protocol.GameJoinedPayload{}, protocol.NewAPIError(protocol.ErrInvalid)
	}
	r, ok := h.reg.TryGetByID(req.Code)
	if !ok {
		return protocol.GameJoinedPayload{}, protocol.NewAPIError(protocol.ErrNotFound)
	}

	r.Lock()
	if existing, exists := r.Players[req.PlayerID]; exists {
		return h.rejoinResult(r, existing, connID, req.PlayerID)
	}
	if !r.CanJoin() {
		code := r.Code
		r.Unlock()
		h.bcast.SendToConnection(connID, protocol.EventGameFull, protocol.GameFullPayload{Code: code})
		return protocol.GameJoinedPayload{}, protocol.NewAPIError(protocol.ErrRoomFull)
	}
	p, err := r.Seat(req.PlayerID, connID)
	if err != nil {
		r.Unlock()
		return protocol.GameJoinedPayload{}, mapRoomError(err)
	}
	started := r.TryStartGame(h.rng)
	snap := r.Snapshot()
	r.Unlock()

	h.bcast.AddToGroup(connID, r.Code)
	h.track(connID, r.Code, req.PlayerID)
	h.bcast.SendToGroupExcept(r.Code, connID, protocol.EventPlayerJoined, struct{}{})

	if started {
		h.bcast.SendToGroup(r.Code, protocol.EventGameStarted, protocol.GameStartedPayload{
			Board: boardPayload(snap.Board), CurrentTurn: string(snap.CurrentTurn),
		})
		h.turn.Start(r, h.forfeitOnTurnTimeout)
	}

	metricGamesJoinedTotal.Add(1)
	log.Info().Str("room", r.Code).Str("player", req.PlayerID).Msg("player joined")
	return protocol.GameJoinedPayload{
		Code: r.Code, Board: boardPayload(snap.Board), Symbol: string(p.Symbol),
		CurrentTurn: string(snap.CurrentTurn), PlayerID: req.PlayerID,
	}, nil
}

// rejoinResult disambiguates a JoinGame call whose playerId already holds a
// seat in r. Caller must hold the lock; it is released before returning in
// every branch.
func (h *Handlers) rejoinResult(r *room.Room, existing *room.Player, connID, playerID string) (protocol.GameJoinedPayload, *protocol.APIError) {
	switch {
	case existing.ConnectionID == connID:
		if r.State == room.WaitingForPlayers {
			r.Unlock()
			return protocol.GameJoinedPayload{}, protocol.NewAPIError(protocol.ErrAlreadyInRoom)
		}
		snap := r.Snapshot()
		symbol := existing.Symbol
		r.Unlock()
		return protocol.GameJoinedPayload{
			Code: snap.Code, Board: boardPayload(snap.Board), Symbol: string(symbol),
			CurrentTurn: string(snap.CurrentTurn), PlayerID: playerID,
		}, nil
	case existing.ConnectionID == "":
		r.Unlock()
		return protocol.GameJoinedPayload{}, protocol.NewAPIError(protocol.ErrReconnectRequired)
	default:
		r.Unlock()
		return protocol.GameJoinedPayload{}, protocol.NewAPIError(protocol.ErrPlayerIDInUse)
	}
}

// Reconnect reattaches an already-seated, currently-disconnected player,
// cancels their grace countdown, resumes a paused turn timer if it's their
// turn, and syncs them on current state.
func (h *Handlers) Reconnect(ctx context.Context, connID string, req protocol.ReconnectRequest) (protocol.SyncedStatePayload, *protocol.APIError) {
	if !codePattern.MatchString(req.Code) || !validPlayerID(req.PlayerID) {
		return protocol.SyncedStatePayload{}, protocol.NewAPIError(protocol.ErrInvalid)
	}
	r, ok := h.reg.TryGetByID(req.Code)
	if !ok {
		return protocol.SyncedStatePayload{}, protocol.NewAPIError(protocol.ErrReconnectFailed)
	}

	r.Lock()
	p, err := r.Reattach(req.PlayerID, connID)
	if err != nil {
		r.Unlock()
		return protocol.SyncedStatePayload{}, mapRoomError(err)
	}
	snap := r.Snapshot()
	isCurrentHolder := !r.IsGameOver && p.Symbol != engine.NoSymbol && p.Symbol == r.CurrentTurn
	r.Unlock()

	h.recon.Cancel(r, req.PlayerID)
	h.bcast.AddToGroup(connID, r.Code)
	h.track(connID, r.Code, req.PlayerID)
	h.bcast.SendToGroupExcept(r.Code, connID, protocol.EventPlayerReconnected, protocol.PlayerReconnectedPayload{PlayerID: req.PlayerID})

	if isCurrentHolder {
		h.turn.Start(r, h.forfeitOnTurnTimeout)
	}

	metricReconnectsTotal.Add(1)
	log.Info().Str("room", r.Code).Str("player", req.PlayerID).Msg("player reconnected")
	return protocol.SyncedStatePayload{
		Board: boardPayload(snap.Board), Symbol: string(p.Symbol), CurrentTurn: string(snap.CurrentTurn),
		IsGameOver: snap.IsGameOver, Winner: string(snap.Winner),
	}, nil
}

// GetGameState is a read-only sync, used when a client reloads a tab that
// never actually dropped its connection.
func (h *Handlers) GetGameState(ctx context.Context, connID string, req protocol.GetGameStateRequest) (protocol.SyncedStatePayload, *protocol.APIError) {
	if !codePattern.MatchString(req.Code) || !validPlayerID(req.PlayerID) {
		return protocol.SyncedStatePayload{}, protocol.NewAPIError(protocol.ErrInvalid)
	}
	r, ok := h.reg.TryGetByID(req.Code)
	if !ok {
		return protocol.SyncedStatePayload{}, protocol.NewAPIError(protocol.ErrNotFound)
	}
	r.Lock()
	p, exists := r.Players[req.PlayerID]
	ownsIt := exists && p.ConnectionID == connID
	snap := r.Snapshot()
	r.Unlock()
	if !ownsIt {
		return protocol.SyncedStatePayload{}, protocol.NewAPIError(protocol.ErrNotInGame)
	}
	return protocol.SyncedStatePayload{
		Board: boardPayload(snap.Board), Symbol: string(p.Symbol), CurrentTurn: string(snap.CurrentTurn),
		IsGameOver: snap.IsGameOver, Winner: string(snap.Winner),
	}, nil
}

// MakeMove applies a move, cancels the mover's turn timer, broadcasts the
// resulting board, and either starts the next turn timer or, on game end,
// broadcasts GameOver. It does not open a rematch window; the window opens
// on the first OfferRematch.
func (h *Handlers) MakeMove(ctx context.Context, connID string, req protocol.MakeMoveRequest) (protocol.BoardUpdatedPayload, *protocol.APIError) {
	if !codePattern.MatchString(req.Code) || !validPlayerID(req.PlayerID) {
		return protocol.BoardUpdatedPayload{}, protocol.NewAPIError(protocol.ErrInvalid)
	}
	r, ok := h.reg.TryGetByID(req.Code)
	if !ok {
		return protocol.BoardUpdatedPayload{}, protocol.NewAPIError(protocol.ErrNotFound)
	}

	r.Lock()
	if !ownsSlot(r, req.PlayerID, connID) {
		r.Unlock()
		return protocol.BoardUpdatedPayload{}, protocol.NewAPIError(protocol.ErrNotInGame)
	}
	res, err := r.TryMakeMove(req.PlayerID, req.Index)
	snap := r.Snapshot()
	var winnerID string
	if res.Winner != engine.NoSymbol {
		for id, p := range r.Players {
			if p.Symbol == res.Winner {
				winnerID = id
			}
		}
	}
	r.Unlock()
	if err != nil {
		return protocol.BoardUpdatedPayload{}, mapMoveError(err)
	}

	h.turn.Cancel(r, req.PlayerID)

	payload := protocol.BoardUpdatedPayload{
		Board: boardPayload(snap.Board), CurrentTurn: string(snap.CurrentTurn),
		IsGameOver: snap.IsGameOver, Winner: string(snap.Winner),
	}
	metricMovesMadeTotal.Add(1)
	h.bcast.SendToGroup(r.Code, protocol.EventBoardUpdated, payload)

	if snap.IsGameOver {
		h.emitGameOver(r, snap, res, winnerID)
	} else {
		h.turn.Start(r, h.forfeitOnTurnTimeout)
	}
	return payload, nil
}

// OfferRematch opens or joins the rematch window.
func (h *Handlers) OfferRematch(ctx context.Context, connID string, req protocol.OfferRematchRequest) (protocol.RematchWindowStartedPayload, *protocol.APIError) {
	if !codePattern.MatchString(req.Code) || !validPlayerID(req.PlayerID) {
		return protocol.RematchWindowStartedPayload{}, protocol.NewAPIError(protocol.ErrInvalid)
	}
	r, ok := h.reg.TryGetByID(req.Code)
	if !ok {
		return protocol.RematchWindowStartedPayload{}, protocol.NewAPIError(protocol.ErrNotFound)
	}

	r.Lock()
	if !ownsSlot(r, req.PlayerID, connID) {
		r.Unlock()
		return protocol.RematchWindowStartedPayload{}, protocol.NewAPIError(protocol.ErrNotInGame)
	}
	windowWasLive := r.State == room.RematchOffered
	expiresAt, err := r.OfferRematch(req.PlayerID, time.Duration(h.cfg.RematchWindowSeconds)*time.Second)
	r.Unlock()
	if err != nil {
		return protocol.RematchWindowStartedPayload{}, mapRoomError(err)
	}

	h.bcast.SendToGroup(r.Code, protocol.EventRematchOffered, protocol.RematchOfferedPayload{PlayerID: req.PlayerID, ExpiresAt: expiresAt})
	if !windowWasLive {
		h.bcast.SendToGroup(r.Code, protocol.EventRematchWindowStarted, protocol.RematchWindowStartedPayload{ExpiresAt: expiresAt})
		h.rematch.StartWindow(r, h.closeRoomOnRematchExpiry)
	}
	return protocol.RematchWindowStartedPayload{ExpiresAt: expiresAt}, nil
}

// AcceptRematch accepts the rematch offer and, once both seats have
// accepted, resets the board and kicks off the first turn timer.
func (h *Handlers) AcceptRematch(ctx context.Context, connID string, req protocol.AcceptRematchRequest) (protocol.RematchStartedPayload, *protocol.APIError) {
	if !codePattern.MatchString(req.Code) || !validPlayerID(req.PlayerID) {
		return protocol.RematchStartedPayload{}, protocol.NewAPIError(protocol.ErrInvalid)
	}
	r, ok := h.reg.TryGetByID(req.Code)
	if !ok {
		return protocol.RematchStartedPayload{}, protocol.NewAPIError(protocol.ErrNotFound)
	}

	r.Lock()
	ownsIt := ownsSlot(r, req.PlayerID, connID)
	r.Unlock()
	if !ownsIt {
		return protocol.RematchStartedPayload{}, protocol.NewAPIError(protocol.ErrNotInGame)
	}

	started, err := h.rematch.AcceptAndMaybeStart(r, req.PlayerID)
	if err != nil {
		return protocol.RematchStartedPayload{}, mapRoomError(err)
	}
	if !started {
		return protocol.RematchStartedPayload{Code: r.Code}, nil
	}

	r.Lock()
	snap := r.Snapshot()
	r.Unlock()

	h.bcast.SendToGroup(r.Code, protocol.EventRematchStarted, protocol.RematchStartedPayload{Code: r.Code})
	h.bcast.SendToGroup(r.Code, protocol.EventGameStarted, protocol.GameStartedPayload{
		Board: boardPayload(snap.Board), CurrentTurn: string(snap.CurrentTurn),
	})
	h.turn.Start(r, h.forfeitOnTurnTimeout)
	return protocol.RematchStartedPayload{Code: r.Code}, nil
}

// HandleDisconnect is invoked by the transport when a connection drops. It
// is best-effort: it logs and continues, never aborting on an individual
// room's failure.
func (h *Handlers) HandleDisconnect(connID string) {
	m, ok := h.untrack(connID)
	if !ok {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("conn", connID).Msg("recovered in disconnect hook")
		}
	}()

	r, ok := h.reg.TryGetByID(m.code)
	if !ok {
		return
	}

	r.Lock()
	p, existed := r.RemoveConnection(m.playerID)
	var isHolder bool
	var closeReason string
	if existed {
		switch {
		case r.IsGameOver && r.State == room.RematchOffered:
			closeReason = "player disconnected during an open rematch window"
		case r.AllDisconnected():
			closeReason = "all players disconnected"
		default:
			isHolder = !r.IsGameOver && p.Symbol != engine.NoSymbol && p.Symbol == r.CurrentTurn
		}
	}
	r.Unlock()
	if !existed {
		return
	}

	h.bcast.RemoveFromGroup(connID, m.code)
	h.bcast.SendToGroupExcept(m.code, connID, protocol.EventPlayerLeft, protocol.PlayerLeftPayload{PlayerID: m.playerID})

	if isHolder {
		h.turn.Pause(r, m.playerID)
	}
	if closeReason != "" {
		h.closeRoom(r, closeReason)
		return
	}
	h.recon.Start(r, m.playerID, h.forfeitOnReconnectTimeout)
	log.Info().Str("room", m.code).Str("player", m.playerID).Msg("player disconnected")
}

func (h *Handlers) forfeitOnReconnectTimeout(r *room.Room, playerID string) {
	r.Lock()
	p, ok := r.Players[playerID]
	stillDisconnected := ok && p.ConnectionID == ""
	r.Unlock()
	if !stillDisconnected {
		return
	}
	h.forfeit(r, playerID, "Opponent disconnected and failed to reconnect")
}

func (h *Handlers) forfeitOnTurnTimeout(r *room.Room, playerID string) {
	h.forfeit(r, playerID, "Player timed out on their turn")
}

func (h *Handlers) forfeit(r *room.Room, playerID string, reason string) {
	r.Lock()
	winner, ok := r.Forfeit(playerID)
	var winnerID string
	for id, p := range r.Players {
		if p.Symbol == winner {
			winnerID = id
		}
	}
	snap := r.Snapshot()
	r.Unlock()
	if !ok {
		return
	}

	h.turn.Cancel(r, playerID)
	board := boardPayload(snap.Board)
	h.bcast.SendToGroup(r.Code, protocol.EventGameOver, protocol.GameOverPayload{
		RoomCode: r.Code, Result: protocol.ResultWinner, WinnerID: winnerID, WinnerSymbol: string(winner),
		BoardSnapshot: &board, IsGameOver: true, Message: reason, ServerTimestamp: time.Now(),
	})
	metricForfeitsTotal.Add(1)
	log.Info().Str("room", r.Code).Str("player", playerID).Str("reason", reason).Msg("player forfeited")

	h.closeRoom(r, "forfeit")
}

func (h *Handlers) emitGameOver(r *room.Room, snap room.Snapshot, res room.MoveResult, winnerID string) {
	board := boardPayload(snap.Board)
	payload := protocol.GameOverPayload{
		RoomCode: r.Code, IsGameOver: true, ServerTimestamp: time.Now(), BoardSnapshot: &board,
	}
	if res.Outcome == engine.Win {
		payload.Result = protocol.ResultWinner
		payload.WinnerSymbol = string(res.Winner)
		payload.WinnerID = winnerID
	} else {
		payload.Result = protocol.ResultDraw
	}
	h.bcast.SendToGroup(r.Code, protocol.EventGameOver, payload)
}

func (h *Handlers) closeRoomOnRematchExpiry(r *room.Room) {
	h.closeRoom(r, "rematch window expired")
}

// closeRoom tears a room down: removes it from the registry, cancels its
// context (which stops every in-flight C7/C8/C9 goroutine for it), and
// broadcasts RoomClosed. Must be called outside the room lock.
func (h *Handlers) closeRoom(r *room.Room, reason string) {
	h.reg.Delete(r.Code)
	r.Cancel()
	h.bcast.SendToGroup(r.Code, protocol.EventRoomClosed, protocol.RoomClosedPayload{Code: r.Code})
	log.Info().Str("room", r.Code).Str("reason", reason).Msg("room closed")
}

func mapRoomError(err error) *protocol.APIError {
	switch err {
	case room.ErrRoomFull:
		return protocol.NewAPIError(protocol.ErrRoomFull)
	case room.ErrAlreadyInRoom:
		return protocol.NewAPIError(protocol.ErrAlreadyInRoom)
	case room.ErrPlayerIDInUse:
		return protocol.NewAPIError(protocol.ErrPlayerIDInUse)
	case room.ErrNotInGame:
		return protocol.NewAPIError(protocol.ErrNotInGame)
	case room.ErrReconnectRequired:
		return protocol.NewAPIError(protocol.ErrReconnectRequired)
	case room.ErrGameOver:
		return protocol.NewAPIError(protocol.ErrGameOver)
	case room.ErrOfferFailed:
		return protocol.NewAPIError(protocol.ErrOfferFailed)
	case room.ErrAcceptFailed:
		return protocol.NewAPIError(protocol.ErrAcceptFailed)
	case room.ErrNotYourTurn:
		return protocol.NewAPIError(protocol.ErrNotYourTurn)
	case room.ErrOpponentDisconnected:
		return protocol.NewAPIError(protocol.ErrOpponentDisconnected)
	default:
		return protocol.NewAPIError(protocol.ErrInvalid)
	}
}

func mapMoveError(err error) *protocol.APIError {
	switch err {
	case engine.ErrInvalidIndex:
		return protocol.NewAPIError(protocol.ErrInvalidIndex)
	case engine.ErrCellTaken:
		return protocol.NewAPIError(protocol.ErrCellTaken)
	default:
		return mapRoomError(err)
	}
}
