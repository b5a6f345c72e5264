// Package room owns the per-room aggregate: board, players, turn, rematch
// negotiation, and the timer handles attached to each player. Every mutating
// method documented "caller must hold the lock" assumes Lock has already
// been taken by the caller, mirroring the lobby/table-runtime convention of
// exposing the mutex directly on the aggregate rather than hiding it behind
// one do-everything method.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tictactoe-rooms/internal/engine"
)

var (
	ErrRoomFull          = errors.New("room: full")
	ErrAlreadyInRoom     = errors.New("room: player already connected")
	ErrPlayerIDInUse     = errors.New("room: player id belongs to another seat")
	ErrNotInGame         = errors.New("room: player not part of this room")
	ErrReconnectRequired = errors.New("room: player must reconnect before acting")
	ErrNotYourTurn       = errors.New("room: not your turn")
	ErrGameOver          = errors.New("room: game is over")
	ErrOpponentDisconnected = errors.New("room: opponent is disconnected")
	ErrOfferFailed       = errors.New("room: rematch offer not accepted in current state")
	ErrAcceptFailed      = errors.New("room: rematch cannot be accepted in current state")
)

// Player is one seat at the table.
type Player struct {
	PlayerID     string
	ConnectionID string // empty means disconnected
	Symbol       engine.Symbol
	GraceUsed    bool

	ReconnectGen       uint64
	ReconnectCancel    context.CancelFunc
	ReconnectExpiresAt time.Time

	TurnGen               uint64
	TurnCancel            context.CancelFunc
	TurnExpiresAt         time.Time
	RemainingTurnSeconds  *int
}

func (p *Player) connected() bool {
	return p.ConnectionID != ""
}

// Room is the aggregate root for one game. All fields below the mutex are
// only safe to read or write while the mutex is held.
type Room struct {
	mu sync.Mutex

	Code string

	Board       engine.Board
	Players     map[string]*Player
	PlayerOrder []string
	CurrentTurn engine.Symbol
	IsGameOver  bool
	Winner      engine.Symbol

	RematchOffers    map[string]struct{}
	RematchExpiresAt time.Time

	CreatedAt      time.Time
	LastActivityAt time.Time

	TurnTimerVersion uint64

	State State

	Ctx    context.Context
	Cancel context.CancelFunc
}

func New(code string, parent context.Context) *Room {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &Room{
		Code:           code,
		Board:          engine.CreateBoard(),
		Players:        make(map[string]*Player),
		RematchOffers:  make(map[string]struct{}),
		CreatedAt:      now,
		LastActivityAt: now,
		State:          WaitingForPlayers,
		Ctx:            ctx,
		Cancel:         cancel,
	}
}

func (r *Room) Lock()   { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

func (r *Room) touch() { r.LastActivityAt = time.Now() }

// logIllegalTransition records an (state, event) pair the table rejected.
// Caller must hold the lock, since it reads r.State.
func (r *Room) logIllegalTransition(ev Event) {
	log.Debug().Str("room", r.Code).Str("state", string(r.State)).Str("event", string(ev)).Msg("illegal transition rejected")
}

// CanJoin reports whether a brand-new player (not already seated) may take
// a seat. False once two seats are filled, or if any filled seat currently
// belongs to a disconnected player — a brand-new player must never take the
// table while a reserved, disconnected slot is still waiting on a reconnect.
// Caller must hold the lock.
func (r *Room) CanJoin() bool {
	if len(r.PlayerOrder) >= 2 {
		return false
	}
	for _, p := range r.Players {
		if !p.connected() {
			return false
		}
	}
	return true
}

// Seat takes a brand-new seat for playerID. Caller must hold the lock.
func (r *Room) Seat(playerID, connectionID string) (*Player, error) {
	if _, exists := r.Players[playerID]; exists {
		return nil, ErrPlayerIDInUse
	}
	if !r.CanJoin() {
		return nil, ErrRoomFull
	}
	p := &Player{PlayerID: playerID, ConnectionID: connectionID}
	r.Players[playerID] = p
	r.PlayerOrder = append(r.PlayerOrder, playerID)
	r.touch()
	return p, nil
}

// Reattach reconnects an already-seated, currently-disconnected player to a
// fresh connectionId. Caller must hold the lock.
func (r *Room) Reattach(playerID, connectionID string) (*Player, error) {
	p, exists := r.Players[playerID]
	if !exists {
		return nil, ErrNotInGame
	}
	if p.connected() {
		return nil, ErrAlreadyInRoom
	}
	p.ConnectionID = connectionID
	r.touch()
	return p, nil
}

// RemoveConnection marks a player disconnected without removing their seat.
// Caller must hold the lock.
func (r *Room) RemoveConnection(playerID string) (*Player, bool) {
	p, ok := r.Players[playerID]
	if !ok {
		return nil, false
	}
	p.ConnectionID = ""
	r.touch()
	return p, true
}

// TryStartGame assigns symbols and sets the first turn once both seats are
// filled. Caller must hold the lock. Returns false if the game was already
// started or there aren't two seated players yet.
func (r *Room) TryStartGame(rng engine.RNG) bool {
	if r.State != WaitingForPlayers || len(r.PlayerOrder) != 2 {
		return false
	}
	first, second := engine.AssignSymbols(rng)
	r.Players[r.PlayerOrder[0]].Symbol = first
	r.Players[r.PlayerOrder[1]].Symbol = second
	r.CurrentTurn = engine.SymbolX
	next, ok := Apply(r.State, EventPlayerJoined)
	if !ok {
		r.logIllegalTransition(EventPlayerJoined)
		return false
	}
	r.State = next
	r.touch()
	return true
}

type MoveResult struct {
	Outcome engine.Outcome
	Winner  engine.Symbol
}

// TryMakeMove validates and applies a move on behalf of playerID. Gates are
// evaluated in order, failing on the first violated predicate: GameOver,
// then NotInGame (unknown player or no symbol dealt yet), then
// OpponentDisconnected, then NotYourTurn. Caller must hold the lock.
func (r *Room) TryMakeMove(playerID string, index int) (MoveResult, error) {
	if r.IsGameOver {
		return MoveResult{}, ErrGameOver
	}
	p, ok := r.Players[playerID]
	if !ok || p.Symbol == engine.NoSymbol {
		return MoveResult{}, ErrNotInGame
	}
	for _, other := range r.Players {
		if other.PlayerID != playerID && !other.connected() {
			return MoveResult{}, ErrOpponentDisconnected
		}
	}
	if p.Symbol != r.CurrentTurn {
		return MoveResult{}, ErrNotYourTurn
	}

	outcome, err := engine.TryApplyMove(&r.Board, p.Symbol, index)
	if err != nil {
		return MoveResult{}, err
	}
	r.touch()

	res := MoveResult{Outcome: outcome}
	switch outcome {
	case engine.Win:
		r.IsGameOver = true
		r.Winner = p.Symbol
		res.Winner = p.Symbol
		r.CurrentTurn = engine.NoSymbol
		if next, ok := Apply(r.State, EventGameWon); ok {
			r.State = next
		} else {
			r.logIllegalTransition(EventGameWon)
		}
	case engine.Draw:
		r.IsGameOver = true
		r.CurrentTurn = engine.NoSymbol
		if next, ok := Apply(r.State, EventGameDrawn); ok {
			r.State = next
		} else {
			r.logIllegalTransition(EventGameDrawn)
		}
	default:
		r.CurrentTurn = p.Symbol.Opponent()
		if next, ok := Apply(r.State, EventMoveMade); ok {
			r.State = next
		} else {
			r.logIllegalTransition(EventMoveMade)
		}
	}
	return res, nil
}

// Forfeit ends the game in favor of the other seated player. Caller must
// hold the lock.
func (r *Room) Forfeit(forfeiterID string) (winner engine.Symbol, ok bool) {
	if r.IsGameOver {
		return engine.NoSymbol, false
	}
	forfeiter, exists := r.Players[forfeiterID]
	if !exists {
		return engine.NoSymbol, false
	}
	var winningSymbol engine.Symbol
	for id, p := range r.Players {
		if id != forfeiterID {
			winningSymbol = p.Symbol
		}
	}
	r.IsGameOver = true
	r.Winner = winningSymbol
	r.CurrentTurn = engine.NoSymbol
	_ = forfeiter
	if next, applied := Apply(r.State, EventPlayerForfeited); applied {
		r.State = next
	} else {
		r.logIllegalTransition(EventPlayerForfeited)
	}
	r.touch()
	return winningSymbol, true
}

// OfferRematch records playerID's rematch offer. It opens (or extends, if no
// window is currently live) the rematch window; re-offers while a window is
// already live just join the offer set without resetting the deadline — the
// documented source behavior, preserved unchanged here.
func (r *Room) OfferRematch(playerID string, window time.Duration) (time.Time, error) {
	if _, ok := r.Players[playerID]; !ok {
		return time.Time{}, ErrNotInGame
	}
	if !r.IsGameOver {
		return time.Time{}, ErrOfferFailed
	}
	windowLive := r.State == RematchOffered && time.Now().Before(r.RematchExpiresAt)
	if !windowLive {
		r.RematchExpiresAt = time.Now().Add(window)
		if next, ok := Apply(r.State, EventRematchOffered); ok {
			r.State = next
		} else if r.State != RematchOffered {
			r.logIllegalTransition(EventRematchOffered)
			return time.Time{}, ErrOfferFailed
		}
	}
	r.RematchOffers[playerID] = struct{}{}
	r.touch()
	return r.RematchExpiresAt, nil
}

// AcceptRematch adds playerID to the offer set and reports whether both
// seated players have now accepted.
func (r *Room) AcceptRematch(playerID string) (bothAccepted bool, err error) {
	if _, ok := r.Players[playerID]; !ok {
		return false, ErrNotInGame
	}
	if r.State != RematchOffered {
		return false, ErrAcceptFailed
	}
	r.RematchOffers[playerID] = struct{}{}
	r.touch()
	for _, id := range r.PlayerOrder {
		if _, ok := r.RematchOffers[id]; !ok {
			return false, nil
		}
	}
	if next, ok := Apply(r.State, EventRematchAccepted); ok {
		r.State = next
	} else {
		r.logIllegalTransition(EventRematchAccepted)
	}
	return true, nil
}

// ExpireRematchWindow transitions an unresolved rematch window to expired.
// Caller must hold the lock. Returns false if the window had already moved
// on (e.g. both accepted first).
func (r *Room) ExpireRematchWindow() bool {
	if r.State != RematchOffered {
		return false
	}
	next, ok := Apply(r.State, EventRematchExpired)
	if !ok {
		r.logIllegalTransition(EventRematchExpired)
		return false
	}
	r.State = next
	r.RematchOffers = make(map[string]struct{})
	return true
}

// ResetForRematch clears board/turn/rematch state and re-deals symbols,
// bumping TurnTimerVersion so any in-flight turn timer goroutine from the
// prior game observes itself as stale and exits without acting.
func (r *Room) ResetForRematch(rng engine.RNG) error {
	if r.State != RematchAccepted {
		return ErrAcceptFailed
	}
	r.Board = engine.CreateBoard()
	r.IsGameOver = false
	r.Winner = engine.NoSymbol
	r.RematchOffers = make(map[string]struct{})
	r.RematchExpiresAt = time.Time{}
	r.TurnTimerVersion++

	first, second := engine.AssignSymbols(rng)
	r.Players[r.PlayerOrder[0]].Symbol = first
	r.Players[r.PlayerOrder[1]].Symbol = second
	for _, p := range r.Players {
		p.GraceUsed = false
		p.RemainingTurnSeconds = nil
	}
	r.CurrentTurn = engine.SymbolX
	if next, ok := Apply(r.State, EventFirstMoveMade); ok {
		r.State = next
	} else {
		r.logIllegalTransition(EventFirstMoveMade)
	}
	r.touch()
	return nil
}

// IsIdleForCleanup reports whether the sweeper should close this room: the
// lobby never filled and has sat idle past idleTimeout, or every seated
// player is currently disconnected. Caller must hold the lock.
func (r *Room) IsIdleForCleanup(idleTimeout time.Duration) bool {
	if r.State == Closed {
		return false
	}
	started := r.State != WaitingForPlayers
	if !started && len(r.PlayerOrder) < 2 && time.Since(r.LastActivityAt) > idleTimeout {
		return true
	}
	if len(r.PlayerOrder) == 0 {
		return false
	}
	for _, p := range r.Players {
		if p.connected() {
			return false
		}
	}
	return true
}

// Snapshot is an immutable copy of the bits a broadcaster needs, taken
// under the lock and used after it is released.
type Snapshot struct {
	Code        string
	Board       engine.Board
	CurrentTurn engine.Symbol
	IsGameOver  bool
	Winner      engine.Symbol
	State       State
}

func (r *Room) Snapshot() Snapshot {
	return Snapshot{
		Code:        r.Code,
		Board:       r.Board,
		CurrentTurn: r.CurrentTurn,
		IsGameOver:  r.IsGameOver,
		Winner:      r.Winner,
		State:       r.State,
	}
}

// AllDisconnected reports whether every seated player is disconnected.
// Caller must hold the lock.
func (r *Room) AllDisconnected() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if p.connected() {
			return false
		}
	}
	return true
}
