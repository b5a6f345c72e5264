package turntimer

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"tictactoe-rooms/internal/room"
)

type capturingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (c *capturingBroadcaster) SendToConnection(string, string, any) {}
func (c *capturingBroadcaster) SendToGroup(groupCode string, event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}
func (c *capturingBroadcaster) SendToGroupExcept(string, string, string, any) {}
func (c *capturingBroadcaster) AddToGroup(string, string)                    {}
func (c *capturingBroadcaster) RemoveFromGroup(string, string)               {}

func startedTestRoom(t *testing.T) *room.Room {
	r := room.New("YYYY88", context.Background())
	rng := rand.New(rand.NewSource(1))
	r.Lock()
	r.Seat("p1", "conn1")
	r.Seat("p2", "conn2")
	if !r.TryStartGame(rng) {
		t.Fatalf("expected game to start")
	}
	r.Unlock()
	return r
}

func holderID(r *room.Room) string {
	r.Lock()
	defer r.Unlock()
	for _, id := range r.PlayerOrder {
		if r.Players[id].Symbol == r.CurrentTurn {
			return id
		}
	}
	return ""
}

func TestTurnTimerCancelPreventsExpiry(t *testing.T) {
	bc := &capturingBroadcaster{}
	s := NewService(5, bc)
	r := startedTestRoom(t)
	holder := holderID(r)

	s.Start(r, func(r *room.Room, playerID string) {
		t.Fatalf("expected Cancel to prevent onExpire from firing")
	})
	time.Sleep(20 * time.Millisecond)
	s.Cancel(r, holder)
	time.Sleep(100 * time.Millisecond)
}

func TestTurnTimerPauseAndResumePreservesRemaining(t *testing.T) {
	bc := &capturingBroadcaster{}
	s := NewService(5, bc)
	r := startedTestRoom(t)
	holder := holderID(r)

	s.Start(r, func(r *room.Room, playerID string) {})
	time.Sleep(1100 * time.Millisecond) // let at least one second tick off
	s.Pause(r, holder)

	r.Lock()
	remaining := r.Players[holder].RemainingTurnSeconds
	r.Unlock()
	if remaining == nil {
		t.Fatalf("expected RemainingTurnSeconds to be set after Pause")
	}
	if *remaining >= 5 {
		t.Fatalf("expected remaining seconds to have decreased from 5, got %d", *remaining)
	}
}

func TestTurnTimerExpiryInvokesOnExpire(t *testing.T) {
	bc := &capturingBroadcaster{}
	s := NewService(1, bc)
	r := startedTestRoom(t)
	holder := holderID(r)

	expired := make(chan string, 1)
	s.Start(r, func(r *room.Room, playerID string) { expired <- playerID })

	select {
	case id := <-expired:
		if id != holder {
			t.Fatalf("expected expiry for %s, got %s", holder, id)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected turn timer to expire")
	}
}

func TestTurnTimerVersionBumpInvalidatesStaleRun(t *testing.T) {
	bc := &capturingBroadcaster{}
	s := NewService(2, bc)
	r := startedTestRoom(t)

	calledStale := make(chan struct{}, 1)
	s.Start(r, func(r *room.Room, playerID string) { calledStale <- struct{}{} })

	r.Lock()
	r.TurnTimerVersion++
	r.Unlock()

	select {
	case <-calledStale:
		t.Fatalf("expected the stale run to observe the version bump and exit quietly")
	case <-time.After(3 * time.Second):
	}
}
