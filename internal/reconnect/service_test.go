package reconnect

import (
	"context"
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

func (c *capturingBroadcaster) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newTestRoom(t *testing.T, playerID, connID string) *room.Room {
	r := room.New("ZZZZ99", context.Background())
	r.Lock()
	if _, err := r.Seat(playerID, connID); err != nil {
		t.Fatalf("unexpected error seating: %v", err)
	}
	r.Unlock()
	return r
}

func TestReconnectCancelStopsCountdown(t *testing.T) {
	bc := &capturingBroadcaster{}
	s := NewService(5, bc)
	r := newTestRoom(t, "p1", "conn1")

	r.Lock()
	r.RemoveConnection("p1")
	r.Unlock()

	forfeited := make(chan struct{})
	s.Start(r, "p1", func(r *room.Room, playerID string) { close(forfeited) })

	// Give the goroutine a moment to send its first tick, then cancel before
	// the grace period elapses.
	time.Sleep(20 * time.Millisecond)
	s.Cancel(r, "p1")

	select {
	case <-forfeited:
		t.Fatalf("expected Cancel to prevent onForfeit from firing")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReconnectOneShotLatchForfeitsImmediatelyOnSecondDisconnect(t *testing.T) {
	bc := &capturingBroadcaster{}
	s := NewService(30, bc)
	r := newTestRoom(t, "p1", "conn1")

	r.Lock()
	p := r.Players["p1"]
	p.GraceUsed = true
	r.RemoveConnection("p1")
	r.Unlock()

	forfeited := make(chan string, 1)
	s.Start(r, "p1", func(r *room.Room, playerID string) { forfeited <- playerID })

	select {
	case id := <-forfeited:
		if id != "p1" {
			t.Fatalf("expected forfeit for p1, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected immediate forfeit when GraceUsed was already set")
	}
}

func TestReconnectOneShotLatchSkipsForfeitIfAlreadyReconnected(t *testing.T) {
	bc := &capturingBroadcaster{}
	s := NewService(30, bc)
	r := newTestRoom(t, "p1", "conn1")

	r.Lock()
	p := r.Players["p1"]
	p.GraceUsed = true
	r.RemoveConnection("p1")
	p.ConnectionID = "conn2" // reconnected before the second disconnect's Start call lands
	r.Unlock()

	forfeited := make(chan struct{}, 1)
	s.Start(r, "p1", func(r *room.Room, playerID string) { forfeited <- struct{}{} })

	select {
	case <-forfeited:
		t.Fatalf("expected no forfeit: player had already reconnected")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReconnectExpiryForfeitsOnlyIfStillDisconnected(t *testing.T) {
	bc := &capturingBroadcaster{}
	s := NewService(1, bc)
	r := newTestRoom(t, "p1", "conn1")
	r.Lock()
	r.RemoveConnection("p1")
	r.Unlock()

	forfeited := make(chan struct{})
	s.Start(r, "p1", func(r *room.Room, playerID string) { close(forfeited) })

	select {
	case <-forfeited:
	case <-time.After(3 * time.Second):
		t.Fatalf("expected onForfeit to fire once the grace period elapses")
	}
	if bc.count() == 0 {
		t.Fatalf("expected at least one CountdownTick to have been broadcast")
	}
}
