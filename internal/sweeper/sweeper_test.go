package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"tictactoe-rooms/internal/registry"
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

func TestSweepOnceClosesIdleRoomsOnly(t *testing.T) {
	reg := registry.New(time.Hour, time.Minute)
	bc := &capturingBroadcaster{}

	idle := room.New("IDLE01", context.Background())
	idle.Lock()
	idle.Seat("p1", "conn1")
	idle.LastActivityAt = time.Now().Add(-time.Hour)
	idle.Unlock()
	reg.Create(idle)

	fresh := room.New("FRESH1", context.Background())
	fresh.Lock()
	fresh.Seat("p1", "conn1")
	fresh.Unlock()
	reg.Create(fresh)

	var closedCodes []string
	s := NewService(reg, bc, time.Minute, time.Hour, func(code string) {
		closedCodes = append(closedCodes, code)
	})
	s.sweepOnce()

	if len(closedCodes) != 1 || closedCodes[0] != "IDLE01" {
		t.Fatalf("expected only IDLE01 to be closed, got %v", closedCodes)
	}
	if _, ok := reg.TryGetByID("IDLE01"); ok {
		t.Fatalf("expected IDLE01 removed from the registry")
	}
	if _, ok := reg.TryGetByID("FRESH1"); !ok {
		t.Fatalf("expected FRESH1 to remain in the registry")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	reg := registry.New(time.Hour, time.Minute)
	bc := &capturingBroadcaster{}
	s := NewService(reg, bc, time.Minute, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return after context cancellation")
	}
}
