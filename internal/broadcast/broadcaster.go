// Package broadcast declares the interface the core depends on to reach
// clients. The core never imports a websocket library directly; the
// concrete implementation lives in internal/transport/ws.
package broadcast

// Broadcaster sends named, JSON-shaped events to connections and groups.
// "Group" here means the set of connections subscribed to a room code.
type Broadcaster interface {
	SendToConnection(connectionID string, event string, payload any)
	SendToGroup(groupCode string, event string, payload any)
	SendToGroupExcept(groupCode string, exceptConnectionID string, event string, payload any)
	AddToGroup(connectionID string, groupCode string)
	RemoveFromGroup(connectionID string, groupCode string)
}

// Noop is a Broadcaster that drops every event. Useful for unit tests of
// components that take a Broadcaster but whose test cases don't care about
// delivery.
type Noop struct{}

func (Noop) SendToConnection(string, string, any)          {}
func (Noop) SendToGroup(string, string, any)               {}
func (Noop) SendToGroupExcept(string, string, string, any) {}
func (Noop) AddToGroup(string, string)                     {}
func (Noop) RemoveFromGroup(string, string)                {}
