// Package registry is the room store: atomic create/lookup/delete over the
// set of live rooms, plus a read-through TTL cache for the lookup-heavy
// paths. The cache is never authoritative — every mutation lands in the
// base store first and only then invalidates the matching cache entries.
package registry

import (
	"errors"
	"sync"
	"time"

	"tictactoe-rooms/internal/room"
)

var ErrCodeExists = errors.New("registry: room code already exists")

// Registry is a mutex-guarded map of live rooms. Reads dominate writes at
// this scale, so an RWMutex is used over the base map.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room.Room

	roomCacheTTL   time.Duration
	allRoomsTTL    time.Duration

	cacheMu      sync.Mutex
	singleCache  map[string]cacheEntry
	allCache     []*room.Room
	allCacheAt   time.Time
	allCacheSet  bool
}

type cacheEntry struct {
	r         *room.Room
	expiresAt time.Time
}

func New(roomCacheTTL, allRoomsTTL time.Duration) *Registry {
	return &Registry{
		rooms:       make(map[string]*room.Room),
		roomCacheTTL: roomCacheTTL,
		allRoomsTTL:  allRoomsTTL,
		singleCache: make(map[string]cacheEntry),
	}
}

func (reg *Registry) Create(r *room.Room) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.rooms[r.Code]; exists {
		return ErrCodeExists
	}
	reg.rooms[r.Code] = r
	reg.invalidate(r.Code)
	return nil
}

func (reg *Registry) Exists(code string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.rooms[code]
	return ok
}

// TryGetByID returns the room behind code, consulting the TTL cache first.
func (reg *Registry) TryGetByID(code string) (*room.Room, bool) {
	reg.cacheMu.Lock()
	if entry, ok := reg.singleCache[code]; ok && time.Now().Before(entry.expiresAt) {
		reg.cacheMu.Unlock()
		return entry.r, true
	}
	reg.cacheMu.Unlock()

	reg.mu.RLock()
	r, ok := reg.rooms[code]
	reg.mu.RUnlock()
	if !ok {
		return nil, false
	}

	reg.cacheMu.Lock()
	reg.singleCache[code] = cacheEntry{r: r, expiresAt: time.Now().Add(reg.roomCacheTTL)}
	reg.cacheMu.Unlock()
	return r, true
}

// Update is a no-op on the base store (rooms are mutated in place behind
// their own lock) but it does invalidate any stale cache entries, matching
// the documented "cache is invalidated synchronously on create/update/delete"
// rule even though the pointer identity here never changes.
func (reg *Registry) Update(r *room.Room) {
	reg.invalidate(r.Code)
}

func (reg *Registry) Delete(code string) {
	reg.mu.Lock()
	delete(reg.rooms, code)
	reg.mu.Unlock()
	reg.invalidate(code)
}

// GetAll returns every live room, consulting the listing cache first.
func (reg *Registry) GetAll() []*room.Room {
	reg.cacheMu.Lock()
	if reg.allCacheSet && time.Since(reg.allCacheAt) < reg.allRoomsTTL {
		out := reg.allCache
		reg.cacheMu.Unlock()
		return out
	}
	reg.cacheMu.Unlock()

	reg.mu.RLock()
	out := make([]*room.Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	reg.mu.RUnlock()

	reg.cacheMu.Lock()
	reg.allCache = out
	reg.allCacheAt = time.Now()
	reg.allCacheSet = true
	reg.cacheMu.Unlock()
	return out
}

func (reg *Registry) GetCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

func (reg *Registry) Clear() {
	reg.mu.Lock()
	reg.rooms = make(map[string]*room.Room)
	reg.mu.Unlock()

	reg.cacheMu.Lock()
	reg.singleCache = make(map[string]cacheEntry)
	reg.allCacheSet = false
	reg.cacheMu.Unlock()
}

func (reg *Registry) invalidate(code string) {
	reg.cacheMu.Lock()
	delete(reg.singleCache, code)
	reg.allCacheSet = false
	reg.cacheMu.Unlock()
}
