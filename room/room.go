package room

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/persistence"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

const (
	defaultCacheSize = 512
	defaultCacheTTL  = 30 * time.Second
)

type cacheEntry struct {
	room    types.Room
	expires time.Time
}

// Registry resolves room ids to room metadata. Rooms are only read here, recently resolved rooms are kept in an
// LRU cache for a short time so that every websocket connect and every REST call does not hit the store.
type Registry struct {
	persister       persistence.Persister
	cache           *lru.Cache
	ttl             time.Duration
	defaultMaxUsers int
}

func NewRegistry(persister persistence.Persister, cacheSize int, ttl time.Duration, defaultMaxUsers int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Registry{persister: persister, cache: cache, ttl: ttl, defaultMaxUsers: defaultMaxUsers}, nil
}

// Resolve returns a copy of the room with the given id, or an error wrapping types.ErrRoomNotFound.
func (r *Registry) Resolve(roomId string) (*types.Room, error) {
	if roomId == "" {
		return nil, types.ErrRoomNotFound
	}
	if v, ok := r.cache.Get(roomId); ok {
		entry := v.(cacheEntry)
		if time.Now().Before(entry.expires) {
			room := entry.room
			return &room, nil
		}
		r.cache.Remove(roomId)
	}
	room := types.Room{Id: roomId}
	err := r.persister.GetRoom(&room)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrRoomNotFound, roomId)
	}
	if err != nil {
		globals.AppLogger.Error("could not load room", "room", roomId, "error", err)
		return nil, err
	}
	room.ApplyDefaults(r.defaultMaxUsers)
	r.cache.Add(roomId, cacheEntry{room: room, expires: time.Now().Add(r.ttl)})
	return &room, nil
}

// Invalidate drops a cached room, to be called after the room metadata was changed.
func (r *Registry) Invalidate(roomId string) {
	r.cache.Remove(roomId)
}
