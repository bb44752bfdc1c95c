package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/metrics"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

const commandChannelSize = 1000

var ErrHubStopped = errors.New("hub stopped")

// Hub is the broadcaster of one room. All work on the room's registered clients, every accepted mutation and the
// broadcast that follows it runs as a command on the single Run goroutine, so delivery order equals write order.
type Hub struct {
	// there is one hub per room
	roomId string

	// Registered clients, only touched by commands.
	clients map[*Client]struct{}

	commands chan func()
	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(roomId string) *Hub {
	return &Hub{
		roomId:   roomId,
		clients:  make(map[*Client]struct{}),
		commands: make(chan func(), commandChannelSize),
		done:     make(chan struct{}),
	}
}

// Run is the main hub loop, it executes the submitted commands one after the other until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case cmd := <-h.commands:
			cmd()

		case <-h.done:
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			globals.AppLogger.Debug("hub stopped", "room", h.roomId)
			return
		}
	}
}

// Stop ends the Run loop and closes all registered clients. Queued commands are dropped.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Do queues f for execution on the hub goroutine. It blocks while the command queue is full and returns false if
// the hub is stopped. Do must not be called from within a command.
func (h *Hub) Do(f func()) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.commands <- f:
		return true
	case <-h.done:
		return false
	}
}

// DoSync is Do, but waits until f has returned.
func (h *Hub) DoSync(f func()) bool {
	finished := make(chan struct{})
	if !h.Do(func() {
		defer close(finished)
		f()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-h.done:
		return false
	}
}

// Broadcast queues the delivery of event to every registered client but exclude (which may be nil).
func (h *Hub) Broadcast(event types.Event, exclude *Client) bool {
	return h.Do(func() { h.broadcastNow(event, exclude) })
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	n := 0
	h.DoSync(func() { n = len(h.clients) })
	return n
}

func (h *Hub) register(client *Client) {
	h.clients[client] = struct{}{}
}

func (h *Hub) unregister(client *Client) {
	delete(h.clients, client)
}

// hasUser reports whether a registered client belongs to userId.
func (h *Hub) hasUser(userId string) bool {
	for client := range h.clients {
		if client.user.Id == userId {
			return true
		}
	}
	return false
}

// broadcastNow marshals event once and hands it to the clients. A client that cannot take it is too slow to keep up
// with the room and gets disconnected.
func (h *Hub) broadcastNow(event types.Event, exclude *Client) {
	data, err := json.Marshal(event)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "room", h.roomId, "type", event.EventType(), "error", err)
		return
	}
	for client := range h.clients {
		if client == exclude {
			continue
		}
		if !client.Send(data) {
			globals.AppLogger.Warn("client too slow, disconnecting", "room", h.roomId, "user", client.user.Id)
			metrics.SlowClients.Inc()
			client.Close()
			delete(h.clients, client)
		}
	}
	metrics.EventsBroadcast.WithLabelValues(event.EventType()).Inc()
}

type hubRef struct {
	hub  *Hub
	refs int
}

// Hubs keeps one running hub per room with open sessions. A hub is started by the first Acquire for its room and
// stopped by the last Release.
type Hubs struct {
	sync.Mutex
	hubs map[string]*hubRef

	// refs over all rooms, Shutdown waits for them to drop to zero
	total   int
	closed  bool
	drained chan struct{}
}

func NewHubs() *Hubs {
	return &Hubs{hubs: make(map[string]*hubRef), drained: make(chan struct{})}
}

// Acquire returns the running hub of the room, starting it if necessary. Every Acquire must be paired with a Release.
// After Shutdown the returned hub is already stopped.
func (hs *Hubs) Acquire(roomId string) *Hub {
	hs.Lock()
	defer hs.Unlock()
	if hs.closed {
		hub := NewHub(roomId)
		hub.Stop()
		return hub
	}
	ref, ok := hs.hubs[roomId]
	if !ok {
		ref = &hubRef{hub: NewHub(roomId)}
		hs.hubs[roomId] = ref
		go ref.hub.Run()
		metrics.Rooms.Set(float64(len(hs.hubs)))
		globals.AppLogger.Debug("hub started", "room", roomId)
	}
	ref.refs++
	hs.total++
	return ref.hub
}

func (hs *Hubs) Release(roomId string) {
	hs.Lock()
	defer hs.Unlock()
	ref, ok := hs.hubs[roomId]
	if !ok {
		return
	}
	ref.refs--
	hs.total--
	if ref.refs <= 0 {
		ref.hub.Stop()
		delete(hs.hubs, roomId)
		metrics.Rooms.Set(float64(len(hs.hubs)))
	}
	if hs.closed && hs.total == 0 {
		close(hs.drained)
	}
}

// ActiveRooms returns the ids of the rooms with a running hub in ascending order.
func (hs *Hubs) ActiveRooms() []string {
	hs.Lock()
	defer hs.Unlock()
	roomIds := make([]string, 0, len(hs.hubs))
	for roomId := range hs.hubs {
		roomIds = append(roomIds, roomId)
	}
	sort.Strings(roomIds)
	return roomIds
}

// Within runs f serialized with the websocket traffic of the room and passes it a function broadcasting to the
// room's clients. If nobody is connected to the room, f runs directly and its broadcasts go nowhere.
func (hs *Hubs) Within(roomId string, f func(broadcast func(types.Event))) error {
	hs.Lock()
	if hs.closed {
		hs.Unlock()
		return ErrHubStopped
	}
	ref, ok := hs.hubs[roomId]
	if ok {
		ref.refs++
		hs.total++
	}
	hs.Unlock()
	if !ok {
		f(func(types.Event) {})
		return nil
	}
	defer hs.Release(roomId)
	hub := ref.hub
	if !hub.DoSync(func() {
		f(func(event types.Event) { hub.broadcastNow(event, nil) })
	}) {
		return ErrHubStopped
	}
	return nil
}

// Shutdown stops every hub, which disconnects all clients, and waits until every session has released its hub,
// that is until the session cleanup of all connections has run. Calling Shutdown again waits again.
func (hs *Hubs) Shutdown(ctx context.Context) error {
	hs.Lock()
	if !hs.closed {
		hs.closed = true
		for _, ref := range hs.hubs {
			ref.hub.Stop()
		}
		if hs.total == 0 {
			close(hs.drained)
		}
	}
	hs.Unlock()
	select {
	case <-hs.drained:
		metrics.Rooms.Set(0)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
