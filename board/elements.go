package board

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/metrics"
	"github.com/tcriess/lightspeed-whiteboard/persistence"
	"github.com/tcriess/lightspeed-whiteboard/room"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// ElementStore implements the element mutations of a room on top of the persister. Writes to the same room are
// serialized, every write increments the element version, the last write wins.
type ElementStore struct {
	persister persistence.Persister
	rooms     *room.Registry
	clock     *clock
	locks     *roomLocks
}

func NewElementStore(persister persistence.Persister, rooms *room.Registry) *ElementStore {
	return &ElementStore{
		persister: persister,
		rooms:     rooms,
		clock:     &clock{},
		locks:     &roomLocks{},
	}
}

func storeError(operation string, err error) error {
	metrics.StoreErrors.WithLabelValues(operation).Inc()
	return err
}

// CreateElement stores a new element authored by user and returns it with its id and timestamps assigned.
func (s *ElementStore) CreateElement(roomId string, user *types.User, attrs *types.Element) (*types.Element, error) {
	if _, err := s.rooms.Resolve(roomId); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(roomId)
	defer unlock()
	return s.create(roomId, user, attrs)
}

func (s *ElementStore) create(roomId string, user *types.User, attrs *types.Element) (*types.Element, error) {
	el := *attrs
	el.Id = uuid.NewString()
	el.RoomId = roomId
	el.CreatedBy = user.Id
	el.IsDeleted = false
	el.DeletedAt = nil
	el.CreatedAt = s.clock.Now()
	el.UpdatedAt = el.CreatedAt
	el.Version = 1
	el.ApplyDefaults()
	if err := s.persister.CreateElement(&el); err != nil {
		return nil, storeError("create_element", err)
	}
	return &el, nil
}

// UpsertStrokeSegment replaces the path of the stroke elementId. An empty or unknown elementId starts a new pen
// stroke instead, so a stale id never fails a draw. created reports which of the two happened.
func (s *ElementStore) UpsertStrokeSegment(roomId string, user *types.User, elementId string, stroke *types.Element) (el *types.Element, created bool, err error) {
	if _, err := s.rooms.Resolve(roomId); err != nil {
		return nil, false, err
	}
	unlock := s.locks.lock(roomId)
	defer unlock()
	if elementId != "" {
		el, err = s.persister.UpdateElement(roomId, elementId, func(existing *types.Element) error {
			existing.PathData = stroke.PathData
			existing.UpdatedAt = s.clock.Now()
			return nil
		})
		if err == nil {
			return el, false, nil
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return nil, false, storeError("upsert_stroke", err)
		}
		globals.AppLogger.Debug("stroke not found, starting a new one", "room", roomId, "element", elementId)
	}
	attrs := *stroke
	attrs.Type = types.ElementTypePen
	el, err = s.create(roomId, user, &attrs)
	if err != nil {
		return nil, false, err
	}
	return el, true, nil
}

// UpdateElement applies patch to a live element of the room. It fails with types.ErrElementNotFound for unknown or
// deleted elements and for elements of other rooms.
func (s *ElementStore) UpdateElement(roomId, elementId string, patch *types.ElementPatch) (*types.Element, error) {
	if patch.Empty() {
		// nothing to write, the version stays
		return s.GetElement(roomId, elementId)
	}
	unlock := s.locks.lock(roomId)
	defer unlock()
	el, err := s.persister.UpdateElement(roomId, elementId, func(existing *types.Element) error {
		patch.Apply(existing)
		existing.UpdatedAt = s.clock.Now()
		return nil
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrElementNotFound, elementId)
	}
	if err != nil {
		return nil, storeError("update_element", err)
	}
	return el, nil
}

// GetElement returns a live element of the room, types.ErrElementNotFound otherwise.
func (s *ElementStore) GetElement(roomId, elementId string) (*types.Element, error) {
	el, err := s.persister.GetElement(roomId, elementId)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrElementNotFound, elementId)
	}
	if err != nil {
		return nil, storeError("get_element", err)
	}
	return el, nil
}

// DeleteElement soft-deletes an element. Deleting an unknown or already deleted element is a no-op, the result
// reports whether anything changed.
func (s *ElementStore) DeleteElement(roomId, elementId string) (bool, error) {
	unlock := s.locks.lock(roomId)
	defer unlock()
	deleted, err := s.persister.SoftDeleteElement(roomId, elementId, s.clock.Now())
	if err != nil {
		return false, storeError("delete_element", err)
	}
	return deleted, nil
}

// ClearRoom soft-deletes every live element of the room in one atomic store operation and returns their number.
func (s *ElementStore) ClearRoom(roomId string) (int, error) {
	unlock := s.locks.lock(roomId)
	defer unlock()
	count, err := s.persister.ClearElements(roomId, s.clock.Now())
	if err != nil {
		return 0, storeError("clear_room", err)
	}
	return count, nil
}

// QueryCurrent returns the live elements in painter's order (z index, then creation time).
func (s *ElementStore) QueryCurrent(roomId string) ([]*types.Element, error) {
	elements, err := s.persister.GetCurrentElements(roomId)
	if err != nil {
		return nil, storeError("query_current", err)
	}
	return elements, nil
}
