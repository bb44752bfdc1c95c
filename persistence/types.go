package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// ErrNotFound is returned by every persister when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Persister is the storage boundary of the whiteboard. Single row writes are atomic, ClearElements and
// ReplaceElements are atomic as a whole with respect to concurrent single row writes of the same room.
type Persister interface {
	StoreRoom(types.Room) error
	GetRoom(*types.Room) error
	GetRooms() ([]*types.Room, error)
	DeleteRoom(*types.Room) error

	// JoinParticipant creates the participant row or reactivates an existing one. p is filled with the stored row.
	JoinParticipant(p *types.Participant) error
	// LeaveParticipant marks the participant inactive, it reports whether a row existed.
	LeaveParticipant(roomId, userId string, ts time.Time) (bool, error)
	// UpdateCursor returns ErrNotFound if there is no active participant row.
	UpdateCursor(roomId, userId string, x, y float64, ts time.Time) (*types.Participant, error)
	GetParticipants(roomId string, activeOnly bool) ([]*types.Participant, error)
	CountActiveParticipants(roomId string) (int, error)

	CreateElement(*types.Element) error
	// GetElement only returns elements that are not deleted.
	GetElement(roomId, elementId string) (*types.Element, error)
	// UpdateElement reads the live element, applies fn and writes the whole row back in one transaction,
	// incrementing the version.
	UpdateElement(roomId, elementId string, fn func(*types.Element) error) (*types.Element, error)
	// SoftDeleteElement reports whether a live element was deleted.
	SoftDeleteElement(roomId, elementId string, ts time.Time) (bool, error)
	// ClearElements soft-deletes all live elements of the room and returns their number.
	ClearElements(roomId string, ts time.Time) (int, error)
	// GetCurrentElements returns the live elements ordered by z index, creation time and id.
	GetCurrentElements(roomId string) ([]*types.Element, error)
	// ReplaceElements soft-deletes all live elements of the room and creates the given ones.
	ReplaceElements(roomId string, ts time.Time, elements []*types.Element) error

	CreateSnapshot(*types.Snapshot) error
	GetSnapshot(roomId, snapshotId string) (*types.Snapshot, error)
	// GetSnapshots returns the snapshots of a room, newest first.
	GetSnapshots(roomId string) ([]*types.Snapshot, error)
	CountSnapshots(roomId string) (int, error)

	Close() error
}

// NewPersister creates the persister selected by the persistence configuration.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "sqlite", "postgres":
		return NewGormPersister(cfg)
	case "buntdb":
		return NewBuntPersister(cfg)
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
}
