package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/metrics"
	"github.com/tcriess/lightspeed-whiteboard/persistence"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// Authorizer decides whether user may perform action (types.ActionClear, types.ActionRestore) in room.
type Authorizer interface {
	Allowed(action string, room *types.Room, user *types.User) (bool, error)
}

// SnapshotManager captures the live elements of a room and restores them later.
type SnapshotManager struct {
	store      *ElementStore
	authorizer Authorizer
}

func NewSnapshotManager(store *ElementStore, authorizer Authorizer) *SnapshotManager {
	return &SnapshotManager{store: store, authorizer: authorizer}
}

// checksumEntry is the visible content of an element, ids, authors and timestamps do not take part.
type checksumEntry struct {
	Type        string
	X           float64
	Y           float64
	Width       float64
	Height      float64
	Color       string
	StrokeWidth float64
	Opacity     float64
	PathData    string
	TextContent string
	FontSize    int
	FontFamily  string
	ImageRef    string
	ZIndex      int
}

// Checksum hashes the visible content of an ordered element list. Restoring a snapshot reproduces its checksum.
func Checksum(elements []*types.Element) (string, error) {
	entries := make([]checksumEntry, len(elements))
	for i, el := range elements {
		entries[i] = checksumEntry{
			Type:        string(el.Type),
			X:           el.X,
			Y:           el.Y,
			Width:       el.Width,
			Height:      el.Height,
			Color:       el.Color,
			StrokeWidth: el.StrokeWidth,
			Opacity:     el.Opacity,
			PathData:    string(el.PathData),
			TextContent: el.TextContent,
			FontSize:    el.FontSize,
			FontFamily:  el.FontFamily,
			ImageRef:    el.ImageRef,
			ZIndex:      el.ZIndex,
		}
	}
	hash, err := hashstructure.Hash(entries, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(hash, 16), nil
}

// Capture stores the current elements of the room as a new snapshot. An empty name defaults to "Snapshot <n>" where
// n is the number of existing snapshots of the room plus one.
func (m *SnapshotManager) Capture(roomId string, user *types.User, name, description string) (*types.Snapshot, error) {
	if _, err := m.store.rooms.Resolve(roomId); err != nil {
		return nil, err
	}
	unlock := m.store.locks.lock(roomId)
	defer unlock()
	elements, err := m.store.QueryCurrent(roomId)
	if err != nil {
		return nil, err
	}
	return m.capture(roomId, user, name, description, elements)
}

func (m *SnapshotManager) capture(roomId string, user *types.User, name, description string, elements []*types.Element) (*types.Snapshot, error) {
	if name == "" {
		count, err := m.store.persister.CountSnapshots(roomId)
		if err != nil {
			return nil, storeError("count_snapshots", err)
		}
		name = fmt.Sprintf("Snapshot %d", count+1)
	}
	data, err := json.Marshal(elements)
	if err != nil {
		return nil, err
	}
	checksum, err := Checksum(elements)
	if err != nil {
		return nil, err
	}
	snapshot := &types.Snapshot{
		Id:           uuid.NewString(),
		RoomId:       roomId,
		Name:         name,
		Description:  description,
		CreatedBy:    user.Id,
		CreatedAt:    m.store.clock.Now(),
		ElementCount: len(elements),
		Checksum:     checksum,
		Data:         data,
	}
	if err := m.store.persister.CreateSnapshot(snapshot); err != nil {
		return nil, storeError("create_snapshot", err)
	}
	metrics.Snapshots.WithLabelValues("capture").Inc()
	globals.AppLogger.Info("snapshot captured", "room", roomId, "snapshot", snapshot.Id, "elements", len(elements))
	return snapshot, nil
}

// CaptureIfChanged captures a snapshot unless the newest snapshot of the room already has the same content.
func (m *SnapshotManager) CaptureIfChanged(roomId string, user *types.User, name string) (*types.Snapshot, bool, error) {
	if _, err := m.store.rooms.Resolve(roomId); err != nil {
		return nil, false, err
	}
	unlock := m.store.locks.lock(roomId)
	defer unlock()
	elements, err := m.store.QueryCurrent(roomId)
	if err != nil {
		return nil, false, err
	}
	checksum, err := Checksum(elements)
	if err != nil {
		return nil, false, err
	}
	snapshots, err := m.store.persister.GetSnapshots(roomId)
	if err != nil {
		return nil, false, storeError("get_snapshots", err)
	}
	if len(snapshots) > 0 && snapshots[0].Checksum == checksum {
		return snapshots[0], false, nil
	}
	snapshot, err := m.capture(roomId, user, name, "", elements)
	if err != nil {
		return nil, false, err
	}
	return snapshot, true, nil
}

// Restore replaces the live elements of the room with fresh copies of the snapshot's elements, authored by user.
// Only users the Authorizer allows to restore may do so, everybody else gets types.ErrPermissionDenied.
// The new elements are returned in painter's order.
func (m *SnapshotManager) Restore(roomId string, user *types.User, snapshotId string) ([]*types.Element, error) {
	r, err := m.store.rooms.Resolve(roomId)
	if err != nil {
		return nil, err
	}
	allowed, err := m.authorizer.Allowed(types.ActionRestore, r, user)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s may not restore snapshots in %s", types.ErrPermissionDenied, user.Id, roomId)
	}
	snapshot, err := m.store.persister.GetSnapshot(roomId, snapshotId)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrSnapshotNotFound, snapshotId)
	}
	if err != nil {
		return nil, storeError("get_snapshot", err)
	}
	entries, err := snapshot.Elements()
	if err != nil {
		return nil, err
	}

	unlock := m.store.locks.lock(roomId)
	defer unlock()
	// the entries are in painter's order, increasing creation times keep that order among equal z indexes
	fresh := make([]*types.Element, len(entries))
	for i, entry := range entries {
		el := *entry
		el.Id = uuid.NewString()
		el.RoomId = roomId
		el.CreatedBy = user.Id
		el.IsDeleted = false
		el.DeletedAt = nil
		el.CreatedAt = m.store.clock.Now()
		el.UpdatedAt = el.CreatedAt
		el.Version = 1
		fresh[i] = &el
	}
	if err := m.store.persister.ReplaceElements(roomId, m.store.clock.Now(), fresh); err != nil {
		return nil, storeError("replace_elements", err)
	}
	metrics.Snapshots.WithLabelValues("restore").Inc()
	globals.AppLogger.Info("snapshot restored", "room", roomId, "snapshot", snapshotId, "user", user.Id, "elements", len(fresh))
	return fresh, nil
}

// List returns the snapshots of the room, newest first.
func (m *SnapshotManager) List(roomId string) ([]*types.Snapshot, error) {
	if _, err := m.store.rooms.Resolve(roomId); err != nil {
		return nil, err
	}
	snapshots, err := m.store.persister.GetSnapshots(roomId)
	if err != nil {
		return nil, storeError("get_snapshots", err)
	}
	return snapshots, nil
}
