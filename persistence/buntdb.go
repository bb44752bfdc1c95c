package persistence

import (
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/types"
	"github.com/tidwall/buntdb"
)

// BuntDBPersist keeps every row as a JSON value under a prefixed key:
// room:<room>, participant:<room>:<user>, element:<room>:<element> and snapshot:<room>:<snapshot>.
// buntdb allows a single writable transaction at a time, which makes every Update atomic.
type BuntDBPersist struct {
	db *buntdb.DB
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	db, err := setupBuntDB(cfg)
	if err != nil {
		return nil, err
	}
	return &BuntDBPersist{db}, nil
}

func setupBuntDB(cfg *config.Config) (*buntdb.DB, error) {
	fileName := cfg.PersistenceConfig.DSN
	if fileName == "" {
		fileName = ":memory:"
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		return nil, err
	}
	globals.AppLogger.Debug("buntdb persister ready", "file", fileName)
	return db, nil
}

func roomKey(roomId string) string {
	return "room:" + roomId
}

func participantKey(roomId, userId string) string {
	return "participant:" + roomId + ":" + userId
}

func elementKey(roomId, elementId string) string {
	return "element:" + roomId + ":" + elementId
}

func snapshotKey(roomId, snapshotId string) string {
	return "snapshot:" + roomId + ":" + snapshotId
}

func mapBuntError(err error) error {
	if errors.Is(err, buntdb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func setJSON(tx *buntdb.Tx, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, string(data), nil)
	return err
}

func getJSON(tx *buntdb.Tx, key string, v interface{}) error {
	data, err := tx.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), v)
}

func (p *BuntDBPersist) StoreRoom(room types.Room) error {
	now := time.Now().UTC()
	return p.db.Update(func(tx *buntdb.Tx) error {
		existing := types.Room{}
		if err := getJSON(tx, roomKey(room.Id), &existing); err == nil {
			room.CreatedAt = existing.CreatedAt
		} else if room.CreatedAt.IsZero() {
			room.CreatedAt = now
		}
		room.UpdatedAt = now
		return setJSON(tx, roomKey(room.Id), room)
	})
}

func (p *BuntDBPersist) GetRoom(room *types.Room) error {
	if room.Id == "" {
		return ErrNotFound
	}
	return mapBuntError(p.db.View(func(tx *buntdb.Tx) error {
		return getJSON(tx, roomKey(room.Id), room)
	}))
}

func (p *BuntDBPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("room:*", func(key, value string) bool {
			room := &types.Room{}
			if err := json.Unmarshal([]byte(value), room); err != nil {
				globals.AppLogger.Error("could not unmarshal room", "key", key, "error", err)
				return true
			}
			rooms = append(rooms, room)
			return true
		})
	})
	return rooms, err
}

func deleteByPrefix(tx *buntdb.Tx, pattern string) error {
	keys := make([]string, 0)
	err := tx.AscendKeys(pattern, func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRoom removes the room together with its participants, elements and snapshots.
func (p *BuntDBPersist) DeleteRoom(room *types.Room) error {
	return mapBuntError(p.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete(roomKey(room.Id)); err != nil {
			return err
		}
		for _, prefix := range []string{"participant:", "element:", "snapshot:"} {
			if err := deleteByPrefix(tx, prefix+room.Id+":*"); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (p *BuntDBPersist) JoinParticipant(participant *types.Participant) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		key := participantKey(participant.RoomId, participant.UserId)
		existing := types.Participant{}
		err := getJSON(tx, key, &existing)
		if errors.Is(err, buntdb.ErrNotFound) {
			participant.IsActive = true
			participant.Version = 1
			return setJSON(tx, key, participant)
		}
		if err != nil {
			return err
		}
		existing.IsActive = true
		existing.LastActivity = participant.LastActivity
		if participant.Nick != "" {
			existing.Nick = participant.Nick
		}
		existing.Version++
		*participant = existing
		return setJSON(tx, key, existing)
	})
}

func (p *BuntDBPersist) LeaveParticipant(roomId, userId string, ts time.Time) (bool, error) {
	found := false
	err := p.db.Update(func(tx *buntdb.Tx) error {
		key := participantKey(roomId, userId)
		participant := types.Participant{}
		err := getJSON(tx, key, &participant)
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		participant.IsActive = false
		participant.LastActivity = ts
		participant.Version++
		return setJSON(tx, key, participant)
	})
	return found, err
}

func (p *BuntDBPersist) UpdateCursor(roomId, userId string, x, y float64, ts time.Time) (*types.Participant, error) {
	participant := &types.Participant{}
	err := p.db.Update(func(tx *buntdb.Tx) error {
		key := participantKey(roomId, userId)
		if err := getJSON(tx, key, participant); err != nil {
			return err
		}
		if !participant.IsActive {
			return ErrNotFound
		}
		participant.CursorX = x
		participant.CursorY = y
		participant.LastActivity = ts
		participant.Version++
		return setJSON(tx, key, participant)
	})
	if err != nil {
		return nil, mapBuntError(err)
	}
	return participant, nil
}

func (p *BuntDBPersist) GetParticipants(roomId string, activeOnly bool) ([]*types.Participant, error) {
	participants := make([]*types.Participant, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(participantKey(roomId, "*"), func(key, value string) bool {
			participant := &types.Participant{}
			if err := json.Unmarshal([]byte(value), participant); err != nil {
				globals.AppLogger.Error("could not unmarshal participant", "key", key, "error", err)
				return true
			}
			if !activeOnly || participant.IsActive {
				participants = append(participants, participant)
			}
			return true
		})
	})
	sort.SliceStable(participants, func(i, j int) bool {
		if !participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].JoinedAt.Before(participants[j].JoinedAt)
		}
		return participants[i].UserId < participants[j].UserId
	})
	return participants, err
}

func (p *BuntDBPersist) CountActiveParticipants(roomId string) (int, error) {
	participants, err := p.GetParticipants(roomId, true)
	return len(participants), err
}

func (p *BuntDBPersist) CreateElement(element *types.Element) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, elementKey(element.RoomId, element.Id), storedElement{element})
	})
}

// storedElement also persists the fields hidden from the wire format.
type storedElement struct {
	*types.Element
}

type storedElementFlags struct {
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at"`
}

func (s storedElement) MarshalJSON() ([]byte, error) {
	type plain types.Element
	return json.Marshal(struct {
		*plain
		storedElementFlags
	}{(*plain)(s.Element), storedElementFlags{IsDeleted: s.IsDeleted, DeletedAt: s.DeletedAt}})
}

func decodeElement(value string) (*types.Element, error) {
	type plain types.Element
	element := &types.Element{}
	flags := storedElementFlags{}
	if err := json.Unmarshal([]byte(value), (*plain)(element)); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(value), &flags); err != nil {
		return nil, err
	}
	element.IsDeleted = flags.IsDeleted
	element.DeletedAt = flags.DeletedAt
	return element, nil
}

func getLiveElement(tx *buntdb.Tx, roomId, elementId string) (*types.Element, error) {
	value, err := tx.Get(elementKey(roomId, elementId))
	if err != nil {
		return nil, err
	}
	element, err := decodeElement(value)
	if err != nil {
		return nil, err
	}
	if element.IsDeleted {
		return nil, ErrNotFound
	}
	return element, nil
}

func (p *BuntDBPersist) GetElement(roomId, elementId string) (*types.Element, error) {
	var element *types.Element
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		element, err = getLiveElement(tx, roomId, elementId)
		return err
	})
	if err != nil {
		return nil, mapBuntError(err)
	}
	return element, nil
}

func (p *BuntDBPersist) UpdateElement(roomId, elementId string, fn func(*types.Element) error) (*types.Element, error) {
	var element *types.Element
	err := p.db.Update(func(tx *buntdb.Tx) error {
		var err error
		element, err = getLiveElement(tx, roomId, elementId)
		if err != nil {
			return err
		}
		if err := fn(element); err != nil {
			return err
		}
		element.Version++
		return setJSON(tx, elementKey(roomId, elementId), storedElement{element})
	})
	if err != nil {
		return nil, mapBuntError(err)
	}
	return element, nil
}

func (p *BuntDBPersist) SoftDeleteElement(roomId, elementId string, ts time.Time) (bool, error) {
	deleted := false
	err := p.db.Update(func(tx *buntdb.Tx) error {
		element, err := getLiveElement(tx, roomId, elementId)
		if errors.Is(err, buntdb.ErrNotFound) || errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		markDeleted(element, ts)
		deleted = true
		return setJSON(tx, elementKey(roomId, elementId), storedElement{element})
	})
	return deleted, err
}

func markDeleted(element *types.Element, ts time.Time) {
	deletedAt := ts
	element.IsDeleted = true
	element.DeletedAt = &deletedAt
	element.UpdatedAt = ts
	element.Version++
}

func liveElements(tx *buntdb.Tx, roomId string) ([]*types.Element, error) {
	elements := make([]*types.Element, 0)
	var decodeErr error
	err := tx.AscendKeys(elementKey(roomId, "*"), func(key, value string) bool {
		element, err := decodeElement(value)
		if err != nil {
			decodeErr = err
			return false
		}
		if !element.IsDeleted {
			elements = append(elements, element)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return elements, decodeErr
}

func clearLiveElements(tx *buntdb.Tx, roomId string, ts time.Time) (int, error) {
	elements, err := liveElements(tx, roomId)
	if err != nil {
		return 0, err
	}
	for _, element := range elements {
		markDeleted(element, ts)
		if err := setJSON(tx, elementKey(roomId, element.Id), storedElement{element}); err != nil {
			return 0, err
		}
	}
	return len(elements), nil
}

func (p *BuntDBPersist) ClearElements(roomId string, ts time.Time) (int, error) {
	count := 0
	err := p.db.Update(func(tx *buntdb.Tx) error {
		var err error
		count, err = clearLiveElements(tx, roomId, ts)
		return err
	})
	return count, err
}

func (p *BuntDBPersist) GetCurrentElements(roomId string) ([]*types.Element, error) {
	var elements []*types.Element
	err := p.db.View(func(tx *buntdb.Tx) error {
		var err error
		elements, err = liveElements(tx, roomId)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(elements, func(i, j int) bool {
		return elements[i].Before(elements[j])
	})
	return elements, nil
}

func (p *BuntDBPersist) ReplaceElements(roomId string, ts time.Time, elements []*types.Element) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		if _, err := clearLiveElements(tx, roomId, ts); err != nil {
			return err
		}
		for _, element := range elements {
			if err := setJSON(tx, elementKey(roomId, element.Id), storedElement{element}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *BuntDBPersist) CreateSnapshot(snapshot *types.Snapshot) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		return setJSON(tx, snapshotKey(snapshot.RoomId, snapshot.Id), storedSnapshot{snapshot})
	})
}

// storedSnapshot also persists the element data hidden from the wire format.
type storedSnapshot struct {
	*types.Snapshot
}

func (s storedSnapshot) MarshalJSON() ([]byte, error) {
	type plain types.Snapshot
	return json.Marshal(struct {
		*plain
		Data json.RawMessage `json:"data"`
	}{(*plain)(s.Snapshot), json.RawMessage(s.Data)})
}

func decodeSnapshot(value string) (*types.Snapshot, error) {
	type plain types.Snapshot
	snapshot := &types.Snapshot{}
	data := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal([]byte(value), (*plain)(snapshot)); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(value), &data); err != nil {
		return nil, err
	}
	snapshot.Data = []byte(data.Data)
	return snapshot, nil
}

func (p *BuntDBPersist) GetSnapshot(roomId, snapshotId string) (*types.Snapshot, error) {
	var snapshot *types.Snapshot
	err := p.db.View(func(tx *buntdb.Tx) error {
		value, err := tx.Get(snapshotKey(roomId, snapshotId))
		if err != nil {
			return err
		}
		snapshot, err = decodeSnapshot(value)
		return err
	})
	if err != nil {
		return nil, mapBuntError(err)
	}
	return snapshot, nil
}

func (p *BuntDBPersist) GetSnapshots(roomId string) ([]*types.Snapshot, error) {
	snapshots := make([]*types.Snapshot, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(snapshotKey(roomId, "*"), func(key, value string) bool {
			snapshot, err := decodeSnapshot(value)
			if err != nil {
				globals.AppLogger.Error("could not unmarshal snapshot", "key", key, "error", err)
				return true
			}
			snapshots = append(snapshots, snapshot)
			return true
		})
	})
	sort.SliceStable(snapshots, func(i, j int) bool {
		if !snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
		}
		return snapshots[i].Id < snapshots[j].Id
	})
	return snapshots, err
}

func (p *BuntDBPersist) CountSnapshots(roomId string) (int, error) {
	count := 0
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(snapshotKey(roomId, "*"), func(_, _ string) bool {
			count++
			return true
		})
	})
	return count, err
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
