package persistence

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/types"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ driver.Valuer = &datatypes.JSON{}

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured for %s", cfg.PersistenceConfig.Type)
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if cfg.PersistenceConfig.Type == "sqlite" {
		// sqlite allows one writer at a time, a single connection turns "database is locked" into waiting
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	err = db.Migrator().AutoMigrate(&types.Room{}, &types.Participant{}, &types.Element{}, &types.Snapshot{})
	if err != nil {
		return nil, err
	}
	globals.AppLogger.Debug("gorm persister ready", "type", cfg.PersistenceConfig.Type)
	return db, nil
}

func mapGormError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// forUpdate locks the selected rows until the end of the transaction where the dialect supports it.
func (p *GormPersist) forUpdate(tx *gorm.DB) *gorm.DB {
	if p.db.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (p *GormPersist) StoreRoom(room types.Room) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&room).Error
}

func (p *GormPersist) GetRoom(room *types.Room) error {
	if room.Id == "" {
		return ErrNotFound
	}
	return mapGormError(p.db.Where("id = ?", room.Id).First(room).Error)
}

func (p *GormPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.Order("id").Find(&rooms).Error
	return rooms, err
}

// DeleteRoom removes the room together with its participants, elements and snapshots.
func (p *GormPersist) DeleteRoom(room *types.Room) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&types.Participant{}, &types.Element{}, &types.Snapshot{}} {
			if err := tx.Where("room_id = ?", room.Id).Delete(model).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", room.Id).Delete(&types.Room{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *GormPersist) JoinParticipant(participant *types.Participant) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		existing := types.Participant{}
		err := p.forUpdate(tx).Where("room_id = ? AND user_id = ?", participant.RoomId, participant.UserId).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			participant.IsActive = true
			participant.Version = 1
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"is_active", "last_activity", "nick"}),
			}).Create(participant).Error
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
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		*participant = existing
		return nil
	})
}

func (p *GormPersist) LeaveParticipant(roomId, userId string, ts time.Time) (bool, error) {
	res := p.db.Model(&types.Participant{}).
		Where("room_id = ? AND user_id = ?", roomId, userId).
		Updates(map[string]interface{}{"is_active": false, "last_activity": ts, "version": gorm.Expr("version + 1")})
	return res.RowsAffected > 0, res.Error
}

func (p *GormPersist) UpdateCursor(roomId, userId string, x, y float64, ts time.Time) (*types.Participant, error) {
	participant := &types.Participant{}
	err := p.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&types.Participant{}).
			Where("room_id = ? AND user_id = ? AND is_active = ?", roomId, userId, true).
			Updates(map[string]interface{}{"cursor_x": x, "cursor_y": y, "last_activity": ts, "version": gorm.Expr("version + 1")})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("room_id = ? AND user_id = ?", roomId, userId).First(participant).Error
	})
	if err != nil {
		return nil, mapGormError(err)
	}
	return participant, nil
}

func (p *GormPersist) GetParticipants(roomId string, activeOnly bool) ([]*types.Participant, error) {
	participants := make([]*types.Participant, 0)
	q := p.db.Where("room_id = ?", roomId)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Order("joined_at, user_id").Find(&participants).Error
	return participants, err
}

func (p *GormPersist) CountActiveParticipants(roomId string) (int, error) {
	var count int64
	err := p.db.Model(&types.Participant{}).Where("room_id = ? AND is_active = ?", roomId, true).Count(&count).Error
	return int(count), err
}

func (p *GormPersist) CreateElement(element *types.Element) error {
	return p.db.Create(element).Error
}

func (p *GormPersist) GetElement(roomId, elementId string) (*types.Element, error) {
	element := &types.Element{}
	err := p.db.Where("id = ? AND room_id = ? AND is_deleted = ?", elementId, roomId, false).First(element).Error
	if err != nil {
		return nil, mapGormError(err)
	}
	return element, nil
}

func (p *GormPersist) UpdateElement(roomId, elementId string, fn func(*types.Element) error) (*types.Element, error) {
	element := &types.Element{}
	err := p.db.Transaction(func(tx *gorm.DB) error {
		err := p.forUpdate(tx).Where("id = ? AND room_id = ? AND is_deleted = ?", elementId, roomId, false).First(element).Error
		if err != nil {
			return err
		}
		if err := fn(element); err != nil {
			return err
		}
		element.Version++
		return tx.Save(element).Error
	})
	if err != nil {
		return nil, mapGormError(err)
	}
	return element, nil
}

func (p *GormPersist) SoftDeleteElement(roomId, elementId string, ts time.Time) (bool, error) {
	res := p.db.Model(&types.Element{}).
		Where("id = ? AND room_id = ? AND is_deleted = ?", elementId, roomId, false).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": ts, "updated_at": ts, "version": gorm.Expr("version + 1")})
	return res.RowsAffected > 0, res.Error
}

func clearElements(tx *gorm.DB, roomId string, ts time.Time) (int, error) {
	res := tx.Model(&types.Element{}).
		Where("room_id = ? AND is_deleted = ?", roomId, false).
		Updates(map[string]interface{}{"is_deleted": true, "deleted_at": ts, "updated_at": ts, "version": gorm.Expr("version + 1")})
	return int(res.RowsAffected), res.Error
}

func (p *GormPersist) ClearElements(roomId string, ts time.Time) (int, error) {
	count := 0
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var err error
		count, err = clearElements(tx, roomId, ts)
		return err
	})
	return count, err
}

func (p *GormPersist) GetCurrentElements(roomId string) ([]*types.Element, error) {
	elements := make([]*types.Element, 0)
	err := p.db.Where("room_id = ? AND is_deleted = ?", roomId, false).
		Order("z_index, created_at, id").
		Find(&elements).Error
	return elements, err
}

func (p *GormPersist) ReplaceElements(roomId string, ts time.Time, elements []*types.Element) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		if _, err := clearElements(tx, roomId, ts); err != nil {
			return err
		}
		if len(elements) == 0 {
			return nil
		}
		return tx.Create(&elements).Error
	})
}

func (p *GormPersist) CreateSnapshot(snapshot *types.Snapshot) error {
	return p.db.Create(snapshot).Error
}

func (p *GormPersist) GetSnapshot(roomId, snapshotId string) (*types.Snapshot, error) {
	snapshot := &types.Snapshot{}
	err := p.db.Where("id = ? AND room_id = ?", snapshotId, roomId).First(snapshot).Error
	if err != nil {
		return nil, mapGormError(err)
	}
	return snapshot, nil
}

func (p *GormPersist) GetSnapshots(roomId string) ([]*types.Snapshot, error) {
	snapshots := make([]*types.Snapshot, 0)
	err := p.db.Where("room_id = ?", roomId).Order("created_at DESC, id").Find(&snapshots).Error
	return snapshots, err
}

func (p *GormPersist) CountSnapshots(roomId string) (int, error) {
	var count int64
	err := p.db.Model(&types.Snapshot{}).Where("room_id = ?", roomId).Count(&count).Error
	return int(count), err
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
