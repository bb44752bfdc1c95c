package types

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Snapshot is an immutable capture of a room's current elements. Data holds the JSON encoded, ordered element list.
type Snapshot struct {
	Id           string         `json:"id" gorm:"primaryKey"`
	RoomId       string         `json:"room" gorm:"index"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	CreatedBy    string         `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at" gorm:"autoCreateTime:false"`
	ElementCount int            `json:"element_count"`
	Checksum     string         `json:"checksum"`
	Data         datatypes.JSON `json:"-"`
}

// Elements decodes the captured element list.
func (s *Snapshot) Elements() ([]*Element, error) {
	elements := make([]*Element, 0, s.ElementCount)
	if len(s.Data) == 0 {
		return elements, nil
	}
	err := json.Unmarshal(s.Data, &elements)
	return elements, err
}
