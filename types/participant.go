package types

import "time"

const DefaultCursorColor = "#000000"

// Participant is the presence record of one identity in one room. The row is created on the first join and is never
// deleted, a disconnect only clears IsActive.
type Participant struct {
	RoomId       string    `json:"room" gorm:"primaryKey"`
	UserId       string    `json:"user_id" gorm:"primaryKey"`
	Nick         string    `json:"nick"`
	IsActive     bool      `json:"is_active" gorm:"index"`
	CursorX      float64   `json:"cursor_x"`
	CursorY      float64   `json:"cursor_y"`
	CursorColor  string    `json:"cursor_color"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActivity time.Time `json:"last_activity"`
	Version      int64     `json:"version"`
}
