package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONStringMap is a string map stored as one JSON column (room tags). It implements driver.Valuer and sql.Scanner.
type JSONStringMap map[string]string

// Value stores the map as a JSON document, a nil map as NULL.
func (m JSONStringMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	doc, err := json.Marshal(map[string]string(m))
	return string(doc), err
}

// Scan reads a JSON column back into the map, a NULL column yields an empty map.
func (m *JSONStringMap) Scan(val interface{}) error {
	var doc []byte
	switch v := val.(type) {
	case nil:
		*m = make(JSONStringMap)
		return nil
	case []byte:
		doc = v
	case string:
		doc = []byte(v)
	default:
		return fmt.Errorf("could not scan %T into a string map", val)
	}
	tags := make(map[string]string)
	if err := json.Unmarshal(doc, &tags); err != nil {
		return err
	}
	*m = tags
	return nil
}

// MarshalJSON encodes a nil map as null.
func (m JSONStringMap) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]string(m))
}

// UnmarshalJSON accepts null as an empty map.
func (m *JSONStringMap) UnmarshalJSON(b []byte) error {
	tags := make(map[string]string)
	if string(b) != "null" {
		if err := json.Unmarshal(b, &tags); err != nil {
			return err
		}
	}
	*m = tags
	return nil
}

// GormDataType names the column type for gorm's schema parser.
func (JSONStringMap) GormDataType() string {
	return "json"
}

// GormDBDataType picks the JSON column type of the dialect, plain text where there is none.
func (JSONStringMap) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return "TEXT"
}