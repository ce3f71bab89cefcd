package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON is a lightweight replacement for gorm.io/datatypes.JSON that avoids an
// external dependency while still satisfying sql.Scanner and driver.Valuer.
// Used for opaque pre-key bundles uploaded at registration.
type JSON []byte

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("store.JSON: invalid JSON value")
	}
	return append([]byte(nil), j...), nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("store.JSON: invalid JSON payload")
	}
	*j = append((*j)[:0], data...)
	return nil
}

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("store.JSON: invalid JSON value")
	}
	return append([]byte(nil), j...), nil
}

// Scan implements sql.Scanner.
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if !json.Valid(v) {
			return fmt.Errorf("store.JSON: invalid JSON payload")
		}
		*j = append((*j)[:0], v...)
	case string:
		if !json.Valid([]byte(v)) {
			return fmt.Errorf("store.JSON: invalid JSON payload")
		}
		*j = append((*j)[:0], v...)
	default:
		return fmt.Errorf("store.JSON: unsupported scan type %T", value)
	}
	return nil
}
