package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB is an opaque JSON document stored in a jsonb column.
type JSONB json.RawMessage

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("jsonb: cannot scan %T", value)
	}
	return nil
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// ToJSONB marshals v, returning nil on failure. Snapshots are best effort.
func ToJSONB(v interface{}) JSONB {
	if raw, ok := v.(json.RawMessage); ok {
		return JSONB(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return JSONB(b)
}
