// Package models holds the bun-mapped row types persisted by the storage
// layer, kept separate from the domain types in pkg/ so a schema change
// here never ripples into the execution core.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONBMap is a custom type for jsonb columns.
type JSONBMap map[string]any

func (j JSONBMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (j *JSONBMap) Scan(value any) error {
	if value == nil {
		*j = make(JSONBMap)
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return errors.New("models: JSONBMap.Scan: value is not []byte or string")
		}
	}
	if len(b) == 0 {
		*j = make(JSONBMap)
		return nil
	}
	return json.Unmarshal(b, j)
}
