package dbutils

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Int is a nullable int64 that scans NULL as 0
type Int int64

// Scan implements the sql.Scanner interface
func (i *Int) Scan(value interface{}) error {
	if value == nil {
		*i = 0
		return nil
	}
	switch v := value.(type) {
	case int64:
		*i = Int(v)
	case []byte:
		var parsed int64
		if _, err := fmt.Sscanf(string(v), "%d", &parsed); err != nil {
			return err
		}
		*i = Int(parsed)
	default:
		return fmt.Errorf("unsupported Scan type for dbutils.Int: %T", value)
	}
	return nil
}

// Value implements the driver.Valuer interface
func (i Int) Value() (driver.Value, error) {
	if i == 0 {
		return nil, nil
	}
	return int64(i), nil
}

// JSON is raw JSON as stored in JSONB columns
type JSON []byte

// Scan implements the sql.Scanner interface
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		switch value.(type) {
		case string:
			b = []byte(value.(string))
		default:
			return errors.New(fmt.Sprintf("type assertion to []byte failed type: %T", value))
		}
	}
	*j = append((*j)[0:0], b...)
	return nil
}

// Value implements the driver.Valuer interface
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// MarshalJSON returns j as the JSON encoding of j
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON sets *j to a copy of data
func (j *JSON) UnmarshalJSON(data []byte) error {
	if j == nil {
		return errors.New("dbutils.JSON: UnmarshalJSON on nil pointer")
	}
	*j = append((*j)[0:0], data...)
	return nil
}

// Map is a map with string keys and values stored as JSONB
type Map map[string]string

// Map returns the underlying map, allocating it when nil
func (m *Map) Map() map[string]string {
	if *m == nil {
		*m = make(map[string]string)
	}
	return *m
}

// Scan implements the sql.Scanner interface
func (m *Map) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(b, m)
}

// Value implements the driver.Valuer interface
func (m Map) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// MapAnything is a map of string to anything, stored as JSONB
type MapAnything map[string]interface{}

// Scan implements the sql.Scanner interface. Scanning a non-[]byte value
// round-trips it through JSON, which lets callers convert structs to
// MapAnything with a bare Scan call.
func (m *MapAnything) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		marshalled, err := json.Marshal(value)
		if err != nil {
			return err
		}
		b = marshalled
	}
	return json.Unmarshal(b, m)
}

// Value implements the driver.Valuer interface
func (m MapAnything) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
