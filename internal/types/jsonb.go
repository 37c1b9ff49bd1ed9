package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure EntryPayload implements both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on the pointer receiver; Value is on the value receiver.
var (
	_ sql.Scanner   = (*EntryPayload)(nil)
	_ driver.Valuer = EntryPayload(nil)
)

// EntryPayload is the type-specific JSONB payload attached to a schedule
// entry (lead minutes, target status, recipient reference). It is stored as
// an open map so unknown keys written by newer CRUD versions survive
// round-trips unchanged.
type EntryPayload map[string]any

// scanJSONB scans a JSONB database value into a Go pointer. It handles nil
// values, []byte, and string representations from different database drivers.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
// A NULL column yields an empty (nil) payload rather than an error.
func (p *EntryPayload) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	return scanJSONB(p, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
// A nil payload is written as an empty JSON object so the NOT NULL DEFAULT '{}'
// column constraint holds for rows written through Go.
func (p EntryPayload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}
