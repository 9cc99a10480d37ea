package db

import (
	"database/sql"
	"maps"
)

// Journal appends events under a fixed parent event. Fields are merged into
// every payload.
type Journal struct {
	DB       *sql.DB
	ParentID *int64
	Fields   map[string]any
}

// With returns a copy of the journal with extra fields.
func (j *Journal) With(fields map[string]any) *Journal {
	if j == nil {
		return nil
	}
	merged := make(map[string]any, len(j.Fields)+len(fields))
	maps.Copy(merged, j.Fields)
	maps.Copy(merged, fields)
	return &Journal{DB: j.DB, ParentID: j.ParentID, Fields: merged}
}

// Record logs an event. Failures are ignored: the journal is diagnostic
// and never blocks message handling.
func (j *Journal) Record(eventType string, payload map[string]any) {
	if j == nil || j.DB == nil {
		return
	}
	_, _ = LogEvent(j.DB, j.ParentID, eventType, j.merge(payload))
}

// Child logs an event and returns a journal parented on it. If the event
// cannot be stored the returned journal keeps the current parent.
func (j *Journal) Child(eventType string, payload map[string]any) *Journal {
	if j == nil || j.DB == nil {
		return j
	}
	id, err := LogEvent(j.DB, j.ParentID, eventType, j.merge(payload))
	if err != nil {
		return j
	}
	return &Journal{DB: j.DB, ParentID: &id, Fields: j.Fields}
}

func (j *Journal) merge(payload map[string]any) map[string]any {
	if len(j.Fields) == 0 {
		return payload
	}
	merged := make(map[string]any, len(j.Fields)+len(payload))
	maps.Copy(merged, j.Fields)
	maps.Copy(merged, payload)
	return merged
}
