package types

import "time"

// Entity carries the timestamps shared by persisted Settle records.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity stamps both timestamps with at, normalised to UTC.
func NewEntity(at time.Time) Entity {
	at = at.UTC()
	return Entity{CreatedAt: at, UpdatedAt: at}
}

// Touch moves UpdatedAt to at.
func (e *Entity) Touch(at time.Time) {
	e.UpdatedAt = at.UTC()
}

// Age returns how long before now the entity was created.
func (e Entity) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}
