package domain

import "time"

// ChangeEvent is an immutable record of one field-level mutation.
type ChangeEvent struct {
	Seq      int64     `json:"seq"`
	LeadID   string    `json:"lead_id"`
	Field    Field     `json:"field"`
	OldValue *string   `json:"old_value"`
	NewValue *string   `json:"new_value"`
	At       time.Time `json:"at"`
}
