package events

import (
	"encoding/json"
	"time"
)

// Event types published to dashboard subscribers.
const (
	LeadCreated     = "lead_created"
	LeadUpdated     = "lead_updated"
	ImportCompleted = "import_completed"
	Saved           = "saved"
	BackupCompleted = "backup_completed"
	// LeadChange carries one tracked field change; replayed on reconnect.
	LeadChange = "lead_change"
)

type Event struct {
	Type      string          `json:"type"`
	Version   int             `json:"v"`
	At        time.Time       `json:"at"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MakeEvent renders one SSE payload. Data that cannot be marshalled is dropped.
func MakeEvent(reqID, typ string, data any) string {
	var raw json.RawMessage
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			raw = b
		}
	}
	b, _ := json.Marshal(Event{
		Type:      typ,
		Version:   1,
		At:        time.Now().UTC(),
		RequestID: reqID,
		Data:      raw,
	})
	return string(b)
}
