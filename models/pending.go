package models

import (
	"encoding/json"
	"time"
)

// PendingAction is one queued mutation awaiting replay against the store.
type PendingAction struct {
	QueuedAt time.Time       `json:"queued_at"`
	Id       string          `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

type QueueActionRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type SyncResult struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
	Dead    bool   `json:"dead,omitempty"`
	Error   string `json:"error,omitempty"`
}

type SyncStatusEntry struct {
	Id       string `json:"id"`
	Type     string `json:"type"`
	Attempts int    `json:"attempts"`
	Queued   string `json:"queued"`
}

type SyncStatus struct {
	Online  bool              `json:"online"`
	Pending []SyncStatusEntry `json:"pending"`
	Dead    int64             `json:"dead"`
}
