package models

import "time"

// DiagnosticPayload is the health snapshot delivered to the central service
// by the diagnostic command and included in backups.
type DiagnosticPayload struct {
	ClientID     string         `json:"clientId"`
	Online       bool           `json:"online"`
	Realtime     bool           `json:"realtime"`
	PendingOps   int            `json:"pendingOps"`
	DeadOps      int            `json:"deadOps"`
	EntityCounts map[string]int `json:"entityCounts"`
	LastSyncAt   time.Time      `json:"lastSyncAt"`
	RecentErrors []string       `json:"recentErrors"`
	Goroutines   int            `json:"goroutines"`
	HeapBytes    uint64         `json:"heapBytes"`
	CollectedAt  time.Time      `json:"collectedAt"`
}

// BackupPayload is the full snapshot of the local entity tables plus engine
// diagnostics, delivered by the backup command.
type BackupPayload struct {
	ClientID    string                         `json:"clientId"`
	CreatedAt   time.Time                      `json:"createdAt"`
	Tables      map[string][]map[string]string `json:"tables"`
	Diagnostics DiagnosticPayload              `json:"diagnostics"`
}
