// Package syncinfo persists the pull watermark: the timestamp boundary below
// which all remote operations are assumed already incorporated locally.
package syncinfo

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// SyncInfo represents data about the last successful pull.
type SyncInfo struct {
	LastSync time.Time
}

// SyncManager manages access to and updates of the watermark. The watermark
// is monotonically non-decreasing; attempts to move it backwards are ignored.
type SyncManager struct {
	fileMutex sync.Mutex
	mu        sync.RWMutex
	syncData  SyncInfo
	filename  string
}

// NewSyncManager creates a new SyncManager and initializes the file the
// watermark is stored in.
func NewSyncManager(fileName string) (*SyncManager, error) {
	file, err := os.OpenFile(fileName, os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("init watermark file: %w", err)
	}
	file.Close()

	return &SyncManager{filename: fileName}, nil
}

// UpdateSyncInfo advances the in-memory watermark. A timestamp older than
// the current one is a no-op.
func (sm *SyncManager) UpdateSyncInfo(info SyncInfo) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if info.LastSync.After(sm.syncData.LastSync) {
		sm.syncData = info
	}
}

// GetSyncInfo returns the current watermark.
func (sm *SyncManager) GetSyncInfo() SyncInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.syncData
}

// SaveSyncInfoToFile writes the watermark to its file.
func (sm *SyncManager) SaveSyncInfoToFile() error {
	sm.fileMutex.Lock()
	defer sm.fileMutex.Unlock()

	syncInfo := sm.GetSyncInfo()
	lastSyncStr := syncInfo.LastSync.Format(time.RFC3339Nano)

	return os.WriteFile(sm.filename, []byte(lastSyncStr), 0644)
}

// LoadSyncInfoFromFile reads the watermark from its file without touching
// the in-memory value.
func (sm *SyncManager) LoadSyncInfoFromFile() (time.Time, error) {
	sm.fileMutex.Lock()
	defer sm.fileMutex.Unlock()

	fileContent, err := os.ReadFile(sm.filename)
	if err != nil {
		return time.Time{}, err
	}

	lastSync, err := time.Parse(time.RFC3339Nano, string(fileContent))
	if err != nil {
		return time.Time{}, err
	}

	return lastSync, nil
}

// UpdateAndSaveSyncInfo advances and persists the watermark.
func (sm *SyncManager) UpdateAndSaveSyncInfo(info SyncInfo) error {
	sm.UpdateSyncInfo(info)
	return sm.SaveSyncInfoToFile()
}

// LoadAndUpdateLastSyncFromFile loads the last pull time from the file,
// updates the in-memory watermark, and returns it. On a fresh (empty) file
// it returns the zero time without error.
func (sm *SyncManager) LoadAndUpdateLastSyncFromFile() (time.Time, error) {
	sm.fileMutex.Lock()
	fileContent, err := os.ReadFile(sm.filename)
	sm.fileMutex.Unlock()

	if err != nil {
		return time.Time{}, err
	}
	if len(fileContent) == 0 {
		return time.Time{}, nil
	}

	lastSync, err := time.Parse(time.RFC3339Nano, string(fileContent))
	if err != nil {
		return time.Time{}, err
	}

	sm.UpdateSyncInfo(SyncInfo{LastSync: lastSync})

	return lastSync, nil
}
