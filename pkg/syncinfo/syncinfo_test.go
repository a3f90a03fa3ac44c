package syncinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSyncManagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lastsync")

	sm, err := NewSyncManager(path)
	if err != nil {
		t.Fatal(err)
	}

	testSyncInfo := SyncInfo{LastSync: time.Now().UTC()}

	if err := sm.UpdateAndSaveSyncInfo(testSyncInfo); err != nil {
		t.Fatalf("Failed to update and save sync info: %v", err)
	}

	loaded, err := sm.LoadSyncInfoFromFile()
	if err != nil {
		t.Fatalf("Failed to load sync info from file: %v", err)
	}

	if !loaded.Equal(testSyncInfo.LastSync) {
		t.Errorf("Loaded sync info does not match. Expected: %v, Got: %v", testSyncInfo.LastSync, loaded)
	}

	fileContent, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file content: %v", err)
	}
	if _, err := time.Parse(time.RFC3339Nano, string(fileContent)); err != nil {
		t.Fatalf("Failed to parse file content as time: %v", err)
	}
}

func TestSyncManagerMonotonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lastsync")

	sm, err := NewSyncManager(path)
	if err != nil {
		t.Fatal(err)
	}

	newer := time.Now().UTC()
	older := newer.Add(-time.Hour)

	sm.UpdateSyncInfo(SyncInfo{LastSync: newer})
	sm.UpdateSyncInfo(SyncInfo{LastSync: older})

	if got := sm.GetSyncInfo().LastSync; !got.Equal(newer) {
		t.Errorf("watermark moved backwards: got %v, want %v", got, newer)
	}
}

func TestLoadAndUpdateFromEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lastsync")

	sm, err := NewSyncManager(path)
	if err != nil {
		t.Fatal(err)
	}

	got, err := sm.LoadAndUpdateLastSyncFromFile()
	if err != nil {
		t.Fatalf("unexpected error on empty file: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("expected zero time from empty file, got %v", got)
	}
}
