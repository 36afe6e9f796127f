package state

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestMemoryTracker_Claim(t *testing.T) {
	tracker := NewMemoryTracker()

	if !tracker.Claim("h1") {
		t.Fatal("first Claim(h1) = false")
	}
	if tracker.Claim("h1") {
		t.Error("second Claim(h1) = true, want false while claimed")
	}
	if err := tracker.MarkProcessed("h1", "/mail/a.eml"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if tracker.Claim("h1") {
		t.Error("Claim(h1) = true after MarkProcessed")
	}
	if !tracker.AlreadyProcessed("h1") {
		t.Error("AlreadyProcessed(h1) = false")
	}
	if !tracker.Claim("") {
		t.Error("Claim(\"\") = false, empty hashes are never tracked")
	}

	if got := tracker.Snapshot(); got.Processed != 1 || got.Claimed != 0 {
		t.Errorf("Snapshot() = %+v", got)
	}
}

func TestMemoryTracker_ClaimConcurrent(t *testing.T) {
	tracker := NewMemoryTracker()

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Claim("same") {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if won != 1 {
		t.Errorf("%d workers claimed the same hash, want 1", won)
	}
}

func TestFileTracker_PersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileTracker(dir, true)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}
	if err := first.MarkProcessed("h1", "/mail/a.eml"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if err := first.MarkProcessed("h1", "/mail/copy-of-a.eml"); err != nil {
		t.Fatalf("MarkProcessed(dup) error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "processed.jsonl"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 1 {
		t.Errorf("state file has %d lines, want 1:\n%s", got, data)
	}

	second, err := NewFileTracker(dir, false)
	if err != nil {
		t.Fatalf("NewFileTracker(reload) error = %v", err)
	}
	defer second.Close()
	if !second.AlreadyProcessed("h1") {
		t.Error("reloaded tracker lost h1")
	}
	if second.Claim("h1") {
		t.Error("reloaded tracker let h1 be claimed")
	}
}

func TestFileTracker_NoPersist(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewFileTracker(dir, false)
	if err != nil {
		t.Fatalf("NewFileTracker() error = %v", err)
	}
	if err := tracker.MarkProcessed("h1", "/mail/a.eml"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "processed.jsonl")); !os.IsNotExist(err) {
		t.Errorf("state file written without persist: %v", err)
	}
}

func TestFileTracker_CorruptLine(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "processed.jsonl"), []byte("{\"hash\":\"h1\"}\nnot json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileTracker(dir, false); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("NewFileTracker() error = %v, want line 2 parse error", err)
	}
}

func TestNew(t *testing.T) {
	tracker, err := New("", true)
	if err != nil {
		t.Fatalf("New(\"\") error = %v", err)
	}
	if _, ok := tracker.(*MemoryTracker); !ok {
		t.Errorf("New(\"\") = %T, want *MemoryTracker", tracker)
	}

	tracker, err = New(t.TempDir(), true)
	if err != nil {
		t.Fatalf("New(dir) error = %v", err)
	}
	defer tracker.Close()
	if _, ok := tracker.(*FileTracker); !ok {
		t.Errorf("New(dir) = %T, want *FileTracker", tracker)
	}
}
