package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vincentbai/navtrace/internal/models"
)

func setupTestStore(t *testing.T) (*Persister, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results", "url-tracking-results.json")
	return NewPersister(path, nil), path
}

func testSession(id string, locations ...string) models.Session {
	s := models.Session{
		SessionID:    id,
		SpecFile:     "nav.spec.ts",
		TestName:     "navigates",
		Framework:    models.FrameworkWebDriverIO,
		TrackingType: models.TrackingURL,
		Timestamp:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	prev := models.NullLocation
	for _, loc := range locations {
		s.Navigations = append(s.Navigations, models.NavigationEvent{
			PreviousLocation: prev,
			CurrentLocation:  loc,
			Timestamp:        s.Timestamp,
			NavigationType:   models.NavNavigation,
			SpecFile:         s.SpecFile,
			TestName:         s.TestName,
		})
		prev = loc
	}
	return s
}

func TestPersistAppendsToEmptyStore(t *testing.T) {
	p, path := setupTestStore(t)

	result, err := p.Persist(testSession("a", "https://a.com/"))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if result.Entries != 1 || result.Replaced || !result.Verified {
		t.Errorf("unexpected result: %+v", result)
	}

	sessions, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	if sessions[0].NavigationCount != 1 || sessions[0].SaveTimestamp.IsZero() {
		t.Errorf("count/save timestamp not set: %+v", sessions[0])
	}
}

func TestPersistSameSessionReplaces(t *testing.T) {
	p, path := setupTestStore(t)

	if _, err := p.Persist(testSession("same", "https://a.com/")); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	result, err := p.Persist(testSession("same", "https://a.com/", "https://a.com/b", "https://a.com/c"))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if !result.Replaced {
		t.Error("second persist should replace")
	}

	sessions, _ := ReadFile(path)
	if len(sessions) != 1 {
		t.Fatalf("Expected array length 1, got %d", len(sessions))
	}
	if sessions[0].NavigationCount != 3 || len(sessions[0].Navigations) != 3 {
		t.Errorf("store should reflect the second session, got %d navigations", sessions[0].NavigationCount)
	}
}

func TestPersistReplaceKeepsOrder(t *testing.T) {
	p, path := setupTestStore(t)
	for _, id := range []string{"one", "two", "three"} {
		if _, err := p.Persist(testSession(id, "https://a.com/"+id)); err != nil {
			t.Fatalf("Persist(%s) error = %v", id, err)
		}
	}
	if _, err := p.Persist(testSession("two", "https://a.com/two", "https://a.com/two/next")); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	sessions, _ := ReadFile(path)
	var ids []string
	for _, s := range sessions {
		ids = append(ids, s.SessionID)
	}
	if fmt.Sprint(ids) != "[one two three]" {
		t.Errorf("order = %v", ids)
	}
	if sessions[1].NavigationCount != 2 {
		t.Errorf("replaced entry count = %d", sessions[1].NavigationCount)
	}
}

func TestPersistDifferentTestSameSessionAppends(t *testing.T) {
	p, path := setupTestStore(t)
	first := testSession("shared", "https://a.com/")
	second := testSession("shared", "https://a.com/")
	second.TestName = "another test"

	p.Persist(first)
	p.Persist(second)

	sessions, _ := ReadFile(path)
	if len(sessions) != 2 {
		t.Errorf("Expected 2 sessions for distinct tests, got %d", len(sessions))
	}
}

func TestPersistHealsCorruptStore(t *testing.T) {
	p, path := setupTestStore(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Persist(testSession("fresh", "https://a.com/")); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	sessions, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "fresh" {
		t.Errorf("Expected exactly the new session, got %+v", sessions)
	}
}

func TestPersistEmptyFile(t *testing.T) {
	p, path := setupTestStore(t)
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("  \n"), 0o644)

	result, err := p.Persist(testSession("x", "https://a.com/"))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if result.Entries != 1 {
		t.Errorf("Entries = %d", result.Entries)
	}
}

func TestPersistWritesBackup(t *testing.T) {
	p, path := setupTestStore(t)
	result, err := p.Persist(testSession("abc/def", "https://a.com/"))
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if filepath.Dir(result.BackupPath) != filepath.Join(filepath.Dir(path), backupDirName) {
		t.Errorf("BackupPath = %q, want it in %s", result.BackupPath, backupDirName)
	}
	if !strings.HasPrefix(filepath.Base(result.BackupPath), "abc_def-") {
		t.Errorf("BackupPath = %q, want sanitized session id prefix", result.BackupPath)
	}
	if _, err := os.Stat(result.BackupPath); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}

func TestPersistBackupPerTest(t *testing.T) {
	p, path := setupTestStore(t)
	first := testSession("shared", "https://a.com/")
	second := testSession("shared", "https://a.com/b")
	second.TestName = "another test"

	r1, err := p.Persist(first)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	r2, err := p.Persist(second)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if r1.BackupPath == r2.BackupPath {
		t.Fatalf("tests sharing a session id share backup %s", r1.BackupPath)
	}

	entries, err := os.ReadDir(filepath.Join(filepath.Dir(path), backupDirName))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 backup files, got %d", len(entries))
	}
	data, err := os.ReadFile(r1.BackupPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "navigates") {
		t.Errorf("first backup was overwritten: %s", data)
	}
}

func TestPersistReplacesPreviousKey(t *testing.T) {
	p, path := setupTestStore(t)
	early := testSession("s1", "https://a.com/")
	early.SpecFile, early.TestName = models.Unknown, models.Unknown
	if _, err := p.Persist(testSession("other", "https://b.com/")); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if _, err := p.Persist(early); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	late := testSession("s1", "https://a.com/", "https://a.com/next")
	result, err := p.Persist(late, early.Key())
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if !result.Replaced || result.Entries != 2 {
		t.Errorf("unexpected result: %+v", result)
	}

	sessions, _ := ReadFile(path)
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[1].Key() != late.Key() || sessions[1].NavigationCount != 2 {
		t.Errorf("Expected renamed session in place, got %+v", sessions[1].Key())
	}
}

func TestPersistDropsDuplicatePreviousEntries(t *testing.T) {
	p, path := setupTestStore(t)
	early := testSession("s1", "https://a.com/")
	early.SpecFile, early.TestName = models.Unknown, models.Unknown
	late := testSession("s1", "https://a.com/", "https://a.com/next")
	p.Persist(early)
	p.Persist(late)

	if _, err := p.Persist(late, early.Key()); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	sessions, _ := ReadFile(path)
	if len(sessions) != 1 || sessions[0].Key() != late.Key() {
		t.Errorf("Expected one entry for the session, got %+v", sessions)
	}
}

func TestPersistPrimaryFailureKeepsBackup(t *testing.T) {
	dir := t.TempDir()
	// a directory where the store file should be makes the rename fail
	path := filepath.Join(dir, "store.json")
	if err := os.MkdirAll(filepath.Join(path, "occupied"), 0o755); err != nil {
		t.Fatal(err)
	}
	p := NewPersister(path, nil)

	result, err := p.Persist(testSession("keep", "https://a.com/"))
	if err == nil {
		t.Fatal("Expected primary write error")
	}
	if result.BackupPath == "" {
		t.Fatal("backup should still be written")
	}
	if _, err := os.Stat(result.BackupPath); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}

func TestConcurrentPersistersShareStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shared.json")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := NewPersister(path, nil)
			if _, err := p.Persist(testSession(fmt.Sprintf("s-%d", i), "https://a.com/")); err != nil {
				t.Errorf("Persist() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	sessions, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(sessions) != 10 {
		t.Errorf("Expected 10 sessions, got %d", len(sessions))
	}
}

func TestLoad(t *testing.T) {
	p, _ := setupTestStore(t)
	if got := p.Load(); len(got) != 0 {
		t.Errorf("Load() on missing store = %d sessions", len(got))
	}
	p.Persist(testSession("a", "https://a.com/"))
	if got := p.Load(); len(got) != 1 {
		t.Errorf("Load() = %d sessions", len(got))
	}
}
