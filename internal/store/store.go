// Package store merges sessions into the shared JSON array file that every
// test process of a run writes to.
//
// Each Persist call is a read-modify-write-verify cycle under an advisory
// lock on "<path>.lock". The lock serialises cooperating navtrace processes;
// writers that ignore it can still clobber entries.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/vincentbai/navtrace/internal/logging"
	"github.com/vincentbai/navtrace/internal/models"
)

const backupDirName = ".navtrace-backup"

// Result describes what a Persist call did.
type Result struct {
	Path       string
	Entries    int
	Replaced   bool
	Verified   bool
	BackupPath string
}

type Persister struct {
	path      string
	backupDir string
	mu        sync.Mutex
	logger    *slog.Logger
	now       func() time.Time
}

// NewPersister writes to path; backups go to a hidden directory next to it.
func NewPersister(path string, logger *slog.Logger) *Persister {
	return &Persister{
		path:      path,
		backupDir: filepath.Join(filepath.Dir(path), backupDirName),
		logger:    logging.Component(logger, "store").With(slog.String("path", path)),
		now:       time.Now,
	}
}

func (p *Persister) Path() string { return p.path }

// Persist merges session into the store. An entry with the same
// (spec_file, test_name, session_id) is replaced in place, otherwise the
// session is appended. Entries stored under one of the previous keys are
// the same session saved before its metadata or id changed: the first is
// replaced and the rest are dropped. The session is also written alone to
// the backup directory, which is the only copy left if the primary write
// fails.
func (p *Persister) Persist(session models.Session, previous ...models.SessionKey) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	session = session.Clone()
	session.NavigationCount = len(session.Navigations)
	session.SaveTimestamp = p.now().UTC()

	result := Result{Path: p.path}
	if backup, err := p.writeBackup(session); err != nil {
		p.logger.Warn("backup write failed", slog.Any("error", err))
	} else {
		result.BackupPath = backup
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return result, fmt.Errorf("failed to create store directory: %w", err)
	}

	unlock, err := p.lock()
	if err != nil {
		return result, err
	}
	defer unlock()

	key := session.Key()
	matches := func(k models.SessionKey) bool {
		if k == key {
			return true
		}
		for _, prev := range previous {
			if k == prev {
				return true
			}
		}
		return false
	}
	stored := p.readLocked()
	sessions := stored[:0]
	for _, s := range stored {
		if !matches(s.Key()) {
			sessions = append(sessions, s)
			continue
		}
		if !result.Replaced {
			sessions = append(sessions, session)
			result.Replaced = true
		}
	}
	if !result.Replaced {
		sessions = append(sessions, session)
	}
	result.Entries = len(sessions)

	if err := writeJSONAtomic(p.path, sessions); err != nil {
		return result, fmt.Errorf("failed to write store: %w", err)
	}

	if err := p.verifyLocked(key, session.NavigationCount); err != nil {
		p.logger.Error("store verification failed", slog.String("session_id", session.SessionID), slog.Any("error", err))
	} else {
		result.Verified = true
	}

	p.logger.Debug("session persisted",
		slog.String("session_id", session.SessionID),
		slog.Int("navigations", session.NavigationCount),
		slog.Bool("replaced", result.Replaced))
	return result, nil
}

// Load reads every session in the store. Missing, empty or corrupt files
// read as an empty store.
func (p *Persister) Load() []models.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readLocked()
}

func (p *Persister) readLocked() []models.Session {
	sessions, err := ReadFile(p.path)
	if err != nil {
		p.logger.Warn("store unreadable, starting empty", slog.Any("error", err))
		return nil
	}
	return sessions
}

// ReadFile decodes a store file. A missing or blank file is an empty store
// and not an error.
func ReadFile(path string) ([]models.Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var sessions []models.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("failed to parse store: %w", err)
	}
	return sessions, nil
}

func (p *Persister) verifyLocked(key models.SessionKey, count int) error {
	sessions, err := ReadFile(p.path)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.Key() == key {
			if len(s.Navigations) != count {
				return fmt.Errorf("expected %d navigations, found %d", count, len(s.Navigations))
			}
			return nil
		}
	}
	return fmt.Errorf("session %s missing after write", key.SessionID)
}

func (p *Persister) lock() (func(), error) {
	f, err := os.OpenFile(p.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock store: %w", err)
	}
	return func() {
		if err := unlockFile(f); err != nil {
			p.logger.Warn("unlock failed", slog.Any("error", err))
		}
		f.Close()
	}, nil
}

func (p *Persister) writeBackup(session models.Session) (string, error) {
	if err := os.MkdirAll(p.backupDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(p.backupDir, backupFileName(session.Key()))
	if err := writeJSONAtomic(path, session); err != nil {
		return "", err
	}
	return path, nil
}

// backupFileName is the readable session id followed by a hash of the whole
// key, so tests sharing a driver session get separate files.
func backupFileName(key models.SessionKey) string {
	sessionID := key.SessionID
	if sessionID == "" {
		sessionID = models.Unknown
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, sessionID)
	sum := xxhash.Sum64String(key.SpecFile + "\x00" + key.TestName + "\x00" + key.SessionID)
	return fmt.Sprintf("%s-%016x.json", safe, sum)
}

// writeJSONAtomic writes pretty JSON to a temp file in the target directory
// and renames it over path.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
