package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vincentbai/navtrace/internal/models"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// Database is a queryable index of persisted sessions. The JSON store stays
// the source of truth; the index is rebuilt per session on every upsert.
type Database struct {
	db                   *sql.DB
	validNavigationTypes map[models.NavigationType]bool
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked" with parallel workers
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	valid := make(map[models.NavigationType]bool)
	for _, t := range models.NavigationTypes() {
		valid[t] = true
	}
	return &Database{db: db, validNavigationTypes: valid}, nil
}

func createTables(db *sql.DB) error {
	types := make([]string, 0, len(models.NavigationTypes()))
	for _, t := range models.NavigationTypes() {
		types = append(types, "'"+string(t)+"'")
	}
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions(
	  id               INTEGER PRIMARY KEY,
	  session_id       TEXT    NOT NULL,
	  spec_file        TEXT    NOT NULL,
	  test_name        TEXT    NOT NULL,
	  framework        TEXT,
	  tracking_type    TEXT    NOT NULL,
	  started_utc      INTEGER NOT NULL,
	  saved_utc        INTEGER NOT NULL,
	  navigation_count INTEGER NOT NULL,
	  UNIQUE(spec_file, test_name, session_id)
	);
	CREATE TABLE IF NOT EXISTS navigations(
	  id                INTEGER PRIMARY KEY,
	  session_ref       INTEGER NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	  seq               INTEGER NOT NULL,
	  ts_utc            INTEGER NOT NULL,
	  ts_iso            TEXT    NOT NULL,
	  previous_location TEXT    NOT NULL,
	  current_location  TEXT    NOT NULL,
	  navigation_type   TEXT    NOT NULL CHECK (navigation_type IN (` + strings.Join(types, ",") + `)),
	  spec_file         TEXT    NOT NULL,
	  test_name         TEXT    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_navigations_session ON navigations(session_ref, seq);
	CREATE INDEX IF NOT EXISTS idx_navigations_type    ON navigations(navigation_type);
	CREATE INDEX IF NOT EXISTS idx_navigations_current ON navigations(current_location);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) ValidateNavigation(event models.NavigationEvent) error {
	if event.CurrentLocation == "" || event.CurrentLocation == models.NullLocation {
		return fmt.Errorf("current location cannot be empty")
	}
	if event.PreviousLocation == "" {
		return fmt.Errorf("previous location cannot be empty")
	}
	if event.NavigationType == "" {
		return fmt.Errorf("navigation type cannot be empty")
	}
	if !d.validNavigationTypes[event.NavigationType] {
		return fmt.Errorf("invalid navigation type: %s", event.NavigationType)
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("timestamp must be set")
	}
	return nil
}

// UpsertSession stores the session, replacing any earlier copy with the same
// (spec_file, test_name, session_id). Copies indexed under a previous key
// are removed. Invalid navigations roll back the whole session.
func (d *Database) UpsertSession(session models.Session, previous ...models.SessionKey) error {
	transaction, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, key := range previous {
		if key == session.Key() {
			continue
		}
		if _, err := transaction.Exec(`DELETE FROM navigations WHERE session_ref IN (SELECT id FROM sessions WHERE spec_file = ? AND test_name = ? AND session_id = ?)`,
			key.SpecFile, key.TestName, key.SessionID); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to clear previous navigations: %w", err)
		}
		if _, err := transaction.Exec(`DELETE FROM sessions WHERE spec_file = ? AND test_name = ? AND session_id = ?`,
			key.SpecFile, key.TestName, key.SessionID); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to remove previous session: %w", err)
		}
	}

	if _, err := transaction.Exec(`DELETE FROM navigations WHERE session_ref IN (SELECT id FROM sessions WHERE spec_file = ? AND test_name = ? AND session_id = ?)`,
		session.SpecFile, session.TestName, session.SessionID); err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to clear navigations: %w", err)
	}

	saved := session.SaveTimestamp
	if saved.IsZero() {
		saved = time.Now()
	}
	var sessionRef int64
	err = transaction.QueryRow(`
	INSERT INTO sessions(session_id, spec_file, test_name, framework, tracking_type, started_utc, saved_utc, navigation_count)
	VALUES(?,?,?,?,?,?,?,?)
	ON CONFLICT(spec_file, test_name, session_id) DO UPDATE SET
	  framework = excluded.framework,
	  tracking_type = excluded.tracking_type,
	  started_utc = excluded.started_utc,
	  saved_utc = excluded.saved_utc,
	  navigation_count = excluded.navigation_count
	RETURNING id`,
		session.SessionID, session.SpecFile, session.TestName, string(session.Framework),
		string(session.ResolvedTrackingType()), session.Timestamp.UnixMilli(), saved.UnixMilli(),
		len(session.Navigations)).Scan(&sessionRef)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to upsert session: %w", err)
	}

	statement, err := transaction.Prepare(`INSERT INTO navigations(session_ref, seq, ts_utc, ts_iso, previous_location, current_location, navigation_type, spec_file, test_name) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for i, event := range session.Navigations {
		if err := d.ValidateNavigation(event); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("invalid navigation: %w", err)
		}
		if _, err := statement.Exec(sessionRef, i, event.Timestamp.UnixMilli(), models.FormatTimestamp(event.Timestamp),
			event.PreviousLocation, event.CurrentLocation, string(event.NavigationType), event.SpecFile, event.TestName); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Sessions returns every stored session with its navigations, in insertion
// order.
func (d *Database) Sessions() ([]models.Session, error) {
	rows, err := d.db.Query(`SELECT id, session_id, spec_file, test_name, COALESCE(framework, ''), tracking_type, started_utc, saved_utc, navigation_count FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	var refs []int64
	for rows.Next() {
		var (
			ref                 int64
			s                   models.Session
			framework, tracking string
			startedMS, savedMS  int64
		)
		if err := rows.Scan(&ref, &s.SessionID, &s.SpecFile, &s.TestName, &framework, &tracking, &startedMS, &savedMS, &s.NavigationCount); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Framework = models.Framework(framework)
		s.TrackingType = models.TrackingType(tracking)
		s.Timestamp = time.UnixMilli(startedMS).UTC()
		s.SaveTimestamp = time.UnixMilli(savedMS).UTC()
		sessions = append(sessions, s)
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	for i, ref := range refs {
		navs, err := d.navigations(ref)
		if err != nil {
			return nil, err
		}
		sessions[i].Navigations = navs
	}
	return sessions, nil
}

func (d *Database) navigations(sessionRef int64) ([]models.NavigationEvent, error) {
	rows, err := d.db.Query(`SELECT ts_utc, previous_location, current_location, navigation_type, spec_file, test_name FROM navigations WHERE session_ref = ? ORDER BY seq`, sessionRef)
	if err != nil {
		return nil, fmt.Errorf("failed to query navigations: %w", err)
	}
	defer rows.Close()

	var navs []models.NavigationEvent
	for rows.Next() {
		var (
			e       models.NavigationEvent
			tsMS    int64
			navType string
		)
		if err := rows.Scan(&tsMS, &e.PreviousLocation, &e.CurrentLocation, &navType, &e.SpecFile, &e.TestName); err != nil {
			return nil, fmt.Errorf("failed to scan navigation: %w", err)
		}
		e.Timestamp = time.UnixMilli(tsMS).UTC()
		e.NavigationType = models.NavigationType(navType)
		navs = append(navs, e)
	}
	return navs, rows.Err()
}
