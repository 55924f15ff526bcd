package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tracekit/pagetransit/internal/models"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// Database persists emitted Transition Records.
type Database struct {
	db *sql.DB
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS transitions(
	  id                  INTEGER PRIMARY KEY,
	  page_id             TEXT    NOT NULL,
	  url                 TEXT    NOT NULL,
	  referrer            TEXT    NOT NULL DEFAULT '',
	  tab_id              INTEGER NOT NULL,
	  is_history_change   INTEGER NOT NULL CHECK (is_history_change IN (0,1)),
	  is_opened_tab       INTEGER NOT NULL CHECK (is_opened_tab IN (0,1)),
	  opener_tab_id       INTEGER NOT NULL DEFAULT 0,
	  transition_type     TEXT    NOT NULL,
	  qualifiers_json     TEXT    NOT NULL CHECK (json_valid(qualifiers_json)),
	  tab_source_page_id  TEXT    NOT NULL DEFAULT '',
	  tab_source_url      TEXT    NOT NULL DEFAULT '',
	  tab_source_click    INTEGER NOT NULL CHECK (tab_source_click IN (0,1)),
	  time_source_page_id TEXT    NOT NULL DEFAULT '',
	  time_source_url     TEXT    NOT NULL DEFAULT '',
	  private_window      INTEGER NOT NULL CHECK (private_window IN (0,1)),
	  time_stamp          INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_ts   ON transitions(time_stamp);
	CREATE INDEX IF NOT EXISTS idx_transitions_url  ON transitions(url);
	CREATE INDEX IF NOT EXISTS idx_transitions_tab  ON transitions(tab_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) ValidateRecord(rec models.TransitionRecord) error {
	if rec.PageID == "" {
		return fmt.Errorf("page id cannot be empty")
	}
	if rec.URL == "" {
		return fmt.Errorf("URL cannot be empty")
	}
	if rec.TimeStamp <= 0 {
		return fmt.Errorf("timestamp must be positive")
	}
	return nil
}

func (d *Database) InsertTransitions(records []models.TransitionRecord) error {
	transaction, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.Prepare(`INSERT INTO transitions(
		page_id, url, referrer, tab_id, is_history_change, is_opened_tab,
		opener_tab_id, transition_type, qualifiers_json, tab_source_page_id,
		tab_source_url, tab_source_click, time_source_page_id, time_source_url,
		private_window, time_stamp) VALUES(?,?,?,?,?,?,?,?,json(?),?,?,?,?,?,?,?)`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for _, rec := range records {
		if err := d.ValidateRecord(rec); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("invalid transition: %w", err)
		}

		qualifiers := rec.TransitionQualifiers
		if qualifiers == nil {
			qualifiers = []string{}
		}
		qualifiersJSON, err := json.Marshal(qualifiers)
		if err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to marshal qualifiers: %w", err)
		}
		if _, err := statement.Exec(
			rec.PageID, rec.URL, rec.Referrer, rec.TabID,
			boolToInt(rec.IsHistoryChange), boolToInt(rec.IsOpenedTab),
			rec.OpenerTabID, rec.TransitionType, string(qualifiersJSON),
			rec.TabSourcePageID, rec.TabSourceURL, boolToInt(rec.TabSourceClick),
			rec.TimeSourcePageID, rec.TimeSourceURL,
			boolToInt(rec.PrivateWindow), rec.TimeStamp,
		); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecentTransitions returns up to limit records, newest first.
func (d *Database) RecentTransitions(limit int) ([]models.TransitionRecord, error) {
	rows, err := d.db.Query(`SELECT
		page_id, url, referrer, tab_id, is_history_change, is_opened_tab,
		opener_tab_id, transition_type, qualifiers_json, tab_source_page_id,
		tab_source_url, tab_source_click, time_source_page_id, time_source_url,
		private_window, time_stamp
		FROM transitions ORDER BY time_stamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var records []models.TransitionRecord
	for rows.Next() {
		var rec models.TransitionRecord
		var history, opened, clicked, private int
		var qualifiersJSON string
		if err := rows.Scan(
			&rec.PageID, &rec.URL, &rec.Referrer, &rec.TabID,
			&history, &opened, &rec.OpenerTabID, &rec.TransitionType,
			&qualifiersJSON, &rec.TabSourcePageID, &rec.TabSourceURL,
			&clicked, &rec.TimeSourcePageID, &rec.TimeSourceURL,
			&private, &rec.TimeStamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		rec.IsHistoryChange = history == 1
		rec.IsOpenedTab = opened == 1
		rec.TabSourceClick = clicked == 1
		rec.PrivateWindow = private == 1
		if err := json.Unmarshal([]byte(qualifiersJSON), &rec.TransitionQualifiers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal qualifiers: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transitions: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
