package sqlitestore

import "fmt"

type migration struct {
	name string
	sql  string
}

// Migrations run in order; applied names are tracked in _migrations.
var migrations = []migration{
	{
		name: "001_mailbox_items",
		sql: `
			CREATE TABLE IF NOT EXISTS mailbox_items (
				id        INTEGER PRIMARY KEY,
				folder_id INTEGER NOT NULL,
				uid       TEXT NOT NULL,
				type      INTEGER NOT NULL,
				metadata  BLOB NOT NULL,
				in_trash  INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_mailbox_items_uid ON mailbox_items(uid);
		`,
	},
	{
		name: "002_calendar_items",
		sql: `
			CREATE TABLE IF NOT EXISTS calendar_items (
				item_id   INTEGER PRIMARY KEY REFERENCES mailbox_items(id),
				uid       TEXT NOT NULL,
				folder_id INTEGER NOT NULL,
				start_ms  INTEGER NOT NULL,
				end_ms    INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_calendar_items_range ON calendar_items(start_ms, end_ms);
		`,
	},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS _migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.Query(`SELECT name FROM _migrations`)
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO _migrations (name) VALUES (?)`, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", m.name, err)
		}
	}
	return nil
}
