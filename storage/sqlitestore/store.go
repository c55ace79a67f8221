// Package sqlitestore persists calendar item metadata in SQLite. Items live
// as JSON metadata rows in mailbox_items; calendar_items is the denormalized
// index the calendar views query by time range.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/inboxd/calengine/calendar"
)

// Store implements calendar.MetadataStore on a SQLite database.
type Store struct {
	db *sql.DB
}

var _ calendar.MetadataStore = (*Store)(nil)

// Open connects to the database at dsn and applies pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	// WAL mode allows concurrent reads alongside the single writer.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Persist writes the item's metadata row, inserting or replacing.
func (s *Store) Persist(ctx context.Context, meta *calendar.ItemMetadata) error {
	data, err := calendar.EncodeMetadata(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mailbox_items (id, folder_id, uid, type, metadata, in_trash)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			folder_id = excluded.folder_id,
			uid = excluded.uid,
			type = excluded.type,
			metadata = excluded.metadata
	`, meta.ID, meta.FolderID, meta.UID, meta.Type, data)
	if err != nil {
		return fmt.Errorf("persisting item %d: %w", meta.ID, err)
	}
	return nil
}

// Load reads one item's metadata row.
func (s *Store) Load(ctx context.Context, itemID int) (*calendar.ItemMetadata, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata FROM mailbox_items WHERE id = ?`, itemID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying item %d: %w", itemID, err)
	}
	return calendar.DecodeMetadata(data)
}

// LoadByUID finds the item carrying the given iCalendar UID.
func (s *Store) LoadByUID(ctx context.Context, uid string) (*calendar.ItemMetadata, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT metadata FROM mailbox_items WHERE uid = ? AND in_trash = 0`, uid).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying uid %q: %w", uid, err)
	}
	return calendar.DecodeMetadata(data)
}

// PersistInCalendarTable inserts the item's time-range index row.
func (s *Store) PersistInCalendarTable(ctx context.Context, item *calendar.CalendarItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendar_items (item_id, uid, folder_id, start_ms, end_ms)
		VALUES (?, ?, ?, ?, ?)
	`, item.ID, item.UID, item.FolderID, unixMsOrZero(item), endMsOrZero(item))
	if err != nil {
		return fmt.Errorf("indexing item %d: %w", item.ID, err)
	}
	return nil
}

// UpdateInCalendarTable refreshes the item's time-range index row.
func (s *Store) UpdateInCalendarTable(ctx context.Context, item *calendar.CalendarItem) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE calendar_items SET uid = ?, folder_id = ?, start_ms = ?, end_ms = ?
		WHERE item_id = ?
	`, item.UID, item.FolderID, unixMsOrZero(item), endMsOrZero(item), item.ID)
	if err != nil {
		return fmt.Errorf("reindexing item %d: %w", item.ID, err)
	}
	return nil
}

// RemoveFromCalendarTable drops the item's index row.
func (s *Store) RemoveFromCalendarTable(ctx context.Context, itemID int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM calendar_items WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("deindexing item %d: %w", itemID, err)
	}
	return nil
}

// Delete removes the item row and its index entry.
func (s *Store) Delete(ctx context.Context, itemID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM calendar_items WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("deleting index row %d: %w", itemID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mailbox_items WHERE id = ?`, itemID); err != nil {
		return fmt.Errorf("deleting item %d: %w", itemID, err)
	}
	return tx.Commit()
}

// MoveToTrash retires the item without destroying its metadata; the index
// row goes away so views stop seeing it.
func (s *Store) MoveToTrash(ctx context.Context, itemID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning trash move: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM calendar_items WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("deindexing trashed item %d: %w", itemID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE mailbox_items SET in_trash = 1 WHERE id = ?`, itemID); err != nil {
		return fmt.Errorf("trashing item %d: %w", itemID, err)
	}
	return tx.Commit()
}

func unixMsOrZero(item *calendar.CalendarItem) int64 {
	if item.Start.IsZero() {
		return 0
	}
	return item.Start.UnixMilli()
}

func endMsOrZero(item *calendar.CalendarItem) int64 {
	if item.End.IsZero() {
		return 0
	}
	return item.End.UnixMilli()
}
