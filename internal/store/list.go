package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shoptrack/agent/internal/model"
)

// ListStore is the local cache of shopping lists. Records created or mutated
// here are marked pending until a sync pass reconciles them with the server.
type ListStore struct {
	db *sql.DB
}

func NewListStore(db *sql.DB) *ListStore {
	return &ListStore{db: db}
}

const listCols = `local_id, server_id, name, sort_order, updated_at, created_at, sync_status, last_synced_at`

func scanList(scanner interface{ Scan(...any) error }) (*model.LocalList, error) {
	var l model.LocalList
	var serverID sql.NullInt64
	var lastSyncedAt sql.NullString

	err := scanner.Scan(
		&l.LocalID, &serverID, &l.Name, &l.SortOrder,
		&l.UpdatedAt, &l.CreatedAt, &l.SyncStatus, &lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	if serverID.Valid {
		l.ID = serverID.Int64
	}
	if lastSyncedAt.Valid {
		l.LastSyncedAt = lastSyncedAt.String
	}
	return &l, nil
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// Create caches a new offline-created list. The list gets a fresh local ID,
// no server ID, and pending status; it will be created on the server during
// the next push phase.
func (s *ListStore) Create(name string) (*model.LocalList, error) {
	localID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.Exec(
		`INSERT INTO lists (local_id, name, updated_at, created_at, sync_status) VALUES (?, ?, ?, ?, ?)`,
		localID, name, now, now, model.SyncPending,
	)
	if err != nil {
		return nil, fmt.Errorf("insert list: %w", err)
	}
	return s.GetByLocalID(localID)
}

func (s *ListStore) GetByLocalID(localID string) (*model.LocalList, error) {
	row := s.db.QueryRow(`SELECT `+listCols+` FROM lists WHERE local_id = ?`, localID)
	l, err := scanList(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

func (s *ListStore) All() ([]model.LocalList, error) {
	rows, err := s.db.Query(`SELECT ` + listCols + ` FROM lists ORDER BY sort_order ASC, created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	var lists []model.LocalList
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, *l)
	}
	return lists, rows.Err()
}

// Pending returns lists that have diverged from the server and need to be
// pushed.
func (s *ListStore) Pending() ([]model.LocalList, error) {
	rows, err := s.db.Query(
		`SELECT `+listCols+` FROM lists WHERE sync_status = ? ORDER BY created_at ASC`,
		model.SyncPending,
	)
	if err != nil {
		return nil, fmt.Errorf("pending lists: %w", err)
	}
	defer rows.Close()

	var lists []model.LocalList
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		lists = append(lists, *l)
	}
	return lists, rows.Err()
}

// Rename updates the list name, bumps its timestamp, and re-marks it pending.
func (s *ListStore) Rename(localID, name string) (*model.LocalList, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`UPDATE lists SET name = ?, updated_at = ?, sync_status = ? WHERE local_id = ?`,
		name, now, model.SyncPending, localID,
	)
	if err != nil {
		return nil, fmt.Errorf("rename list: %w", err)
	}
	return s.GetByLocalID(localID)
}

func (s *ListStore) Delete(localID string) error {
	if _, err := s.db.Exec(`DELETE FROM items WHERE local_list_id = ?`, localID); err != nil {
		return fmt.Errorf("delete list items: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM lists WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	return nil
}

// MarkSynced finalizes a successful push: the server-assigned ID is recorded
// and the record leaves the pending set.
func (s *ListStore) MarkSynced(localID string, serverID int64, syncedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE lists SET server_id = ?, sync_status = ?, last_synced_at = ? WHERE local_id = ?`,
		nullInt64(serverID), model.SyncSynced, syncedAt.UTC().Format(time.RFC3339), localID,
	)
	if err != nil {
		return fmt.Errorf("mark list synced: %w", err)
	}
	return nil
}

// ReplaceAll writes a resolved list collection back wholesale, replacing the
// cached collection in one transaction. Items whose list did not survive the
// merge are removed with it.
func (s *ListStore) ReplaceAll(lists []model.LocalList) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	// Lists are rewritten under the same local IDs, so FK checks on items
	// must wait until the new rows are in place.
	if _, err := tx.Exec(`PRAGMA defer_foreign_keys = ON`); err != nil {
		return fmt.Errorf("defer foreign keys: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM lists`); err != nil {
		return fmt.Errorf("clear lists: %w", err)
	}

	for _, l := range lists {
		_, err := tx.Exec(
			`INSERT INTO lists (local_id, server_id, name, sort_order, updated_at, created_at, sync_status, last_synced_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			l.LocalID, nullInt64(l.ID), l.Name, l.SortOrder,
			l.UpdatedAt, l.CreatedAt, l.SyncStatus, nullString(l.LastSyncedAt),
		)
		if err != nil {
			return fmt.Errorf("insert resolved list %s: %w", l.LocalID, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM items WHERE local_list_id NOT IN (SELECT local_id FROM lists)`); err != nil {
		return fmt.Errorf("prune orphaned items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}
