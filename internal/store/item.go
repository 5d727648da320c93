package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shoptrack/agent/internal/model"
)

// ItemStore is the local cache of shopping list items.
type ItemStore struct {
	db *sql.DB
}

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

const itemCols = `local_id, server_id, local_list_id, name, quantity, unit, notes, category, checked, checked_at, updated_at, created_at, sync_status`

func scanItem(scanner interface{ Scan(...any) error }) (*model.LocalItem, error) {
	var it model.LocalItem
	var serverID sql.NullInt64
	var checkedAt sql.NullString
	var checked int

	err := scanner.Scan(
		&it.LocalID, &serverID, &it.LocalListID, &it.Name, &it.Quantity,
		&it.Unit, &it.Notes, &it.Category, &checked, &checkedAt,
		&it.UpdatedAt, &it.CreatedAt, &it.SyncStatus,
	)
	if err != nil {
		return nil, err
	}

	it.Checked = checked != 0
	if serverID.Valid {
		it.ID = serverID.Int64
	}
	if checkedAt.Valid {
		it.CheckedAt = checkedAt.String
	}
	return &it, nil
}

// Create caches a new offline-created item under the given local list.
func (s *ItemStore) Create(localListID, name, quantity, unit, notes, category string) (*model.LocalItem, error) {
	localID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.Exec(
		`INSERT INTO items (local_id, local_list_id, name, quantity, unit, notes, category, updated_at, created_at, sync_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		localID, localListID, name, quantity, unit, notes, category, now, now, model.SyncPending,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return s.GetByLocalID(localID)
}

func (s *ItemStore) GetByLocalID(localID string) (*model.LocalItem, error) {
	row := s.db.QueryRow(`SELECT `+itemCols+` FROM items WHERE local_id = ?`, localID)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (s *ItemStore) ListByList(localListID string) ([]model.LocalItem, error) {
	rows, err := s.db.Query(
		`SELECT `+itemCols+` FROM items WHERE local_list_id = ? ORDER BY checked ASC, category ASC, created_at ASC`,
		localListID,
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []model.LocalItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// Pending returns items across all lists that need to be pushed.
func (s *ItemStore) Pending() ([]model.LocalItem, error) {
	rows, err := s.db.Query(
		`SELECT `+itemCols+` FROM items WHERE sync_status = ? ORDER BY created_at ASC`,
		model.SyncPending,
	)
	if err != nil {
		return nil, fmt.Errorf("pending items: %w", err)
	}
	defer rows.Close()

	var items []model.LocalItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// Update edits the user-editable fields, bumps the timestamp, and re-marks
// the item pending.
func (s *ItemStore) Update(localID, name, quantity, unit, notes, category string) (*model.LocalItem, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`UPDATE items SET name = ?, quantity = ?, unit = ?, notes = ?, category = ?, updated_at = ?, sync_status = ? WHERE local_id = ?`,
		name, quantity, unit, notes, category, now, model.SyncPending, localID,
	)
	if err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}
	return s.GetByLocalID(localID)
}

// ToggleChecked flips the checked flag, stamping CheckedAt on check and
// clearing it on uncheck.
func (s *ItemStore) ToggleChecked(localID string) (*model.LocalItem, error) {
	it, err := s.GetByLocalID(localID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if it.Checked {
		_, err = s.db.Exec(
			`UPDATE items SET checked = 0, checked_at = NULL, updated_at = ?, sync_status = ? WHERE local_id = ?`,
			now, model.SyncPending, localID,
		)
	} else {
		_, err = s.db.Exec(
			`UPDATE items SET checked = 1, checked_at = ?, updated_at = ?, sync_status = ? WHERE local_id = ?`,
			now, now, model.SyncPending, localID,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("toggle checked: %w", err)
	}
	return s.GetByLocalID(localID)
}

func (s *ItemStore) Delete(localID string) error {
	if _, err := s.db.Exec(`DELETE FROM items WHERE local_id = ?`, localID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// MarkSynced finalizes a successful item push.
func (s *ItemStore) MarkSynced(localID string, serverID int64) error {
	_, err := s.db.Exec(
		`UPDATE items SET server_id = ?, sync_status = ? WHERE local_id = ?`,
		nullInt64(serverID), model.SyncSynced, localID,
	)
	if err != nil {
		return fmt.Errorf("mark item synced: %w", err)
	}
	return nil
}

// ReplaceAllForList writes the resolved items of one list back wholesale.
func (s *ItemStore) ReplaceAllForList(localListID string, items []model.LocalItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM items WHERE local_list_id = ?`, localListID); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}

	for _, it := range items {
		var checked int
		if it.Checked {
			checked = 1
		}
		_, err := tx.Exec(
			`INSERT INTO items (local_id, server_id, local_list_id, name, quantity, unit, notes, category, checked, checked_at, updated_at, created_at, sync_status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			it.LocalID, nullInt64(it.ID), it.LocalListID, it.Name, it.Quantity,
			it.Unit, it.Notes, it.Category, checked, nullString(it.CheckedAt),
			it.UpdatedAt, it.CreatedAt, it.SyncStatus,
		)
		if err != nil {
			return fmt.Errorf("insert resolved item %s: %w", it.LocalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}
