package store

import (
	"testing"
	"time"

	"github.com/shoptrack/agent/internal/database"
	"github.com/shoptrack/agent/internal/model"
)

func setupTestDB(t *testing.T) (*ListStore, *ItemStore, *SettingsStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewListStore(db), NewItemStore(db), NewSettingsStore(db)
}

func TestListCreateStartsPending(t *testing.T) {
	ls, _, _ := setupTestDB(t)

	l, err := ls.Create("Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if l.LocalID == "" {
		t.Error("local id not assigned")
	}
	if l.ID != 0 {
		t.Errorf("server id = %d, want 0 before first sync", l.ID)
	}
	if l.SyncStatus != model.SyncPending {
		t.Errorf("sync status = %q, want pending", l.SyncStatus)
	}
	if l.LastSyncedAt != "" {
		t.Errorf("last synced = %q, want empty", l.LastSyncedAt)
	}
	if l.UpdatedAt == "" || l.CreatedAt == "" {
		t.Error("timestamps not stamped")
	}
}

func TestListRenameMarksPending(t *testing.T) {
	ls, _, _ := setupTestDB(t)

	l, err := ls.Create("Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if err := ls.MarkSynced(l.LocalID, 7, time.Now()); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	renamed, err := ls.Rename(l.LocalID, "Weekly groceries")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Name != "Weekly groceries" {
		t.Errorf("name = %q", renamed.Name)
	}
	if renamed.SyncStatus != model.SyncPending {
		t.Errorf("status = %q, want pending after rename", renamed.SyncStatus)
	}
	if renamed.ID != 7 {
		t.Errorf("server id = %d, want 7 preserved", renamed.ID)
	}
}

func TestListMarkSynced(t *testing.T) {
	ls, _, _ := setupTestDB(t)

	l, _ := ls.Create("Groceries")
	syncedAt := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	if err := ls.MarkSynced(l.LocalID, 7, syncedAt); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	got, err := ls.GetByLocalID(l.LocalID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != 7 {
		t.Errorf("server id = %d, want 7", got.ID)
	}
	if got.SyncStatus != model.SyncSynced {
		t.Errorf("status = %q, want synced", got.SyncStatus)
	}
	if got.LastSyncedAt != "2024-03-15T12:00:00Z" {
		t.Errorf("last synced = %q", got.LastSyncedAt)
	}

	pending, err := ls.Pending()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending count = %d, want 0", len(pending))
	}
}

func TestListReplaceAll(t *testing.T) {
	ls, is, _ := setupTestDB(t)

	stale, _ := ls.Create("Old list")
	if _, err := is.Create(stale.LocalID, "Bread", "", "", "", ""); err != nil {
		t.Fatalf("create item: %v", err)
	}
	keep, _ := ls.Create("Kept list")
	if _, err := is.Create(keep.LocalID, "Milk", "", "", "", ""); err != nil {
		t.Fatalf("create item: %v", err)
	}

	resolved := []model.LocalList{
		{
			List:         model.List{ID: 1, Name: "Kept list", UpdatedAt: "2024-01-01T10:00:00Z", CreatedAt: "2024-01-01T09:00:00Z"},
			LocalID:      keep.LocalID,
			SyncStatus:   model.SyncSynced,
			LastSyncedAt: "2024-03-15T12:00:00Z",
		},
		{
			List:       model.List{ID: 2, Name: "From server", UpdatedAt: "2024-01-01T10:00:00Z", CreatedAt: "2024-01-01T09:00:00Z"},
			LocalID:    "server_2",
			SyncStatus: model.SyncSynced,
		},
	}
	if err := ls.ReplaceAll(resolved); err != nil {
		t.Fatalf("replace all: %v", err)
	}

	all, err := ls.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list count = %d, want 2", len(all))
	}

	// The dropped list's items went with it; the kept list's items survive.
	if got, _ := is.ListByList(stale.LocalID); len(got) != 0 {
		t.Errorf("stale list still has %d items", len(got))
	}
	if got, _ := is.ListByList(keep.LocalID); len(got) != 1 {
		t.Errorf("kept list has %d items, want 1", len(got))
	}
}

func TestListGetByLocalIDNotFound(t *testing.T) {
	ls, _, _ := setupTestDB(t)

	got, err := ls.GetByLocalID("missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent list")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	_, _, ss := setupTestDB(t)

	if v, err := ss.Get(SettingSessionToken); err != nil || v != "" {
		t.Fatalf("get unset = %q, %v", v, err)
	}
	if err := ss.Set(SettingSessionToken, "tok-123"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := ss.Set(SettingSessionToken, "tok-456"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _ := ss.Get(SettingSessionToken); v != "tok-456" {
		t.Errorf("get = %q, want tok-456", v)
	}
	if err := ss.Delete(SettingSessionToken); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v, _ := ss.Get(SettingSessionToken); v != "" {
		t.Errorf("get after delete = %q, want empty", v)
	}
}
