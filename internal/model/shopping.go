package model

// SyncStatus marks whether a cached record is known to match the server.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
)

// List is a shopping list as the server represents it. ID is assigned by the
// server and is zero until the list has been created there. Timestamps are
// RFC 3339 strings straight off the wire.
type List struct {
	ID        int64  `json:"id,omitempty"`
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order"`
	UpdatedAt string `json:"updated_at"`
	CreatedAt string `json:"created_at"`
}

// LocalList is the cached form of a List. LocalID is generated on-device when
// the record is first cached and never changes; it is the only identity a
// list has before the server assigns an ID. LastSyncedAt is empty until the
// first successful reconciliation.
type LocalList struct {
	List
	LocalID      string     `json:"local_id"`
	SyncStatus   SyncStatus `json:"sync_status"`
	LastSyncedAt string     `json:"last_synced_at,omitempty"`
}

// Item is a shopping list item as the server represents it. CheckedAt is
// empty while the item is unchecked.
type Item struct {
	ID        int64  `json:"id,omitempty"`
	ListID    int64  `json:"list_id,omitempty"`
	Name      string `json:"name"`
	Quantity  string `json:"quantity"`
	Unit      string `json:"unit"`
	Notes     string `json:"notes"`
	Category  string `json:"category"`
	Checked   bool   `json:"checked"`
	CheckedAt string `json:"checked_at,omitempty"`
	UpdatedAt string `json:"updated_at"`
	CreatedAt string `json:"created_at"`
}

// LocalItem is the cached form of an Item. LocalListID points at the owning
// LocalList by its LocalID; it is a relation, not ownership.
type LocalItem struct {
	Item
	LocalID     string     `json:"local_id"`
	LocalListID string     `json:"local_list_id"`
	SyncStatus  SyncStatus `json:"sync_status"`
}
