package resolver

import (
	"strconv"
	"time"

	"github.com/shoptrack/agent/internal/model"
)

// ResolveLists reconciles a full list collection. Every server list appears
// in the output: paired with its local copy via ResolveList when one exists,
// otherwise adopted as a new local record with a "server_<id>" local ID.
// Local lists that were created offline (no server ID yet, still pending)
// survive untouched at the end of the output.
//
// A local list that has a server ID but no match among the current server
// lists is dropped: once the server has assigned an identity it is
// authoritative for existence, so a missing server record means the list was
// deleted elsewhere and the deletion propagates here.
func ResolveLists(local []model.LocalList, server []model.List, strategy Strategy, now time.Time) []model.LocalList {
	byServerID := make(map[int64]model.LocalList, len(local))
	for _, l := range local {
		if l.ID != 0 {
			byServerID[l.ID] = l
		}
	}

	resolved := make([]model.LocalList, 0, len(server))
	for _, s := range server {
		if l, ok := byServerID[s.ID]; ok {
			resolved = append(resolved, ResolveList(l, s, strategy, now).Resolved)
			continue
		}
		resolved = append(resolved, adoptList(s, adoptedLocalID(s.ID), now))
	}

	for _, l := range local {
		if l.ID == 0 && l.SyncStatus == model.SyncPending {
			resolved = append(resolved, l)
		}
	}
	return resolved
}

// ResolveItems is ResolveLists for the items of one list. Server items have
// no notion of the local parent list, so the caller threads the owning
// localListID onto every record that gets adopted from the server side.
func ResolveItems(local []model.LocalItem, server []model.Item, localListID string, strategy Strategy) []model.LocalItem {
	byServerID := make(map[int64]model.LocalItem, len(local))
	for _, it := range local {
		if it.ID != 0 {
			byServerID[it.ID] = it
		}
	}

	resolved := make([]model.LocalItem, 0, len(server))
	for _, s := range server {
		if it, ok := byServerID[s.ID]; ok {
			resolved = append(resolved, ResolveItem(it, s, strategy).Resolved)
			continue
		}
		resolved = append(resolved, adoptItem(s, adoptedLocalID(s.ID), localListID))
	}

	for _, it := range local {
		if it.ID == 0 && it.SyncStatus == model.SyncPending {
			resolved = append(resolved, it)
		}
	}
	return resolved
}

// ListConflict describes one detected-but-unresolved list conflict, with both
// timestamps already parsed to epoch milliseconds for display.
type ListConflict struct {
	ListID        int64 `json:"list_id"`
	LocalUpdated  int64 `json:"local_updated"`
	ServerUpdated int64 `json:"server_updated"`
}

// DetectConflicts reports every pending local list whose server counterpart
// has moved strictly ahead of it. It is a read-only query for surfacing a
// conflict indicator before the user picks a strategy; nothing is resolved
// and nothing is mutated.
func DetectConflicts(local []model.LocalList, server []model.List) []ListConflict {
	byID := make(map[int64]model.List, len(server))
	for _, s := range server {
		byID[s.ID] = s
	}

	var conflicts []ListConflict
	for _, l := range local {
		if l.ID == 0 || l.SyncStatus != model.SyncPending {
			continue
		}
		s, ok := byID[l.ID]
		if !ok {
			continue
		}
		localMS, localOK := timeMillis(l.UpdatedAt)
		serverMS, serverOK := timeMillis(s.UpdatedAt)
		if localOK && serverOK && serverMS > localMS {
			conflicts = append(conflicts, ListConflict{
				ListID:        l.ID,
				LocalUpdated:  localMS,
				ServerUpdated: serverMS,
			})
		}
	}
	return conflicts
}

func adoptedLocalID(serverID int64) string {
	return "server_" + strconv.FormatInt(serverID, 10)
}
