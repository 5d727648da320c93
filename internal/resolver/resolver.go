// Package resolver reconciles locally cached shopping data with the server's
// authoritative copy. Resolution is a pure function of its inputs: callers
// supply both records, a strategy, and the current time, and get back a
// freshly built record. Neither input is ever mutated.
package resolver

import (
	"time"

	"github.com/shoptrack/agent/internal/model"
)

// Strategy selects how a genuine local/server conflict is resolved.
type Strategy string

const (
	StrategyServerWins Strategy = "server-wins"
	StrategyClientWins Strategy = "client-wins"
	StrategyMerge      Strategy = "merge"
)

// DefaultStrategy is used wherever no explicit choice has been made.
const DefaultStrategy = StrategyServerWins

// IsValid reports whether s is a recognized strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyServerWins, StrategyClientWins, StrategyMerge:
		return true
	default:
		return false
	}
}

// ListResolution is the outcome of resolving one list pair. Strategy records
// the policy that actually applied, which on the no-conflict path is always
// server-wins regardless of what the caller asked for.
type ListResolution struct {
	Resolved    model.LocalList
	Strategy    Strategy
	HadConflict bool
}

// ItemResolution is the outcome of resolving one item pair.
type ItemResolution struct {
	Resolved    model.LocalItem
	Strategy    Strategy
	HadConflict bool
}

// ResolveList reconciles a cached list with its server counterpart. Both
// records must refer to the same logical list (same server ID).
//
// If the local copy is already synced, or the server timestamp is strictly
// newer than the local one, there is no real divergence: the server fields
// win outright and the requested strategy is ignored. Otherwise the local
// copy is pending with a timestamp at least as recent as the server's, and
// the strategy decides.
func ResolveList(local model.LocalList, server model.List, strategy Strategy, now time.Time) ListResolution {
	localMS, localOK := timeMillis(local.UpdatedAt)
	serverMS, serverOK := timeMillis(server.UpdatedAt)
	serverNewer := localOK && serverOK && serverMS > localMS

	if local.SyncStatus == model.SyncSynced || serverNewer {
		return ListResolution{
			Resolved: adoptList(server, local.LocalID, now),
			Strategy: StrategyServerWins,
		}
	}

	switch strategy {
	case StrategyClientWins:
		// Keep every local field; stay pending so the next push sends the
		// local version back to the server.
		resolved := local
		resolved.SyncStatus = model.SyncPending
		return ListResolution{Resolved: resolved, Strategy: StrategyClientWins, HadConflict: true}

	case StrategyMerge:
		localNewer := localOK && serverOK && localMS > serverMS
		resolved := model.LocalList{
			List:         server,
			LocalID:      local.LocalID,
			SyncStatus:   model.SyncSynced,
			LastSyncedAt: formatTime(now),
		}
		if localNewer {
			resolved.Name = local.Name
			resolved.SyncStatus = model.SyncPending
		}
		return ListResolution{Resolved: resolved, Strategy: StrategyMerge, HadConflict: true}

	default:
		return ListResolution{
			Resolved:    adoptList(server, local.LocalID, now),
			Strategy:    StrategyServerWins,
			HadConflict: true,
		}
	}
}

// ResolveItem reconciles a cached item with its server counterpart. The
// tie-break signal is CheckedAt rather than UpdatedAt, and an unchecked item
// (empty CheckedAt) compares as epoch zero.
//
// Unlike ResolveList there is no server-timestamp-newer fast path: a pending
// local item always reaches the strategy dispatch. The asymmetry looks like
// an oversight in the product design rather than intent, but unifying the two
// would change sync behavior, so it is kept.
func ResolveItem(local model.LocalItem, server model.Item, strategy Strategy) ItemResolution {
	if local.SyncStatus == model.SyncSynced {
		return ItemResolution{
			Resolved: adoptItem(server, local.LocalID, local.LocalListID),
			Strategy: StrategyServerWins,
		}
	}

	switch strategy {
	case StrategyClientWins:
		resolved := local
		resolved.SyncStatus = model.SyncPending
		return ItemResolution{Resolved: resolved, Strategy: StrategyClientWins, HadConflict: true}

	case StrategyMerge:
		localMS, localOK := checkedMillis(local.CheckedAt)
		serverMS, serverOK := checkedMillis(server.CheckedAt)
		useLocalChecked := localOK && serverOK && localMS > serverMS

		resolved := adoptItem(server, local.LocalID, local.LocalListID)
		if useLocalChecked {
			resolved.Checked = local.Checked
			resolved.CheckedAt = local.CheckedAt
			resolved.SyncStatus = model.SyncPending
		}
		// Quantity is merged per-field: the local value wins whenever the
		// user entered one, independent of the checked-state comparison.
		if local.Quantity != "" {
			resolved.Quantity = local.Quantity
		}
		return ItemResolution{Resolved: resolved, Strategy: StrategyMerge, HadConflict: true}

	default:
		return ItemResolution{
			Resolved:    adoptItem(server, local.LocalID, local.LocalListID),
			Strategy:    StrategyServerWins,
			HadConflict: true,
		}
	}
}

// adoptList converts a server list into local form: all server fields, the
// caller's local identity, synced status, and a fresh LastSyncedAt stamp.
func adoptList(server model.List, localID string, now time.Time) model.LocalList {
	return model.LocalList{
		List:         server,
		LocalID:      localID,
		SyncStatus:   model.SyncSynced,
		LastSyncedAt: formatTime(now),
	}
}

// adoptItem converts a server item into local form under the given local
// identities.
func adoptItem(server model.Item, localID, localListID string) model.LocalItem {
	return model.LocalItem{
		Item:        server,
		LocalID:     localID,
		LocalListID: localListID,
		SyncStatus:  model.SyncSynced,
	}
}

// timeMillis parses an RFC 3339 timestamp to epoch milliseconds. A timestamp
// that fails to parse reports ok=false, and every comparison above treats an
// unparsed side as "not newer" — malformed dates degrade the decision, they
// never crash it.
func timeMillis(s string) (int64, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

// checkedMillis is timeMillis for CheckedAt, where empty means "never
// checked" and compares as zero rather than failing.
func checkedMillis(s string) (int64, bool) {
	if s == "" {
		return 0, true
	}
	return timeMillis(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
