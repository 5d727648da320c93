// Package sync orchestrates reconciliation between the local cache and the
// ShopTrack server: pull, resolve, write back, then push pending mutations.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shoptrack/agent/internal/api"
	"github.com/shoptrack/agent/internal/model"
	"github.com/shoptrack/agent/internal/resolver"
	"github.com/shoptrack/agent/internal/store"
)

// Config holds sync engine configuration.
type Config struct {
	Interval time.Duration
	Strategy resolver.Strategy
}

// ConflictCallback receives detected conflicts before each resolution pass.
// It is the agent's side channel for surfacing conflicts to the user.
type ConflictCallback func([]resolver.ListConflict)

// Engine runs sync passes, either on a timer or on demand.
type Engine struct {
	cfg        Config
	client     *api.Client
	lists      *store.ListStore
	items      *store.ItemStore
	settings   *store.SettingsStore
	onConflict ConflictCallback
	logger     *slog.Logger
	now        func() time.Time

	kick    chan struct{}
	stopCh  chan struct{}
	stopped chan struct{}
}

// New creates a sync engine. The conflict callback and settings store may be
// nil; with settings the engine records the time of each completed pass.
func New(cfg Config, client *api.Client, lists *store.ListStore, items *store.ItemStore, settings *store.SettingsStore, onConflict ConflictCallback, logger *slog.Logger) *Engine {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if !cfg.Strategy.IsValid() {
		cfg.Strategy = resolver.DefaultStrategy
	}
	return &Engine{
		cfg:        cfg,
		client:     client,
		lists:      lists,
		items:      items,
		settings:   settings,
		onConflict: onConflict,
		logger:     logger,
		now:        time.Now,
		kick:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// SyncNow performs one full reconciliation pass. Pull comes first: server
// state is fetched and merged into the cache before anything pending is
// pushed, so pushes always start from a reconciled base. Per-record push
// failures are logged and left pending for the next pass; only a failure to
// reach the server at all aborts the pass.
func (e *Engine) SyncNow(ctx context.Context) error {
	serverLists, err := e.client.FetchLists(ctx)
	if err != nil {
		return fmt.Errorf("fetch lists: %w", err)
	}
	localLists, err := e.lists.All()
	if err != nil {
		return fmt.Errorf("load local lists: %w", err)
	}

	if e.onConflict != nil {
		if conflicts := resolver.DetectConflicts(localLists, serverLists); len(conflicts) > 0 {
			e.onConflict(conflicts)
		}
	}

	resolved := resolver.ResolveLists(localLists, serverLists, e.cfg.Strategy, e.now())
	if err := e.lists.ReplaceAll(resolved); err != nil {
		return fmt.Errorf("write back lists: %w", err)
	}

	for _, l := range resolved {
		if l.ID == 0 {
			// Offline-created list: nothing to pull until it exists on the
			// server. The push phase below takes care of creating it.
			continue
		}
		if err := e.syncListItems(ctx, l); err != nil {
			e.logger.Error("sync list items", "list", l.LocalID, "error", err)
		}
	}

	if err := e.push(ctx); err != nil {
		return err
	}

	if e.settings != nil {
		stamp := e.now().UTC().Format(time.RFC3339)
		if err := e.settings.Set(store.SettingLastFullSync, stamp); err != nil {
			e.logger.Warn("record last sync time", "error", err)
		}
	}
	return nil
}

func (e *Engine) syncListItems(ctx context.Context, list model.LocalList) error {
	serverItems, err := e.client.FetchItems(ctx, list.ID)
	if err != nil {
		return fmt.Errorf("fetch items: %w", err)
	}
	localItems, err := e.items.ListByList(list.LocalID)
	if err != nil {
		return fmt.Errorf("load local items: %w", err)
	}

	resolved := resolver.ResolveItems(localItems, serverItems, list.LocalID, e.cfg.Strategy)
	if err := e.items.ReplaceAllForList(list.LocalID, resolved); err != nil {
		return fmt.Errorf("write back items: %w", err)
	}
	return nil
}

// push sends every pending local record to the server and marks successes
// synced, recording server-assigned IDs for records created offline.
func (e *Engine) push(ctx context.Context) error {
	pendingLists, err := e.lists.Pending()
	if err != nil {
		return fmt.Errorf("pending lists: %w", err)
	}
	for _, l := range pendingLists {
		pushed, err := e.pushList(ctx, l)
		if err != nil {
			e.logger.Error("push list", "list", l.LocalID, "error", err)
			continue
		}
		if err := e.lists.MarkSynced(l.LocalID, pushed.ID, e.now()); err != nil {
			e.logger.Error("mark list synced", "list", l.LocalID, "error", err)
		}
	}

	pendingItems, err := e.items.Pending()
	if err != nil {
		return fmt.Errorf("pending items: %w", err)
	}
	for _, it := range pendingItems {
		pushed, err := e.pushItem(ctx, it)
		if err != nil {
			e.logger.Error("push item", "item", it.LocalID, "error", err)
			continue
		}
		if pushed == nil {
			// Parent list not on the server yet; retry next pass.
			continue
		}
		if err := e.items.MarkSynced(it.LocalID, pushed.ID); err != nil {
			e.logger.Error("mark item synced", "item", it.LocalID, "error", err)
		}
	}
	return nil
}

func (e *Engine) pushList(ctx context.Context, l model.LocalList) (*model.List, error) {
	if l.ID == 0 {
		return e.client.CreateList(ctx, l.List)
	}
	return e.client.UpdateList(ctx, l.List)
}

func (e *Engine) pushItem(ctx context.Context, it model.LocalItem) (*model.Item, error) {
	item := it.Item
	if item.ListID == 0 {
		parent, err := e.lists.GetByLocalID(it.LocalListID)
		if err != nil {
			return nil, fmt.Errorf("resolve parent list: %w", err)
		}
		if parent == nil || parent.ID == 0 {
			return nil, nil
		}
		item.ListID = parent.ID
	}
	if item.ID == 0 {
		return e.client.CreateItem(ctx, item)
	}
	return e.client.UpdateItem(ctx, item)
}

// RequestSync asks the background loop for an early pass. It never blocks;
// if a request is already queued the call is a no-op.
func (e *Engine) RequestSync() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Start runs an initial pass and then syncs on the configured interval or
// whenever RequestSync fires.
func (e *Engine) Start(ctx context.Context) {
	if err := e.SyncNow(ctx); err != nil {
		e.logger.Error("initial sync", "error", err)
	}

	go func() {
		defer close(e.stopped)
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := e.SyncNow(ctx); err != nil {
					e.logger.Error("scheduled sync", "error", err)
				}
			case <-e.kick:
				if err := e.SyncNow(ctx); err != nil {
					e.logger.Error("requested sync", "error", err)
				}
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background loop.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.stopped
}
