package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shoptrack/agent/internal/api"
	"github.com/shoptrack/agent/internal/backup"
	"github.com/shoptrack/agent/internal/database"
	"github.com/shoptrack/agent/internal/entitlement"
	"github.com/shoptrack/agent/internal/logging"
	"github.com/shoptrack/agent/internal/realtime"
	"github.com/shoptrack/agent/internal/resolver"
	"github.com/shoptrack/agent/internal/store"
	syncengine "github.com/shoptrack/agent/internal/sync"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func main() {
	logger := logging.Setup(getEnv("SHOPTRACK_LOG_LEVEL", "info"), getEnv("SHOPTRACK_LOG_FORMAT", "text"))

	dbPath := getEnv("SHOPTRACK_DB_PATH", "shoptrack.db")
	apiURL := strings.TrimRight(getEnv("SHOPTRACK_API_URL", "https://api.shoptrack.app"), "/")

	db, err := database.Open(dbPath)
	if err != nil {
		logger.Error("failed to open cache database", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	lists := store.NewListStore(db)
	items := store.NewItemStore(db)
	settings := store.NewSettingsStore(db)

	// Env token wins over the cached one and is persisted for next start
	token := os.Getenv("SHOPTRACK_TOKEN")
	if token != "" {
		if err := settings.Set(store.SettingSessionToken, token); err != nil {
			logger.Warn("failed to persist session token", "error", err)
		}
	} else {
		token, err = settings.Get(store.SettingSessionToken)
		if err != nil {
			logger.Error("failed to read session token", "error", err)
			os.Exit(1)
		}
	}
	if token == "" {
		logger.Error("no session token: set SHOPTRACK_TOKEN")
		os.Exit(1)
	}

	client := api.NewClient(api.Config{BaseURL: apiURL, Token: token})

	strategy := resolver.Strategy(getEnv("SHOPTRACK_SYNC_STRATEGY", ""))
	if strategy == "" {
		if v, err := settings.Get(store.SettingSyncStrategy); err == nil && v != "" {
			strategy = resolver.Strategy(v)
		}
	}

	ent := entitlement.NewClient(entitlement.Config{
		Token:     token,
		StatusURL: getEnv("SHOPTRACK_STATUS_URL", apiURL+"/api/subscription/status"),
	})

	engine := syncengine.New(syncengine.Config{
		Interval: getDuration("SHOPTRACK_SYNC_INTERVAL", 5*time.Minute),
		Strategy: strategy,
	}, client, lists, items, settings, logConflicts(logger), logger)

	bucket := os.Getenv("SHOPTRACK_BACKUP_BUCKET")
	region := os.Getenv("SHOPTRACK_BACKUP_REGION")
	if bucket == "" {
		bucket, _ = settings.Get(store.SettingBackupBucket)
	}
	if region == "" {
		region, _ = settings.Get(store.SettingBackupRegion)
	}
	if region == "" {
		region = "auto"
	}

	bm := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("SHOPTRACK_BACKUP_ENDPOINT"),
			Bucket:    bucket,
			Region:    region,
			AccessKey: os.Getenv("SHOPTRACK_BACKUP_ACCESS_KEY"),
			SecretKey: os.Getenv("SHOPTRACK_BACKUP_SECRET_KEY"),
		},
		DBPath:   dbPath,
		Interval: getDuration("SHOPTRACK_BACKUP_INTERVAL", 24*time.Hour),
	}, db, logger, nil)
	if pass := os.Getenv("SHOPTRACK_BACKUP_PASSPHRASE"); pass != "" {
		bm.CachePassphrase(pass)
	}

	// One-shot maintenance commands run against the same config and exit
	if len(os.Args) > 1 {
		runCommand(os.Args[1:], engine, bm, logger)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ent.Refresh(ctx); err != nil {
		logger.Warn("entitlement check failed, continuing with cached status", "error", err)
	}
	ent.Start(ctx)
	defer ent.Stop()

	engine.Start(ctx)
	defer engine.Stop()

	if ent.HasFeature("realtime") {
		wsURL := getEnv("SHOPTRACK_WS_URL", strings.Replace(apiURL, "http", "ws", 1)+"/api/ws")
		listener := realtime.NewListener(wsURL, token, func(msg realtime.Message) {
			logger.Debug("server event", "entity", msg.Entity, "action", msg.Action, "id", msg.ID)
			engine.RequestSync()
		}, logger)
		go listener.Run(ctx)
	} else {
		logger.Info("realtime updates not included in plan, using interval sync only")
	}

	if ent.HasFeature("backup") && bm.Enabled() {
		bm.Start(ctx)
		defer bm.Stop()
	}

	logger.Info("agent running", "db", dbPath, "server", apiURL, "plan", ent.Status().Plan)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
}

func logConflicts(logger *slog.Logger) syncengine.ConflictCallback {
	return func(conflicts []resolver.ListConflict) {
		for _, c := range conflicts {
			logger.Info("conflict detected",
				"list_id", c.ListID,
				"local_updated", c.LocalUpdated,
				"server_updated", c.ServerUpdated)
		}
	}
}

func runCommand(args []string, engine *syncengine.Engine, bm *backup.Manager, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	switch args[0] {
	case "sync":
		if err := engine.SyncNow(ctx); err != nil {
			logger.Error("sync failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		pass := os.Getenv("SHOPTRACK_BACKUP_PASSPHRASE")
		key, err := bm.RunNow(ctx, pass)
		if err != nil {
			logger.Error("backup failed", "error", err)
			os.Exit(1)
		}
		fmt.Println(key)
	case "backups":
		snapshots, err := bm.List(ctx)
		if err != nil {
			logger.Error("list backups failed", "error", err)
			os.Exit(1)
		}
		for _, s := range snapshots {
			fmt.Printf("%s\t%d\t%s\n", s.Key, s.SizeBytes, s.CreatedAt.Format(time.RFC3339))
		}
	case "restore":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: shoptrack-agent restore <key>")
			os.Exit(2)
		}
		pass := os.Getenv("SHOPTRACK_BACKUP_PASSPHRASE")
		if err := bm.Restore(ctx, args[1], pass); err != nil {
			logger.Error("restore failed", "error", err)
			os.Exit(1)
		}
		fmt.Println("restore complete, restart the agent")
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (sync, backup, backups, restore)\n", args[0])
		os.Exit(2)
	}
}
