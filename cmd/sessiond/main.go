// Command sessiond is a minimal embedding example: it wires a backing
// Store, a logging-only Transport and Receiver stand-in, and a Session,
// then creates or starts an installation driven entirely by environment
// variables (ambient config/logging only — a real embedder supplies its
// own network Transport and UI Receiver).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	redislib "github.com/redis/go-redis/v9"

	"github.com/veilcore/sessioncore/cache"
	"github.com/veilcore/sessioncore/session"
	"github.com/veilcore/sessioncore/storage/memory"
	"github.com/veilcore/sessioncore/storage/mongodb"
	"github.com/veilcore/sessioncore/storage/mysql"
	"github.com/veilcore/sessioncore/storage/postgres"
	"github.com/veilcore/sessioncore/storage/redis"
	"github.com/veilcore/sessioncore/storage/sqlite"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "sessiond: ", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStorage(cfg)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}

	sess, err := session.New(session.Config{
		Store:     store,
		Transport: loggingTransport{logger: logger},
		Receiver:  loggingReceiver{logger: logger},
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("session: %v", err)
	}

	if err := sess.StartSession(ctx, []byte(cfg.Password)); err != nil {
		logger.Printf("start: %v, attempting to create a fresh installation", err)
		if err := sess.CreateSession(ctx, cfg.SecretName, cfg.DeviceName, []byte(cfg.Password)); err != nil {
			logger.Fatalf("create: %v", err)
		}
		if err := sess.StartSession(ctx, []byte(cfg.Password)); err != nil {
			logger.Fatalf("start after create: %v", err)
		}
	}

	logger.Printf("session running secretName=%s deviceName=%s storage=%s", cfg.SecretName, cfg.DeviceName, cfg.Storage)
	<-ctx.Done()

	sess.Shutdown()
	logger.Printf("session stopped")
}

func buildStorage(cfg Config) (cache.Store, error) {
	switch cfg.Storage {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		dsn := cfg.StorageDSN
		if dsn == "" {
			dsn = cfg.StoragePath + "/sessioncore.db"
		}
		return sqlite.New(dsn)
	case "postgres":
		if cfg.StorageDSN == "" {
			return nil, fmt.Errorf("SESSIONCORE_STORAGE_DSN is required for postgres")
		}
		return postgres.New(cfg.StorageDSN)
	case "mysql":
		if cfg.StorageDSN == "" {
			return nil, fmt.Errorf("SESSIONCORE_STORAGE_DSN is required for mysql")
		}
		return mysql.New(cfg.StorageDSN)
	case "mongodb", "mongo":
		if cfg.StorageDSN == "" {
			return nil, fmt.Errorf("SESSIONCORE_STORAGE_DSN is required for mongodb")
		}
		return mongodb.New(cfg.StorageDSN, cfg.MongoDBName)
	case "redis":
		if cfg.StorageDSN == "" {
			return nil, fmt.Errorf("SESSIONCORE_STORAGE_DSN is required for redis")
		}
		opts, err := redislib.ParseURL(cfg.StorageDSN)
		if err != nil {
			return nil, err
		}
		return redis.New(opts), nil
	default:
		return nil, fmt.Errorf("unknown storage: %s", cfg.Storage)
	}
}
