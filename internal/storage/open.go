package storage

import (
	"context"
	"errors"
	"strings"

	logx "ctfwatch/pkg/logx"
)

// Store is the persistence API used by the engine and the command layer.
type Store interface {
	LoadSubscriptions(ctx context.Context) (Subscriptions, error)
	SaveSubscriptions(ctx context.Context, s Subscriptions) error
	LoadLedger(ctx context.Context) (Ledger, error)
	SaveLedger(ctx context.Context, l Ledger) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "none":
		log.Warn("memory storage selected; state will not survive restarts")
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
