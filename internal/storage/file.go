package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "ctfwatch/pkg/logx"
)

// fileStore keeps each state section in its own JSON snapshot.
//
// Files:
//   - <prefix>.subscriptions.json
//   - <prefix>.ledger.json
//   - <prefix>.audit.jsonl (append-only JSON Lines)
//
// Snapshots are written to a temp file and renamed over the old one so a
// crash mid-write leaves the previous snapshot intact.
type fileStore struct {
	log logx.Logger

	mu         sync.Mutex
	subsPath   string
	ledgerPath string
	auditFile  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix))
	return &fileStore{
		log:        log,
		subsPath:   prefix + ".subscriptions.json",
		ledgerPath: prefix + ".ledger.json",
		auditFile:  af,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) LoadSubscriptions(ctx context.Context) (Subscriptions, error) {
	_ = ctx
	var out Subscriptions
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := readSnapshot(s.subsPath, &out); err != nil {
		return Subscriptions{}, err
	}
	return out, nil
}

func (s *fileStore) SaveSubscriptions(ctx context.Context, subs Subscriptions) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return writeSnapshot(s.subsPath, subs)
}

func (s *fileStore) LoadLedger(ctx context.Context) (Ledger, error) {
	_ = ctx
	var out Ledger
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := readSnapshot(s.ledgerPath, &out); err != nil {
		return Ledger{}, err
	}
	return out, nil
}

func (s *fileStore) SaveLedger(ctx context.Context, l Ledger) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return writeSnapshot(s.ledgerPath, l)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// readSnapshot decodes path into out. A missing file leaves out untouched.
func readSnapshot(path string, out any) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeSnapshot(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
