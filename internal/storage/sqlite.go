package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "ctfwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

const (
	milestoneDay  = "day"
	milestoneHour = "hour"
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadSubscriptions(ctx context.Context) (Subscriptions, error) {
	out := Subscriptions{Teams: map[int64][]string{}, Timezones: map[int64]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT chat_id FROM subscribers ORDER BY chat_id`)
	if err != nil {
		return Subscriptions{}, err
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return Subscriptions{}, err
		}
		out.All = append(out.All, id)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT chat_id, team FROM team_subscriptions ORDER BY chat_id, pos`)
	if err != nil {
		return Subscriptions{}, err
	}
	for rows.Next() {
		var (
			id   int64
			team string
		)
		if err := rows.Scan(&id, &team); err != nil {
			rows.Close()
			return Subscriptions{}, err
		}
		out.Teams[id] = append(out.Teams[id], team)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT chat_id, offset_hours FROM timezones`)
	if err != nil {
		return Subscriptions{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var off int
		if err := rows.Scan(&id, &off); err != nil {
			return Subscriptions{}, err
		}
		out.Timezones[id] = off
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSubscriptions(ctx context.Context, subs Subscriptions) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{`DELETE FROM subscribers`, `DELETE FROM team_subscriptions`, `DELETE FROM timezones`} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		for _, id := range subs.All {
			if _, err := tx.ExecContext(ctx, `INSERT INTO subscribers(chat_id) VALUES(?)`, id); err != nil {
				return err
			}
		}
		for id, teams := range subs.Teams {
			for pos, team := range teams {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO team_subscriptions(chat_id, team, pos) VALUES(?,?,?)`, id, team, pos); err != nil {
					return err
				}
			}
		}
		for id, off := range subs.Timezones {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO timezones(chat_id, offset_hours) VALUES(?,?)`, id, off); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadLedger(ctx context.Context) (Ledger, error) {
	var out Ledger
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, milestone, warned_at, finish FROM ledger ORDER BY event_id`)
	if err != nil {
		return Ledger{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e          LedgerEntry
			milestone  string
			warnedAtMS int64
			finishMS   int64
		)
		if err := rows.Scan(&e.EventID, &milestone, &warnedAtMS, &finishMS); err != nil {
			return Ledger{}, err
		}
		e.WarnedAt = time.UnixMilli(warnedAtMS).UTC()
		if finishMS != 0 {
			e.Finish = time.UnixMilli(finishMS).UTC()
		}
		switch milestone {
		case milestoneDay:
			out.Day = append(out.Day, e)
		case milestoneHour:
			out.Hour = append(out.Hour, e)
		default:
			s.log.Warn("unknown ledger milestone", logx.String("milestone", milestone), logx.Int64("event_id", e.EventID))
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveLedger(ctx context.Context, l Ledger) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ledger`); err != nil {
			return err
		}
		insert := func(milestone string, entries []LedgerEntry) error {
			for _, e := range entries {
				var finish int64
				if !e.Finish.IsZero() {
					finish = e.Finish.UnixMilli()
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO ledger(event_id, milestone, warned_at, finish) VALUES(?,?,?,?)`,
					e.EventID, milestone, e.WarnedAt.UnixMilli(), finish); err != nil {
					return err
				}
			}
			return nil
		}
		if err := insert(milestoneDay, l.Day); err != nil {
			return err
		}
		return insert(milestoneHour, l.Hour)
	})
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, chat_id, username, action, target, ok) VALUES(?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ChatID, nullStr(e.Username), e.Action, nullStr(e.Target), e.OK,
	)
	return err
}

func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
