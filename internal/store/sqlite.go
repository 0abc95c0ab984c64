package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"droidpilot/internal/model"
	logx "droidpilot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const taskColumns = `id, device_name, kind, status, retry_count, not_before, files, action, last_error, createtime, updatetime`

func (s *sqliteStore) DispatchableTasks(ctx context.Context, now time.Time) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status IN (?, ?) AND not_before <= ?
		 ORDER BY id ASC`,
		string(model.StatusPending), string(model.StatusWT), now.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Task(ctx context.Context, id int64) (model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) UpdateTaskStatus(ctx context.Context, id int64, from, to model.Status, retryCount int, lastErr string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, retry_count = ?, last_error = ?, updatetime = ?
		 WHERE id = ? AND status = ?`,
		string(to), retryCount, lastErr, at.UnixMilli(), id, string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish "gone" from "status changed under us".
		if _, terr := s.Task(ctx, id); errors.Is(terr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrStaleStatus
	}
	return nil
}

func (s *sqliteStore) CreateTask(ctx context.Context, t model.Task) (int64, error) {
	if !t.Status.Valid() {
		return 0, fmt.Errorf("invalid task status %q", t.Status)
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
	files, err := marshalNullable(t.Files)
	if err != nil {
		return 0, err
	}
	action, err := marshalNullable(t.Action)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(device_name, kind, status, retry_count, not_before, files, action, last_error, createtime, updatetime)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		t.DeviceName, string(t.Kind), string(t.Status), t.RetryCount,
		unixMilliOrZero(t.NotBefore), files, action, t.LastError,
		t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListTasks(ctx context.Context, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateDevice(ctx context.Context, d model.Device) error {
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices(device_name, serial, path, password, createtime, updatetime)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(device_name) DO UPDATE SET
		   serial=excluded.serial, path=excluded.path, password=excluded.password, updatetime=excluded.updatetime`,
		d.Name, d.Serial, d.Path, d.Password, d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeviceByName(ctx context.Context, name string) (model.Device, error) {
	var (
		d                model.Device
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT device_name, serial, path, password, createtime, updatetime FROM devices WHERE device_name = ?`,
		name,
	).Scan(&d.Name, &d.Serial, &d.Path, &d.Password, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, ErrNotFound
	}
	if err != nil {
		return model.Device{}, err
	}
	d.CreatedAt = time.UnixMilli(created)
	d.UpdatedAt = time.UnixMilli(updated)
	return d, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (model.Task, error) {
	var (
		t                model.Task
		kind, status     string
		notBefore        int64
		files, action    sql.NullString
		created, updated int64
	)
	err := r.Scan(&t.ID, &t.DeviceName, &kind, &status, &t.RetryCount, &notBefore,
		&files, &action, &t.LastError, &created, &updated)
	if err != nil {
		return model.Task{}, err
	}
	t.Kind = model.Kind(kind)
	t.Status = model.Status(status)
	if notBefore > 0 {
		t.NotBefore = time.UnixMilli(notBefore)
	}
	if files.Valid && files.String != "" {
		if err := json.Unmarshal([]byte(files.String), &t.Files); err != nil {
			return model.Task{}, fmt.Errorf("task %d: files payload: %w", t.ID, err)
		}
	}
	if action.Valid && action.String != "" {
		var a model.Action
		if err := json.Unmarshal([]byte(action.String), &a); err != nil {
			return model.Task{}, fmt.Errorf("task %d: action payload: %w", t.ID, err)
		}
		t.Action = &a
	}
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	return t, nil
}

func marshalNullable(v any) (any, error) {
	switch x := v.(type) {
	case []model.FilePair:
		if len(x) == 0 {
			return nil, nil
		}
	case *model.Action:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
