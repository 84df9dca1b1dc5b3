package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/canvas/pkg/domain"
	"github.com/aescanero/canvas/pkg/ports"

	_ "modernc.org/sqlite"
)

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS task_records (
    id          TEXT PRIMARY KEY,
    task_name   TEXT NOT NULL DEFAULT '',
    state       TEXT NOT NULL,
    result      TEXT,
    error       TEXT,
    parent_id   TEXT NOT NULL DEFAULT '',
    forward_id  TEXT NOT NULL DEFAULT '',
    children    TEXT,
    retries     INTEGER NOT NULL DEFAULT 0,
    version     INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
)`

const selectRecord = `SELECT id, task_name, state, result, error, parent_id,
	forward_id, children, retries, version, created_at, updated_at
FROM task_records WHERE id = ?`

// maxCASAttempts bounds the optimistic update loop.
const maxCASAttempts = 32

var _ ports.ResultStore = (*ResultStore)(nil)

// ResultStore implements ports.ResultStore on SQLite. Every update is a
// compare-and-set on the version column, so records survive restarts and
// stay consistent with several processes sharing the file.
type ResultStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewResultStore opens the SQLite database at dbPath and runs migrations.
func NewResultStore(dbPath string, logger *zap.Logger) (*ResultStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createRecordsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create task_records table: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *ResultStore) Close() error {
	return s.db.Close()
}

// Create inserts a new PENDING record.
func (s *ResultStore) Create(ctx context.Context, id string, opts domain.CreateOptions) (*domain.Record, error) {
	now := s.now().UTC()
	rec := &domain.Record{
		ID:        id,
		TaskName:  opts.TaskName,
		State:     domain.StatePending,
		ParentID:  opts.ParentID,
		Children:  append([]string(nil), opts.Children...),
		CreatedAt: now,
		UpdatedAt: now,
	}

	children, err := encodeJSON(rec.Children)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_records (
			id, task_name, state, parent_id, children, retries, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		rec.ID, rec.TaskName, string(rec.State), rec.ParentID, children,
		now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		if isConstraintErr(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRecordExists, id)
		}
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

// Get retrieves a record by id.
func (s *ResultStore) Get(ctx context.Context, id string) (*domain.Record, error) {
	var (
		rec                       domain.Record
		state                     string
		result, taskErr, children sql.NullString
		createdAt, updatedAt      int64
	)
	err := s.db.QueryRowContext(ctx, selectRecord, id).Scan(
		&rec.ID, &rec.TaskName, &state, &result, &taskErr, &rec.ParentID,
		&rec.ForwardID, &children, &rec.Retries, &rec.Version, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	rec.State = domain.State(state)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()

	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &rec.Result); err != nil {
			return nil, fmt.Errorf("decode result of %s: %w", id, err)
		}
	}
	if taskErr.Valid {
		rec.Error = &domain.TaskError{}
		if err := json.Unmarshal([]byte(taskErr.String), rec.Error); err != nil {
			return nil, fmt.Errorf("decode error of %s: %w", id, err)
		}
	}
	if children.Valid {
		if err := json.Unmarshal([]byte(children.String), &rec.Children); err != nil {
			return nil, fmt.Errorf("decode children of %s: %w", id, err)
		}
	}
	return &rec, nil
}

// Transition applies a state change with a version compare-and-set.
func (s *ResultStore) Transition(ctx context.Context, id string, to domain.State, out domain.Outcome) (*domain.Record, bool, error) {
	var rec *domain.Record
	var changed bool

	err := s.update(ctx, id, func(r *domain.Record) (bool, error) {
		c, err := domain.Apply(r, to, out, s.now().UTC())
		rec, changed = r, c
		return c, err
	})
	if err != nil {
		return rec, false, err
	}
	return rec, changed, nil
}

// Forward links a record to its replacement.
func (s *ResultStore) Forward(ctx context.Context, id, to string) error {
	return s.update(ctx, id, func(r *domain.Record) (bool, error) {
		return domain.SetForward(r, to, s.now().UTC())
	})
}

// update reads the record, lets mutate change it, and writes it back only
// if nobody else bumped the version in between.
func (s *ResultStore) update(ctx context.Context, id string, mutate func(*domain.Record) (bool, error)) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		version := rec.Version

		changed, err := mutate(rec)
		if err != nil || !changed {
			return err
		}

		ok, err := s.compareAndSet(ctx, rec, version)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		s.logger.Debug("record version conflict, retrying",
			zap.String("task_id", id),
			zap.Int("attempt", attempt))
	}
	return fmt.Errorf("update record %s: too many concurrent writers", id)
}

func (s *ResultStore) compareAndSet(ctx context.Context, rec *domain.Record, version int64) (bool, error) {
	var result, taskErr any
	if rec.State == domain.StateSuccess || rec.Result != nil {
		data, err := encodeJSON(rec.Result)
		if err != nil {
			return false, err
		}
		result = data
	}
	if rec.Error != nil {
		data, err := encodeJSON(rec.Error)
		if err != nil {
			return false, err
		}
		taskErr = data
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE task_records
		SET state = ?, result = ?, error = ?, forward_id = ?, retries = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(rec.State), result, taskErr, rec.ForwardID, rec.Retries, rec.Version,
		rec.UpdatedAt.UnixNano(), rec.ID, version,
	)
	if err != nil {
		return false, fmt.Errorf("update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update record: %w", err)
	}
	return n == 1, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(data), nil
}

func isConstraintErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
