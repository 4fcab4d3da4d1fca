package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"datanerd/internal/catalog"
	"datanerd/internal/errs"
	"datanerd/internal/logging"
)

// sqliteDriver serves the embedded-olap backend. The database is treated
// as a single-writer resource: one pooled connection, WAL journaling, and
// a write-lock probe at open so a foreign writer is detected before the
// first query.
type sqliteDriver struct{}

type sqliteHandle struct {
	db   *sql.DB
	path string
}

func (h *sqliteHandle) Backend() string { return catalog.BackendEmbedded }

func (d *sqliteDriver) Open(ctx context.Context, conn catalog.Connection) (Handle, error) {
	timer := logging.StartTimer(logging.CategoryDriver, "open embedded-olap")
	defer timer.Stop()

	if conn.Path == "" {
		return nil, errs.New(errs.KindBackend, "embedded-olap connection has no path")
	}

	db, err := sql.Open("sqlite", conn.Path)
	if err != nil {
		return nil, errs.Wrap(fmt.Errorf("%w: %w", ErrUnreachable, err),
			errs.KindBackend, fmt.Sprintf("cannot open embedded database at %s", conn.Path))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		logging.DriverDebug("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		logging.DriverDebug("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = NORMAL"); err != nil {
		logging.DriverDebug("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errs.Wrap(fmt.Errorf("%w: %w", ErrUnreachable, err),
			errs.KindBackend, fmt.Sprintf("cannot reach embedded database at %s", conn.Path))
	}

	if err := probeWriteLock(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Driver("opened embedded-olap database at %s", conn.Path)
	return &sqliteHandle{db: db, path: conn.Path}, nil
}

// probeWriteLock takes and releases an immediate transaction. A foreign
// writer holding the database surfaces here instead of on the first user
// query.
func probeWriteLock(ctx context.Context, db *sql.DB) error {
	c, err := db.Conn(ctx)
	if err != nil {
		return errs.Wrap(fmt.Errorf("%w: %w", ErrUnreachable, err),
			errs.KindBackend, "cannot acquire a connection for the lock probe")
	}
	defer c.Close()

	if _, err := c.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		if isLockedErr(err) {
			return errs.Wrap(fmt.Errorf("%w: %w", ErrLocked, err),
				errs.KindBackend, "embedded database is locked by another writer").
				WithHint("stop the other process holding the database, or point the catalog at a different path")
		}
		return errs.Wrap(err, errs.KindBackend, "write-lock probe failed")
	}
	if _, err := c.ExecContext(ctx, "ROLLBACK"); err != nil {
		return errs.Wrap(err, errs.KindBackend, "write-lock probe rollback failed")
	}
	return nil
}

func isLockedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

func (d *sqliteDriver) Execute(ctx context.Context, h Handle, text string, params []any) (*RowSet, error) {
	sh, ok := h.(*sqliteHandle)
	if !ok {
		return nil, errs.New(errs.KindBackend, "handle does not belong to the embedded-olap driver")
	}

	timer := logging.StartTimer(logging.CategoryDriver, "execute")
	defer timer.Stop()

	rows, err := sh.db.QueryContext(ctx, text, params...)
	if err != nil {
		return nil, execError(ctx, err, text)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, execError(ctx, err, text)
	}

	rs := &RowSet{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, execError(ctx, err, text)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, execError(ctx, err, text)
	}
	return rs, nil
}

// execError classifies an execution failure: a blown deadline is a Timeout
// with a narrowing hint, anything else is a BackendError carrying the
// emitted text for diagnostics.
func execError(ctx context.Context, err error, text string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.Wrap(err, errs.KindTimeout, "query timed out").
			WithHint("reduce the number of dimensions or lower the limit")
	}
	return errs.Wrap(err, errs.KindBackend, "embedded backend rejected the query").
		WithValue(text)
}

func (d *sqliteDriver) Close(h Handle) error {
	sh, ok := h.(*sqliteHandle)
	if !ok || sh.db == nil {
		return nil
	}
	logging.DriverDebug("closing embedded-olap database at %s", sh.path)
	return sh.db.Close()
}
