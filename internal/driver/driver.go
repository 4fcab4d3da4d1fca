// Package driver executes logical queries against an analytics backend.
// Compilation is dialect-specific; only the embedded OLAP backend ships an
// in-process implementation, the remaining backends are interface stubs.
package driver

import (
	"context"
	"errors"
	"sort"
	"time"

	"datanerd/internal/catalog"
	"datanerd/internal/errs"
	"datanerd/internal/plan"
)

// Sentinel causes distinguished at startup so the process can exit with
// the right code (unreachable vs locked).
var (
	ErrUnreachable = errors.New("backend unreachable")
	ErrLocked      = errors.New("embedded database is locked by another writer")
)

// Handle is an open backend owned by the driver that produced it.
type Handle interface {
	Backend() string
}

// RowSet is the raw tabular answer. Column order matches the query's
// projections followed by the aggregate alias.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Result bundles rows with the emitted dialect text, bind parameters, and
// timing. The text is returned for transparency and never re-executed.
type Result struct {
	RowSet
	SQL     string
	Params  []any
	Elapsed time.Duration
}

// Driver compiles and runs logical queries for one backend dialect.
type Driver interface {
	Open(ctx context.Context, conn catalog.Connection) (Handle, error)
	Compile(q *plan.Query) (text string, params []any, err error)
	Execute(ctx context.Context, h Handle, text string, params []any) (*RowSet, error)
	Close(h Handle) error
}

var registry = map[string]Driver{
	catalog.BackendEmbedded:   &sqliteDriver{},
	catalog.BackendColumnar:   stubDriver{backend: catalog.BackendColumnar},
	catalog.BackendLakehouse:  stubDriver{backend: catalog.BackendLakehouse},
	catalog.BackendRelational: stubDriver{backend: catalog.BackendRelational},
}

// ForBackend resolves a backend name to its driver.
func ForBackend(name string) (Driver, error) {
	if d, ok := registry[name]; ok {
		return d, nil
	}
	alts := make([]string, 0, len(registry))
	for k := range registry {
		alts = append(alts, k)
	}
	sort.Strings(alts)
	return nil, errs.Newf(errs.KindBackend, "no driver registered for backend %q", name).
		WithValue(name).
		WithAlternatives(alts...)
}

// Run compiles and executes a query in one step.
func Run(ctx context.Context, d Driver, h Handle, q *plan.Query) (*Result, error) {
	text, params, err := d.Compile(q)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rs, err := d.Execute(ctx, h, text, params)
	if err != nil {
		return nil, err
	}
	return &Result{RowSet: *rs, SQL: text, Params: params, Elapsed: time.Since(start)}, nil
}

// stubDriver stands in for backends whose execution engine lives outside
// this process.
type stubDriver struct {
	backend string
}

func (s stubDriver) Open(context.Context, catalog.Connection) (Handle, error) {
	return nil, errs.Newf(errs.KindBackend,
		"backend %q requires an external driver; this build executes embedded-olap in process", s.backend).
		WithValue(s.backend).
		WithHint("point the catalog connection at an embedded-olap database")
}

func (s stubDriver) Compile(*plan.Query) (string, []any, error) {
	return "", nil, errs.Newf(errs.KindBackend, "backend %q has no dialect compiler in this build", s.backend)
}

func (s stubDriver) Execute(context.Context, Handle, string, []any) (*RowSet, error) {
	return nil, errs.Newf(errs.KindBackend, "backend %q has no executor in this build", s.backend)
}

func (s stubDriver) Close(Handle) error { return nil }
