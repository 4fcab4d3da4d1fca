package catalog

import (
	"sync/atomic"

	"datanerd/internal/errs"
	"datanerd/internal/logging"
)

// Metric looks a metric up by name, returning CatalogMiss with the
// closest defined names when absent.
func (c *Catalog) Metric(name string) (Metric, error) {
	if idx, ok := c.metricIdx[name]; ok {
		return c.Metrics[idx], nil
	}
	return Metric{}, errs.New(errs.KindCatalogMiss, "Metric not found").
		WithValue(name).
		WithHint("list_metrics shows every defined metric").
		WithAlternatives(c.suggestMetrics(name)...)
}

// Dimension looks a dimension up by name.
func (c *Catalog) Dimension(name string) (Dimension, error) {
	if idx, ok := c.dimIdx[name]; ok {
		return c.Dimensions[idx], nil
	}
	return Dimension{}, errs.New(errs.KindCatalogMiss, "Dimension not found").
		WithValue(name).
		WithHint("list_dimensions shows every defined dimension").
		WithAlternatives(c.suggestDimensions(name)...)
}

// Dataset looks a canonical dataset up by name.
func (c *Catalog) Dataset(name string) (Dataset, error) {
	if idx, ok := c.datasetIdx[name]; ok {
		return c.Datasets[idx], nil
	}
	names := make([]string, 0, len(c.Datasets))
	for _, ds := range c.Datasets {
		names = append(names, ds.Name)
	}
	return Dataset{}, errs.New(errs.KindCatalogMiss, "Dataset not found").
		WithValue(name).
		WithAlternatives(suggest(name, names)...)
}

// MetricIndex returns the declaration position of a metric, for stable
// tie-breaking. Unknown names sort last.
func (c *Catalog) MetricIndex(name string) int {
	if idx, ok := c.metricIdx[name]; ok {
		return idx
	}
	return len(c.Metrics)
}

// DimensionIndex returns the declaration position of a dimension.
func (c *Catalog) DimensionIndex(name string) int {
	if idx, ok := c.dimIdx[name]; ok {
		return idx
	}
	return len(c.Dimensions)
}

// TableColumns returns the explicitly declared columns of a table in
// declaration order.
func (c *Catalog) TableColumns(table string) []string {
	return c.tableCols[table]
}

// TableHasColumn reports whether the catalog declares the column on the
// table.
func (c *Catalog) TableHasColumn(table, column string) bool {
	return c.tableSet[table][column]
}

// CommonColumn returns the first column declared on the left table that
// the right table also declares. This is the conservative default join
// key.
func (c *Catalog) CommonColumn(left, right string) (string, bool) {
	rightSet := c.tableSet[right]
	for _, col := range c.tableCols[left] {
		if rightSet[col] {
			return col, true
		}
	}
	return "", false
}

// Store serves the current catalog and swaps in replacements atomically.
// Readers hold a *Catalog snapshot and never observe a partial reload.
type Store struct {
	path string
	cur  atomic.Pointer[Catalog]
}

// Open loads the catalog at path and wraps it in a Store.
func Open(path string) (*Store, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path}
	s.cur.Store(c)
	return s, nil
}

// NewStore wraps an already built catalog; tests and embedders use this.
func NewStore(c *Catalog) *Store {
	s := &Store{}
	s.cur.Store(c)
	return s
}

// Current returns the active catalog snapshot.
func (s *Store) Current() *Catalog {
	return s.cur.Load()
}

// Reload builds and validates a fresh catalog from the original path and
// swaps it in. On failure the current catalog stays in place.
func (s *Store) Reload() error {
	if s.path == "" {
		return errs.New(errs.KindCatalogInvalid, "store was not opened from a file")
	}
	c, err := Load(s.path)
	if err != nil {
		logging.Get(logging.CategoryCatalog).Warn("reload failed, keeping current catalog: %v", err)
		return err
	}
	s.cur.Store(c)
	logging.Catalog("catalog reloaded from %s", s.path)
	return nil
}
