package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"datanerd/internal/errs"
)

const fixtureYAML = `
semantic_model:
  connection:
    backend: embedded-olap
    path: ./analytics.db
  metrics:
    - name: total_mrr
      display_name: Total MRR
      description: Monthly recurring revenue from active monthly subscriptions.
      kind: simple
      table: subscriptions
      aggregation: sum
      column: subscription_amount
      filters:
        - "subscription_status = 'active'"
        - "billing_frequency = 'monthly'"
    - name: active_customers
      display_name: Active Customers
      kind: simple
      table: subscriptions
      aggregation: count_distinct
      column: customer_id
      filters:
        - "subscription_status = 'active'"
    - name: monthly_customer_count
      display_name: Monthly Customer Count
      kind: simple
      table: customer_snapshots
      aggregation: count_distinct
      column: customer_id
    - name: arpu
      display_name: ARPU
      description: Average revenue per user.
      kind: derived
      formula: total_mrr / active_customers
  dimensions:
    - name: customer_segment
      display_name: Customer Segment
      kind: categorical
      table: subscriptions
      column: customer_segment
      sample_values: [Enterprise, Mid-Market, SMB]
    - name: snapshot_date
      display_name: Snapshot Date
      kind: temporal
      table: customer_snapshots
      column: snapshot_date
      granularity: day
    - name: snapshot_month
      display_name: Snapshot Month
      kind: temporal
      table: customer_snapshots
      sql_template: "strftime('%Y-%m', {{ Table }}.snapshot_date)"
      granularity: month
    - name: snapshot_quarter
      display_name: Snapshot Quarter
      kind: temporal
      table: customer_snapshots
      sql_template: "strftime('%Y', {{ Table }}.snapshot_date) || '-Q' || ((strftime('%m', {{ Table }}.snapshot_date) + 2) / 3)"
      granularity: quarter
  canonical_datasets:
    - name: customer_growth
      description: Customer count over time.
      metrics: [monthly_customer_count]
      dimensions: [snapshot_month]
      time_dimension: snapshot_month
      refresh: daily
`

func mustParse(t *testing.T, yaml string) *Catalog {
	t.Helper()
	c, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return c
}

func TestParseFixture(t *testing.T) {
	c := mustParse(t, fixtureYAML)

	if got, want := len(c.Metrics), 4; got != want {
		t.Fatalf("len(Metrics) = %d, want %d", got, want)
	}
	if got, want := len(c.Dimensions), 4; got != want {
		t.Fatalf("len(Dimensions) = %d, want %d", got, want)
	}
	if got, want := len(c.Datasets), 1; got != want {
		t.Fatalf("len(Datasets) = %d, want %d", got, want)
	}

	m, err := c.Metric("total_mrr")
	if err != nil {
		t.Fatalf("Metric(total_mrr) error: %v", err)
	}
	if got, want := m.Aggregation, "sum"; got != want {
		t.Errorf("aggregation = %q, want %q", got, want)
	}
	if got, want := len(m.Filters), 2; got != want {
		t.Errorf("len(filters) = %d, want %d", got, want)
	}

	d, err := c.Dimension("snapshot_month")
	if err != nil {
		t.Fatalf("Dimension(snapshot_month) error: %v", err)
	}
	if !d.Temporal() {
		t.Errorf("snapshot_month.Temporal() = false, want true")
	}
}

func TestParseTableColumns(t *testing.T) {
	c := mustParse(t, fixtureYAML)

	if !c.TableHasColumn("subscriptions", "customer_id") {
		t.Errorf("subscriptions.customer_id not declared")
	}
	if !c.TableHasColumn("subscriptions", "subscription_status") {
		t.Errorf("filter columns should count as declarations")
	}
	if c.TableHasColumn("subscriptions", "nonexistent") {
		t.Errorf("nonexistent column reported as declared")
	}

	// Template references are not declarations; snapshot_date is known
	// only because the plain snapshot_date dimension declares it.
	if !c.TableHasColumn("customer_snapshots", "snapshot_date") {
		t.Errorf("customer_snapshots.snapshot_date not declared")
	}

	col, ok := c.CommonColumn("customer_snapshots", "subscriptions")
	if !ok || col != "customer_id" {
		t.Errorf("CommonColumn = %q, %v, want customer_id, true", col, ok)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name string
		bad  string
	}{
		{
			name: "unknown aggregation",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  metrics:
    - {name: m, kind: simple, table: t, aggregation: median, column: c}
`,
		},
		{
			name: "unknown metric kind",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  metrics:
    - {name: m, kind: windowed, table: t, aggregation: sum, column: c}
`,
		},
		{
			name: "uppercase metric name",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  metrics:
    - {name: TotalMRR, kind: simple, table: t, aggregation: sum, column: c}
`,
		},
		{
			name: "injection in metric filter",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  metrics:
    - name: m
      kind: simple
      table: t
      aggregation: sum
      column: c
      filters: ["c = 'x'; DROP TABLE t; --"]
`,
		},
		{
			name: "formula cycle",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  metrics:
    - {name: a, kind: derived, formula: b + 1}
    - {name: b, kind: derived, formula: a + 1}
`,
		},
		{
			name: "formula references unknown metric",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  metrics:
    - {name: a, kind: derived, formula: ghost * 2}
`,
		},
		{
			name: "unsafe formula",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  metrics:
    - {name: a, kind: simple, table: t, aggregation: sum, column: c}
    - {name: b, kind: derived, formula: "__import__('os') + a"}
`,
		},
		{
			name: "dimension with both column and template",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  dimensions:
    - name: d
      kind: categorical
      table: t
      column: c
      sql_template: "strftime('%Y', {{ Table }}.c)"
`,
		},
		{
			name: "temporal dimension without granularity",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  dimensions:
    - {name: d, kind: temporal, table: t, column: c}
`,
		},
		{
			name: "unsupported template shape",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  dimensions:
    - name: d
      kind: categorical
      table: t
      sql_template: "lower({{ Table }}.c)"
`,
		},
		{
			name: "dataset references unknown dimension",
			bad: `
semantic_model:
  connection: {backend: embedded-olap, path: ./x.db}
  metrics:
    - {name: a, kind: simple, table: t, aggregation: sum, column: c}
  canonical_datasets:
    - {name: ds, metrics: [a], dimensions: [ghost]}
`,
		},
		{
			name: "unknown backend",
			bad: `
semantic_model:
  connection: {backend: quantum, path: ./x.db}
`,
		},
		{
			name: "missing required connection field",
			bad: `
semantic_model:
  connection: {backend: embedded-olap}
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.bad))
			if err == nil {
				t.Fatalf("Parse accepted invalid catalog")
			}
			if got, want := errs.KindOf(err), errs.KindCatalogInvalid; got != want {
				t.Fatalf("kind = %v, want %v (err: %v)", got, want, err)
			}
		})
	}
}

func TestParseIgnoresUnknownKeys(t *testing.T) {
	y := `
semantic_model:
  future_section: {ignored: true}
  connection: {backend: embedded-olap, path: ./x.db, pool_size: 10}
  metrics:
    - {name: a, kind: simple, table: t, aggregation: sum, column: c, owner: growth-team}
`
	if _, err := Parse([]byte(y)); err != nil {
		t.Fatalf("Parse rejected unknown keys: %v", err)
	}
}

func TestConnectionInterpolation(t *testing.T) {
	t.Run("resolves to env value", func(t *testing.T) {
		t.Setenv("ANALYTICS_DB_PATH", "/tmp/metrics.db")
		y := `
semantic_model:
  connection: {backend: embedded-olap, path: "${ANALYTICS_DB_PATH}"}
`
		c := mustParse(t, y)
		if got, want := c.Connection.Path, "/tmp/metrics.db"; got != want {
			t.Fatalf("Path = %q, want %q", got, want)
		}
	})

	t.Run("unresolved required field fails", func(t *testing.T) {
		y := `
semantic_model:
  connection: {backend: embedded-olap, path: "${DATANERD_SURELY_UNSET_VAR}"}
`
		_, err := Parse([]byte(y))
		if err == nil {
			t.Fatalf("Parse accepted unresolved required variable")
		}
		if got, want := errs.KindOf(err), errs.KindCatalogInvalid; got != want {
			t.Fatalf("kind = %v, want %v", got, want)
		}
	})

	t.Run("oversized env value rejected", func(t *testing.T) {
		t.Setenv("HUGE_VALUE", strings.Repeat("x", maxEnvValueLen+1))
		y := `
semantic_model:
  connection: {backend: embedded-olap, path: "${HUGE_VALUE}"}
`
		if _, err := Parse([]byte(y)); err == nil {
			t.Fatalf("Parse accepted oversized env value")
		}
	})
}

func TestStoreReloadAtomicSwap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(fixtureYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	before := store.Current()

	// A corrupt rewrite must not disturb the served catalog.
	if err := os.WriteFile(path, []byte("semantic_model: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err == nil {
		t.Fatalf("Reload accepted corrupt catalog")
	}
	if store.Current() != before {
		t.Fatalf("corrupt reload replaced the catalog")
	}

	// A valid rewrite swaps the pointer.
	valid := strings.Replace(fixtureYAML, "display_name: Total MRR", "display_name: Total Recurring Revenue", 1)
	if err := os.WriteFile(path, []byte(valid), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := store.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if store.Current() == before {
		t.Fatalf("valid reload kept the old catalog")
	}
	m, err := store.Current().Metric("total_mrr")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := m.DisplayName, "Total Recurring Revenue"; got != want {
		t.Fatalf("DisplayName = %q, want %q", got, want)
	}
}

func TestMetricMissSuggestions(t *testing.T) {
	c := mustParse(t, fixtureYAML)
	_, err := c.Metric("total_mr")
	if err == nil {
		t.Fatalf("Metric(total_mr) = nil error, want CatalogMiss")
	}
	e := errs.AsError(err)
	if e.Kind != errs.KindCatalogMiss {
		t.Fatalf("kind = %v, want CatalogMiss", e.Kind)
	}
	found := false
	for _, alt := range e.Alternatives {
		if alt == "total_mrr" {
			found = true
		}
	}
	if !found {
		t.Fatalf("alternatives %v missing total_mrr", e.Alternatives)
	}
}
