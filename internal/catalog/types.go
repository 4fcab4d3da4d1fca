// Package catalog loads, validates, and serves the YAML semantic model:
// metrics, dimensions, canonical datasets, and the backend connection.
// A loaded catalog is immutable; Reload builds and validates a complete
// replacement before atomically swapping it in.
package catalog

// Metric kinds.
const (
	MetricSimple  = "simple"
	MetricDerived = "derived"
)

// Dimension kinds.
const (
	DimensionCategorical = "categorical"
	DimensionTemporal    = "temporal"
)

// Backends a connection may name. Only the embedded backend ships a
// driver; the others are reachable through the driver registry.
const (
	BackendEmbedded  = "embedded-olap"
	BackendColumnar  = "columnar-cloud"
	BackendLakehouse = "lakehouse"
	BackendRelational = "relational"
)

// Aggregations permitted on a simple metric.
var Aggregations = map[string]bool{
	"sum":            true,
	"count":          true,
	"count_distinct": true,
	"avg":            true,
	"min":            true,
	"max":            true,
}

// Metric is one business measure. Simple metrics aggregate a column;
// derived metrics combine other metrics through a restricted arithmetic
// formula.
type Metric struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
	Kind        string `yaml:"kind"`

	// Simple metric fields.
	Table       string   `yaml:"table,omitempty"`
	Aggregation string   `yaml:"aggregation,omitempty"`
	Column      string   `yaml:"column,omitempty"`
	Filters     []string `yaml:"filters,omitempty"`

	// Derived metric field.
	Formula string `yaml:"formula,omitempty"`
}

// Dimension is a grouping column or templated expression.
type Dimension struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Kind        string `yaml:"kind"`
	Table       string `yaml:"table"`

	// Exactly one of Column and SQLTemplate is set.
	Column      string `yaml:"column,omitempty"`
	SQLTemplate string `yaml:"sql_template,omitempty"`

	// Granularity labels temporal dimensions (month, quarter, year, ...).
	Granularity string `yaml:"granularity,omitempty"`

	// JoinKey optionally overrides the first-common-column join rule when
	// this dimension pulls in its table.
	JoinKey string `yaml:"join_key,omitempty"`

	// SampleValues feed the classifier's filter-token extraction and the
	// get_dimension_values fallback.
	SampleValues []string `yaml:"sample_values,omitempty"`
}

// Temporal reports whether the dimension is time-shaped.
func (d Dimension) Temporal() bool { return d.Kind == DimensionTemporal }

// Dataset is a curated bundle of metrics and dimensions.
type Dataset struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Metrics       []string `yaml:"metrics"`
	Dimensions    []string `yaml:"dimensions"`
	TimeDimension string   `yaml:"time_dimension,omitempty"`
	Refresh       string   `yaml:"refresh,omitempty"`
}

// Connection describes the OLAP backend. String fields accept ${VAR}
// environment references, resolved at load.
type Connection struct {
	Backend string `yaml:"backend"`

	// embedded-olap
	Path string `yaml:"path,omitempty"`

	// relational
	DSN string `yaml:"dsn,omitempty"`

	// columnar-cloud
	Account   string `yaml:"account,omitempty"`
	Warehouse string `yaml:"warehouse,omitempty"`
	Database  string `yaml:"database,omitempty"`
	User      string `yaml:"user,omitempty"`
	Password  string `yaml:"password,omitempty"`

	// lakehouse
	Endpoint string `yaml:"endpoint,omitempty"`
	Token    string `yaml:"token,omitempty"`
	Schema   string `yaml:"schema,omitempty"`
}

// requiredConnectionFields maps each backend to the fields that must be
// non-empty (after interpolation) for the backend to be usable.
var requiredConnectionFields = map[string][]string{
	BackendEmbedded:   {"path"},
	BackendRelational: {"dsn"},
	BackendColumnar:   {"account", "database", "user", "password"},
	BackendLakehouse:  {"endpoint", "token"},
}

// Catalog is the validated, immutable semantic model.
type Catalog struct {
	Metrics    []Metric
	Dimensions []Dimension
	Datasets   []Dataset
	Connection Connection

	metricIdx  map[string]int
	dimIdx     map[string]int
	datasetIdx map[string]int

	// tableCols holds, per table, the explicitly declared columns in
	// catalog order. Template references do not count as declarations;
	// that is what makes a bad template reference detectable at query
	// time.
	tableCols map[string][]string
	tableSet  map[string]map[string]bool
}

// document is the YAML envelope. Unknown keys are ignored.
type document struct {
	SemanticModel struct {
		Metrics    []Metric    `yaml:"metrics"`
		Dimensions []Dimension `yaml:"dimensions"`
		Datasets   []Dataset   `yaml:"canonical_datasets"`
		Connection Connection  `yaml:"connection"`
	} `yaml:"semantic_model"`
}
