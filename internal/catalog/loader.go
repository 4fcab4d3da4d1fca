package catalog

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"datanerd/internal/errs"
	"datanerd/internal/expr"
	"datanerd/internal/grammar"
	"datanerd/internal/logging"
)

// maxEnvValueLen rejects oversized environment values before they reach a
// connection field.
const maxEnvValueLen = 4096

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and validates the catalog file.
func Load(path string) (*Catalog, error) {
	timer := logging.StartTimer(logging.CategoryCatalog, "Load")
	defer timer.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindCatalogInvalid, "cannot read catalog file").WithValue(path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}
	logging.Catalog("loaded catalog: %d metrics, %d dimensions, %d datasets, backend=%s",
		len(c.Metrics), len(c.Dimensions), len(c.Datasets), c.Connection.Backend)
	return c, nil
}

// Parse unmarshals and fully validates a catalog document. The returned
// catalog is ready to serve; on error nothing partial escapes.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errs.Wrap(err, errs.KindCatalogInvalid, "malformed YAML")
	}

	c := &Catalog{
		Metrics:    doc.SemanticModel.Metrics,
		Dimensions: doc.SemanticModel.Dimensions,
		Datasets:   doc.SemanticModel.Datasets,
		Connection: doc.SemanticModel.Connection,
	}

	if err := c.validateMetrics(); err != nil {
		return nil, err
	}
	if err := c.validateDimensions(); err != nil {
		return nil, err
	}
	if err := c.buildIndexes(); err != nil {
		return nil, err
	}
	if err := c.validateFormulas(); err != nil {
		return nil, err
	}
	if err := c.validateDatasets(); err != nil {
		return nil, err
	}
	if err := interpolateConnection(&c.Connection); err != nil {
		return nil, err
	}
	if err := validateConnection(&c.Connection); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validateMetrics() error {
	seen := make(map[string]bool, len(c.Metrics))
	for i, m := range c.Metrics {
		where := fmt.Sprintf("metric #%d", i+1)
		if m.Name != "" {
			where = "metric " + m.Name
		}
		if err := grammar.ValidateIdent(m.Name); err != nil {
			return errs.Wrap(err, errs.KindCatalogInvalid, where+": bad name").WithValue(m.Name)
		}
		if m.Name != strings.ToLower(m.Name) {
			return errs.New(errs.KindCatalogInvalid, where+": metric names are lowercase").WithValue(m.Name)
		}
		if seen[m.Name] {
			return errs.New(errs.KindCatalogInvalid, "duplicate metric name").WithValue(m.Name)
		}
		seen[m.Name] = true

		switch m.Kind {
		case MetricSimple:
			if err := grammar.ValidateIdent(m.Table); err != nil {
				return errs.Wrap(err, errs.KindCatalogInvalid, where+": bad table").WithValue(m.Table)
			}
			if !Aggregations[m.Aggregation] {
				return errs.New(errs.KindCatalogInvalid, where+": unknown aggregation").
					WithValue(m.Aggregation).
					WithAlternatives("sum", "count", "count_distinct", "avg", "min", "max")
			}
			if err := grammar.ValidateIdent(m.Column); err != nil {
				return errs.Wrap(err, errs.KindCatalogInvalid, where+": bad column").WithValue(m.Column)
			}
			if _, err := grammar.ValidatePredicates(m.Filters); err != nil {
				return errs.Wrap(err, errs.KindCatalogInvalid, where+": bad filter")
			}
		case MetricDerived:
			if strings.TrimSpace(m.Formula) == "" {
				return errs.New(errs.KindCatalogInvalid, where+": derived metric needs a formula")
			}
		default:
			return errs.New(errs.KindCatalogInvalid, where+": unknown metric kind").
				WithValue(m.Kind).
				WithAlternatives(MetricSimple, MetricDerived)
		}
	}
	return nil
}

func (c *Catalog) validateDimensions() error {
	seen := make(map[string]bool, len(c.Dimensions))
	for i, d := range c.Dimensions {
		where := fmt.Sprintf("dimension #%d", i+1)
		if d.Name != "" {
			where = "dimension " + d.Name
		}
		if err := grammar.ValidateIdent(d.Name); err != nil {
			return errs.Wrap(err, errs.KindCatalogInvalid, where+": bad name").WithValue(d.Name)
		}
		if seen[d.Name] {
			return errs.New(errs.KindCatalogInvalid, "duplicate dimension name").WithValue(d.Name)
		}
		seen[d.Name] = true

		if d.Kind != DimensionCategorical && d.Kind != DimensionTemporal {
			return errs.New(errs.KindCatalogInvalid, where+": unknown dimension kind").
				WithValue(d.Kind).
				WithAlternatives(DimensionCategorical, DimensionTemporal)
		}
		if err := grammar.ValidateIdent(d.Table); err != nil {
			return errs.Wrap(err, errs.KindCatalogInvalid, where+": bad table").WithValue(d.Table)
		}
		hasColumn := d.Column != ""
		hasTemplate := d.SQLTemplate != ""
		if hasColumn == hasTemplate {
			return errs.New(errs.KindCatalogInvalid, where+": exactly one of column and sql_template is required")
		}
		if hasColumn {
			if err := grammar.ValidateIdent(d.Column); err != nil {
				return errs.Wrap(err, errs.KindCatalogInvalid, where+": bad column").WithValue(d.Column)
			}
		}
		if hasTemplate {
			if _, err := ParseTemplate(d.SQLTemplate); err != nil {
				return errs.Wrap(err, errs.KindCatalogInvalid, where+": bad sql_template")
			}
		}
		if d.Temporal() && d.Granularity == "" {
			return errs.New(errs.KindCatalogInvalid, where+": temporal dimensions need a granularity label")
		}
		if d.JoinKey != "" {
			if err := grammar.ValidateIdent(d.JoinKey); err != nil {
				return errs.Wrap(err, errs.KindCatalogInvalid, where+": bad join_key").WithValue(d.JoinKey)
			}
		}
	}
	return nil
}

// buildIndexes computes lookup maps and the per-table declared column
// sets. Declared means an explicit column, filter, or join_key field;
// template references deliberately do not count.
func (c *Catalog) buildIndexes() error {
	c.metricIdx = make(map[string]int, len(c.Metrics))
	c.dimIdx = make(map[string]int, len(c.Dimensions))
	c.datasetIdx = make(map[string]int, len(c.Datasets))
	c.tableCols = make(map[string][]string)
	c.tableSet = make(map[string]map[string]bool)

	addCol := func(table, col string) {
		if table == "" || col == "" {
			return
		}
		set, ok := c.tableSet[table]
		if !ok {
			set = make(map[string]bool)
			c.tableSet[table] = set
		}
		if !set[col] {
			set[col] = true
			c.tableCols[table] = append(c.tableCols[table], col)
		}
	}

	for i, m := range c.Metrics {
		c.metricIdx[m.Name] = i
		if m.Kind != MetricSimple {
			continue
		}
		addCol(m.Table, m.Column)
		preds, err := grammar.ValidatePredicates(m.Filters)
		if err != nil {
			return errs.Wrap(err, errs.KindCatalogInvalid, "metric "+m.Name+": bad filter")
		}
		for _, p := range preds {
			addCol(m.Table, p.Column)
		}
	}
	for i, d := range c.Dimensions {
		c.dimIdx[d.Name] = i
		addCol(d.Table, d.Column)
		addCol(d.Table, d.JoinKey)
	}
	for i, ds := range c.Datasets {
		if ds.Name == "" {
			return errs.New(errs.KindCatalogInvalid, "dataset without a name")
		}
		if _, dup := c.datasetIdx[ds.Name]; dup {
			return errs.New(errs.KindCatalogInvalid, "duplicate dataset name").WithValue(ds.Name)
		}
		c.datasetIdx[ds.Name] = i
	}
	return nil
}

// validateFormulas parses every derived formula, checks that references
// resolve to defined metrics, and rejects dependency cycles.
func (c *Catalog) validateFormulas() error {
	type state int
	const (
		white state = iota // unvisited
		gray               // on the stack
		black              // done
	)
	colors := make(map[string]state, len(c.Metrics))

	var visit func(name string, trail []string) error
	visit = func(name string, trail []string) error {
		switch colors[name] {
		case black:
			return nil
		case gray:
			cycle := append(trail, name)
			return errs.New(errs.KindCatalogInvalid, "derived metric cycle").
				WithValue(strings.Join(cycle, " -> "))
		}
		colors[name] = gray
		defer func() { colors[name] = black }()

		idx, ok := c.metricIdx[name]
		if !ok {
			return errs.New(errs.KindCatalogInvalid, "formula references unknown metric").
				WithValue(name).
				WithAlternatives(c.suggestMetrics(name)...)
		}
		m := c.Metrics[idx]
		if m.Kind != MetricDerived {
			return nil
		}
		node, err := expr.Parse(m.Formula)
		if err != nil {
			return errs.Wrap(err, errs.KindCatalogInvalid, "metric "+m.Name+": bad formula")
		}
		for _, ref := range node.Vars() {
			if err := visit(ref, append(trail, name)); err != nil {
				return err
			}
		}
		return nil
	}

	for _, m := range c.Metrics {
		if m.Kind != MetricDerived {
			continue
		}
		if err := visit(m.Name, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) validateDatasets() error {
	for _, ds := range c.Datasets {
		for _, name := range ds.Metrics {
			if _, ok := c.metricIdx[name]; !ok {
				return errs.New(errs.KindCatalogInvalid, "dataset "+ds.Name+": unknown metric").
					WithValue(name).
					WithAlternatives(c.suggestMetrics(name)...)
			}
		}
		for _, name := range ds.Dimensions {
			if _, ok := c.dimIdx[name]; !ok {
				return errs.New(errs.KindCatalogInvalid, "dataset "+ds.Name+": unknown dimension").
					WithValue(name).
					WithAlternatives(c.suggestDimensions(name)...)
			}
		}
		if ds.TimeDimension != "" {
			idx, ok := c.dimIdx[ds.TimeDimension]
			if !ok {
				return errs.New(errs.KindCatalogInvalid, "dataset "+ds.Name+": unknown time_dimension").
					WithValue(ds.TimeDimension)
			}
			if !c.Dimensions[idx].Temporal() {
				return errs.New(errs.KindCatalogInvalid, "dataset "+ds.Name+": time_dimension is not temporal").
					WithValue(ds.TimeDimension)
			}
		}
	}
	return nil
}

// interpolateConnection resolves ${VAR} references in every connection
// field from the environment. Unresolved references are left in place and
// caught by validateConnection when the field is required.
func interpolateConnection(conn *Connection) error {
	fields := []*string{
		&conn.Path, &conn.DSN,
		&conn.Account, &conn.Warehouse, &conn.Database, &conn.User, &conn.Password,
		&conn.Endpoint, &conn.Token, &conn.Schema,
	}
	for _, f := range fields {
		if *f == "" || !strings.Contains(*f, "${") {
			continue
		}
		var badEnv error
		*f = envRefRe.ReplaceAllStringFunc(*f, func(ref string) string {
			name := envRefRe.FindStringSubmatch(ref)[1]
			val, ok := os.LookupEnv(name)
			if !ok {
				return ref // left unresolved
			}
			if strings.ContainsRune(val, 0) {
				badEnv = errs.New(errs.KindCatalogInvalid, "environment value contains a null byte").WithValue(name)
				return ref
			}
			if len(val) > maxEnvValueLen {
				badEnv = errs.Newf(errs.KindCatalogInvalid, "environment value exceeds %d bytes", maxEnvValueLen).WithValue(name)
				return ref
			}
			return val
		})
		if badEnv != nil {
			return badEnv
		}
	}
	return nil
}

func validateConnection(conn *Connection) error {
	required, ok := requiredConnectionFields[conn.Backend]
	if !ok {
		return errs.New(errs.KindCatalogInvalid, "unknown backend").
			WithValue(conn.Backend).
			WithAlternatives(BackendEmbedded, BackendColumnar, BackendLakehouse, BackendRelational)
	}
	byName := map[string]string{
		"path": conn.Path, "dsn": conn.DSN,
		"account": conn.Account, "database": conn.Database,
		"user": conn.User, "password": conn.Password,
		"endpoint": conn.Endpoint, "token": conn.Token,
	}
	for _, name := range required {
		val := byName[name]
		if val == "" {
			return errs.New(errs.KindCatalogInvalid, "missing required connection field").
				WithValue(name).
				WithHint("set the field in the catalog connection block")
		}
		if envRefRe.MatchString(val) {
			return errs.New(errs.KindCatalogInvalid, "unresolved environment variable in required connection field").
				WithValue(name + "=" + val).
				WithHint("export the referenced variable before starting")
		}
	}
	return nil
}
