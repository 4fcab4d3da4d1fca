package mcp

import (
	"context"
	"fmt"
	"strings"
)

// MetricInfo is the structured mirror of one catalog metric.
type MetricInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
	Aggregation string `json:"aggregation,omitempty"`
	Formula     string `json:"formula,omitempty"`
}

// DimensionInfo is the structured mirror of one catalog dimension.
type DimensionInfo struct {
	Name         string   `json:"name"`
	DisplayName  string   `json:"display_name,omitempty"`
	Kind         string   `json:"kind"`
	Granularity  string   `json:"granularity,omitempty"`
	SampleValues []string `json:"sample_values,omitempty"`
}

// DatasetInfo is the structured mirror of one canonical dataset.
type DatasetInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Metrics       []string `json:"metrics"`
	Dimensions    []string `json:"dimensions"`
	TimeDimension string   `json:"time_dimension,omitempty"`
	Refresh       string   `json:"refresh,omitempty"`
}

// DimensionValue is one distinct value with its row count. Template
// dimensions fall back to declared sample values, which carry no count.
type DimensionValue struct {
	Value string `json:"value"`
	Rows  *int64 `json:"rows,omitempty"`
}

type emptyInput struct{}

type listMetricsOutput struct {
	Metrics []MetricInfo `json:"metrics"`
}

type listDimensionsOutput struct {
	Dimensions []DimensionInfo `json:"dimensions"`
}

type listDatasetsOutput struct {
	Datasets []DatasetInfo `json:"datasets"`
}

type explainMetricInput struct {
	Name string `json:"name"`
}

type explainMetricOutput struct {
	MetricInfo
	Table   string   `json:"table,omitempty"`
	Column  string   `json:"column,omitempty"`
	Filters []string `json:"filters,omitempty"`
}

type dimensionValuesInput struct {
	Dimension string `json:"dimension"`
	Limit     int    `json:"limit,omitempty"`
}

type dimensionValuesOutput struct {
	Dimension string           `json:"dimension,omitempty"`
	Values    []DimensionValue `json:"values,omitempty"`
}

func (s *Server) registerCatalogTools() {
	addTool(s, "list_metrics",
		"List every metric in the semantic catalog with its kind and description.",
		nil,
		func(_ context.Context, _ emptyInput) (string, listMetricsOutput, error) {
			cat := s.store.Current()
			out := listMetricsOutput{Metrics: make([]MetricInfo, 0, len(cat.Metrics))}
			var b strings.Builder
			b.WriteString("## Metrics\n\n")
			for _, m := range cat.Metrics {
				out.Metrics = append(out.Metrics, MetricInfo{
					Name:        m.Name,
					DisplayName: m.DisplayName,
					Description: m.Description,
					Kind:        m.Kind,
					Aggregation: m.Aggregation,
					Formula:     m.Formula,
				})
				fmt.Fprintf(&b, "- `%s`", m.Name)
				if m.DisplayName != "" {
					fmt.Fprintf(&b, " (%s)", m.DisplayName)
				}
				fmt.Fprintf(&b, " [%s]", m.Kind)
				if m.Description != "" {
					fmt.Fprintf(&b, " — %s", m.Description)
				}
				b.WriteString("\n")
			}
			return b.String(), out, nil
		})

	addTool(s, "list_dimensions",
		"List every dimension in the semantic catalog with its kind and sample values.",
		nil,
		func(_ context.Context, _ emptyInput) (string, listDimensionsOutput, error) {
			cat := s.store.Current()
			out := listDimensionsOutput{Dimensions: make([]DimensionInfo, 0, len(cat.Dimensions))}
			var b strings.Builder
			b.WriteString("## Dimensions\n\n")
			for _, d := range cat.Dimensions {
				out.Dimensions = append(out.Dimensions, DimensionInfo{
					Name:         d.Name,
					DisplayName:  d.DisplayName,
					Kind:         d.Kind,
					Granularity:  d.Granularity,
					SampleValues: d.SampleValues,
				})
				fmt.Fprintf(&b, "- `%s` [%s]", d.Name, d.Kind)
				if d.Granularity != "" {
					fmt.Fprintf(&b, " (%s)", d.Granularity)
				}
				if len(d.SampleValues) > 0 {
					fmt.Fprintf(&b, " — e.g. %s", strings.Join(d.SampleValues, ", "))
				}
				b.WriteString("\n")
			}
			return b.String(), out, nil
		})

	addTool(s, "list_canonical_datasets",
		"List the curated datasets: bundles of metrics and dimensions known to be analyzed together.",
		nil,
		func(_ context.Context, _ emptyInput) (string, listDatasetsOutput, error) {
			cat := s.store.Current()
			out := listDatasetsOutput{Datasets: make([]DatasetInfo, 0, len(cat.Datasets))}
			var b strings.Builder
			b.WriteString("## Canonical datasets\n\n")
			for _, ds := range cat.Datasets {
				out.Datasets = append(out.Datasets, DatasetInfo{
					Name:          ds.Name,
					Description:   ds.Description,
					Metrics:       ds.Metrics,
					Dimensions:    ds.Dimensions,
					TimeDimension: ds.TimeDimension,
					Refresh:       ds.Refresh,
				})
				fmt.Fprintf(&b, "### %s\n\n", ds.Name)
				if ds.Description != "" {
					fmt.Fprintf(&b, "%s\n\n", ds.Description)
				}
				fmt.Fprintf(&b, "- metrics: %s\n", strings.Join(ds.Metrics, ", "))
				fmt.Fprintf(&b, "- dimensions: %s\n", strings.Join(ds.Dimensions, ", "))
				if ds.TimeDimension != "" {
					fmt.Fprintf(&b, "- time dimension: %s\n", ds.TimeDimension)
				}
				b.WriteString("\n")
			}
			return b.String(), out, nil
		})

	addTool(s, "explain_metric",
		"Explain how one metric is computed: aggregation, source table, filters, or formula.",
		[]string{"name"},
		func(_ context.Context, in explainMetricInput) (string, explainMetricOutput, error) {
			if err := validIdent("metric name", in.Name); err != nil {
				return "", explainMetricOutput{}, err
			}
			cat := s.store.Current()
			m, err := cat.Metric(in.Name)
			if err != nil {
				return "", explainMetricOutput{}, err
			}
			out := explainMetricOutput{
				MetricInfo: MetricInfo{
					Name:        m.Name,
					DisplayName: m.DisplayName,
					Description: m.Description,
					Kind:        m.Kind,
					Aggregation: m.Aggregation,
					Formula:     m.Formula,
				},
				Table:   m.Table,
				Column:  m.Column,
				Filters: m.Filters,
			}

			var b strings.Builder
			title := m.Name
			if m.DisplayName != "" {
				title = fmt.Sprintf("%s (`%s`)", m.DisplayName, m.Name)
			}
			fmt.Fprintf(&b, "## %s\n\n", title)
			if m.Description != "" {
				fmt.Fprintf(&b, "%s\n\n", m.Description)
			}
			if m.Formula != "" {
				fmt.Fprintf(&b, "Derived metric: `%s`\n", m.Formula)
			} else {
				fmt.Fprintf(&b, "Computed as `%s(%s)` over `%s`.\n", m.Aggregation, m.Column, m.Table)
				for _, f := range m.Filters {
					fmt.Fprintf(&b, "- filter: `%s`\n", f)
				}
			}
			return b.String(), out, nil
		})

	addTool(s, "get_dimension_values",
		"List the distinct values of a dimension with row counts, for building filters.",
		[]string{"dimension"},
		func(ctx context.Context, in dimensionValuesInput) (string, dimensionValuesOutput, error) {
			if err := validIdent("dimension name", in.Dimension); err != nil {
				return "", dimensionValuesOutput{}, err
			}
			res, err := s.analyst.DimensionValues(ctx, in.Dimension, in.Limit)
			if err != nil {
				return "", dimensionValuesOutput{}, err
			}

			out := dimensionValuesOutput{Dimension: in.Dimension, Values: make([]DimensionValue, 0, len(res.Rows))}
			for _, row := range res.Rows {
				v := DimensionValue{Value: fmt.Sprint(row[0])}
				if len(row) > 1 && row[1] != nil {
					n := toInt64(row[1])
					v.Rows = &n
				}
				out.Values = append(out.Values, v)
			}

			var b strings.Builder
			fmt.Fprintf(&b, "## Values of `%s`\n\n", in.Dimension)
			b.WriteString(markdownTable(res))
			return b.String(), out, nil
		})
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
