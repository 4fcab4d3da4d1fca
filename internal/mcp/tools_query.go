package mcp

import (
	"context"
	"fmt"
	"strings"

	"datanerd/internal/cache"
	"datanerd/internal/driver"
	"datanerd/internal/errs"
	"datanerd/internal/plan"
)

type queryMetricInput struct {
	Metric     string   `json:"metric"`
	Dimensions []string `json:"dimensions,omitempty"`
	Filters    []string `json:"filters,omitempty"`
	OrderBy    string   `json:"order_by,omitempty"`
	Desc       bool     `json:"desc,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

type queryOutput struct {
	Metric      string     `json:"metric,omitempty"`
	SQL         string     `json:"sql,omitempty"`
	Columns     []string   `json:"columns,omitempty"`
	Rows        [][]string `json:"rows,omitempty"`
	RowCount    int        `json:"row_count"`
	Cached      bool       `json:"cached"`
	Fingerprint string     `json:"fingerprint,omitempty"`
}

type queryDatasetInput struct {
	Dataset string `json:"dataset"`
	Metric  string `json:"metric,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type queryDatasetOutput struct {
	Dataset string        `json:"dataset,omitempty"`
	Results []queryOutput `json:"results,omitempty"`
}

type clearCacheInput struct {
	Metric  string `json:"metric,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

type clearCacheOutput struct {
	Removed int `json:"removed"`
}

func (s *Server) registerQueryTools() {
	addTool(s, "query_metric",
		"Run one metric grouped by dimensions, with optional filters, ordering, and a row limit.",
		[]string{"metric", "order_by"},
		func(ctx context.Context, in queryMetricInput) (string, queryOutput, error) {
			req, err := requestFrom(in)
			if err != nil {
				return "", queryOutput{}, err
			}
			return s.runQuery(ctx, req)
		})

	addTool(s, "query_canonical_dataset",
		"Run every metric in a canonical dataset over the dataset's dimensions. An optional metric narrows the run to one bundle member.",
		[]string{"dataset", "metric"},
		func(ctx context.Context, in queryDatasetInput) (string, queryDatasetOutput, error) {
			if err := validIdent("dataset name", in.Dataset); err != nil {
				return "", queryDatasetOutput{}, err
			}
			cat := s.store.Current()
			ds, err := cat.Dataset(in.Dataset)
			if err != nil {
				return "", queryDatasetOutput{}, err
			}

			metrics := ds.Metrics
			if in.Metric != "" {
				if err := validIdent("metric name", in.Metric); err != nil {
					return "", queryDatasetOutput{}, err
				}
				if !contains(ds.Metrics, in.Metric) {
					return "", queryDatasetOutput{}, errs.New(errs.KindInvalidInput, "Metric not in dataset").
						WithValue(in.Metric).
						WithHint(fmt.Sprintf("dataset %s carries a fixed metric list", ds.Name)).
						WithAlternatives(ds.Metrics...)
				}
				metrics = []string{in.Metric}
			}

			// The time dimension leads so the temporal default ordering
			// applies to each member query.
			dims := make([]string, 0, len(ds.Dimensions))
			if ds.TimeDimension != "" {
				dims = append(dims, ds.TimeDimension)
			}
			for _, d := range ds.Dimensions {
				if d != ds.TimeDimension {
					dims = append(dims, d)
				}
			}

			out := queryDatasetOutput{Dataset: ds.Name, Results: make([]queryOutput, 0, len(metrics))}
			var b strings.Builder
			fmt.Fprintf(&b, "# %s\n\n", ds.Name)
			if ds.Description != "" {
				fmt.Fprintf(&b, "%s\n\n", ds.Description)
			}
			for _, metric := range metrics {
				text, res, err := s.runQuery(ctx, plan.Request{Metric: metric, Dimensions: dims, Limit: in.Limit})
				if err != nil {
					return "", queryDatasetOutput{}, err
				}
				b.WriteString(text)
				b.WriteString("\n")
				out.Results = append(out.Results, res)
			}
			return b.String(), out, nil
		})

	addTool(s, "cache_stats",
		"Report query cache hit and miss counts, entry count, and configured limits.",
		nil,
		func(_ context.Context, _ emptyInput) (string, cache.Stats, error) {
			st := s.cache.Stats()
			var b strings.Builder
			b.WriteString("## Cache\n\n")
			fmt.Fprintf(&b, "- hits: %d\n- misses: %d\n- entries: %d / %d\n- ttl: %s\n",
				st.Hits, st.Misses, st.Size, st.MaxEntries, st.TTL)
			return b.String(), st, nil
		})

	addTool(s, "clear_cache",
		"Invalidate cached query results, either everything, one metric, or a fingerprint prefix.",
		[]string{"metric"},
		func(_ context.Context, in clearCacheInput) (string, clearCacheOutput, error) {
			var removed int
			switch {
			case in.Metric != "":
				if err := validIdent("metric name", in.Metric); err != nil {
					return "", clearCacheOutput{}, err
				}
				removed = s.cache.InvalidateMetric(in.Metric)
			default:
				removed = s.cache.Invalidate(in.Pattern)
			}
			return fmt.Sprintf("Removed %d cached results.\n", removed), clearCacheOutput{Removed: removed}, nil
		})
}

// requestFrom maps tool arguments onto a planner request, validating the
// identifiers the planner will echo into SQL. Filters get their full
// validation inside the planner.
func requestFrom(in queryMetricInput) (plan.Request, error) {
	if err := validIdent("metric name", in.Metric); err != nil {
		return plan.Request{}, err
	}
	for _, d := range in.Dimensions {
		if err := validIdent("dimension name", d); err != nil {
			return plan.Request{}, err
		}
	}
	req := plan.Request{
		Metric:     in.Metric,
		Dimensions: in.Dimensions,
		Filters:    in.Filters,
		Limit:      in.Limit,
	}
	if in.OrderBy != "" {
		if err := validIdent("order column", in.OrderBy); err != nil {
			return plan.Request{}, err
		}
		req.Order = &plan.Order{Alias: in.OrderBy, Desc: in.Desc}
	}
	return req, nil
}

func (s *Server) runQuery(ctx context.Context, req plan.Request) (string, queryOutput, error) {
	out, err := s.analyst.Query(ctx, req)
	if err != nil {
		return "", queryOutput{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", req.Metric)
	b.WriteString(markdownTable(out.Result))
	fmt.Fprintf(&b, "\n%d rows", len(out.Result.Rows))
	if out.Cached {
		b.WriteString(" (cached)")
	}
	fmt.Fprintf(&b, "\n\n```sql\n%s\n```\n", out.Result.SQL)

	return b.String(), queryOutput{
		Metric:      req.Metric,
		SQL:         out.Result.SQL,
		Columns:     out.Result.Columns,
		Rows:        stringRows(out.Result),
		RowCount:    len(out.Result.Rows),
		Cached:      out.Cached,
		Fingerprint: out.Fingerprint,
	}, nil
}

func stringRows(res *driver.Result) [][]string {
	rows := make([][]string, len(res.Rows))
	for i, row := range res.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		rows[i] = cells
	}
	return rows
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
