package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"datanerd/internal/driver"
	"datanerd/internal/plan"
)

var (
	flagQueryBy      []string
	flagQueryFilters []string
	flagQueryOrderBy string
	flagQueryDesc    bool
	flagQueryLimit   int
)

func init() {
	queryCmd.Flags().StringSliceVar(&flagQueryBy, "by", nil, "dimensions to group by")
	queryCmd.Flags().StringArrayVar(&flagQueryFilters, "filter", nil, "filter predicate, e.g. \"region = 'EMEA'\" (repeatable)")
	queryCmd.Flags().StringVar(&flagQueryOrderBy, "order-by", "", "result column to order by")
	queryCmd.Flags().BoolVar(&flagQueryDesc, "desc", false, "order descending")
	queryCmd.Flags().IntVar(&flagQueryLimit, "limit", 0, "row limit")
}

var queryCmd = &cobra.Command{
	Use:   "query <metric>",
	Short: "Run one metric through the planner directly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		req := plan.Request{
			Metric:     args[0],
			Dimensions: flagQueryBy,
			Filters:    flagQueryFilters,
			Limit:      flagQueryLimit,
		}
		if flagQueryOrderBy != "" {
			req.Order = &plan.Order{Alias: flagQueryOrderBy, Desc: flagQueryDesc}
		}

		out, err := a.analyst.Query(cmd.Context(), req)
		if err != nil {
			return err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "## %s\n\n", req.Metric)
		b.WriteString(resultTable(out.Result))
		fmt.Fprintf(&b, "\n%d rows", len(out.Result.Rows))
		if out.Cached {
			b.WriteString(" (cached)")
		}
		fmt.Fprintf(&b, "\n\n```sql\n%s\n```\n", out.Result.SQL)
		return printMarkdown(cmd, b.String())
	},
}

func resultTable(res *driver.Result) string {
	if res == nil || len(res.Columns) == 0 {
		return "(no rows)\n"
	}
	var b strings.Builder
	b.WriteString("| ")
	b.WriteString(strings.Join(res.Columns, " | "))
	b.WriteString(" |\n|")
	for range res.Columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				continue
			}
			cells[i] = fmt.Sprint(v)
		}
		b.WriteString("| ")
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |\n")
	}
	return b.String()
}
