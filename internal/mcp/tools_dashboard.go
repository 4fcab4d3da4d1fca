package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"datanerd/internal/dashboard"
	"datanerd/internal/errs"
	"datanerd/internal/logging"
)

type saveAsInput struct {
	Name string `json:"name"`
	// Dashboard picks the artifact to keep; the default is the most
	// recently auto-saved one.
	Dashboard string `json:"dashboard,omitempty"`
}

type saveAsOutput struct {
	Name string `json:"name"`
}

type addToDashboardInput struct {
	Dashboard string `json:"dashboard"`
}

type addToDashboardOutput struct {
	Dashboard  string `json:"dashboard"`
	ChartCount int    `json:"chart_count"`
}

// DashboardSummary is one artifact in a listing.
type DashboardSummary struct {
	Name       string `json:"name"`
	ChartCount int    `json:"chart_count"`
	Generated  bool   `json:"generated"`
	CreatedAt  string `json:"created_at"`
}

type listDashboardsOutput struct {
	Dashboards []DashboardSummary `json:"dashboards,omitempty"`
}

type cleanupInput struct {
	MaxAgeDays int `json:"max_age_days,omitempty"`
}

type cleanupOutput struct {
	Removed []string `json:"removed,omitempty"`
}

func (s *Server) registerDashboardTools() {
	addTool(s, "save_as",
		"Keep a dashboard under a custom name. Named dashboards are exempt from automatic cleanup. Applies to the latest auto-saved dashboard unless one is named.",
		nil,
		func(_ context.Context, in saveAsInput) (string, saveAsOutput, error) {
			if strings.TrimSpace(in.Name) == "" {
				return "", saveAsOutput{}, errs.New(errs.KindInvalidInput, "Empty dashboard name").
					WithHint("pass the title to keep the dashboard under")
			}

			target := in.Dashboard
			if target == "" {
				last, _, ok := s.analyst.LastSaved()
				if !ok {
					return "", saveAsOutput{}, errs.New(errs.KindDashboardMissing, "Nothing to save").
						WithHint("run a query or ask a question first; answers auto-save a dashboard")
				}
				target = last
			}

			name, err := s.dashboards.Rename(target, in.Name)
			if err != nil {
				return "", saveAsOutput{}, err
			}
			s.analyst.SetLastSaved(name)
			logging.Dashboard("kept %s as %s", target, name)
			return fmt.Sprintf("Saved as `%s`. It will not be cleaned up automatically.\n", name), saveAsOutput{Name: name}, nil
		})

	addTool(s, "add_to_dashboard",
		"Append the latest chart to an existing dashboard.",
		nil,
		func(_ context.Context, in addToDashboardInput) (string, addToDashboardOutput, error) {
			if strings.TrimSpace(in.Dashboard) == "" {
				return "", addToDashboardOutput{}, errs.New(errs.KindInvalidInput, "Empty dashboard name")
			}
			_, chart, ok := s.analyst.LastSaved()
			if !ok {
				return "", addToDashboardOutput{}, errs.New(errs.KindDashboardMissing, "No chart to add").
					WithHint("run a query or ask a question first")
			}

			name := dashboard.Slugify(in.Dashboard)
			if err := s.dashboards.Append(name, chart); err != nil {
				return "", addToDashboardOutput{}, err
			}
			art, err := s.dashboards.Get(name)
			if err != nil {
				return "", addToDashboardOutput{}, err
			}
			return fmt.Sprintf("Added `%s` to `%s` (%d charts).\n", chart.Title, name, len(art.Charts)),
				addToDashboardOutput{Dashboard: name, ChartCount: len(art.Charts)}, nil
		})

	addTool(s, "list_dashboards",
		"List saved dashboards with chart counts; generated ones are subject to cleanup.",
		nil,
		func(_ context.Context, _ emptyInput) (string, listDashboardsOutput, error) {
			infos, err := s.dashboards.List()
			if err != nil {
				return "", listDashboardsOutput{}, err
			}
			out := listDashboardsOutput{Dashboards: make([]DashboardSummary, 0, len(infos))}
			var b strings.Builder
			b.WriteString("## Dashboards\n\n")
			if len(infos) == 0 {
				b.WriteString("(none)\n")
			}
			for _, info := range infos {
				out.Dashboards = append(out.Dashboards, DashboardSummary{
					Name:       info.Name,
					ChartCount: info.ChartCount,
					Generated:  info.Generated,
					CreatedAt:  info.CreatedAt.Format(time.RFC3339),
				})
				tag := "saved"
				if info.Generated {
					tag = "generated"
				}
				fmt.Fprintf(&b, "- `%s` — %d charts, %s\n", info.Name, info.ChartCount, tag)
			}
			return b.String(), out, nil
		})

	addTool(s, "cleanup_dashboards",
		"Delete generated dashboards older than the cutoff. Dashboards kept with save_as are never removed.",
		nil,
		func(_ context.Context, in cleanupInput) (string, cleanupOutput, error) {
			days := in.MaxAgeDays
			if days <= 0 {
				days = dashboard.DefaultSweepDays
			}
			removed, err := s.dashboards.Sweep(days)
			if err != nil {
				return "", cleanupOutput{}, err
			}
			if len(removed) == 0 {
				return "Nothing to clean up.\n", cleanupOutput{Removed: []string{}}, nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Removed %d generated dashboards older than %d days:\n\n", len(removed), days)
			for _, n := range removed {
				fmt.Fprintf(&b, "- %s\n", n)
			}
			return b.String(), cleanupOutput{Removed: removed}, nil
		})
}
