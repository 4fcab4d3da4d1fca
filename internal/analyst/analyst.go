// Package analyst drives the conversational pipeline: classify the
// question, rank catalog candidates, synthesize a query request, plan and
// execute it, interpret the rows, then commit the turn to the session and
// auto-save a dashboard. A failed turn leaves the session untouched.
package analyst

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"datanerd/internal/catalog"
	"datanerd/internal/dashboard"
	"datanerd/internal/driver"
	"datanerd/internal/errs"
	"datanerd/internal/intent"
	"datanerd/internal/interpret"
	"datanerd/internal/logging"
	"datanerd/internal/plan"
	"datanerd/internal/retrieval"
	"datanerd/internal/session"
	"datanerd/internal/synth"
)

// DefaultTimeout is the per-call wall-clock budget.
const DefaultTimeout = 15 * time.Second

// Answer is the formatted outcome of one conversational turn. Guidance
// answers carry no result; they ask the user for a clearer question.
type Answer struct {
	SessionID string
	Guidance  bool
	Markdown  string

	Narrative string
	Insights  []string
	FollowUps []string
	Table     string

	Request   plan.Request
	Result    *driver.Result
	Cached    bool
	Dashboard string
}

// QueryOutcome is the direct planner-path result used by the query tools.
type QueryOutcome struct {
	Request     plan.Request
	Fingerprint string
	Result      *driver.Result
	Cached      bool
}

// Analyst owns the pipeline and its collaborators. Both process-wide
// resources, the catalog store and the cache-backed executor, are injected
// here; nothing reaches for ambient globals.
type Analyst struct {
	store      *catalog.Store
	exec       *Executor
	sessions   *session.Manager
	dashboards *dashboard.Manager
	timeout    time.Duration

	// Last auto-saved artifact and its chart, for save_as and
	// add_to_dashboard. Process-wide on purpose: those tools carry no
	// session id.
	mu        sync.Mutex
	lastName  string
	lastChart dashboard.ChartSpec
}

// New wires the pipeline. A zero timeout selects the default budget.
func New(store *catalog.Store, exec *Executor, sessions *session.Manager, dashboards *dashboard.Manager, timeout time.Duration) *Analyst {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Analyst{
		store:      store,
		exec:       exec,
		sessions:   sessions,
		dashboards: dashboards,
		timeout:    timeout,
	}
}

// Query runs the direct planner path for an explicit request, bypassing
// classification. The MCP query tools and the HTTP POST /query land here.
func (a *Analyst) Query(ctx context.Context, req plan.Request) (*QueryOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cat := a.store.Current()
	p, err := plan.NewPlanner(cat).Plan(req)
	if err != nil {
		return nil, err
	}
	res, cached, err := a.exec.Run(ctx, p)
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}
	return &QueryOutcome{
		Request:     p.Request,
		Fingerprint: p.Fingerprint,
		Result:      res,
		Cached:      cached,
	}, nil
}

// DimensionValues returns the distinct values of a categorical dimension
// with their row counts, ordered by value. Template dimensions expose no
// plain column to scan, so they fall back to the declared sample values.
func (a *Analyst) DimensionValues(ctx context.Context, name string, limit int) (*driver.Result, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cat := a.store.Current()
	d, err := cat.Dimension(name)
	if err != nil {
		return nil, err
	}
	if d.Column == "" {
		rows := make([][]any, 0, len(d.SampleValues))
		for _, v := range d.SampleValues {
			rows = append(rows, []any{v, nil})
		}
		return &driver.Result{RowSet: driver.RowSet{Columns: []string{d.Name, "rows"}, Rows: rows}}, nil
	}

	q := &plan.Query{
		Source:      d.Table,
		SourceAlias: "t",
		Projections: []plan.Projection{{
			Expr:  plan.Expr{Kind: plan.ExprColumn, Table: "t", Column: d.Column},
			Alias: d.Name,
		}},
		Aggregate: plan.Aggregate{Func: "count", Table: "t", Column: d.Column, Alias: "rows"},
		GroupBy:   []int{1},
		OrderBy:   &plan.Order{Alias: d.Name},
		Limit:     limit,
	}
	res, err := driver.Run(ctx, a.exec.drv, a.exec.h, q)
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}
	return res, nil
}

// Ask answers a free-text question within a session. An empty session id
// creates a new session; the id comes back on the Answer either way.
func (a *Analyst) Ask(ctx context.Context, question, sessionID string) (*Answer, error) {
	timer := logging.StartTimer(logging.CategoryAnalyst, "ask")
	defer timer.Stop()

	sess, release := a.sessions.Acquire(sessionID)
	defer release()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// One catalog snapshot per turn; a concurrent reload cannot mix old
	// and new entries inside a single pipeline run.
	cat := a.store.Current()

	u := intent.NewClassifier(cat).Classify(question)
	a.mergeSessionContext(&u, sess)

	if u.Intent == intent.Unknown || u.Confidence < intent.ConfidenceFloor {
		logging.Analyst("guidance for %q (intent %s, confidence %.2f)", question, u.Intent, u.Confidence)
		return &Answer{SessionID: sess.ID, Guidance: true, Markdown: a.guidance(cat)}, nil
	}

	cands := retrieval.NewRetriever(cat).Rank(u, sess.LastMetrics, sess.LastDimensions)
	if len(cands) == 0 {
		return &Answer{SessionID: sess.ID, Guidance: true, Markdown: a.guidance(cat)}, nil
	}

	req, err := synth.NewSynthesizer(cat).Synthesize(u, cands[0])
	if err != nil {
		return nil, err
	}

	p, err := plan.NewPlanner(cat).Plan(req)
	if err != nil {
		return nil, err
	}

	res, cached, err := a.exec.Run(ctx, p)
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}

	analysis := interpret.NewInterpreter(cat).Interpret(u.Intent, p.Request, res)

	ans := &Answer{
		SessionID: sess.ID,
		Narrative: analysis.Narrative,
		Insights:  analysis.Insights,
		FollowUps: analysis.FollowUps,
		Table:     analysis.Table,
		Request:   p.Request,
		Result:    res,
		Cached:    cached,
	}
	ans.Dashboard = a.autoSave(cat, u.Intent, p.Request, res)
	ans.Markdown = a.compose(cat, ans)

	sess.Commit(session.TurnRecord{
		Question:      question,
		Understanding: fmt.Sprintf("%s (%.2f)", u.Intent, u.Confidence),
		Plan:          describeRequest(p.Request),
		ResultSummary: fmt.Sprintf("%d rows", len(res.Rows)),
		Timestamp:     time.Now(),
	}, []string{p.Request.Metric}, p.Request.Dimensions, string(u.Intent), &session.Snapshot{
		Metric:     p.Request.Metric,
		Dimensions: p.Request.Dimensions,
		Intent:     string(u.Intent),
		Columns:    res.Columns,
		Rows:       res.Rows,
		SQL:        res.SQL,
	})

	logging.Analyst("answered %q for session %s: %s over %v, %d rows (cached=%v)",
		question, sess.ID, p.Request.Metric, p.Request.Dimensions, len(res.Rows), cached)
	return ans, nil
}

// mergeSessionContext makes pronoun-like follow-ups work: when the
// question names no metric but the session remembers one, reuse it, and
// fall back to the prior intent when the follow-up carries none of its own.
func (a *Analyst) mergeSessionContext(u *intent.Understanding, sess *session.State) {
	if len(u.Metrics) > 0 || len(sess.LastMetrics) == 0 {
		return
	}
	if !followUpLike(u.Question) {
		return
	}
	u.Metrics = append([]string(nil), sess.LastMetrics...)
	if u.Intent == intent.Unknown && sess.LastIntent != "" {
		u.Intent = intent.Intent(sess.LastIntent)
	}
	if u.Intent == intent.Unknown {
		u.Intent = intent.MetricQuery
	}
	if u.Confidence < 0.6 {
		u.Confidence = 0.6
	}
	logging.AnalystDebug("follow-up %q reuses session metrics %v", u.Question, u.Metrics)
}

// followUpHints open the short refinement phrasings a conversation
// produces once a metric is on the table.
var followUpHints = []string{
	"show", "now", "and ", "what about", "how about", "break", "by ",
	"trend", "compare", "over time", "same", "again",
}

func followUpLike(question string) bool {
	q := strings.ToLower(strings.TrimSpace(question))
	if len(strings.Fields(q)) <= 6 {
		return true
	}
	for _, h := range followUpHints {
		if strings.HasPrefix(q, h) || strings.Contains(q, " "+h) {
			return true
		}
	}
	return false
}

// autoSave writes the turn's dashboard artifact and remembers it for
// save_as. A write failure costs the artifact, not the answer.
func (a *Analyst) autoSave(cat *catalog.Catalog, it intent.Intent, req plan.Request, res *driver.Result) string {
	title := req.Metric
	if m, err := cat.Metric(req.Metric); err == nil && m.DisplayName != "" {
		title = m.DisplayName
	}
	if len(req.Dimensions) > 0 {
		title = fmt.Sprintf("%s by %s", title, req.Dimensions[0])
	}

	chart := dashboard.ChartSpec{
		Kind:    dashboard.Recommend(string(it), len(req.Dimensions)),
		Title:   title,
		Query:   res.SQL,
		Columns: res.Columns,
	}
	if len(req.Dimensions) > 0 {
		chart.X = req.Dimensions[0]
		chart.Y = req.Metric
	}

	name, err := a.dashboards.AutoSave(req.Metric, string(it), title, chart)
	if err != nil {
		logging.Get(logging.CategoryAnalyst).Warn("dashboard auto-save failed: %v", err)
		return ""
	}

	a.mu.Lock()
	a.lastName = name
	a.lastChart = chart
	a.mu.Unlock()
	return name
}

// LastSaved returns the most recent auto-saved artifact and its chart.
func (a *Analyst) LastSaved() (string, dashboard.ChartSpec, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastName, a.lastChart, a.lastName != ""
}

// SetLastSaved records the rename target so a save_as after save_as keeps
// working against the new name.
func (a *Analyst) SetLastSaved(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastName = name
}

// compose renders the answer markdown: narrative, insights, table,
// follow-ups, and the dashboard note.
func (a *Analyst) compose(cat *catalog.Catalog, ans *Answer) string {
	var b strings.Builder

	title := ans.Request.Metric
	if m, err := cat.Metric(ans.Request.Metric); err == nil && m.DisplayName != "" {
		title = m.DisplayName
	}
	fmt.Fprintf(&b, "## %s\n\n%s\n", title, ans.Narrative)

	if len(ans.Insights) > 0 {
		b.WriteString("\n**Insights**\n\n")
		for _, in := range ans.Insights {
			fmt.Fprintf(&b, "- %s\n", in)
		}
	}

	if ans.Table != "" {
		b.WriteString("\n")
		b.WriteString(ans.Table)
	}

	if len(ans.FollowUps) > 0 {
		b.WriteString("\n**You could ask next**\n\n")
		for _, f := range ans.FollowUps {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	if ans.Dashboard != "" {
		fmt.Fprintf(&b, "\nSaved as dashboard `%s` — use `save_as` to keep it.\n", ans.Dashboard)
	}
	return b.String()
}

// guidance is the non-error reply for questions the classifier cannot
// place: list what the catalog offers and show the shapes that work.
func (a *Analyst) guidance(cat *catalog.Catalog) string {
	var b strings.Builder
	b.WriteString("I could not match that question to a metric. Here is what I can analyze:\n\n")

	shown := 0
	for _, m := range cat.Metrics {
		if shown == 8 {
			fmt.Fprintf(&b, "- … and %d more (see `list_metrics`)\n", len(cat.Metrics)-shown)
			break
		}
		label := m.Name
		if m.DisplayName != "" {
			label = fmt.Sprintf("%s (`%s`)", m.DisplayName, m.Name)
		}
		if m.Description != "" {
			fmt.Fprintf(&b, "- %s — %s\n", label, m.Description)
		} else {
			fmt.Fprintf(&b, "- %s\n", label)
		}
		shown++
	}

	b.WriteString("\nTry questions like:\n\n")
	if len(cat.Metrics) > 0 {
		name := cat.Metrics[0].Name
		fmt.Fprintf(&b, "- \"How is %s changing over time?\"\n", name)
		if dim := firstCategorical(cat); dim != "" {
			fmt.Fprintf(&b, "- \"Compare %s by %s\"\n", name, dim)
			fmt.Fprintf(&b, "- \"Top 5 %s by %s\"\n", dim, name)
		}
	}
	return b.String()
}

func firstCategorical(cat *catalog.Catalog) string {
	for _, d := range cat.Dimensions {
		if d.Kind == catalog.DimensionCategorical {
			return d.Name
		}
	}
	return ""
}

func describeRequest(req plan.Request) string {
	var b strings.Builder
	b.WriteString(req.Metric)
	if len(req.Dimensions) > 0 {
		fmt.Fprintf(&b, " by %s", strings.Join(req.Dimensions, ", "))
	}
	if len(req.Filters) > 0 {
		fmt.Fprintf(&b, " where %s", strings.Join(req.Filters, " AND "))
	}
	if req.Order != nil {
		dir := "asc"
		if req.Order.Desc {
			dir = "desc"
		}
		fmt.Fprintf(&b, " order by %s %s", req.Order.Alias, dir)
	}
	fmt.Fprintf(&b, " limit %d", req.Limit)
	return b.String()
}

// timeoutOr maps a context expiry to the Timeout kind; other errors pass
// through untouched.
func timeoutOr(ctx context.Context, err error) error {
	if ctx.Err() == nil || errs.Is(err, errs.KindTimeout) {
		return err
	}
	return errs.Wrap(err, errs.KindTimeout, "The query ran past its time budget").
		WithHint("narrow the question: fewer dimensions or a smaller limit")
}
