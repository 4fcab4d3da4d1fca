package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"datanerd/internal/analyst"
	"datanerd/internal/cache"
	"datanerd/internal/catalog"
	"datanerd/internal/dashboard"
	"datanerd/internal/driver"
	"datanerd/internal/session"
)

const httpFixture = `
semantic_model:
  connection:
    backend: embedded-olap
    path: "%s"
  metrics:
    - name: total_mrr
      display_name: Total MRR
      kind: simple
      table: subscriptions
      aggregation: sum
      column: subscription_amount
      filters:
        - "subscription_status = 'active'"
  dimensions:
    - name: customer_segment
      kind: categorical
      table: subscriptions
      column: customer_segment
      sample_values: [Enterprise, SMB]
`

func newTestServer(t *testing.T, hook RoleHook) (*Server, *httptest.Server) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "warehouse.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open seed db: %v", err)
	}
	stmts := []string{
		`CREATE TABLE subscriptions (
			customer_id INTEGER,
			subscription_amount REAL,
			subscription_status TEXT,
			customer_segment TEXT
		)`,
		`INSERT INTO subscriptions VALUES
			(1, 900, 'active', 'Enterprise'),
			(2, 300, 'active', 'SMB'),
			(3, 500, 'cancelled', 'SMB')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	db.Close()

	cat, err := catalog.Parse([]byte(fmt.Sprintf(httpFixture, dbPath)))
	if err != nil {
		t.Fatalf("Parse fixture: %v", err)
	}
	store := catalog.NewStore(cat)

	drv, err := driver.ForBackend(catalog.BackendEmbedded)
	if err != nil {
		t.Fatalf("ForBackend: %v", err)
	}
	h, err := drv.Open(context.Background(), cat.Connection)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { drv.Close(h) })

	dashboards, err := dashboard.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	qc := cache.New(cache.Config{})
	sessions := session.NewManager(0, 0)
	an := analyst.New(store, analyst.NewExecutor(drv, h, qc), sessions, dashboards, 0)

	srv := New(Config{Addr: ":0", RoleHook: hook}, store, an, qc, sessions, "test")
	ts := httptest.NewServer(srv.Handler([]string{"*"}))
	t.Cleanup(ts.Close)
	return srv, ts
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestMetricsEndpoints(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var list struct {
		Metrics []metricPayload `json:"metrics"`
	}
	if code := getJSON(t, ts.URL+"/metrics", &list); code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", code)
	}
	if len(list.Metrics) != 1 || list.Metrics[0].Name != "total_mrr" {
		t.Errorf("metrics = %+v", list.Metrics)
	}

	var m metricPayload
	if code := getJSON(t, ts.URL+"/metrics/total_mrr", &m); code != http.StatusOK {
		t.Fatalf("GET /metrics/total_mrr = %d", code)
	}
	if m.Aggregation != "sum" || m.Table != "subscriptions" {
		t.Errorf("metric detail = %+v", m)
	}

	var fail struct {
		Error errorPayload `json:"error"`
	}
	if code := getJSON(t, ts.URL+"/metrics/total_mr", &fail); code != http.StatusNotFound {
		t.Fatalf("GET near-miss = %d, want 404", code)
	}
	if !strings.Contains(fail.Error.Message, "total_mrr") {
		t.Errorf("miss message has no suggestion: %+v", fail.Error)
	}
}

func TestQueryEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var out queryResponse
	body := `{"metric": "total_mrr", "dimensions": ["customer_segment"]}`
	code := postJSON(t, ts.URL+"/query", body, &out)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 2, out.RowCount)
	require.False(t, out.Cached)
	require.Contains(t, out.SQL, "GROUP BY")
	require.Equal(t, []string{"customer_segment", "total_mrr"}, out.Columns)
	require.NotEmpty(t, out.Fingerprint)

	code = postJSON(t, ts.URL+"/query", body, &out)
	require.Equal(t, http.StatusOK, code)
	require.True(t, out.Cached, "repeat query not served from cache")
}

func TestQueryEndpointRejectsHostileFilter(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var fail struct {
		Error errorPayload `json:"error"`
	}
	body := `{"metric": "total_mrr", "filters": ["x = 1; DROP TABLE subscriptions; --"]}`
	if code := postJSON(t, ts.URL+"/query", body, &fail); code != http.StatusBadRequest {
		t.Fatalf("hostile filter = %d, want 400", code)
	}
	if fail.Error.Title != "Filter rejected" {
		t.Errorf("title = %q", fail.Error.Title)
	}
}

func TestRoleHookGatesAdminEndpoints(t *testing.T) {
	role := RoleQuery
	_, ts := newTestServer(t, func(*http.Request) (Role, error) { return role, nil })

	if code := postJSON(t, ts.URL+"/query", `{"metric": "total_mrr"}`, nil); code != http.StatusOK {
		t.Errorf("query role cannot query: %d", code)
	}
	if code := postJSON(t, ts.URL+"/cache/clear", `{}`, nil); code != http.StatusUnauthorized {
		t.Errorf("query role cleared the cache: %d", code)
	}

	role = RoleAdmin
	var cleared map[string]int
	if code := postJSON(t, ts.URL+"/cache/clear", `{}`, &cleared); code != http.StatusOK {
		t.Errorf("admin role denied: %d", code)
	}
	if cleared["removed"] != 1 {
		t.Errorf("removed = %d, want the one cached query", cleared["removed"])
	}
}

func TestOpenServerAllowsEverything(t *testing.T) {
	_, ts := newTestServer(t, nil)

	if code := postJSON(t, ts.URL+"/cache/clear", `{}`, nil); code != http.StatusOK {
		t.Errorf("open server denied cache clear: %d", code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	var st struct {
		Version string `json:"version"`
		Backend string `json:"backend"`
		Catalog struct {
			Metrics    int `json:"metrics"`
			Dimensions int `json:"dimensions"`
		} `json:"catalog"`
		Sessions int `json:"sessions"`
	}
	if code := getJSON(t, ts.URL+"/status", &st); code != http.StatusOK {
		t.Fatalf("GET /status = %d", code)
	}
	if st.Version != "test" || st.Backend != "embedded-olap" {
		t.Errorf("status = %+v", st)
	}
	if st.Catalog.Metrics != 1 || st.Catalog.Dimensions != 1 {
		t.Errorf("catalog counts = %+v", st.Catalog)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	_, ts := newTestServer(t, nil)

	// One real request so the counters have something to show.
	getJSON(t, ts.URL+"/metrics", nil)

	resp, err := http.Get(ts.URL + "/metrics/prometheus")
	if err != nil {
		t.Fatalf("GET /metrics/prometheus: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, want := range []string{"datanerd_http_requests_total", "datanerd_cache_misses_total"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("exposition missing %s", want)
		}
	}
}
