// Package dashboard persists generated analyses as markdown artifacts and
// manages their lifecycle: auto-save on each successful turn, rename to pin
// one permanently, append to grow one, and a sweep that removes stale
// auto-generated files.
package dashboard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"datanerd/internal/errs"
	"datanerd/internal/logging"
)

// ChartKind selects the directive the renderer emits.
type ChartKind string

const (
	ChartLine     ChartKind = "line"
	ChartBar      ChartKind = "bar"
	ChartPie      ChartKind = "pie"
	ChartScatter  ChartKind = "scatter"
	ChartBigValue ChartKind = "big_value"
	ChartTable    ChartKind = "table"
)

// ChartSpec is one chart directive: the embedded query text, axis
// bindings, and the columns the trailing table projects.
type ChartSpec struct {
	Kind    ChartKind
	Title   string
	Query   string
	X       string
	Y       string
	Columns []string
}

// Artifact is one dashboard file. Generated artifacts carry the timestamp
// name tail and are eligible for the TTL sweep until renamed.
type Artifact struct {
	Name      string
	Title     string
	Generated bool
	CreatedAt time.Time
	Charts    []ChartSpec
}

// Info is the listing row for one artifact.
type Info struct {
	Name       string    `json:"name"`
	ChartCount int       `json:"chart_count"`
	Generated  bool      `json:"generated"`
	CreatedAt  time.Time `json:"created_at"`
}

// DefaultSweepDays is the age past which generated artifacts are swept.
const DefaultSweepDays = 7

// Manager owns one artifacts directory. File operations serialize on the
// mutex; artifacts are plain files and hold no references back into the
// core.
type Manager struct {
	dir string
	mu  sync.Mutex

	now func() time.Time
}

// NewManager creates the artifacts directory if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dashboard: create %s: %w", dir, err)
	}
	return &Manager{dir: dir, now: time.Now}, nil
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name+".md")
}

// AutoSave writes a freshly generated artifact named
// {metric-slug}-{intent}-{YYYYMMDD}-{HHMMSS} and returns the name.
// Collisions within the same second get a numeric suffix.
func (m *Manager) AutoSave(metric, intentName, title string, chart ChartSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	base := fmt.Sprintf("%s-%s-%s", Slugify(metric), Slugify(intentName), now.Format("20060102-150405"))
	name := m.uniqueLocked(base)

	a := Artifact{
		Name:      name,
		Title:     title,
		Generated: true,
		CreatedAt: now,
		Charts:    []ChartSpec{chart},
	}
	if err := m.writeLocked(a); err != nil {
		return "", err
	}
	logging.Dashboard("auto-saved dashboard %s", name)
	return name, nil
}

// Rename re-slugs an artifact to a custom name and clears the generated
// flag, which removes it from the sweep's reach.
func (m *Manager) Rename(autoName, customName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.readLocked(autoName)
	if err != nil {
		return "", err
	}

	name := m.uniqueLocked(Slugify(customName))
	a.Name = name
	a.Generated = false
	if a.Title == "" {
		a.Title = customName
	}
	if err := m.writeLocked(a); err != nil {
		return "", err
	}
	if err := os.Remove(m.path(autoName)); err != nil {
		return "", fmt.Errorf("dashboard: remove %s: %w", autoName, err)
	}
	logging.Dashboard("renamed dashboard %s to %s", autoName, name)
	return name, nil
}

// Append merges a new chart directive into an existing artifact.
func (m *Manager) Append(existing string, chart ChartSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, err := m.readLocked(existing)
	if err != nil {
		return err
	}
	a.Charts = append(a.Charts, chart)
	if err := m.writeLocked(a); err != nil {
		return err
	}
	logging.Dashboard("appended %s chart to dashboard %s (%d charts)", chart.Kind, existing, len(a.Charts))
	return nil
}

// Get returns the parsed artifact.
func (m *Manager) Get(name string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readLocked(name)
}

// List enumerates every artifact, sorted by name.
func (m *Manager) List() ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names, err := m.namesLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(names))
	for _, name := range names {
		a, err := m.readLocked(name)
		if err != nil {
			logging.Get(logging.CategoryDashboard).Warn("skipping unreadable artifact %s: %v", name, err)
			continue
		}
		out = append(out, Info{
			Name:       a.Name,
			ChartCount: len(a.Charts),
			Generated:  a.Generated,
			CreatedAt:  a.CreatedAt,
		})
	}
	return out, nil
}

// Sweep deletes generated artifacts older than maxAgeDays and returns the
// deleted names. Renamed artifacts are never touched.
func (m *Manager) Sweep(maxAgeDays int) ([]string, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultSweepDays
	}
	cutoff := m.now().AddDate(0, 0, -maxAgeDays)

	m.mu.Lock()
	defer m.mu.Unlock()

	names, err := m.namesLocked()
	if err != nil {
		return nil, err
	}
	var swept []string
	for _, name := range names {
		a, err := m.readLocked(name)
		if err != nil || !a.Generated {
			continue
		}
		if a.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(m.path(name)); err != nil {
			logging.Get(logging.CategoryDashboard).Warn("sweep could not remove %s: %v", name, err)
			continue
		}
		swept = append(swept, name)
	}
	if len(swept) > 0 {
		logging.Dashboard("swept %d dashboards older than %d days", len(swept), maxAgeDays)
	}
	return swept, nil
}

func (m *Manager) namesLocked() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("dashboard: read %s: %w", m.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(names)
	return names, nil
}

func (m *Manager) readLocked(name string) (Artifact, error) {
	data, err := os.ReadFile(m.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{}, errs.New(errs.KindDashboardMissing, "Dashboard not found").
				WithValue(name).
				WithHint("list_dashboards shows every saved dashboard")
		}
		return Artifact{}, fmt.Errorf("dashboard: read %s: %w", name, err)
	}
	return Parse(name, data)
}

func (m *Manager) writeLocked(a Artifact) error {
	if err := os.WriteFile(m.path(a.Name), []byte(Render(a)), 0o644); err != nil {
		return fmt.Errorf("dashboard: write %s: %w", a.Name, err)
	}
	return nil
}

// uniqueLocked appends -2, -3, ... until the name does not collide.
func (m *Manager) uniqueLocked(base string) string {
	name := base
	for n := 2; ; n++ {
		if _, err := os.Stat(m.path(name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s-%d", base, n)
	}
}

// Recommend picks the chart directive for an intent shape: trends draw
// lines, comparisons draw bars, a scalar renders as a big value, and
// anything else falls back to a table.
func Recommend(intentName string, dimCount int) ChartKind {
	switch intentName {
	case "trend_analysis", "cohort_analysis":
		return ChartLine
	case "comparison", "top_n":
		return ChartBar
	}
	if dimCount == 0 {
		return ChartBigValue
	}
	return ChartTable
}
