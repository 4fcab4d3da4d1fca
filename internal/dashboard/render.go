package dashboard

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"datanerd/internal/errs"
)

// frontMatter is the YAML block between the --- fences at the top of an
// artifact file.
type frontMatter struct {
	Title     string    `yaml:"title"`
	Generated bool      `yaml:"generated"`
	Created   time.Time `yaml:"created"`
}

// Render writes the artifact in its on-disk markdown layout: front matter,
// one query block plus chart directive per chart, and a trailing data-table
// directive bound to the first query.
func Render(a Artifact) string {
	var b strings.Builder

	fm, _ := yaml.Marshal(frontMatter{Title: a.Title, Generated: a.Generated, Created: a.CreatedAt})
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n")

	for i, c := range a.Charts {
		alias := fmt.Sprintf("q%d", i+1)
		fmt.Fprintf(&b, "\n```query %s\n%s\n```\n", alias, strings.TrimRight(c.Query, "\n"))
		fmt.Fprintf(&b, "\n```chart %s\nquery: %s\ntitle: %s\n", c.Kind, alias, c.Title)
		if c.X != "" {
			fmt.Fprintf(&b, "x: %s\n", c.X)
		}
		if c.Y != "" {
			fmt.Fprintf(&b, "y: %s\n", c.Y)
		}
		b.WriteString("```\n")
	}

	if len(a.Charts) > 0 {
		fmt.Fprintf(&b, "\n```table\nquery: q1\n")
		if cols := a.Charts[0].Columns; len(cols) > 0 {
			fmt.Fprintf(&b, "columns: %s\n", strings.Join(cols, ", "))
		}
		b.WriteString("```\n")
	}

	return b.String()
}

// Parse reads an artifact file back into its structured form. The renderer
// layout is the only one accepted; a file this package did not write is
// reported as invalid rather than guessed at.
func Parse(name string, data []byte) (Artifact, error) {
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return Artifact{}, errs.Newf(errs.KindDashboardMissing, "artifact %q has no front matter", name).WithValue(name)
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return Artifact{}, errs.Newf(errs.KindDashboardMissing, "artifact %q front matter is unterminated", name).WithValue(name)
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return Artifact{}, errs.Wrap(err, errs.KindDashboardMissing, "artifact front matter is not parseable").WithValue(name)
	}

	a := Artifact{
		Name:      name,
		Title:     fm.Title,
		Generated: fm.Generated,
		CreatedAt: fm.Created,
	}

	queries := map[string]string{}
	body := rest[end+len("\n---\n"):]
	for _, block := range fencedBlocks(body) {
		tag, arg, _ := strings.Cut(block.header, " ")
		switch tag {
		case "query":
			queries[strings.TrimSpace(arg)] = block.body
		case "chart":
			c := ChartSpec{Kind: ChartKind(strings.TrimSpace(arg))}
			for _, line := range strings.Split(block.body, "\n") {
				key, val, ok := strings.Cut(line, ":")
				if !ok {
					continue
				}
				val = strings.TrimSpace(val)
				switch strings.TrimSpace(key) {
				case "query":
					c.Query = queries[val]
				case "title":
					c.Title = val
				case "x":
					c.X = val
				case "y":
					c.Y = val
				}
			}
			a.Charts = append(a.Charts, c)
		case "table":
			for _, line := range strings.Split(block.body, "\n") {
				key, val, ok := strings.Cut(line, ":")
				if !ok || strings.TrimSpace(key) != "columns" {
					continue
				}
				var cols []string
				for _, c := range strings.Split(val, ",") {
					cols = append(cols, strings.TrimSpace(c))
				}
				if len(a.Charts) > 0 {
					a.Charts[0].Columns = cols
				}
			}
		}
	}
	return a, nil
}

type fenced struct {
	header string
	body   string
}

// fencedBlocks walks the triple-backtick blocks in order. Nested fences do
// not occur in the rendered layout, so the scan is a flat toggle.
func fencedBlocks(text string) []fenced {
	var out []fenced
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "```") || strings.TrimSpace(lines[i]) == "```" {
			continue
		}
		header := strings.TrimPrefix(lines[i], "```")
		var body []string
		for i++; i < len(lines); i++ {
			if strings.TrimSpace(lines[i]) == "```" {
				break
			}
			body = append(body, lines[i])
		}
		out = append(out, fenced{header: strings.TrimSpace(header), body: strings.Join(body, "\n")})
	}
	return out
}
