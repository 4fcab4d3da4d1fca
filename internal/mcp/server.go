// Package mcp exposes the analytics core to a host AI runtime over the
// Model Context Protocol. Every tool validates its arguments against the
// identifier grammar before dispatch, renders a markdown response, and
// mirrors the payload as structured content. Core failures come back as
// tool errors with user-facing messages, never as transport errors.
package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"datanerd/internal/analyst"
	"datanerd/internal/cache"
	"datanerd/internal/catalog"
	"datanerd/internal/dashboard"
	"datanerd/internal/driver"
	"datanerd/internal/errs"
	"datanerd/internal/grammar"
	"datanerd/internal/logging"
)

// Server is the tool-protocol adapter. It is stateless beyond the
// references it bridges to: catalog store, orchestrator, cache, and
// dashboard lifecycle.
type Server struct {
	store      *catalog.Store
	analyst    *analyst.Analyst
	cache      *cache.Cache
	dashboards *dashboard.Manager

	srv   *mcp.Server
	names map[string]bool
}

// New builds the adapter and registers every tool.
func New(store *catalog.Store, an *analyst.Analyst, c *cache.Cache, dash *dashboard.Manager, version string) *Server {
	s := &Server{
		store:      store,
		analyst:    an,
		cache:      c,
		dashboards: dash,
		names:      map[string]bool{},
	}
	s.srv = mcp.NewServer(&mcp.Implementation{Name: "datanerd", Version: version}, nil)

	s.registerCatalogTools()
	s.registerQueryTools()
	s.registerAnalystTools()
	s.registerDashboardTools()

	logging.MCP("registered %d tools", len(s.names))
	return s
}

// Run serves the stdio transport until the context ends. Logging must
// already be pinned to stderr; stdout belongs to the protocol.
func (s *Server) Run(ctx context.Context) error {
	logging.MCP("serving on stdio")
	return s.srv.Run(ctx, &mcp.StdioTransport{})
}

// Connect attaches the server to an arbitrary transport; tests drive it
// through in-memory pipes.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}

// ToolNames lists the registered tools, sorted.
func (s *Server) ToolNames() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RequireTool reports ToolUnknown for a name outside the registry. The
// SDK rejects unknown calls on its own; dispatch paths that bypass it use
// this check.
func (s *Server) RequireTool(name string) error {
	if s.names[name] {
		return nil
	}
	return errs.New(errs.KindToolUnknown, "Unknown tool").
		WithValue(name).
		WithAlternatives(s.ToolNames()...)
}

// addTool registers one typed tool: schema from the input struct, grammar
// patterns stamped onto the named identifier fields, markdown plus a
// structured mirror on the way out, and core errors rendered as tool
// failures.
func addTool[In, Out any](s *Server, name, desc string, identFields []string, fn func(context.Context, In) (string, Out, error)) {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		panic(fmt.Sprintf("mcp: input schema for %s: %v", name, err))
	}
	for _, f := range identFields {
		if p, ok := schema.Properties[f]; ok {
			p.Pattern = grammar.IdentPattern
		}
	}

	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        name,
		Description: desc,
		InputSchema: schema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		timer := logging.StartTimer(logging.CategoryMCP, name)
		defer timer.Stop()

		md, out, err := fn(ctx, in)
		if err != nil {
			var zero Out
			logging.MCPDebug("tool %s failed: %v", name, err)
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{&mcp.TextContent{Text: errs.AsError(err).UserMessage()}},
			}, zero, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: md}},
		}, out, nil
	})
	s.names[name] = true
}

// validIdent screens a required identifier argument server-side; the
// schema pattern alone is advisory.
func validIdent(field, v string) error {
	if err := grammar.ValidateIdent(v); err != nil {
		return errs.Wrap(err, errs.KindInvalidInput, fmt.Sprintf("Invalid %s", field)).WithValue(v)
	}
	return nil
}

// markdownTable renders a result's rows. The interpreter owns the capped
// analyst table; tool output shows what the query returned.
func markdownTable(res *driver.Result) string {
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
				cells[i] = ""
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
