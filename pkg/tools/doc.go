// Package tools provides the executable tool registry advertised to the
// model: schema-validated argument handling plus the web search and
// knowledge base search tools.
//
// Invariants:
// - Raw tool arguments are untrusted; they are validated against the tool's
//   JSON schema before the handler runs.
// - An unavailable tool still produces result content, never an execution.
//
// Usage:
//
//	registry := tools.NewRegistry(logger)
//	_ = registry.Register(tools.WebSearchTool(tavily))
//	output, err := registry.Execute(ctx, "web_search", `{"query":"news"}`)
//	_ = output
//	_ = err
package tools
