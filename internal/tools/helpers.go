// Package tools adapts gateway operations to MCP tools.
//
// Each tool is a struct holding the gateway, with Definition() returning
// the mcp.Tool schema and Handle() turning a request into exactly one
// gateway call. Refused calls come back as tool errors with a nil Go error
// so the agent reads the rule that fired and how to satisfy it.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/graphmcp/internal/gateway"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// optString returns a pointer to a string argument, or nil when the key is
// absent. An explicit empty string is kept so a field can be cleared.
func optString(req mcp.CallToolRequest, key string) *string {
	v, ok := req.GetArguments()[key].(string)
	if !ok {
		return nil
	}
	return &v
}

// mapArg extracts an object argument.
func mapArg(req mcp.CallToolRequest, key string) map[string]any {
	v, _ := req.GetArguments()[key].(map[string]any)
	return v
}

func detailArg(req mcp.CallToolRequest) string {
	return ParseDetailLevel(req.GetString("detail_level", ""))
}

func withDetailLevel() mcp.ToolOption {
	return mcp.WithString("detail_level",
		mcp.Description("summary: message and checks only. standard (default): readable report. full: adds the raw result as JSON."),
		mcp.Enum(DetailLevelValues()...),
	)
}

// failure converts a gateway error into a tool error.
func failure(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

// respond renders a successful result. body may be nil.
func respond(res *gateway.Result, level string, body func(b *strings.Builder)) (*mcp.CallToolResult, error) {
	var b strings.Builder
	b.WriteString(res.Message)
	b.WriteString("\n")

	if level != DetailSummary && body != nil {
		b.WriteString("\n")
		body(&b)
	}
	if level == DetailFull && res.Data != nil {
		if data, err := json.MarshalIndent(res.Data, "", "  "); err == nil {
			b.WriteString("\n```json\n")
			b.Write(data)
			b.WriteString("\n```\n")
		}
	}

	writeFooter(&b, res)
	if level == DetailSummary {
		b.WriteString(SummaryFooter)
	}
	b.WriteString(TokenFooter(EstimateTokens(b.String())))
	return mcp.NewToolResultText(b.String()), nil
}

func writeFooter(b *strings.Builder, res *gateway.Result) {
	b.WriteString("\n---\nChecks:")
	for i, c := range res.Checks {
		if i > 0 {
			b.WriteString(" ·")
		}
		mark := "✓"
		if !c.Passed {
			mark = "✗"
		}
		fmt.Fprintf(b, " %s %s", c.Rule, mark)
		if c.Detail != "" {
			fmt.Fprintf(b, " (%s)", c.Detail)
		}
	}
	b.WriteString("\n")
	for _, o := range res.Sync {
		fmt.Fprintf(b, "Mirror: %s → %s", o.UID, o.Status)
		if o.Tracker != "" {
			fmt.Fprintf(b, " (tracked by %s)", o.Tracker)
		}
		b.WriteString("\n")
	}
	for _, e := range res.SyncErrors {
		b.WriteString("Mirror error: " + e + "\n")
	}
	b.WriteString("Request: " + res.RequestID)
}

func writeRefs(b *strings.Builder, refs []gateway.NodeRef) {
	for _, r := range refs {
		fmt.Fprintf(b, "- %s (%s) %s\n", r.UID, r.Type, r.Title)
	}
}
