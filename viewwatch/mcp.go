package viewwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers viewwatch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerPagesTool(srv)
	s.registerStatsTool(srv)
	s.registerEventsTool(srv)
	s.registerAddTargetTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type toolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// registerTool wraps fn so failures come back as tool errors and results
// as JSON text.
func registerTool(srv *mcp.Server, tool *mcp.Tool, fn toolFunc) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := fn(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// --- pages ---

type pagesReq struct {
	PageID string `json:"page_id"`
}

func (s *Service) registerPagesTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "viewwatch_pages",
		Description: "List observed pages with their targets and shared watchers. Pass page_id to get one page.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Optional page ID"},
		}, nil),
	}
	registerTool(srv, tool, func(_ context.Context, args json.RawMessage) (any, error) {
		var r pagesReq
		if err := decodeArgs(args, &r); err != nil {
			return nil, err
		}
		if r.PageID == "" {
			return map[string]any{"pages": s.Pages()}, nil
		}
		p, ok := s.Page(r.PageID)
		if !ok {
			return nil, fmt.Errorf("unknown page %q", r.PageID)
		}
		return p, nil
	})
}

// --- stats ---

func (s *Service) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "viewwatch_stats",
		Description: "Broker and registry counters: published batches, deliveries, watchers created and reused.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return s.Stats(ctx), nil
	})
}

// --- recent events ---

type eventsReq struct {
	PageID string `json:"page_id"`
	Limit  int    `json:"limit"`
}

func (s *Service) registerEventsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "viewwatch_recent_events",
		Description: "Recent entered/left events from the journal, newest first.",
		InputSchema: inputSchema(map[string]any{
			"page_id": map[string]any{"type": "string", "description": "Restrict to one page"},
			"limit":   map[string]any{"type": "integer", "description": "Max events (default 50)"},
		}, nil),
	}
	registerTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r eventsReq
		if err := decodeArgs(args, &r); err != nil {
			return nil, err
		}
		events, err := s.RecentEvents(ctx, r.PageID, r.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"events": events}, nil
	})
}

// --- add target ---

type addTargetReq struct {
	PageID string `json:"page_id"`
	targetRequest
}

func (s *Service) registerAddTargetTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "viewwatch_add_target",
		Description: "Start watching an element on an open page. The target is persisted when a journal is configured.",
		InputSchema: inputSchema(map[string]any{
			"page_id":     map[string]any{"type": "string", "description": "Page ID"},
			"name":        map[string]any{"type": "string", "description": "Target name (defaults to the selector)"},
			"selector":    map[string]any{"type": "string", "description": "CSS selector of the element"},
			"root":        map[string]any{"type": "string", "description": "\"\" for the viewport, \"document\", or a container selector"},
			"root_margin": map[string]any{"type": "string", "description": "CSS margin around the root, e.g. \"0px 0px -10% 0px\""},
			"threshold":   map[string]any{"description": "Ratio or list of ratios in [0,1]"},
		}, []string{"page_id", "selector"}),
	}
	registerTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r addTargetReq
		if err := decodeArgs(args, &r); err != nil {
			return nil, err
		}
		tc := r.config()
		if err := s.AddTarget(ctx, r.PageID, tc); err != nil {
			return nil, err
		}
		return map[string]string{"status": "bound", "page_id": r.PageID}, nil
	})
}
