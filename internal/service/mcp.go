package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCP registers the uiheal tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerResolveTool(srv)
	s.registerDriftTool(srv)
	s.registerSignatureTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
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

// registerTool wires one typed endpoint as an MCP tool: decode arguments,
// run, marshal the response as text content. Tool failures come back as
// tool results, never protocol errors.
func registerTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint func(Req) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var r Req
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}

		resp, err := endpoint(r)
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

var uiMapSchema = map[string]any{
	"type":        "object",
	"description": "UIMap snapshot as produced by the perception service",
}

func (s *Service) registerResolveTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uiheal_resolve",
		Description: "Resolve an element id against a UIMap, healing through the supplied signature when the id is gone. Returns the match, score, and audit candidates.",
		InputSchema: inputSchema(map[string]any{
			"targetId":  map[string]any{"type": "string", "description": "Element id to locate"},
			"uiMap":     uiMapSchema,
			"signature": map[string]any{"type": "object", "description": "Signature captured when the element was last known good"},
		}, []string{"targetId", "uiMap"}),
	}
	registerTool(srv, tool, func(req resolveRequest) (any, error) {
		return s.resolve(req)
	})
}

func (s *Service) registerDriftTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uiheal_drift",
		Description: "Compare two UIMaps of the same screen and return severity-ranked drift alerts.",
		InputSchema: inputSchema(map[string]any{
			"expected": uiMapSchema,
			"actual":   uiMapSchema,
			"config":   map[string]any{"type": "object", "description": "Optional per-call thresholds and anchors"},
		}, []string{"expected", "actual"}),
	}
	registerTool(srv, tool, func(req driftRequest) (any, error) {
		return s.detectDrift(req)
	})
}

func (s *Service) registerSignatureTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "uiheal_build_signature",
		Description: "Capture a portable signature of one element for later re-matching against newer screens.",
		InputSchema: inputSchema(map[string]any{
			"elementId": map[string]any{"type": "string", "description": "Element id present in the map"},
			"uiMap":     uiMapSchema,
		}, []string{"elementId", "uiMap"}),
	}
	registerTool(srv, tool, func(req signatureRequest) (any, error) {
		return s.buildSignature(req)
	})
}
