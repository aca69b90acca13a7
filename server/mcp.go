package server

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/chatdrop/endpoint"
	"github.com/hazyhaar/chatdrop/kit"
)

func inputSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var urlProp = map[string]any{
	"type":        "string",
	"description": "Page or PDF URL; empty uses the active tab",
}

// MCP builds an MCP server exposing the same operations as the HTTP API.
func (s *Server) MCP() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "chatdrop", Version: s.version}, nil)
	add := func(name, desc string, schema map[string]any, ep kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
		ep = kit.Chain(kit.Recover(), kit.Logging(s.logger, name))(ep)
		kit.RegisterMCPTool(srv, &mcp.Tool{Name: name, Description: desc, InputSchema: schema}, ep, decode)
	}
	none := inputSchema(map[string]any{})

	add("chatdrop_endpoint_status", "Report the active chat URL and whether it is the primary or fallback.",
		none, s.endpointStatus, kit.DecodeJSON[struct{}]())
	add("chatdrop_endpoint_recheck", "Probe the configured chat URLs again and switch if needed.",
		none, s.recheck, kit.DecodeJSON[struct{}]())
	add("chatdrop_settings_get", "Read the saved settings. The API key is never returned.",
		none, s.getSettings, kit.DecodeJSON[struct{}]())
	add("chatdrop_settings_put", "Save settings and report which URLs answered.",
		inputSchema(map[string]any{
			"primaryUrl":            map[string]any{"type": "string"},
			"fallbackUrl":           map[string]any{"type": "string"},
			"summaryLanguage":       map[string]any{"type": "string"},
			"overridePrompt":        map[string]any{"type": "boolean"},
			"customPrompt":          map[string]any{"type": "string"},
			"enableApiAccess":       map[string]any{"type": "boolean"},
			"apiKey":                map[string]any{"type": "string"},
			"knowledgeCollectionId": map[string]any{"type": "string"},
		}), s.putSettings, kit.DecodeJSON[endpoint.Options]())
	add("chatdrop_attach", "Drop a page or PDF into the chat composer.",
		inputSchema(map[string]any{"url": urlProp}), s.attach, kit.DecodeJSON[urlRequest]())
	add("chatdrop_summarize", "Drop a page or PDF into the chat and ask for a summary once uploaded.",
		inputSchema(map[string]any{"url": urlProp}), s.summarize, kit.DecodeJSON[urlRequest]())
	add("chatdrop_knowledge_list", "List knowledge collections.",
		none, s.listCollections, kit.DecodeJSON[struct{}]())
	add("chatdrop_knowledge_upload", "Upload a page or PDF to a knowledge collection; empty collection_id uses the default.",
		inputSchema(map[string]any{
			"url":           urlProp,
			"collection_id": map[string]any{"type": "string"},
		}), s.upload, kit.DecodeJSON[uploadRequest]())
	add("chatdrop_knowledge_create", "Create a knowledge collection; with upload true or a url, also upload that page or PDF into it.",
		inputSchema(map[string]any{
			"name":        map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"url":         urlProp,
			"upload":      map[string]any{"type": "boolean"},
		}, "name"), s.createCollection, kit.DecodeJSON[createRequest]())
	add("chatdrop_status", "Show the status banner and recent events.",
		inputSchema(map[string]any{
			"kind":  map[string]any{"type": "string", "enum": []string{"attach", "summarize", "knowledge_upload", "resolve"}},
			"limit": map[string]any{"type": "integer", "minimum": 1},
		}), s.status, kit.DecodeJSON[statusRequest]())
	return srv
}
