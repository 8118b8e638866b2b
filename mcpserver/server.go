// Package mcpserver provides the Model Context Protocol (MCP) control surface.
//
// The server lets an operator check snippets against the validator, submit
// snippets into the same pipeline as UDP messages, and list the capability
// whitelist. Submission stays fire-and-forget: the tool returns the
// submission id, and the outcome is only visible in the audit log.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/snipbox/config"
	"github.com/isdmx/snipbox/sandbox"
)

// SenderMCP identifies submissions made through the control surface.
const SenderMCP = "mcp"

// Submitter schedules snippets for execution.
type Submitter interface {
	OnMessage(text, sender string) (uuid.UUID, error)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	submitter Submitter
	caps      *sandbox.Capabilities
	mcpServer *server.MCPServer
}

// validation is the JSON body returned by validate_snippet.
type validation struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, submitter Submitter, caps *sandbox.Capabilities) (*MCPServer, error) {
	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		submitter: submitter,
		caps:      caps,
	}

	logger.Info("configuration loaded",
		zap.String("server.listen", s.config.ListenAddr()),
		zap.Int("server.max_datagram_bytes", s.config.Server.MaxDatagramBytes),
		zap.Int("sandbox.time_limit_sec", s.config.Sandbox.TimeLimitSec),
		zap.Uint64("sandbox.max_steps", s.config.Sandbox.MaxSteps),
		zap.Int("sandbox.max_in_flight", s.config.Sandbox.MaxInFlight),
		zap.Strings("sandbox.capabilities", s.config.Sandbox.Capabilities),
		zap.String("control.transport", s.config.Control.Transport),
		zap.Int("control.http_port", s.config.Control.HTTPPort),
		zap.Bool("metrics.enabled", s.config.Metrics.Enabled),
		zap.String("metrics.addr", s.config.Metrics.Addr),
	)

	s.mcpServer = server.NewMCPServer("snipbox-control", "Snippet sandbox control surface")

	s.registerValidateSnippetTool()
	s.registerSubmitSnippetTool()
	s.registerListCapabilitiesTool()

	return s, nil
}

func codeSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "Snippet source code",
			},
		},
		Required: []string{"code"},
	}
}

// registerValidateSnippetTool registers the validate_snippet tool
func (s *MCPServer) registerValidateSnippetTool() {
	tool := mcp.Tool{
		Name:        "validate_snippet",
		Description: "Check whether a snippet would be accepted for execution",
		InputSchema: codeSchema(),
	}

	s.mcpServer.AddTool(tool, s.handleValidateSnippet)
}

// registerSubmitSnippetTool registers the submit_snippet tool
func (s *MCPServer) registerSubmitSnippetTool() {
	tool := mcp.Tool{
		Name:        "submit_snippet",
		Description: "Schedule a snippet for sandboxed execution; the outcome is written to the audit log",
		InputSchema: codeSchema(),
	}

	s.mcpServer.AddTool(tool, s.handleSubmitSnippet)
}

// registerListCapabilitiesTool registers the list_capabilities tool
func (s *MCPServer) registerListCapabilitiesTool() {
	tool := mcp.Tool{
		Name:        "list_capabilities",
		Description: "List the names visible to executing snippets",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleListCapabilities)
}

// handleValidateSnippet handles the validate_snippet tool
func (s *MCPServer) handleValidateSnippet(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	verdict := sandbox.Validate(code)
	result := validation{Accepted: verdict.Accepted()}
	if !verdict.Accepted() {
		result.Reason = string(verdict.Reason())
		result.Detail = verdict.Err().Error()
	}

	s.logger.Info("snippet validated",
		zap.Bool("accepted", result.Accepted),
		zap.String("reason", result.Reason))

	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode validation result: %w", err)
	}
	return textResult(string(body), false), nil
}

// handleSubmitSnippet handles the submit_snippet tool
func (s *MCPServer) handleSubmitSnippet(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	id, err := s.submitter.OnMessage(code, SenderMCP)
	if err != nil {
		s.logger.Warn("submission not scheduled", zap.Error(err))
		return textResult(fmt.Sprintf("Submission not scheduled: %v", err), true), nil
	}

	s.logger.Info("submission scheduled", zap.String("submission_id", id.String()))
	return textResult(fmt.Sprintf(`{"submission_id":%q}`, id.String()), false), nil
}

// handleListCapabilities handles the list_capabilities tool
func (s *MCPServer) handleListCapabilities(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(s.caps.Names())
	if err != nil {
		return nil, fmt.Errorf("failed to encode capabilities: %w", err)
	}
	return textResult(string(body), false), nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: isError,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP control surface on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Control.HTTPPort
	s.logger.Info("starting MCP control surface on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
