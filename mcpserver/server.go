package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/codepool/command"
	"github.com/isdmx/codepool/sandbox"
)

// ToolName is the name of the compile tool
const ToolName = "compile"

// MCPServer exposes the container pool as an MCP tool
type MCPServer struct {
	logger    *zap.Logger
	compiler  sandbox.Compiler
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(logger *zap.Logger, compiler sandbox.Compiler) (*MCPServer, error) {
	s := &MCPServer{
		logger:   logger,
		compiler: compiler,
	}

	s.mcpServer = server.NewMCPServer("codepool", "Compile and run code in pooled language containers",
		server.WithToolCapabilities(false))

	s.registerCompileTool()

	return s, nil
}

func (s *MCPServer) registerCompileTool() {
	tool := mcp.NewTool(ToolName,
		mcp.WithDescription("Compile and run a program in an isolated container and return its output"),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("Program source code"),
		),
		mcp.WithString("language",
			mcp.Required(),
			mcp.Description("Source language"),
			mcp.Enum(command.Names()...),
		),
	)

	s.mcpServer.AddTool(tool, s.handleCompile)
}

// handleCompile runs the compile tool. Service failures are reported as tool
// errors rather than protocol errors so the client sees the message.
func (s *MCPServer) handleCompile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError("code is required"), nil
	}
	language, err := request.RequireString("language")
	if err != nil {
		return mcp.NewToolResultError("language is required"), nil
	}

	result, err := s.compiler.Compile(ctx, sandbox.ExecutionRequest{Source: code, Language: language})
	if err != nil {
		if sandbox.IsInfrastructure(err) && !errors.Is(err, context.Canceled) {
			s.logger.Error("compile tool failed", zap.String("language", language), zap.Error(err))
		}
		return mcp.NewToolResultError(result.Error), nil
	}

	body, err := json.Marshal(sandbox.NewCompileResponse(result))
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return mcp.NewToolResultText(string(body)), nil
}

// ServeStdio serves MCP on stdin/stdout until the input is closed
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// Handler returns the streamable HTTP transport for mounting under path
func (s *MCPServer) Handler(path string) http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer, server.WithEndpointPath(path))
}

// GetMCPServer returns the underlying MCP server
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
