package mcpserver

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codepool/command"
	"github.com/isdmx/codepool/sandbox"
)

// MockCompiler implements sandbox.Compiler for testing
type MockCompiler struct {
	mu       sync.Mutex
	result   sandbox.ExecutionResult
	err      error
	requests []sandbox.ExecutionRequest
}

func (m *MockCompiler) Compile(_ context.Context, req sandbox.ExecutionRequest) (sandbox.ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.result, m.err
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: ToolName, Arguments: args},
	}
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestNewMCPServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	compiler := &MockCompiler{}

	server, err := New(logger, compiler)
	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, logger, server.logger)
	assert.Equal(t, compiler, server.compiler)
	assert.NotNil(t, server.GetMCPServer())
	assert.NotNil(t, server.Handler("/mcp"))
}

func TestCompileToolIsListed(t *testing.T) {
	server, err := New(zaptest.NewLogger(t), &MockCompiler{})
	require.NoError(t, err)

	tools := server.GetMCPServer().ListTools()
	require.Contains(t, tools, ToolName)

	schema := tools[ToolName].Tool.InputSchema
	assert.ElementsMatch(t, []string{"code", "language"}, schema.Required)
	language, ok := schema.Properties["language"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, command.Names(), language["enum"])
}

func TestHandleCompile(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		compiler := &MockCompiler{result: sandbox.ExecutionResult{Output: "2\n", Elapsed: 1500 * time.Millisecond}}
		server, err := New(zaptest.NewLogger(t), compiler)
		require.NoError(t, err)

		result, err := server.handleCompile(ctx, callRequest(map[string]any{
			"code":     "console.log(1+1)",
			"language": "javascript",
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var resp sandbox.CompileResponse
		require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &resp))
		assert.Equal(t, "2\n", resp.Output)
		assert.Nil(t, resp.Error)
		assert.InDelta(t, 1.5, resp.ExecutionTime, 1e-9)

		require.Len(t, compiler.requests, 1)
		assert.Equal(t, sandbox.ExecutionRequest{Source: "console.log(1+1)", Language: "javascript"}, compiler.requests[0])
	})

	t.Run("ServiceFailureIsToolError", func(t *testing.T) {
		compiler := &MockCompiler{
			result: sandbox.ExecutionResult{Error: "Execution timed out."},
			err:    sandbox.ErrExecutionTimeout,
		}
		server, err := New(zaptest.NewLogger(t), compiler)
		require.NoError(t, err)

		result, err := server.handleCompile(ctx, callRequest(map[string]any{
			"code":     "while True: pass",
			"language": "python",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Equal(t, "Execution timed out.", textOf(t, result))
	})

	t.Run("MissingArguments", func(t *testing.T) {
		compiler := &MockCompiler{}
		server, err := New(zaptest.NewLogger(t), compiler)
		require.NoError(t, err)

		result, err := server.handleCompile(ctx, callRequest(map[string]any{"language": "python"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Equal(t, "code is required", textOf(t, result))

		result, err = server.handleCompile(ctx, callRequest(map[string]any{"code": "print(1)"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Equal(t, "language is required", textOf(t, result))
		assert.Empty(t, compiler.requests)
	})
}
