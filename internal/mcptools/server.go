package mcptools

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewServer creates an MCP server with the four replay tools registered:
// list_conversations, inspect_conversation, fork_compare and get_run.
func NewServer(svc *ReplayService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "replaylab",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_conversations",
		Description: "List recorded conversations from the archive, most recent first, optionally filtered by project.",
	}, svc.ListConversations)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "inspect_conversation",
		Description: "Show the messages of a recorded conversation with the step number of each, for choosing a fork point.",
	}, svc.InspectConversation)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fork_compare",
		Description: "Fork a conversation after fork_at_step messages, replay each branch against its model in parallel and compare the outcomes.",
	}, svc.ForkCompare)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_run",
		Description: "Fetch a completed fork/compare run as a Markdown report, a Mermaid diagram or raw JSON.",
	}, svc.GetRun)

	return server
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the MCP server over streamable HTTP on addr until ctx is
// cancelled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Shutdown gracefully when context is cancelled.
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
