// Package mcpserver exposes the assistant as an MCP stdio server so
// AI tooling can use it as a third access channel next to the CLI and
// the bot webhook.
package mcpserver

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"lifelog/app/access"
	"lifelog/app/service/extension"
	"lifelog/app/service/router"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/do"
)

const version = "1.0.0"

type Server struct {
	routerSvc *router.Service
	manager   *extension.Manager
}

func New(di *do.Injector) (*Server, error) {
	return &Server{
		routerSvc: do.MustInvoke[*router.Service](di),
		manager:   do.MustInvoke[*extension.Manager](di),
	}, nil
}

// Run serves tools over stdio until the context is cancelled, so the
// mcp command stops on interrupt like the other channels.
func (s *Server) Run(ctx context.Context) error {
	return s.serve(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	mcpServer := server.NewMCPServer(
		"lifelog",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	mcpServer.AddTool(s.chatToolDefinition(), s.handleChat)
	mcpServer.AddTool(s.listToolDefinition(), s.handleList)

	return server.NewStdioServer(mcpServer).Listen(ctx, in, out)
}

func (s *Server) chatToolDefinition() mcp.Tool {
	return mcp.NewTool("chat",
		mcp.WithDescription(
			"Send one natural-language message to the personal data tracking "+
				"assistant. It records data (expenses, work hours) and answers "+
				"questions about previously recorded data.",
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The message, e.g. 'today I spent 50 on lunch'"),
		),
		mcp.WithString("user_id",
			mcp.Description("User to act as, defaults to 'mcp'"),
		),
	)
}

func (s *Server) handleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := req.GetString("text", "")
	if text == "" {
		return mcp.NewToolResultError("'text' is required"), nil
	}

	userID := req.GetString("user_id", "mcp")

	response := s.routerSvc.Route(ctx, access.Request{
		UserID:   userID,
		Text:     text,
		Channel:  access.ChannelMCP,
		Context:  map[string]any{},
		Metadata: map[string]any{},
	})

	if !response.Success {
		return mcp.NewToolResultError(response.Error), nil
	}

	result := response.Message
	if markdown, ok := response.Metadata[access.MetaMarkdown].(string); ok && markdown != result {
		result = result + "\n\n" + markdown
	}

	return mcp.NewToolResultText(result), nil
}

func (s *Server) listToolDefinition() mcp.Tool {
	return mcp.NewTool("list_extensions",
		mcp.WithDescription("List the assistant's extensions with their lifecycle state."),
	)
}

func (s *Server) handleList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var builder strings.Builder

	for _, record := range s.manager.List() {
		builder.WriteString(fmt.Sprintf("%s (%s, v%s): %s\n",
			record.Name, record.State, record.Version, record.Description))
	}

	if builder.Len() == 0 {
		return mcp.NewToolResultText("no extensions registered"), nil
	}

	return mcp.NewToolResultText(builder.String()), nil
}
