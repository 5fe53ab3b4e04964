// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the idea list and the recording deep-link for LLM integration
// via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/voicebridge/voicebridge/internal/coordinator"
)

// Server wraps the MCP server with idea tools.
type Server struct {
	mcp   *server.MCPServer
	coord *coordinator.Coordinator
}

// New creates a new MCP server with all tools registered.
func New(coord *coordinator.Coordinator) *Server {
	s := &Server{coord: coord}

	s.mcp = server.NewMCPServer(
		"Voicebridge",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_ideas",
		mcp.WithDescription("List all captured voice ideas, newest first, with their transcriptions and sync state."),
	), s.listIdeas)

	s.mcp.AddTool(mcp.NewTool("get_idea",
		mcp.WithDescription("Read one idea record: transcription, duration, audio availability."),
		mcp.WithString("id", mcp.Required(), mcp.Description("The idea record id")),
	), s.getIdea)

	s.mcp.AddTool(mcp.NewTool("begin_recording",
		mcp.WithDescription("Start capturing a new voice idea now. Equivalent to the 'begin recording' deep-link action."),
	), s.beginRecording)

	s.mcp.AddTool(mcp.NewTool("stop_recording",
		mcp.WithDescription("Stop the active capture session and persist the new idea record."),
	), s.stopRecording)

	s.mcp.AddTool(mcp.NewTool("transcribe_idea",
		mcp.WithDescription("Run speech-to-text for one idea whose transcription is missing or failed."),
		mcp.WithString("id", mcp.Required(), mcp.Description("The idea record id")),
	), s.transcribeIdea)

	s.mcp.AddTool(mcp.NewTool("glance_summary",
		mcp.WithDescription("Read the glanceable summary: record count, latest snippet, last activity time."),
	), s.glanceSummary)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listIdeas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := s.coord.Records()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(records, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getIdea(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	idea, err := s.coord.Record(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(idea, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) beginRecording(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.coord.StartRecording(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("recording started"), nil
}

func (s *Server) stopRecording(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.coord.StopRecording()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.RecordID == "" {
		return mcp.NewToolResultText("no recording was active"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("recorded %s (%.1fs)", res.RecordID, res.Duration)), nil
}

func (s *Server) transcribeIdea(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := s.coord.Transcribe(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) glanceSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	g, err := s.coord.Glance()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(g, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
