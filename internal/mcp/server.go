// Package mcp implements the Model Context Protocol server for evidence-correlator.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/evidence-correlator/internal/engine"
	"github.com/ajitpratap0/evidence-correlator/internal/extraction"
	"github.com/ajitpratap0/evidence-correlator/internal/models"
	"github.com/ajitpratap0/evidence-correlator/internal/pipeline"
)

// Server wraps an MCPServer with the correlation engine.
type Server struct {
	mcp    *mcpserver.MCPServer
	eng    *engine.Engine
	proc   *pipeline.Processor
	logger *slog.Logger
}

// NewServer creates a new MCP server. If proc is nil the analyze_document
// tool returns an error response.
func NewServer(eng *engine.Engine, proc *pipeline.Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{eng: eng, proc: proc, logger: logger}

	mcpSrv := mcpserver.NewMCPServer(
		"evidence-correlator",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildListFilesTool(), s.handleListFiles)
	mcpSrv.AddTool(buildAnalyzeDocumentTool(), s.handleAnalyzeDocument)
	mcpSrv.AddTool(buildCrossReferencesTool(), s.handleCrossReferences)
	mcpSrv.AddTool(buildTimelineTool(), s.handleTimeline)
	mcpSrv.AddTool(buildSuggestionsTool(), s.handleSuggestions)
	mcpSrv.AddTool(buildMarkSuggestionTool(), s.handleMarkSuggestion)
	mcpSrv.AddTool(buildAggregatesTool(), s.handleAggregates)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// Handle dispatches a tool call by name without the transport layer.
func (s *Server) Handle(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	switch req.Params.Name {
	case "list_files":
		return s.handleListFiles(ctx, req)
	case "analyze_document":
		return s.handleAnalyzeDocument(ctx, req)
	case "list_cross_references":
		return s.handleCrossReferences(ctx, req)
	case "list_timeline_entries":
		return s.handleTimeline(ctx, req)
	case "list_case_link_suggestions":
		return s.handleSuggestions(ctx, req)
	case "mark_suggestion":
		return s.handleMarkSuggestion(ctx, req)
	case "aggregate_counts":
		return s.handleAggregates(ctx, req)
	}
	return mcpgo.NewToolResultErrorf("unknown tool %q", req.Params.Name), nil
}

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// --- tool definitions ---

func buildListFilesTool() mcpgo.Tool {
	return mcpgo.NewTool("list_files",
		mcpgo.WithDescription("List evidence files of the session with their extraction status."),
	)
}

func buildAnalyzeDocumentTool() mcpgo.Tool {
	return mcpgo.NewTool("analyze_document",
		mcpgo.WithDescription("Extract entities from a text document and correlate them with the rest of the evidence."),
		mcpgo.WithString("name",
			mcpgo.Required(),
			mcpgo.Description("Display name of the evidence file"),
		),
		mcpgo.WithString("content",
			mcpgo.Required(),
			mcpgo.Description("Text content of the document"),
		),
		mcpgo.WithString("id",
			mcpgo.Description("Caller-assigned file id (default: generated)"),
		),
	)
}

func buildCrossReferencesTool() mcpgo.Tool {
	return mcpgo.NewTool("list_cross_references",
		mcpgo.WithDescription("List entities that appear in two or more evidence files."),
		mcpgo.WithString("file_id",
			mcpgo.Description("Only cross-references involving this file"),
		),
		mcpgo.WithString("type",
			mcpgo.Description("Entity type filter: person, location, organization, keyword, license_plate, integrity"),
		),
	)
}

func buildTimelineTool() mcpgo.Tool {
	return mcpgo.NewTool("list_timeline_entries",
		mcpgo.WithDescription("List Vehicle Registry sightings placed at a location from the same file."),
		mcpgo.WithString("file_id",
			mcpgo.Description("Only entries from this file"),
		),
	)
}

func buildSuggestionsTool() mcpgo.Tool {
	return mcpgo.NewTool("list_case_link_suggestions",
		mcpgo.WithDescription("List proposed links to other ongoing cases."),
		mcpgo.WithString("file_id",
			mcpgo.Description("Only suggestions raised by this file"),
		),
		mcpgo.WithBoolean("include_closed",
			mcpgo.Description("Include dismissed and accepted suggestions (default: false)"),
		),
	)
}

func buildMarkSuggestionTool() mcpgo.Tool {
	return mcpgo.NewTool("mark_suggestion",
		mcpgo.WithDescription("Mark a case-link suggestion as dismissed or accepted so it stops being offered."),
		mcpgo.WithString("file_id",
			mcpgo.Required(),
			mcpgo.Description("File that raised the suggestion"),
		),
		mcpgo.WithString("case_id",
			mcpgo.Required(),
			mcpgo.Description("Related case id"),
		),
		mcpgo.WithString("action",
			mcpgo.Required(),
			mcpgo.Description("dismiss, accept or reopen"),
		),
	)
}

func buildAggregatesTool() mcpgo.Tool {
	return mcpgo.NewTool("aggregate_counts",
		mcpgo.WithDescription("Get entity counts by type, rejection counts and the most recent high-confidence entities."),
	)
}

// --- tool handlers ---

func (s *Server) handleListFiles(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return toolResultJSON(map[string]any{"files": s.eng.Files()})
}

// handleAnalyzeDocument runs one document through the extraction pipeline.
func (s *Server) handleAnalyzeDocument(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.proc == nil {
		return mcpgo.NewToolResultError("extraction is unavailable"), nil
	}
	name := req.GetString("name", "")
	content := req.GetString("content", "")
	if strings.TrimSpace(name) == "" || strings.TrimSpace(content) == "" {
		return mcpgo.NewToolResultError("name and content are required and must not be empty"), nil
	}

	res := s.proc.Process(ctx, extraction.Document{
		ID:        req.GetString("id", ""),
		Name:      name,
		SizeBytes: int64(len(content)),
		MimeClass: "document",
		Content:   []byte(content),
	})
	if res.Err != nil && res.FileID == "" {
		return mcpgo.NewToolResultErrorf("analyze failed: %s", res.Err.Error()), nil
	}

	s.logger.Info("mcp: document analyzed", "file_id", res.FileID, "accepted", res.Accepted)
	result := map[string]any{
		"file_id":          res.FileID,
		"status":           res.Status,
		"accepted":         res.Accepted,
		"rejected":         res.Rejected,
		"cross_references": s.eng.ListCrossReferences(res.FileID),
	}
	if res.Err != nil {
		result["error"] = res.Err.Error()
	}
	return toolResultJSON(result)
}

func (s *Server) handleCrossReferences(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	fileID := req.GetString("file_id", "")
	if t := req.GetString("type", ""); t != "" {
		et, err := models.ParseEntityType(t)
		if err != nil {
			return mcpgo.NewToolResultErrorf("invalid type %q", t), nil
		}
		return toolResultJSON(map[string]any{"cross_references": s.eng.ListCrossReferencesByType(et, fileID)})
	}
	return toolResultJSON(map[string]any{"cross_references": s.eng.ListCrossReferences(fileID)})
}

func (s *Server) handleTimeline(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return toolResultJSON(map[string]any{"timeline": s.eng.ListTimelineEntries(req.GetString("file_id", ""))})
}

func (s *Server) handleSuggestions(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	sugs := s.eng.ListCaseLinkSuggestions(req.GetString("file_id", ""), req.GetBool("include_closed", false))
	return toolResultJSON(map[string]any{"suggestions": sugs})
}

func (s *Server) handleMarkSuggestion(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	fileID := req.GetString("file_id", "")
	caseID := req.GetString("case_id", "")
	if fileID == "" || caseID == "" {
		return mcpgo.NewToolResultError("file_id and case_id are required"), nil
	}

	var state models.SuggestionState
	switch action := req.GetString("action", ""); action {
	case "dismiss":
		state = models.SuggestionDismissed
	case "accept":
		state = models.SuggestionAccepted
	case "reopen":
		state = models.SuggestionOpen
	default:
		return mcpgo.NewToolResultErrorf("invalid action %q: must be one of dismiss, accept, reopen", action), nil
	}

	sug, err := s.eng.MarkSuggestion(fileID, caseID, state)
	if err != nil {
		return mcpgo.NewToolResultErrorf("mark failed: %s", err.Error()), nil
	}
	s.logger.Info("mcp: suggestion marked", "file_id", fileID, "case_id", caseID, "state", state)
	return toolResultJSON(sug)
}

func (s *Server) handleAggregates(_ context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return toolResultJSON(s.eng.AggregateCounts())
}
