// Package mcp exposes transcript search to agents over the Model Context Protocol.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hyperjump/callmind/internal/models"
	"github.com/hyperjump/callmind/internal/search"
)

// Searcher is the query side the tools call into; *search.Engine implements it.
type Searcher interface {
	Query(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error)
	Recent(ctx context.Context, limit int) ([]*models.CallRecord, error)
	Info(ctx context.Context) (*search.IndexInfo, error)
}

// RecordGetter loads one call record.
type RecordGetter interface {
	Get(ctx context.Context, callID string) (*models.CallRecord, error)
}

// Server wraps an MCP server with the callmind tools registered.
type Server struct {
	server   *server.MCPServer
	searcher Searcher
	records  RecordGetter
	logger   *zap.Logger
	tools    []string
}

// NewServer creates the MCP server and registers search_transcripts, recent_calls,
// get_call and index_info.
func NewServer(name, version string, searcher Searcher, records RecordGetter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		server: server.NewMCPServer(name, version,
			server.WithToolCapabilities(true),
			server.WithHooks(hooks(logger)),
			server.WithLogging(),
		),
		searcher: searcher,
		records:  records,
		logger:   logger,
	}
	s.register()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.server
}

// Tools returns the registered tool names.
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.server)
}

// ServeSSE serves MCP over server-sent events on addr.
func (s *Server) ServeSSE(addr string) error {
	return server.NewSSEServer(s.server).Start(addr)
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.server.AddTool(tool, handler)
	s.tools = append(s.tools, tool.Name)
	s.logger.Debug("mcp tool registered", zap.String("name", tool.Name))
}

func (s *Server) register() {
	s.addTool(mcp.NewTool("search_transcripts",
		mcp.WithDescription("Semantic search over call transcripts. Returns the most relevant calls with excerpts."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language query")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (1-100, default 5)")),
		mcp.WithString("mode", mcp.Description("semantic, keyword or hybrid"), mcp.Enum(models.ModeSemantic, models.ModeKeyword, models.ModeHybrid)),
		mcp.WithString("from_number", mcp.Description("Only calls from this number")),
		mcp.WithString("to_number", mcp.Description("Only calls to this number")),
	), s.handleSearch)

	s.addTool(mcp.NewTool("recent_calls",
		mcp.WithDescription("List the most recently indexed calls."),
		mcp.WithNumber("limit", mcp.Description("Maximum calls (1-100, default 10)")),
	), s.handleRecent)

	s.addTool(mcp.NewTool("get_call",
		mcp.WithDescription("Get one call record with its status and transcript."),
		mcp.WithString("call_id", mcp.Required(), mcp.Description("Provider call id")),
	), s.handleGetCall)

	s.addTool(mcp.NewTool("index_info",
		mcp.WithDescription("Describe the transcript index: backend, document count, dimensions."),
	), s.handleInfo)
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	query, err := SafeGetString(args, "query", true)
	if err != nil {
		return errorResult("%v", err), nil
	}
	limit, err := SafeGetNumber(args, "limit", false, 5)
	if err != nil {
		return errorResult("%v", err), nil
	}
	mode, _ := SafeGetString(args, "mode", false)
	from, _ := SafeGetString(args, "from_number", false)
	to, _ := SafeGetString(args, "to_number", false)

	resp, err := s.searcher.Query(ctx, &models.SearchQuery{
		Query:      query,
		Limit:      int(limit),
		Mode:       mode,
		FromNumber: from,
		ToNumber:   to,
	})
	if err != nil {
		return errorResult("search failed: %v", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleRecent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit, err := SafeGetNumber(req.GetArguments(), "limit", false, models.DefaultLimit)
	if err != nil {
		return errorResult("%v", err), nil
	}
	recs, err := s.searcher.Recent(ctx, int(limit))
	if err != nil {
		return errorResult("recent calls failed: %v", err), nil
	}
	return jsonResult(map[string]any{"calls": recs, "count": len(recs)})
}

func (s *Server) handleGetCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := SafeGetString(req.GetArguments(), "call_id", true)
	if err != nil {
		return errorResult("%v", err), nil
	}
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		if models.IsNotFound(err) {
			return errorResult("call %s not found", id), nil
		}
		return nil, fmt.Errorf("get call: %w", err)
	}
	return jsonResult(rec)
}

func (s *Server) handleInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.searcher.Info(ctx)
	if err != nil {
		return errorResult("index unavailable: %v", err), nil
	}
	return jsonResult(info)
}

func hooks(logger *zap.Logger) *server.Hooks {
	h := &server.Hooks{}
	h.AddBeforeCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest) {
		logger.Debug("tool call started", zap.Any("id", id), zap.String("tool", message.Params.Name))
	})
	h.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		logger.Debug("tool call finished", zap.Any("id", id), zap.String("tool", message.Params.Name))
	})
	return h
}
