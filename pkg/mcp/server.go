package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/bpmnkit/internal/bpmn"
	"github.com/rendis/bpmnkit/internal/logging"
	"github.com/rendis/bpmnkit/internal/service"
	"github.com/rendis/bpmnkit/pkg/schema"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Service *service.Service
	Logger  *slog.Logger
	Version string
}

// Server wraps an MCP server with the bpmnkit tool handlers.
type Server struct {
	svc       *service.Service
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  DiagramNotifier
	mcpServer *server.MCPServer
}

// NewServer creates a new Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		svc:      deps.Service,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"bpmnkit",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithToolHandlerMiddleware(s.correlate),
		server.WithInstructions("bpmnkit turns workflow descriptions into BPMN 2.0 XML that opens in Camunda Modeler and bpmn.io. "+
			"Use bpmn.synthesize with a workflow spec, or build the spec first from a free-text brief with bpmn.parse_sections "+
			"or from any JSON document with bpmn.extract. bpmn.verify checks a document, bpmn.preview renders a spec as Mermaid or ASCII, "+
			"and bpmn.get, bpmn.list, bpmn.revise and bpmn.history work with the diagram archive."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	if s.svc != nil {
		s.svc.OnRevise(s.notifyRevision)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetContextFunc(func(ctx context.Context) context.Context {
		return logging.WithTransport(ctx, "mcp-stdio")
	})
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns the SSE transport for mounting under /mcp.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewSSEServer(s.mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, _ *http.Request) context.Context {
			return logging.WithTransport(ctx, "mcp-sse")
		}),
	)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// correlate gives every tool call its own request id.
func (s *Server) correlate(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = logging.WithRequestID(ctx, uuid.NewString())
		if logging.Transport(ctx) == "" {
			ctx = logging.WithTransport(ctx, "mcp")
		}
		logging.LogWith(ctx, s.logger).Debug("tool call", "tool", req.Params.Name)
		return next(ctx, req)
	}
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: synthesizeTool(), Handler: s.handleSynthesize},
		{Tool: parseSectionsTool(), Handler: s.handleParseSections},
		{Tool: extractTool(), Handler: s.handleExtract},
		{Tool: verifyTool(), Handler: s.handleVerify},
		{Tool: previewTool(), Handler: s.handlePreview},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: reviseTool(), Handler: s.handleRevise},
		{Tool: historyTool(), Handler: s.handleHistory},
	}
}

// --- Tool definitions ---

func synthesizeTool() mcp.Tool {
	return mcp.NewTool("bpmn.synthesize",
		mcp.WithDescription("Synthesize BPMN 2.0 XML from a workflow spec"),
		mcp.WithObject("spec", mcp.Required(), mcp.Description(
			"Workflow spec: processName, processDescription, participants, trigger, activities, decisionPoints, endEvent, additionalElements")),
		mcp.WithNumber("pitch", mcp.Min(0), mcp.Max(bpmn.MaxPitch), mcp.Description("Horizontal distance between columns (default: server setting)")),
		mcp.WithBoolean("save", mcp.Description("Archive the diagram (default: true when the archive is enabled)")),
	)
}

func parseSectionsTool() mcp.Tool {
	return mcp.NewTool("bpmn.parse_sections",
		mcp.WithDescription("Read a free-text brief with section headers into a workflow spec"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Brief with headers such as Process Name, Participants, Activities")),
	)
}

func extractTool() mcp.Tool {
	return mcp.NewTool("bpmn.extract",
		mcp.WithDescription("Map an arbitrary JSON document onto a workflow spec with a jq program"),
		mcp.WithObject("document", mcp.Required(), mcp.Description("Source document")),
		mcp.WithString("program", mcp.Description("jq program producing the spec object (default: built-in key mapping)")),
		mcp.WithObject("source_schema", mcp.Description("JSON Schema the document must satisfy before extraction")),
	)
}

func verifyTool() mcp.Tool {
	return mcp.NewTool("bpmn.verify",
		mcp.WithDescription("Check a BPMN document for broken references, unreachable nodes and missing diagram shapes"),
		mcp.WithString("xml", mcp.Required(), mcp.Description("BPMN 2.0 XML document")),
	)
}

func previewTool() mcp.Tool {
	return mcp.NewTool("bpmn.preview",
		mcp.WithDescription("Render a workflow spec or an archived diagram as Mermaid or ASCII"),
		mcp.WithObject("spec", mcp.Description("Workflow spec to render")),
		mcp.WithString("diagram_id", mcp.Description("Archived diagram to render instead of a spec")),
		mcp.WithString("format",
			mcp.Enum(service.FormatMermaid, service.FormatASCII),
			mcp.Description("Output format (default: mermaid)"),
		),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool("bpmn.get",
		mcp.WithDescription("Fetch an archived diagram with its XML"),
		mcp.WithString("diagram_id", mcp.Required(), mcp.Description("ID of the diagram")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("bpmn.list",
		mcp.WithDescription("List archived diagrams, newest first"),
		mcp.WithObject("filter", mcp.Description("Filter criteria (process_name, root_id, latest, since, limit, offset)")),
	)
}

func reviseTool() mcp.Tool {
	return mcp.NewTool("bpmn.revise",
		mcp.WithDescription("Archive an edited document as a new revision of a diagram"),
		mcp.WithString("diagram_id", mcp.Required(), mcp.Description("Diagram the edit derives from")),
		mcp.WithString("xml", mcp.Required(), mcp.Description("Edited BPMN 2.0 XML document")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("bpmn.history",
		mcp.WithDescription("Summarize the audit trail of a diagram, or list its events of one type"),
		mcp.WithString("diagram_id", mcp.Required(), mcp.Description("ID of the diagram")),
		mcp.WithString("type",
			mcp.Enum(schema.EventDiagramSynthesized, schema.EventDiagramRevised, schema.EventDiagramExported, schema.EventDiagramDeleted),
			mcp.Description("List raw events of this type, newest first, instead of the summary")),
		mcp.WithNumber("limit", mcp.Min(0), mcp.Description("Maximum number of events to list (0 = all)")),
	)
}
