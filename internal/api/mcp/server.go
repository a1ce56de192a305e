package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/scrypster/nexus/internal/engine"
	"github.com/scrypster/nexus/internal/logging"
	"github.com/scrypster/nexus/internal/retrieval"
	"github.com/scrypster/nexus/internal/storage"
	"github.com/scrypster/nexus/pkg/types"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "nexus"
	serverVersion   = "1.0.0"

	defaultRecallLimit = 10
	maxRecallLimit     = 100
)

// Service is the subset of engine.MemoryEngine exposed as tools.
type Service interface {
	Create(ctx context.Context, req types.CreateMemoryRequest) (*types.Memory, error)
	Get(ctx context.Context, id int64) (*types.Memory, error)
	List(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Memory], error)
	Update(ctx context.Context, id int64, u types.MemoryUpdate) (*types.Memory, error)
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, req engine.SearchRequest) ([]retrieval.Match, error)
	EmbeddingModel() string
	EmbeddingDimensions() int
}

// Server dispatches JSON-RPC 2.0 requests to the memory service.
type Server struct {
	svc     Service
	logger  *slog.Logger
	tools   []MCPTool
	schemas map[string]*jsonschema.Resolved
}

// NewServer creates an MCP server over svc.
func NewServer(svc Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{
		svc:     svc,
		logger:  logger,
		tools:   toolsList(),
		schemas: make(map[string]*jsonschema.Resolved),
	}
	for _, tool := range s.tools {
		resolved, err := tool.InputSchema.Resolve(nil)
		if err != nil {
			// static schemas; a failure here is a programming error
			panic(fmt.Sprintf("mcp: invalid schema for %s: %v", tool.Name, err))
		}
		s.schemas[tool.Name] = resolved
	}
	return s
}

// HandleRequest processes a single JSON-RPC request and returns the encoded
// response. Notifications (no id) that need no reply return nil bytes.
func (s *Server) HandleRequest(ctx context.Context, data []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid Request", "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case "initialize":
		return s.successResponse(req.ID, MCPInitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    MCPServerCapabilities{Tools: &MCPToolsCapability{}},
			ServerInfo:      MCPServerInfo{Name: serverName, Version: serverVersion},
		})

	case "notifications/initialized", "initialized":
		return nil, nil

	case "ping":
		return s.successResponse(req.ID, struct{}{})

	case "tools/list":
		return s.successResponse(req.ID, MCPToolsListResult{Tools: s.tools})

	case "tools/call":
		return s.handleToolsCall(ctx, req)

	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, "Method not found", req.Method)
	}
}

// handleToolsCall runs the named tool. Tool failures are reported inside the
// result with IsError set, so the agent can read them; only malformed calls
// become JSON-RPC errors.
func (s *Server) handleToolsCall(ctx context.Context, req JSONRPCRequest) ([]byte, error) {
	var params MCPToolCallParams
	if err := unmarshalParams(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, ErrCodeInvalidParams, "Invalid params", err.Error())
	}

	schema, ok := s.schemas[params.Name]
	if !ok {
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, "Unknown tool", params.Name)
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}
	if err := schema.Validate(params.Arguments); err != nil {
		return s.errorResponse(req.ID, ErrCodeInvalidParams, "Invalid params", err.Error())
	}

	var (
		result interface{}
		err    error
	)
	switch params.Name {
	case "store_memory":
		result, err = callTool(ctx, params.Arguments, s.storeMemory)
	case "recall_memory":
		result, err = callTool(ctx, params.Arguments, s.recallMemory)
	case "search_memories":
		result, err = callTool(ctx, params.Arguments, s.searchMemories)
	case "update_memory":
		result, err = callTool(ctx, params.Arguments, s.updateMemory)
	case "forget_memory":
		result, err = callTool(ctx, params.Arguments, s.forgetMemory)
	default:
		return s.errorResponse(req.ID, ErrCodeMethodNotFound, "Unknown tool", params.Name)
	}

	if err != nil {
		if errors.Is(err, errBadArguments) {
			return s.errorResponse(req.ID, ErrCodeInvalidParams, "Invalid params", err.Error())
		}
		s.logger.Warn("tool call failed", "tool", params.Name, "error", err)
		return s.successResponse(req.ID, MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: toolError(err)}},
			IsError: true,
		})
	}

	text, err := json.Marshal(result)
	if err != nil {
		return s.errorResponse(req.ID, ErrCodeInternalError, "Internal error", err.Error())
	}
	return s.successResponse(req.ID, MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	})
}

var errBadArguments = errors.New("bad tool arguments")

// callTool decodes the raw arguments into A and invokes fn.
func callTool[A any, R any](ctx context.Context, raw map[string]interface{}, fn func(context.Context, A) (R, error)) (interface{}, error) {
	var args A
	if err := unmarshalParams(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadArguments, err)
	}
	return fn(ctx, args)
}

func (s *Server) storeMemory(ctx context.Context, args StoreMemoryArgs) (*StoreMemoryResult, error) {
	m, err := s.svc.Create(ctx, types.CreateMemoryRequest{
		AgentID:         args.AgentID,
		Content:         args.Content,
		Category:        args.Category,
		ImportanceScore: args.ImportanceScore,
	})
	if err != nil {
		return nil, err
	}
	return &StoreMemoryResult{
		ID:         m.ID,
		Category:   m.Category,
		Model:      m.EmbeddingModel,
		Dimensions: len(m.Embedding),
	}, nil
}

func (s *Server) recallMemory(ctx context.Context, args RecallMemoryArgs) (*RecallMemoryResult, error) {
	if args.ID != 0 {
		m, err := s.svc.Get(ctx, args.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return &RecallMemoryResult{Found: false}, nil
		}
		if err != nil {
			return nil, err
		}
		view := viewOf(m)
		return &RecallMemoryResult{Memory: &view, Found: true}, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	if limit > maxRecallLimit {
		limit = maxRecallLimit
	}
	page, err := s.svc.List(ctx, storage.ListOptions{
		Offset:   args.Offset,
		Limit:    limit,
		Category: args.Category,
		AgentID:  args.AgentID,
		Query:    args.Contains,
	})
	if err != nil {
		return nil, err
	}

	views := make([]MemoryView, 0, len(page.Items))
	for i := range page.Items {
		views = append(views, viewOf(&page.Items[i]))
	}
	return &RecallMemoryResult{
		Memories: views,
		Total:    page.Total,
		HasMore:  page.HasMore,
	}, nil
}

func (s *Server) searchMemories(ctx context.Context, args SearchMemoriesArgs) (*SearchMemoriesResult, error) {
	req := engine.SearchRequest{Query: args.Query, MinSimilarity: args.MinSimilarity}
	if args.TopK != nil {
		req.TopK = *args.TopK
	}
	matches, err := s.svc.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(matches))
	for _, match := range matches {
		hits = append(hits, SearchHit{MemoryView: viewOf(match.Memory), Similarity: match.Similarity})
	}
	return &SearchMemoriesResult{Query: args.Query, Results: hits}, nil
}

func (s *Server) updateMemory(ctx context.Context, args UpdateMemoryArgs) (*UpdateMemoryResult, error) {
	m, err := s.svc.Update(ctx, args.ID, types.MemoryUpdate{
		Content:         args.Content,
		Category:        args.Category,
		ImportanceScore: args.ImportanceScore,
	})
	if err != nil {
		return nil, err
	}
	return &UpdateMemoryResult{Memory: viewOf(m)}, nil
}

func (s *Server) forgetMemory(ctx context.Context, args ForgetMemoryArgs) (*ForgetMemoryResult, error) {
	if err := s.svc.Delete(ctx, args.ID); err != nil {
		return nil, err
	}
	return &ForgetMemoryResult{OK: true, ID: args.ID}, nil
}

// toolError renders err for the agent, prefixed with a stable kind.
func toolError(err error) string {
	kind := "internal"
	switch {
	case errors.Is(err, types.ErrValidation):
		kind = "validation"
	case errors.Is(err, retrieval.ErrInvalidArgument), errors.Is(err, storage.ErrInvalidInput):
		kind = "invalid_argument"
	case errors.Is(err, storage.ErrNotFound):
		kind = "not_found"
	case errors.Is(err, retrieval.ErrEmbeddingUnavailable):
		kind = "embedding_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	}
	return kind + ": " + err.Error()
}

func toolsList() []MCPTool {
	importance := func() *jsonschema.Schema {
		return rangeProp(types.MinImportance, types.MaxImportance, "Importance from 1 to 10")
	}
	return []MCPTool{
		{
			Name:        "store_memory",
			Description: "Store a memory for an agent. The content is embedded for later semantic search.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"agent_id":         prop("string", "Identifier of the owning agent"),
				"content":          prop("string", "Text to remember"),
				"category":         prop("string", "Free-form category (default: general)"),
				"importance_score": importance(),
			}, "agent_id", "content", "importance_score"),
		},
		{
			Name:        "recall_memory",
			Description: "Fetch a memory by id, or list memories filtered by agent, category or content.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"id":       prop("integer", "Memory id; when set, the other fields are ignored"),
				"agent_id": prop("string", "Only memories of this agent"),
				"category": prop("string", "Only memories in this category"),
				"contains": prop("string", "Only memories whose content contains this text"),
				"offset":   rangeProp(0, -1, "Number of matches to skip"),
				"limit":    rangeProp(1, maxRecallLimit, "Page size (default: 10)"),
			}),
		},
		{
			Name:        "search_memories",
			Description: "Find the memories most semantically similar to a query, best first.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"query":          prop("string", "Free text to search for"),
				"top_k":          rangeProp(1, -1, "Maximum number of results (default: 5)"),
				"min_similarity": unitProp("Only return matches scoring above this cosine similarity (0 to 1)"),
			}, "query"),
		},
		{
			Name:        "update_memory",
			Description: "Change the content, category or importance of a memory. Omitted fields are kept.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"id":               prop("integer", "Memory id"),
				"content":          prop("string", "New content; the memory is re-embedded"),
				"category":         prop("string", "New category"),
				"importance_score": importance(),
			}, "id"),
		},
		{
			Name:        "forget_memory",
			Description: "Permanently delete a memory.",
			InputSchema: object(map[string]*jsonschema.Schema{
				"id": prop("integer", "Memory id"),
			}, "id"),
		},
	}
}

func object(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

func prop(typ, description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: typ, Description: description}
}

// rangeProp is an integer bounded by lo and, when hi >= lo, by hi.
func rangeProp(lo, hi int, description string) *jsonschema.Schema {
	p := prop("integer", description)
	minimum := float64(lo)
	p.Minimum = &minimum
	if hi >= lo {
		maximum := float64(hi)
		p.Maximum = &maximum
	}
	return p
}

// unitProp is a number in [0, 1].
func unitProp(description string) *jsonschema.Schema {
	p := prop("number", description)
	lo, hi := 0.0, 1.0
	p.Minimum = &lo
	p.Maximum = &hi
	return p
}

// unmarshalParams round-trips params through JSON into dst.
func unmarshalParams(params interface{}, dst interface{}) error {
	if params == nil {
		return fmt.Errorf("params are required")
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	return json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}
