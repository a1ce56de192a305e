// Package mcp implements a Model Context Protocol (MCP) server for Nexus.
// It exposes the memory engine to agents as JSON-RPC 2.0 tools.
package mcp

import (
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/scrypster/nexus/pkg/types"
)

// StoreMemoryArgs contains arguments for the store_memory tool.
type StoreMemoryArgs struct {
	AgentID         string `json:"agent_id"`           // Owning agent (required)
	Content         string `json:"content"`            // Memory content (required)
	Category        string `json:"category,omitempty"` // Defaults to "general"
	ImportanceScore int    `json:"importance_score"`   // 1..10 (required)
}

// StoreMemoryResult contains the result of storing a memory.
type StoreMemoryResult struct {
	ID         int64  `json:"id"`
	Category   string `json:"category"`
	Model      string `json:"embedding_model"`
	Dimensions int    `json:"embedding_dimensions"`
}

// RecallMemoryArgs contains arguments for the recall_memory tool.
//
// When ID is set the memory is looked up directly; otherwise a page of
// memories matching the optional filters is returned.
type RecallMemoryArgs struct {
	ID       int64  `json:"id,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	Category string `json:"category,omitempty"`
	Contains string `json:"contains,omitempty"` // case-sensitive content substring
	Offset   int    `json:"offset,omitempty"`
	Limit    int    `json:"limit,omitempty"` // default 10, max 100
}

// RecallMemoryResult contains the result of recalling memories.
type RecallMemoryResult struct {
	// Memory is set in ID-lookup mode.
	Memory *MemoryView `json:"memory,omitempty"`

	// Found reports whether the memory was found (ID-lookup mode only).
	Found bool `json:"found"`

	// Memories is set in list mode.
	Memories []MemoryView `json:"memories,omitempty"`

	// Total is the number of matching memories across all pages (list mode).
	Total int `json:"total,omitempty"`

	// HasMore reports whether more pages exist (list mode).
	HasMore bool `json:"has_more,omitempty"`
}

// SearchMemoriesArgs contains arguments for the search_memories tool.
type SearchMemoriesArgs struct {
	Query         string   `json:"query"`
	TopK          *int     `json:"top_k,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
}

// SearchHit is one ranked memory.
type SearchHit struct {
	MemoryView
	Similarity float64 `json:"similarity"`
}

// SearchMemoriesResult contains ranked matches, best first.
type SearchMemoriesResult struct {
	Query   string      `json:"query"`
	Results []SearchHit `json:"results"`
}

// UpdateMemoryArgs contains arguments for the update_memory tool. Omitted
// fields are left unchanged.
type UpdateMemoryArgs struct {
	ID              int64   `json:"id"`
	Content         *string `json:"content,omitempty"`
	Category        *string `json:"category,omitempty"`
	ImportanceScore *int    `json:"importance_score,omitempty"`
}

// UpdateMemoryResult contains the updated memory.
type UpdateMemoryResult struct {
	Memory MemoryView `json:"memory"`
}

// ForgetMemoryArgs contains arguments for the forget_memory tool.
type ForgetMemoryArgs struct {
	ID int64 `json:"id"`
}

// ForgetMemoryResult confirms a deletion.
type ForgetMemoryResult struct {
	OK bool  `json:"ok"`
	ID int64 `json:"id"`
}

// MemoryView is the memory shape returned to agents. The raw embedding is
// omitted; agents only need its model.
type MemoryView struct {
	ID              int64  `json:"id"`
	AgentID         string `json:"agent_id"`
	Content         string `json:"content"`
	Category        string `json:"category"`
	ImportanceScore int    `json:"importance_score"`
	EmbeddingModel  string `json:"embedding_model,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func viewOf(m *types.Memory) MemoryView {
	return MemoryView{
		ID:              m.ID,
		AgentID:         m.AgentID,
		Content:         m.Content,
		Category:        m.Category,
		ImportanceScore: m.ImportanceScore,
		EmbeddingModel:  m.EmbeddingModel,
		CreatedAt:       m.CreatedAt.Format(timeFormat),
		UpdatedAt:       m.UpdatedAt.Format(timeFormat),
	}
}

const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"` // string, number, or null
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	ID      interface{}   `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
	ErrCodeServerError    = -32000
)

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPTool describes a single tool exposed via tools/list.
type MCPTool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
