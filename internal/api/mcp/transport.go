package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/scrypster/nexus/internal/logging"
)

// maxLineSize bounds a single JSON-RPC message.
const maxLineSize = 4 * 1024 * 1024

// StdioTransport reads newline-delimited JSON-RPC requests from in and writes
// one response line per request to out. Logs must not go to out.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *slog.Logger

	mu sync.Mutex
}

// NewStdioTransport wires server to in and out.
func NewStdioTransport(server *Server, in io.Reader, out io.Writer, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &StdioTransport{server: server, in: in, out: out, logger: logger}
}

// Serve processes requests until in reaches EOF or ctx is cancelled.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	t.logger.Info("mcp server listening on stdio")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			t.logger.Error("failed to handle request", "error", err)
			resp = internalErrorResponse(err)
		}
		if resp == nil {
			continue
		}
		if err := t.writeResponse(resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read stdin: %w", err)
	}
	t.logger.Info("mcp client disconnected")
	return nil
}

func (t *StdioTransport) writeResponse(resp []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.out.Write(append(resp, '\n')); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func internalErrorResponse(err error) []byte {
	resp, _ := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &JSONRPCError{Code: ErrCodeInternalError, Message: "Internal error", Data: err.Error()},
	})
	return resp
}
