// Package mcpbridge implements a Model Context Protocol (MCP) server that
// exposes a qBittorrent instance as a fixed set of validated MCP tools.
//
// The server speaks JSON-RPC 2.0 over stdio, which is the standard transport
// for Claude Desktop and other local MCP hosts. The same ToolRegistry backs
// the optional HTTP surface in internal/httpapi.
package mcpbridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const protocolVersion = "2025-06-18"

// rpcRequest is an inbound JSON-RPC 2.0 message.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"` // nil = notification
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcResponse is an outbound JSON-RPC 2.0 message.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// ServerInfo is reported to the client in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Server is a stdio MCP server. It reads newline-delimited JSON-RPC 2.0
// messages from the reader passed to Serve and writes responses to the writer
// passed to NewServer.
type Server struct {
	tools  *ToolRegistry
	info   ServerInfo
	out    *json.Encoder
	outMu  sync.Mutex
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer creates an MCP server that writes responses to w.
// logger must not write to w; stdout belongs to the protocol.
func NewServer(w io.Writer, tools *ToolRegistry, info ServerInfo, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		tools:    tools,
		info:     info,
		out:      json.NewEncoder(w),
		logger:   logger,
		inflight: make(map[string]context.CancelFunc),
	}
}

// maxMessageBytes bounds a single inbound message. Longer lines are
// discarded and answered with an invalid-request error.
const maxMessageBytes = 1 << 20

// Serve reads JSON-RPC messages from r until EOF or ctx is cancelled, then
// waits for in-flight tool calls to finish.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	defer s.wg.Wait()

	reader := bufio.NewReaderSize(r, 64<<10)
	for {
		raw, tooLong, readErr := readMessage(reader, maxMessageBytes)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if tooLong {
			s.logger.Warn("message exceeds size limit, discarded", zap.Int("limit_bytes", maxMessageBytes))
			s.writeError(json.RawMessage(`null`), codeInvalidRequest,
				fmt.Sprintf("message exceeds %d bytes", maxMessageBytes))
		} else if line := bytes.TrimSpace(raw); len(line) > 0 {
			s.handleLine(ctx, line)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeError(json.RawMessage(`null`), codeParseError, "parse error")
		return
	}

	// Notifications have no id and get no response.
	if len(req.ID) == 0 {
		s.handleNotification(req)
		return
	}

	// Tool calls may be slow (network), so run them in goroutines while
	// keeping protocol-level methods synchronous.
	if req.Method == "tools/call" {
		s.startCall(ctx, req)
	} else {
		s.dispatch(ctx, req)
	}
}

// readMessage reads one newline-terminated message. A message longer than
// limit is consumed up to its newline and reported as tooLong without being
// buffered. err is io.EOF after the final message.
func readMessage(r *bufio.Reader, limit int) (msg []byte, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > limit+1 {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, tooLong, err
	}
}

func (s *Server) startCall(ctx context.Context, req rpcRequest) {
	key := requestKey(req.ID)
	cctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if _, dup := s.inflight[key]; dup {
		s.mu.Unlock()
		cancel()
		s.writeError(req.ID, codeInvalidRequest, "duplicate request id")
		return
	}
	s.inflight[key] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
			cancel()
		}()
		s.dispatch(cctx, req)
	}()
}

func (s *Server) handleNotification(req rpcRequest) {
	switch req.Method {
	case "notifications/cancelled":
		var params struct {
			RequestID json.RawMessage `json:"requestId"`
			Reason    string          `json:"reason"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params.RequestID) == 0 {
			return
		}
		s.mu.Lock()
		cancel, found := s.inflight[requestKey(params.RequestID)]
		s.mu.Unlock()
		if found {
			s.logger.Info("cancelling tool call",
				zap.ByteString("request_id", params.RequestID),
				zap.String("reason", params.Reason),
			)
			cancel()
		}
	default:
		// notifications/initialized and friends need no action.
	}
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "ping":
		s.write(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}})
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		s.writeError(req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req rpcRequest) {
	s.write(rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{"listChanged": false}},
			"serverInfo":      s.info,
		},
	})
}

func (s *Server) handleToolsList(req rpcRequest) {
	s.write(rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]any{"tools": s.tools.Definitions()},
	})
}

func (s *Server) handleToolsCall(ctx context.Context, req rpcRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(req.ID, codeInvalidParams, "invalid params")
		return
	}
	if !s.tools.Has(params.Name) {
		s.writeError(req.ID, codeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name))
		return
	}

	callID := uuid.NewString()
	start := time.Now()
	res := s.tools.Call(ctx, params.Name, params.Arguments)

	s.logger.Info("tool call",
		zap.String("call_id", callID),
		zap.String("tool", params.Name),
		zap.String("outcome", res.Outcome()),
		zap.Duration("duration", time.Since(start)),
	)

	// A call cancelled by the client gets no response.
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	text, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		s.logger.Error("encode tool result", zap.String("call_id", callID), zap.Error(err))
		res = failf(ReasonInternal, "cannot encode result of %s", params.Name)
		text, _ = json.Marshal(res)
	}

	s.write(rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"content":           []map[string]any{{"type": "text", "text": string(text)}},
			"structuredContent": res,
			"isError":           !res.Success,
		},
	})
}

func (s *Server) write(resp rpcResponse) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if err := s.out.Encode(resp); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}

func (s *Server) writeError(id json.RawMessage, code int, msg string) {
	s.write(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: msg},
	})
}

// requestKey normalizes a JSON-RPC id so 7 and "7" stay distinct but
// whitespace does not matter.
func requestKey(id json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, id); err != nil {
		return string(id)
	}
	return buf.String()
}
