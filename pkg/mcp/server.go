package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pario-ai/intentd/pkg/analysis"
	"github.com/pario-ai/intentd/pkg/metrics"
	"github.com/pario-ai/intentd/pkg/models"
)

// Analyzer runs analysis tools. *analysis.Orchestrator implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req models.ToolRequest) models.AnalysisResult
	Tools() []*analysis.Tool
	Lookup(name string) (*analysis.Tool, bool)
}

// CacheAdmin exposes the result cache to the admin endpoints.
type CacheAdmin interface {
	Stats() models.CacheStats
	Clear()
}

// Server validates JSON-RPC envelopes and dispatches MCP methods to the analyzer.
// The same dispatch core serves HTTP (Handler) and stdio (Run).
type Server struct {
	analyzer Analyzer
	cache    CacheAdmin
	metrics  *metrics.Metrics
	logger   *zap.Logger
	version  string
	now      func() time.Time

	sem *semaphore.Weighted
	// workers tracks detached analyses so shutdown can wait for them.
	workers sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithCache enables the admin cache endpoints.
func WithCache(c CacheAdmin) Option {
	return func(s *Server) { s.cache = c }
}

// WithMetrics records RPC replies on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithVersion sets the version reported by initialize.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithMaxInFlight bounds concurrent analyses.
func WithMaxInFlight(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithClock overrides the clock used for health timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server.
func New(analyzer Analyzer, opts ...Option) *Server {
	s := &Server{
		analyzer: analyzer,
		logger:   zap.NewNop(),
		version:  "dev",
		now:      time.Now,
		sem:      semaphore.NewWeighted(64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until every detached analysis has finished.
func (s *Server) Wait() {
	s.workers.Wait()
}

// Handle processes one raw JSON-RPC message and always returns a reply.
// Panics during dispatch become -32603 replies.
func (s *Server) Handle(ctx context.Context, raw []byte) (resp Response) {
	var id json.RawMessage
	method := "invalid"

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during dispatch",
				zap.String("method", method),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			resp = errorResponse(id, CodeInternalError, fmt.Sprintf("Internal error: %v", r))
		}
		code := 0
		if resp.Error != nil {
			code = resp.Error.Code
		}
		s.metrics.ObserveRPC(method, code)
	}()

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope == nil {
		return errorResponse(nil, CodeParseError, "Parse error")
	}

	if rawID, ok := envelope["id"]; ok {
		if !validID(rawID) {
			return errorResponse(nil, CodeInvalidRequest, "Invalid Request: id must be a string, number or null")
		}
		id = rawID
	}

	var missing []string
	for _, key := range []string{"jsonrpc", "method", "id"} {
		if _, ok := envelope[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errorResponse(id, CodeInvalidRequest, "Invalid Request: missing "+strings.Join(missing, ", "))
	}

	var version string
	if err := json.Unmarshal(envelope["jsonrpc"], &version); err != nil || version != "2.0" {
		return errorResponse(id, CodeInvalidRequest, `Invalid Request: jsonrpc must be "2.0"`)
	}
	var name string
	if err := json.Unmarshal(envelope["method"], &name); err != nil {
		return errorResponse(id, CodeInvalidRequest, "Invalid Request: method must be a string")
	}

	method = name
	req := Request{JSONRPC: version, ID: id, Method: name, Params: envelope["params"]}
	resp = s.dispatch(ctx, &req)
	method = metricMethod(name, resp)
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req *Request) Response {
	var params struct {
		Capabilities json.RawMessage `json:"capabilities"`
		ClientInfo   json.RawMessage `json:"clientInfo"`
	}
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}
	s.logger.Info("client initialized",
		zap.ByteString("capabilities", params.Capabilities),
		zap.ByteString("client_info", params.ClientInfo),
	)

	return Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "intentd", Version: s.version},
			Capabilities: Capabilities{
				Tools: ToolsCapability{Supported: true, ListChanged: false},
			},
		},
	}
}

func (s *Server) handleToolsList(req *Request) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  ToolsListResult{Tools: toolDefinitions(s.analyzer.Tools())},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) Response {
	var params ToolCallParams
	if len(req.Params) > 0 && !bytes.Equal(bytes.TrimSpace(req.Params), []byte("null")) {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "Invalid params: "+err.Error())
		}
	}

	result, err := s.callTool(ctx, params)
	if err != nil {
		s.logger.Error("tool call failed", zap.String("tool", params.Name), zap.Error(err))
		return errorResponse(req.ID, CodeInternalError, "Internal error: "+err.Error())
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// analyze runs one analysis on a pooled worker detached from ctx's
// cancellation. If ctx ends first the caller gets ctx.Err() while the
// analysis keeps running and still populates the cache.
func (s *Server) analyze(ctx context.Context, req models.ToolRequest) (models.AnalysisResult, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	type outcome struct {
		result models.AnalysisResult
		err    error
	}
	done := make(chan outcome, 1)
	detached := context.WithoutCancel(ctx)

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer s.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in analysis worker",
					zap.String("tool", req.ToolName),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- outcome{err: fmt.Errorf("analysis panicked: %v", r)}
			}
		}()
		done <- outcome{result: s.analyzer.Analyze(detached, req)}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		s.logger.Info("caller went away, analysis continues in background", zap.String("tool", req.ToolName))
		return nil, ctx.Err()
	}
}

// Run reads newline-delimited JSON-RPC messages from r and writes replies to w.
// Notifications (notifications/* without an id) get no reply. A line longer
// than maxBodyBytes is answered with a parse error and skipped.
// It blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	br := bufio.NewReaderSize(r, 64*1024)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, tooLong, err := readLine(br, maxBodyBytes)
		switch {
		case tooLong:
			s.logger.Warn("stdio message too large, skipped", zap.Int("limit_bytes", maxBodyBytes))
			s.metrics.ObserveRPC("invalid", CodeParseError)
			s.writeResponse(w, errorResponse(nil, CodeParseError, "Parse error: message too large"))
		default:
			line = bytes.TrimSpace(line)
			if len(line) > 0 && !isNotification(line) {
				s.writeResponse(w, s.Handle(ctx, line))
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// readLine reads up to and including the next newline. When the line exceeds
// limit bytes the rest of it is consumed and discarded and tooLong is set.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		var chunk []byte
		chunk, err = br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		data, _ = json.Marshal(errorResponse(resp.ID, CodeInternalError, "Internal error: "+err.Error()))
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}

func errorResponse(id json.RawMessage, code int, msg string) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: msg},
	}
}

// validID reports whether raw is a string, number or null.
func validID(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch v.(type) {
	case nil, string, float64:
		return true
	default:
		return false
	}
}

func isNotification(line []byte) bool {
	var probe struct {
		ID     *json.RawMessage `json:"id"`
		Method string           `json:"method"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return false
	}
	return probe.ID == nil && strings.HasPrefix(probe.Method, "notifications/")
}

// metricMethod keeps the method label bounded: unknown methods collapse to "unknown".
func metricMethod(name string, resp Response) string {
	if resp.Error != nil && resp.Error.Code == CodeMethodNotFound {
		return "unknown"
	}
	return name
}
