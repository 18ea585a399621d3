package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/intentd/pkg/analysis"
	"github.com/pario-ai/intentd/pkg/cache"
	"github.com/pario-ai/intentd/pkg/metrics"
	"github.com/pario-ai/intentd/pkg/models"
)

const fptIntent = `{"is_finance_related": true, "needs_clarification": false, "main_intent": "Hỏi giá cổ phiếu FPT", "required_analysis": ["live"], "question_type": "SIMPLE", "stock_codes": ["FPT"]}`

// countingProvider returns the same reply to every call. When gate is set,
// each call blocks until gate is closed.
type countingProvider struct {
	reply string
	gate  chan struct{}
	calls atomic.Int32
}

func (p *countingProvider) Name() string { return "counting" }

func (p *countingProvider) Complete(ctx context.Context, _ []models.ChatMessage) (string, error) {
	p.calls.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.reply, nil
}

type testResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

type fixture struct {
	srv      *Server
	cache    *cache.Cache
	provider *countingProvider
	registry *prometheus.Registry
}

func newFixture(t *testing.T, reply string) *fixture {
	t.Helper()
	p := &countingProvider{reply: reply}
	c := cache.New(cache.Options{Enabled: true, TTL: time.Hour, MaxSize: 100})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	orch := analysis.New(p, c, analysis.WithMetrics(m))
	srv := New(orch, WithCache(c), WithMetrics(m), WithVersion("test"), WithMaxInFlight(4))
	t.Cleanup(srv.Wait)
	return &fixture{srv: srv, cache: c, provider: p, registry: reg}
}

// post sends body to the JSON-RPC endpoint and decodes the reply.
func (f *fixture) post(t *testing.T, body string) testResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.Handler(f.registry).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "raw: %s", rec.Body.String())
	assert.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func callBody(id, tool, args string) string {
	return `{"jsonrpc":"2.0","id":` + id + `,"method":"tools/call","params":{"name":"` + tool + `","arguments":` + args + `}}`
}

func decodeResult(t *testing.T, resp testResponse) toolCallView {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	var out toolCallView
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	return out
}

// toolCallView decodes a tools/call result with the JSON block kept generic.
type toolCallView struct {
	Content []struct {
		Type string         `json:"type"`
		Text string         `json:"text"`
		JSON map[string]any `json:"json"`
	} `json:"content"`
	IsError *bool `json:"isError"`
}

func TestInitialize(t *testing.T) {
	f := newFixture(t, fptIntent)
	resp := f.post(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"capabilities":{"sampling":{}}}}`)
	require.Nil(t, resp.Error)

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])
	assert.Equal(t, map[string]any{"name": "intentd", "version": "test"}, result["serverInfo"])
	assert.Equal(t, map[string]any{
		"tools":     map[string]any{"supported": true, "listChanged": false},
		"resources": map[string]any{"supported": false},
		"prompts":   map[string]any{"supported": false},
	}, result["capabilities"])
}

func TestToolsList(t *testing.T) {
	f := newFixture(t, fptIntent)
	resp := f.post(t, `{"jsonrpc":"2.0","id":"list","method":"tools/list"}`)
	require.Nil(t, resp.Error)

	var result struct {
		Tools      []map[string]any `json:"tools"`
		NextCursor json.RawMessage  `json:"nextCursor"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.JSONEq(t, "null", string(result.NextCursor))

	require.Len(t, result.Tools, 3)
	names := []string{}
	for _, tool := range result.Tools {
		names = append(names, tool["name"].(string))
		assert.Contains(t, tool, "description")
		assert.Contains(t, tool, "parameters")
		assert.Contains(t, tool, "returns")
		params := tool["parameters"].(map[string]any)
		assert.Equal(t, []any{"query"}, params["required"])
	}
	assert.Equal(t, []string{"analyze_intent", "extract_information", "define_question_type"}, names)
}

func TestAnalyzeIntentEndToEnd(t *testing.T) {
	f := newFixture(t, fptIntent)

	first := decodeResult(t, f.post(t, callBody("1", "analyze_intent", `{"query":"Giá cổ phiếu FPT hôm nay?"}`)))
	require.NotNil(t, first.IsError)
	assert.False(t, *first.IsError)
	require.Len(t, first.Content, 2)
	assert.Equal(t, "text", first.Content[0].Type)
	assert.Equal(t, "Đã phân tích ý định cho câu hỏi: Giá cổ phiếu FPT hôm nay?", first.Content[0].Text)
	assert.Equal(t, "json", first.Content[1].Type)
	assert.Equal(t, true, first.Content[1].JSON["is_finance_related"])
	assert.Equal(t, []any{"FPT"}, first.Content[1].JSON["stock_codes"])

	second := decodeResult(t, f.post(t, callBody("2", "analyze_intent", `{"query":"Giá cổ phiếu FPT hôm nay?"}`)))
	assert.Equal(t, first.Content[1].JSON, second.Content[1].JSON)

	assert.EqualValues(t, 1, f.provider.calls.Load(), "second call must be a cache hit")
	assert.EqualValues(t, 1, f.cache.Stats().Hits)
}

func TestExtractInformationSummary(t *testing.T) {
	f := newFixture(t, `{"stock_codes":["VNM"],"company_names":["Vinamilk"]}`)
	got := decodeResult(t, f.post(t, callBody("7", "extract_information", `{"query":"Doanh thu VNM"}`)))
	assert.Equal(t, "Đã trích xuất thông tin từ câu hỏi: Doanh thu VNM", got.Content[0].Text)
	assert.Equal(t, []any{"Vinamilk"}, got.Content[1].JSON["company_names"])
}

func TestEnvelopeValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		code   int
		wantID string
	}{
		{"missing id", `{"jsonrpc":"2.0","method":"tools/list"}`, CodeInvalidRequest, "null"},
		{"missing method", `{"jsonrpc":"2.0","id":5}`, CodeInvalidRequest, "5"},
		{"missing jsonrpc", `{"id":"a","method":"tools/list"}`, CodeInvalidRequest, `"a"`},
		{"wrong version", `{"jsonrpc":"1.0","id":9,"method":"tools/list"}`, CodeInvalidRequest, "9"},
		{"method not a string", `{"jsonrpc":"2.0","id":3,"method":42}`, CodeInvalidRequest, "3"},
		{"object id", `{"jsonrpc":"2.0","id":{"x":1},"method":"tools/list"}`, CodeInvalidRequest, "null"},
		{"not json", `this is not json`, CodeParseError, "null"},
		{"json array", `[{"jsonrpc":"2.0","id":1,"method":"tools/list"}]`, CodeParseError, "null"},
		{"json null", `null`, CodeParseError, "null"},
		{"empty body", ``, CodeParseError, "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fptIntent)
			resp := f.post(t, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.JSONEq(t, tt.wantID, string(resp.ID))
		})
	}
}

func TestUnknownMethod(t *testing.T) {
	f := newFixture(t, fptIntent)
	resp := f.post(t, `{"jsonrpc":"2.0","id":11,"method":"resources/list"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "resources/list")
	assert.JSONEq(t, "11", string(resp.ID))
}

func TestIDEchoedVerbatim(t *testing.T) {
	for _, id := range []string{`null`, `"abc-123"`, `42`, `3.5`} {
		t.Run(id, func(t *testing.T) {
			f := newFixture(t, fptIntent)
			resp := f.post(t, `{"jsonrpc":"2.0","id":`+id+`,"method":"tools/list"}`)
			require.Nil(t, resp.Error)
			assert.JSONEq(t, id, string(resp.ID))
		})
	}
}

func TestToolCallErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown tool", callBody("1", "predict_price", `{"query":"FPT"}`), "Error: Unknown tool 'predict_price'"},
		{"missing query", callBody("1", "analyze_intent", `{}`), "Error: Missing required parameter 'query'"},
		{"non-string query", callBody("1", "analyze_intent", `{"query":123}`), "Error: Missing required parameter 'query'"},
		{"null query", callBody("1", "analyze_intent", `{"query":null}`), "Error: Missing required parameter 'query'"},
		{"no arguments", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"analyze_intent"}}`, "Error: Missing required parameter 'query'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fptIntent)
			got := decodeResult(t, f.post(t, tt.body))
			require.NotNil(t, got.IsError)
			assert.True(t, *got.IsError)
			require.Len(t, got.Content, 1)
			assert.Equal(t, tt.want, got.Content[0].Text)
			assert.EqualValues(t, 0, f.provider.calls.Load())
		})
	}
}

func TestInvalidParams(t *testing.T) {
	for _, params := range []string{`"analyze_intent"`, `["analyze_intent"]`, `{"name":42}`} {
		t.Run(params, func(t *testing.T) {
			f := newFixture(t, fptIntent)
			resp := f.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":`+params+`}`)
			require.NotNil(t, resp.Error)
			assert.Equal(t, CodeInvalidParams, resp.Error.Code)
			assert.JSONEq(t, "1", string(resp.ID))
			assert.EqualValues(t, 0, f.provider.calls.Load())
		})
	}
}

func TestEmptyQueryIsAnalyzed(t *testing.T) {
	f := newFixture(t, `{"question_type":"SIMPLE"}`)
	got := decodeResult(t, f.post(t, callBody("1", "define_question_type", `{"query":""}`)))
	assert.False(t, *got.IsError)
	assert.EqualValues(t, 1, f.provider.calls.Load())
}

func TestDegradedResultIsNotAnError(t *testing.T) {
	f := newFixture(t, "Xin lỗi, tôi không hiểu.")
	got := decodeResult(t, f.post(t, callBody("1", "analyze_intent", `{"query":"???"}`)))
	assert.False(t, *got.IsError)
	assert.Equal(t, false, got.Content[1].JSON["is_finance_related"])
	assert.Equal(t, true, got.Content[1].JSON["needs_clarification"])
	assert.EqualValues(t, 2, f.provider.calls.Load(), "one retry")
	assert.Equal(t, 0, f.cache.Stats().CurrentSize)
}

// panickingAnalyzer blows up on every analysis.
type panickingAnalyzer struct{ *analysis.Orchestrator }

func (panickingAnalyzer) Analyze(context.Context, models.ToolRequest) models.AnalysisResult {
	panic("boom")
}

func TestPanicBecomesInternalError(t *testing.T) {
	orch := analysis.New(&countingProvider{}, nil)
	srv := New(panickingAnalyzer{orch})
	t.Cleanup(srv.Wait)

	resp := srv.Handle(context.Background(), []byte(callBody(`"p1"`, "analyze_intent", `{"query":"FPT"}`)))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)
	assert.True(t, strings.HasPrefix(resp.Error.Message, "Internal error: "))
	assert.JSONEq(t, `"p1"`, string(resp.ID))
}

func TestCallerCancellationStillCaches(t *testing.T) {
	f := newFixture(t, fptIntent)
	f.provider.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	replied := make(chan Response, 1)
	go func() {
		replied <- f.srv.Handle(ctx, []byte(callBody("1", "analyze_intent", `{"query":"FPT"}`)))
	}()

	require.Eventually(t, func() bool { return f.provider.calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-replied:
	case <-time.After(time.Second):
		t.Fatal("request did not return after its context was cancelled")
	}

	close(f.provider.gate)
	f.srv.Wait()

	_, ok := f.cache.Get("analyze_intent", "FPT")
	assert.True(t, ok, "detached analysis must still populate the cache")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, fptIntent)
	fixed := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	f.srv.now = func() time.Time { return fixed }

	rec := httptest.NewRecorder()
	f.srv.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","timestamp":"2025-03-01T09:30:00Z"}`, rec.Body.String())
}

func TestAdminCache(t *testing.T) {
	f := newFixture(t, fptIntent)
	f.post(t, callBody("1", "analyze_intent", `{"query":"FPT"}`))
	h := f.srv.Handler(nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/cache", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.CacheStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.True(t, stats.Enabled)
	assert.Equal(t, 1, stats.CurrentSize)
	assert.EqualValues(t, 3600, stats.TTLSeconds)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/cache", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"cleared","removed":1}`, rec.Body.String())
	assert.Equal(t, 0, f.cache.Stats().CurrentSize)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fptIntent)
	f.post(t, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	f.post(t, `{"jsonrpc":"2.0","id":2,"method":"nope"}`)

	rec := httptest.NewRecorder()
	f.srv.Handler(f.registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `intentd_rpc_requests_total{code="0",method="tools/list"} 1`)
	assert.Contains(t, body, `intentd_rpc_requests_total{code="-32601",method="unknown"} 1`)
}

func TestRunStdio(t *testing.T) {
	f := newFixture(t, fptIntent)
	in := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		``,
		callBody("2", "analyze_intent", `{"query":"FPT"}`),
		`garbage`,
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, f.srv.Run(context.Background(), strings.NewReader(in), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "notification and blank line get no reply")

	var resps []testResponse
	for _, line := range lines {
		var r testResponse
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		resps = append(resps, r)
	}
	assert.Nil(t, resps[0].Error)
	assert.JSONEq(t, "2", string(resps[1].ID))
	assert.Nil(t, resps[1].Error)
	require.NotNil(t, resps[2].Error)
	assert.Equal(t, CodeParseError, resps[2].Error.Code)
}

func TestRunStdioSkipsOversizedLine(t *testing.T) {
	f := newFixture(t, fptIntent)
	huge := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"analyze_intent","arguments":{"query":"` +
		strings.Repeat("x", maxBodyBytes) + `"}}}`
	in := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n" +
		huge + "\n" +
		`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`

	var out bytes.Buffer
	require.NoError(t, f.srv.Run(context.Background(), strings.NewReader(in), &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)

	var resps []testResponse
	for _, line := range lines {
		var r testResponse
		require.NoError(t, json.Unmarshal([]byte(line), &r))
		resps = append(resps, r)
	}
	assert.JSONEq(t, "1", string(resps[0].ID))
	assert.Nil(t, resps[0].Error)
	require.NotNil(t, resps[1].Error)
	assert.Equal(t, CodeParseError, resps[1].Error.Code)
	assert.JSONEq(t, "null", string(resps[1].ID))
	assert.JSONEq(t, "3", string(resps[2].ID))
	assert.Nil(t, resps[2].Error)
	assert.EqualValues(t, 0, f.provider.calls.Load())
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := &countingProvider{reply: `{"question_type":"SIMPLE"}`, gate: make(chan struct{})}
	orch := analysis.New(p, nil)
	srv := New(orch, WithMaxInFlight(2))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			srv.Handle(context.Background(), []byte(callBody("1", "define_question_type", `{"query":"q`+string(rune('a'+i))+`"}`)))
		}(i)
	}

	require.Eventually(t, func() bool { return p.calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 2, p.calls.Load(), "only max_inflight analyses may run at once")

	close(p.gate)
	wg.Wait()
	srv.Wait()
	assert.EqualValues(t, 5, p.calls.Load())
}
