package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pario-ai/intentd/pkg/config"
	"github.com/pario-ai/intentd/pkg/models"
)

// stubProvider answers from a script of responses and errors.
type stubProvider struct {
	name  string
	calls atomic.Int32
	fn    func(call int) (string, error)
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(ctx context.Context, _ []models.ChatMessage) (string, error) {
	n := int(s.calls.Add(1))
	return s.fn(n)
}

func staticBuilder(p Provider) Builder {
	return func(context.Context, config.ProviderConfig) (Provider, error) { return p, nil }
}

func failingBuilder(msg string) Builder {
	return func(context.Context, config.ProviderConfig) (Provider, error) { return nil, errors.New(msg) }
}

var testMessages = []models.ChatMessage{
	{Role: models.RoleSystem, Content: "sys"},
	{Role: models.RoleUser, Content: "hello"},
}

func TestSelectFirstUsable(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ok := &stubProvider{name: "openai", fn: func(int) (string, error) { return "{}", nil }}

	p, err := Select(context.Background(),
		[]config.ProviderConfig{
			{Name: "bedrock", Type: config.ProviderBedrock},
			{Name: "openai", Type: config.ProviderOpenAI},
		},
		WithBuilders(map[string]Builder{
			config.ProviderBedrock: failingBuilder("aws credentials: none found"),
			config.ProviderOpenAI:  staticBuilder(ok),
		}),
		WithLogger(zap.New(core)),
	)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	text, err := p.Complete(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "{}", text)

	skipped := logs.FilterMessage("skipping provider").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "bedrock", skipped[0].ContextMap()["provider"])
	assert.Equal(t, 1, logs.FilterMessage("selected model provider").Len())
}

func TestSelectStopsAtFirstUsable(t *testing.T) {
	var secondBuilt bool
	first := &stubProvider{name: "bedrock", fn: func(int) (string, error) { return "", nil }}

	_, err := Select(context.Background(),
		[]config.ProviderConfig{
			{Name: "bedrock", Type: config.ProviderBedrock},
			{Name: "openai", Type: config.ProviderOpenAI},
		},
		WithBuilders(map[string]Builder{
			config.ProviderBedrock: staticBuilder(first),
			config.ProviderOpenAI: func(context.Context, config.ProviderConfig) (Provider, error) {
				secondBuilt = true
				return nil, nil
			},
		}),
	)
	require.NoError(t, err)
	assert.False(t, secondBuilt, "later candidates must not be probed")
}

func TestSelectNoneUsable(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	p, err := Select(context.Background(),
		[]config.ProviderConfig{
			{Name: "bedrock", Type: config.ProviderBedrock},
			{Name: "openai", Type: config.ProviderOpenAI},
			{Name: "mystery", Type: "mystery"},
		},
		WithBuilders(map[string]Builder{
			config.ProviderBedrock: failingBuilder("region not set"),
			config.ProviderOpenAI:  failingBuilder("api key not set"),
		}),
		WithLogger(zap.New(core)),
	)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	require.NotNil(t, p)

	_, err = p.Complete(context.Background(), testMessages)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.Equal(t, 3, logs.FilterMessage("skipping provider").Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zap.ErrorLevel).Len())
}

func TestSelectNoCandidates(t *testing.T) {
	p, err := Select(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "unavailable", p.Name())
}

func noWait() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestRetryingRecovers(t *testing.T) {
	stub := &stubProvider{name: "p", fn: func(n int) (string, error) {
		if n < 3 {
			return "", errors.New("anthropic: status 503: overloaded")
		}
		return "ok", nil
	}}
	r := newRetrying(stub, 2, time.Second, zap.NewNop())
	r.newBackOff = noWait

	text, err := r.Complete(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.EqualValues(t, 3, stub.calls.Load())
}

func TestRetryingGivesUp(t *testing.T) {
	stub := &stubProvider{name: "p", fn: func(int) (string, error) { return "", errors.New("boom") }}
	r := newRetrying(stub, 1, 0, zap.NewNop())
	r.newBackOff = noWait

	_, err := r.Complete(context.Background(), testMessages)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "p", callErr.Provider)
	assert.EqualValues(t, 2, stub.calls.Load())
}

func TestRetryingPermanentStops(t *testing.T) {
	stub := &stubProvider{name: "p", fn: func(int) (string, error) {
		return "", permanent(errors.New("anthropic: status 401: invalid x-api-key"))
	}}
	r := newRetrying(stub, 3, 0, zap.NewNop())
	r.newBackOff = noWait

	_, err := r.Complete(context.Background(), testMessages)
	require.Error(t, err)
	assert.EqualValues(t, 1, stub.calls.Load())
}

func TestRetryingAppliesTimeout(t *testing.T) {
	slow := &deadlineProvider{}
	r := newRetrying(slow, 0, 10*time.Millisecond, zap.NewNop())
	r.newBackOff = noWait

	_, err := r.Complete(context.Background(), testMessages)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// deadlineProvider blocks until its context is done.
type deadlineProvider struct{}

func (deadlineProvider) Name() string { return "slow" }

func (deadlineProvider) Complete(ctx context.Context, _ []models.ChatMessage) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestAnthropicComplete(t *testing.T) {
	var got models.AnthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.AnthropicResponse{
			ID:      "msg_1",
			Type:    "message",
			Role:    "assistant",
			Content: []models.AnthropicContent{{Type: "text", Text: `{"question_type":"SIMPLE"}`}},
		})
	}))
	defer srv.Close()

	p, err := NewAnthropic(context.Background(), config.ProviderConfig{
		Type: config.ProviderAnthropic, URL: srv.URL, APIKey: "sk-test", Model: "claude-test",
	})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	text, err := p.Complete(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, `{"question_type":"SIMPLE"}`, text)

	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, "sys", got.System)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, models.RoleUser, got.Messages[0].Role)
}

func TestAnthropicErrorStatus(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnauthorized)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	p, err := NewAnthropic(context.Background(), config.ProviderConfig{URL: srv.URL, APIKey: "bad"})
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), testMessages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "authentication_error")
	assert.True(t, isPermanent(err))

	status.Store(http.StatusServiceUnavailable)
	_, err = p.Complete(context.Background(), testMessages)
	require.Error(t, err)
	assert.False(t, isPermanent(err))
}

func TestBuildersRequireCredentials(t *testing.T) {
	ctx := context.Background()

	_, err := NewAnthropic(ctx, config.ProviderConfig{Type: config.ProviderAnthropic})
	assert.Error(t, err)
	_, err = NewOpenAI(ctx, config.ProviderConfig{Type: config.ProviderOpenAI})
	assert.Error(t, err)
	_, err = NewGemini(ctx, config.ProviderConfig{Type: config.ProviderGemini})
	assert.Error(t, err)
	_, err = NewBedrock(ctx, config.ProviderConfig{Type: config.ProviderBedrock, Model: "m"})
	assert.Error(t, err)
}

func TestOpenAIBuilds(t *testing.T) {
	p, err := NewOpenAI(context.Background(), config.ProviderConfig{
		Name: "primary", Type: config.ProviderOpenAI, APIKey: "sk-test", Model: "gpt-4",
	})
	require.NoError(t, err)
	assert.Equal(t, "primary", p.Name())
}
