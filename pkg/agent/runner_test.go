package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one scripted provider response.
type step struct {
	resp *LLMResponse
	err  error
}

// fakeProvider replays scripted steps and records every request.
type fakeProvider struct {
	steps    []step
	requests []LLMRequest
}

func (p *fakeProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	p.requests = append(p.requests, request)
	if len(p.steps) == 0 {
		return nil, errors.New("fake provider exhausted")
	}
	s := p.steps[0]
	p.steps = p.steps[1:]
	return s.resp, s.err
}

func (p *fakeProvider) Provider() string { return "fake" }

// fakeExecutor records executions and delegates to a stub.
type fakeExecutor struct {
	catalog []ToolSchema
	run     func(ctx context.Context, name, rawArgs string) (string, error)
	calls   []ToolCall
}

func (e *fakeExecutor) Catalog() []ToolSchema { return e.catalog }

func (e *fakeExecutor) Execute(ctx context.Context, name, rawArgs string) (string, error) {
	e.calls = append(e.calls, ToolCall{Name: name, RawArguments: rawArgs})
	if e.run == nil {
		return "ok", nil
	}
	return e.run(ctx, name, rawArgs)
}

func searchCatalog() []ToolSchema {
	return []ToolSchema{{
		Name:        "web_search",
		Description: "Search the internet.",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
			"required":   []string{"query"},
		},
	}}
}

func newTestRunner(provider *fakeProvider, executor *fakeExecutor) *Runner {
	return NewRunner(RunnerConfig{
		Provider: provider,
		Tools:    executor,
		Model:    "test-model",
		Logger:   zerolog.Nop(),
	})
}

func userTurn(text string) []Message {
	return []Message{
		SystemMessage("test prompt"),
		UserMessage(text),
	}
}

func TestRunnerPlainAnswer(t *testing.T) {
	t.Run("should answer without tool calls in one step", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{resp: &LLMResponse{Content: "Hello there!"}},
		}}
		executor := &fakeExecutor{catalog: searchCatalog()}
		runner := newTestRunner(provider, executor)

		transcript, answer, err := runner.Run(context.Background(), userTurn("hi"))
		require.NoError(t, err)
		assert.Equal(t, "Hello there!", answer)

		require.Len(t, transcript, 3)
		assert.Equal(t, RoleSystem, transcript[0].Role)
		assert.Equal(t, RoleUser, transcript[1].Role)
		assert.Equal(t, RoleAssistant, transcript[2].Role)
		assert.Empty(t, transcript[2].ToolCalls)
		assert.Empty(t, executor.calls)
	})

	t.Run("should use deterministic decoding and advertise the catalog", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{resp: &LLMResponse{Content: "done"}},
		}}
		executor := &fakeExecutor{catalog: searchCatalog()}
		runner := newTestRunner(provider, executor)

		_, _, err := runner.Run(context.Background(), userTurn("hi"))
		require.NoError(t, err)

		require.Len(t, provider.requests, 1)
		assert.Zero(t, provider.requests[0].Temperature)
		require.Len(t, provider.requests[0].Tools, 1)
		assert.Equal(t, "web_search", provider.requests[0].Tools[0].Name)
	})

	t.Run("should not mutate the caller's transcript", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{resp: &LLMResponse{Content: "done"}},
		}}
		runner := newTestRunner(provider, &fakeExecutor{catalog: searchCatalog()})

		input := userTurn("hi")
		before := len(input)
		_, _, err := runner.Run(context.Background(), input)
		require.NoError(t, err)
		assert.Len(t, input, before)
	})
}

func TestRunnerToolRound(t *testing.T) {
	t.Run("should execute a requested tool and feed the result back", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{resp: &LLMResponse{ToolCalls: []ToolCall{
				{ID: "call_1", Name: "web_search", RawArguments: `{"query":"weather"}`},
			}}},
			{resp: &LLMResponse{Content: "It is sunny."}},
		}}
		executor := &fakeExecutor{
			catalog: searchCatalog(),
			run: func(ctx context.Context, name, rawArgs string) (string, error) {
				return "Title: Weather\nContent: Sunny, 31C", nil
			},
		}
		runner := newTestRunner(provider, executor)

		transcript, answer, err := runner.Run(context.Background(), userTurn("weather?"))
		require.NoError(t, err)
		assert.Equal(t, "It is sunny.", answer)

		// system, user, assistant(tool request), tool, assistant(answer)
		require.Len(t, transcript, 5)
		assert.Equal(t, RoleAssistant, transcript[2].Role)
		require.Len(t, transcript[2].ToolCalls, 1)
		assert.Equal(t, RoleTool, transcript[3].Role)
		assert.Equal(t, "call_1", transcript[3].ToolCallID)
		assert.Equal(t, "Title: Weather\nContent: Sunny, 31C", transcript[3].Content)
		assert.Equal(t, RoleAssistant, transcript[4].Role)

		require.Len(t, executor.calls, 1)
		assert.Equal(t, "web_search", executor.calls[0].Name)

		// The second model call sees the tool result.
		require.Len(t, provider.requests, 2)
		secondCallMsgs := provider.requests[1].Messages
		assert.Equal(t, RoleTool, secondCallMsgs[len(secondCallMsgs)-1].Role)
	})

	t.Run("should give every requested call exactly one result in model order", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{resp: &LLMResponse{ToolCalls: []ToolCall{
				{ID: "call_a", Name: "web_search", RawArguments: `{"query":"a"}`},
				{ID: "call_b", Name: "kb_search", RawArguments: `{"query":"b"}`},
			}}},
			{resp: &LLMResponse{Content: "combined answer"}},
		}}
		executor := &fakeExecutor{catalog: searchCatalog()}
		runner := newTestRunner(provider, executor)

		transcript, _, err := runner.Run(context.Background(), userTurn("both"))
		require.NoError(t, err)

		require.Len(t, transcript, 6)
		assert.Equal(t, "call_a", transcript[3].ToolCallID)
		assert.Equal(t, "call_b", transcript[4].ToolCallID)
	})

	t.Run("should turn tool errors into result content and keep going", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{resp: &LLMResponse{ToolCalls: []ToolCall{
				{ID: "call_1", Name: "web_search", RawArguments: `{"query": }`},
			}}},
			{resp: &LLMResponse{Content: "answered anyway"}},
		}}
		executor := &fakeExecutor{
			catalog: searchCatalog(),
			run: func(ctx context.Context, name, rawArgs string) (string, error) {
				return "", fmt.Errorf("web_search was called without a valid { query: string } argument")
			},
		}
		runner := newTestRunner(provider, executor)

		transcript, answer, err := runner.Run(context.Background(), userTurn("search"))
		require.NoError(t, err)
		assert.Equal(t, "answered anyway", answer)

		assert.Equal(t, RoleTool, transcript[3].Role)
		assert.Equal(t, "Error: web_search was called without a valid { query: string } argument", transcript[3].Content)
	})

	t.Run("should contain a panicking tool", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{resp: &LLMResponse{ToolCalls: []ToolCall{
				{ID: "call_1", Name: "web_search", RawArguments: `{"query":"x"}`},
			}}},
			{resp: &LLMResponse{Content: "survived"}},
		}}
		executor := &fakeExecutor{
			catalog: searchCatalog(),
			run: func(ctx context.Context, name, rawArgs string) (string, error) {
				panic("boom")
			},
		}
		runner := newTestRunner(provider, executor)

		transcript, answer, err := runner.Run(context.Background(), userTurn("search"))
		require.NoError(t, err)
		assert.Equal(t, "survived", answer)
		assert.Contains(t, transcript[3].Content, "panicked")
		assert.Contains(t, transcript[3].Content, "boom")
	})
}

func TestRunnerBackendRecovery(t *testing.T) {
	t.Run("should retry once with a corrective note on a malformed tool call", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{err: errors.New("api error: tool_use_failed")},
			{resp: &LLMResponse{Content: "recovered"}},
		}}
		executor := &fakeExecutor{catalog: searchCatalog()}
		runner := newTestRunner(provider, executor)

		transcript, answer, err := runner.Run(context.Background(), userTurn("hi"))
		require.NoError(t, err)
		assert.Equal(t, "recovered", answer)

		// The retry carried the corrective system note and kept the catalog.
		require.Len(t, provider.requests, 2)
		retryMsgs := provider.requests[1].Messages
		assert.Equal(t, RoleSystem, retryMsgs[len(retryMsgs)-1].Role)
		assert.Contains(t, retryMsgs[len(retryMsgs)-1].Content, "invalid JSON")
		assert.NotEmpty(t, provider.requests[1].Tools)

		// The corrective note stays in the transcript.
		assert.Equal(t, RoleSystem, transcript[2].Role)
	})

	t.Run("should propagate a second malformed-call failure", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{err: errors.New("api error: tool_use_failed")},
			{err: errors.New("api error: tool_use_failed")},
		}}
		runner := newTestRunner(provider, &fakeExecutor{catalog: searchCatalog()})

		transcript, _, err := runner.Run(context.Background(), userTurn("hi"))
		require.Error(t, err)
		assert.Nil(t, transcript)
		assert.Len(t, provider.requests, 2)
	})

	t.Run("should degrade without tools when tool calling is unsupported", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{err: errors.New("status 400: request shape invalid")},
			{resp: &LLMResponse{Content: "plain answer"}},
		}}
		runner := newTestRunner(provider, &fakeExecutor{catalog: searchCatalog()})

		_, answer, err := runner.Run(context.Background(), userTurn("hi"))
		require.NoError(t, err)
		assert.Equal(t, "plain answer", answer)

		require.Len(t, provider.requests, 2)
		assert.Empty(t, provider.requests[1].Tools)
		retryMsgs := provider.requests[1].Messages
		assert.Contains(t, retryMsgs[len(retryMsgs)-1].Content, "Tool calling appears to be unavailable")
	})

	t.Run("should keep the catalog dropped for the rest of the turn after degrading", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{err: errors.New("status 400: request shape invalid")},
			{resp: &LLMResponse{ToolCalls: []ToolCall{
				{ID: "call_1", Name: "web_search", RawArguments: `{"query":"x"}`},
			}}},
			{resp: &LLMResponse{Content: "final"}},
		}}
		runner := newTestRunner(provider, &fakeExecutor{catalog: searchCatalog()})

		_, answer, err := runner.Run(context.Background(), userTurn("hi"))
		require.NoError(t, err)
		assert.Equal(t, "final", answer)

		require.Len(t, provider.requests, 3)
		assert.Empty(t, provider.requests[2].Tools)
	})

	t.Run("should propagate unclassified backend failures", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{err: errors.New("connection refused")},
		}}
		runner := newTestRunner(provider, &fakeExecutor{catalog: searchCatalog()})

		transcript, _, err := runner.Run(context.Background(), userTurn("hi"))
		require.Error(t, err)
		assert.Nil(t, transcript)
		assert.Len(t, provider.requests, 1, "permanent errors must not be retried")
	})
}

func TestRunnerTransientRetry(t *testing.T) {
	noBackoff := func(t *testing.T) {
		t.Helper()
		prev := transientRetryDelay
		transientRetryDelay = func(int) time.Duration { return 0 }
		t.Cleanup(func() { transientRetryDelay = prev })
	}

	t.Run("should retry a rate-limited call and succeed", func(t *testing.T) {
		noBackoff(t)
		provider := &fakeProvider{steps: []step{
			{err: errors.New("429 rate limit exceeded")},
			{resp: &LLMResponse{Content: "recovered"}},
		}}
		runner := newTestRunner(provider, &fakeExecutor{catalog: searchCatalog()})

		_, answer, err := runner.Run(context.Background(), userTurn("hi"))
		require.NoError(t, err)
		assert.Equal(t, "recovered", answer)
		assert.Len(t, provider.requests, 2)
	})

	t.Run("should give up after the retry budget", func(t *testing.T) {
		noBackoff(t)
		provider := &fakeProvider{steps: []step{
			{err: errors.New("model is overloaded")},
			{err: errors.New("model is overloaded")},
			{err: errors.New("model is overloaded")},
		}}
		runner := newTestRunner(provider, &fakeExecutor{catalog: searchCatalog()})

		transcript, _, err := runner.Run(context.Background(), userTurn("hi"))
		require.Error(t, err)
		assert.Nil(t, transcript)
		assert.Contains(t, err.Error(), "max retries")
		assert.Len(t, provider.requests, DefaultMaxRetries)
	})

	t.Run("should stop retrying when the context is cancelled", func(t *testing.T) {
		prev := transientRetryDelay
		transientRetryDelay = func(int) time.Duration { return time.Hour }
		t.Cleanup(func() { transientRetryDelay = prev })

		provider := &fakeProvider{steps: []step{
			{err: errors.New("temporarily unavailable")},
		}}
		runner := newTestRunner(provider, &fakeExecutor{catalog: searchCatalog()})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _, err := runner.Run(ctx, userTurn("hi"))
		require.Error(t, err)
		assert.Len(t, provider.requests, 1)
	})
}

func TestRunnerDefaults(t *testing.T) {
	t.Run("should always send a positive max tokens", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{resp: &LLMResponse{Content: "done"}},
		}}
		runner := newTestRunner(provider, &fakeExecutor{catalog: searchCatalog()})

		_, _, err := runner.Run(context.Background(), userTurn("hi"))
		require.NoError(t, err)
		require.Len(t, provider.requests, 1)
		assert.Equal(t, DefaultMaxTokens, provider.requests[0].MaxTokens)
	})
}

func TestRunnerExhaustion(t *testing.T) {
	t.Run("should return the fixed fallback after max steps", func(t *testing.T) {
		var steps []step
		for i := 0; i < DefaultMaxSteps; i++ {
			steps = append(steps, step{resp: &LLMResponse{ToolCalls: []ToolCall{
				{ID: fmt.Sprintf("call_%d", i), Name: "web_search", RawArguments: `{"query":"again"}`},
			}}})
		}
		provider := &fakeProvider{steps: steps}
		executor := &fakeExecutor{catalog: searchCatalog()}
		runner := newTestRunner(provider, executor)

		transcript, answer, err := runner.Run(context.Background(), userTurn("loop"))
		require.NoError(t, err)
		assert.Equal(t, ExhaustedAnswer, answer)
		assert.Len(t, provider.requests, DefaultMaxSteps)
		assert.Len(t, executor.calls, DefaultMaxSteps)

		// system + user + 5 tool rounds (assistant + tool); the fallback is
		// response-only and never becomes a transcript message.
		require.Len(t, transcript, 2+2*DefaultMaxSteps)
		last := transcript[len(transcript)-1]
		assert.Equal(t, RoleTool, last.Role)
		for _, m := range transcript {
			assert.NotEqual(t, ExhaustedAnswer, m.Content)
		}
	})

	t.Run("should honor a custom step budget", func(t *testing.T) {
		provider := &fakeProvider{steps: []step{
			{resp: &LLMResponse{ToolCalls: []ToolCall{{ID: "c1", Name: "web_search", RawArguments: `{"query":"x"}`}}}},
			{resp: &LLMResponse{ToolCalls: []ToolCall{{ID: "c2", Name: "web_search", RawArguments: `{"query":"x"}`}}}},
		}}
		runner := NewRunner(RunnerConfig{
			Provider: provider,
			Tools:    &fakeExecutor{catalog: searchCatalog()},
			Model:    "test-model",
			MaxSteps: 2,
			Logger:   zerolog.Nop(),
		})

		_, answer, err := runner.Run(context.Background(), userTurn("loop"))
		require.NoError(t, err)
		assert.Equal(t, ExhaustedAnswer, answer)
		assert.Len(t, provider.requests, 2)
	})
}
