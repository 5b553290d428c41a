package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashwin/sia/internal/observability"
	"github.com/ashwin/sia/internal/tracing"
)

// DefaultMaxSteps caps model calls per turn.
const DefaultMaxSteps = 5

// DefaultMaxTokens bounds the completion size when the config leaves it
// unset. Anthropic requires an explicit max_tokens, so zero is never sent.
const DefaultMaxTokens = 2048

// DefaultMaxRetries bounds attempts per model call on transient errors.
const DefaultMaxRetries = 3

// transientRetryDelay is the backoff before retry attempt n (1s, 2s, 4s).
// Overridable in tests.
var transientRetryDelay = func(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// ExhaustedAnswer is the fixed reply returned when a turn hits the step
// ceiling without producing a final answer.
const ExhaustedAnswer = "I couldn't complete the request with the available tools. Please try again or rephrase your question."

const correctiveNote = `Your last tool call failed due to invalid JSON. Try again and ensure arguments strictly match the tool's parameter schema with no extra characters.`

const degradeNote = "Tool calling appears to be unavailable. Answer the user directly without calling any tools. If unsure, say so and mention that real-time info may be outdated."

// ToolExecutor resolves and runs tool calls requested by the model.
type ToolExecutor interface {
	// Catalog returns the schemas advertised to the model.
	Catalog() []ToolSchema

	// Execute validates rawArgs against the named tool's schema and runs it.
	Execute(ctx context.Context, name, rawArgs string) (string, error)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Provider   LLMProvider
	Tools      ToolExecutor
	Model      string
	MaxSteps   int
	MaxTokens  int
	MaxRetries int
	Logger     zerolog.Logger
}

// Runner executes conversational turns: it drives the model with the full
// transcript, feeds requested tool calls through the executor, and loops
// until the model answers or the step budget runs out.
type Runner struct {
	provider   LLMProvider
	tools      ToolExecutor
	model      string
	maxSteps   int
	maxTokens  int
	maxRetries int
	logger     zerolog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Runner{
		provider:   cfg.Provider,
		tools:      cfg.Tools,
		model:      cfg.Model,
		maxSteps:   maxSteps,
		maxTokens:  maxTokens,
		maxRetries: maxRetries,
		logger:     cfg.Logger.With().Str("component", "agent").Logger(),
	}
}

// Run executes one turn. The transcript must already end with the user
// message. It returns the extended transcript and the assistant's answer.
//
// On error the transcript is returned nil: a failed turn leaves no trace, so
// callers must not persist it.
func (r *Runner) Run(ctx context.Context, transcript []Message) ([]Message, string, error) {
	ctx, span := tracing.StartSpan(ctx, "agent", "agent.turn")
	defer span.End()

	log := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	msgs := make([]Message, len(transcript), len(transcript)+4)
	copy(msgs, transcript)

	catalog := r.tools.Catalog()
	useTools := len(catalog) > 0

	for step := 1; step <= r.maxSteps; step++ {
		advertised := catalog
		if !useTools {
			advertised = nil
		}

		resp, err := r.callModel(ctx, msgs, advertised)
		if err != nil {
			switch ClassifyProviderError(err) {
			case ErrorKindMalformedToolCall:
				// The model produced an invalid tool invocation. Nudge it
				// with a corrective note and retry once; a second failure
				// ends the turn.
				log.Warn().Err(err).Int("step", step).Msg("Malformed tool call from model, retrying with corrective note")
				msgs = append(msgs, SystemMessage(correctiveNote))
				resp, err = r.callModel(ctx, msgs, advertised)
				if err != nil {
					observability.RecordAgentTurn(r.provider.Provider(), time.Since(start), false)
					return nil, "", fmt.Errorf("model call failed after corrective retry: %w", err)
				}

			case ErrorKindToolsUnsupported:
				// The backend rejected the request shape. Drop the catalog
				// for the rest of the turn and ask for a plain answer.
				log.Warn().Err(err).Int("step", step).Msg("Tool calling unavailable, degrading to plain completion")
				msgs = append(msgs, SystemMessage(degradeNote))
				useTools = false
				resp, err = r.callModel(ctx, msgs, nil)
				if err != nil {
					observability.RecordAgentTurn(r.provider.Provider(), time.Since(start), false)
					return nil, "", fmt.Errorf("model call failed after degrading without tools: %w", err)
				}

			default:
				observability.RecordAgentTurn(r.provider.Provider(), time.Since(start), false)
				return nil, "", fmt.Errorf("model call failed: %w", err)
			}
		}

		if len(resp.ToolCalls) == 0 {
			msgs = append(msgs, AssistantMessage(resp.Content))
			log.Info().
				Int("steps", step).
				Int("messages", len(msgs)).
				Dur("duration", time.Since(start)).
				Msg("Turn completed")
			observability.RecordAgentTurn(r.provider.Provider(), time.Since(start), true)
			return msgs, resp.Content, nil
		}

		// Tool round: record the request, then exactly one result per call,
		// in model order.
		msgs = append(msgs, AssistantToolRequest(resp.Content, resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			msgs = append(msgs, ToolResultMessage(call.ID, r.runTool(ctx, call)))
		}
	}

	// The fallback answer is response-only: the transcript is persisted
	// as-is, without a synthesized assistant message the model never
	// produced.
	log.Warn().
		Int("max_steps", r.maxSteps).
		Msg("Turn exhausted its step budget without a final answer")
	observability.RecordAgentTurn(r.provider.Provider(), time.Since(start), true)
	return msgs, ExhaustedAnswer, nil
}

// callModel performs a provider call with deterministic decoding. Transient
// failures (rate limits, overload, network flakes) are retried with backoff;
// permanent errors return immediately so turn-level classification sees them
// unwrapped.
func (r *Runner) callModel(ctx context.Context, msgs []Message, tools []ToolSchema) (*LLMResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "agent", "agent.model_call")
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		start := time.Now()
		resp, err := r.provider.Call(ctx, LLMRequest{
			Model:       r.model,
			Messages:    msgs,
			Tools:       tools,
			Temperature: 0,
			MaxTokens:   r.maxTokens,
		})
		observability.RecordModelCall(r.provider.Provider(), time.Since(start), err == nil)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Don't retry on permanent errors
		if !IsRetryableError(err) {
			return nil, err
		}

		// Last attempt - don't wait
		if attempt == r.maxRetries-1 {
			break
		}

		delay := transientRetryDelay(attempt)
		r.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying model call after transient error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.maxRetries, lastErr)
}

// runTool executes one requested call and always returns result content.
// Failures of any kind become error strings so a bad tool round never aborts
// the turn.
func (r *Runner) runTool(ctx context.Context, call ToolCall) (content string) {
	ctx, span := tracing.StartSpan(ctx, "agent", "agent.tool_call")
	defer span.End()

	log := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("tool", call.Name).
				Interface("panic", rec).
				Msg("Tool panicked during execution")
			observability.RecordToolExecution(call.Name, time.Since(start), false)
			content = fmt.Sprintf("Error: tool %s panicked: %v", call.Name, rec)
		}
	}()

	output, err := r.tools.Execute(ctx, call.Name, call.RawArguments)
	if err != nil {
		log.Warn().
			Err(err).
			Str("tool", call.Name).
			Str("call_id", call.ID).
			Msg("Tool execution failed")
		observability.RecordToolExecution(call.Name, time.Since(start), false)
		return fmt.Sprintf("Error: %s", err.Error())
	}

	log.Debug().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Dur("duration", time.Since(start)).
		Msg("Tool executed")
	observability.RecordToolExecution(call.Name, time.Since(start), true)
	return output
}
