// Package agent implements the conversational turn loop over tool-calling
// LLM providers.
//
// Invariants:
// - Transcripts are append-only; the system prompt is always message zero.
// - Every tool call requested by the model receives exactly one tool result
//   before the next model call.
// - Model calls use deterministic decoding (temperature 0).
//
// Usage:
//
//	runner := agent.NewRunner(agent.RunnerConfig{
//		Provider: provider,
//		Tools:    registry,
//		Model:    "gemini-2.0-flash",
//	})
//	transcript, answer, _ := runner.Run(ctx, transcript)
//	_ = answer
package agent
