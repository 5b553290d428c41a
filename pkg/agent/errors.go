package agent

import "strings"

// ErrorKind classifies provider call failures for in-turn recovery.
type ErrorKind int

const (
	// ErrorKindFatal covers failures with no in-turn recovery; they propagate
	// to the caller.
	ErrorKindFatal ErrorKind = iota

	// ErrorKindMalformedToolCall means the backend rejected the request
	// because the model emitted an invalid tool invocation.
	ErrorKindMalformedToolCall

	// ErrorKindToolsUnsupported means the backend rejected the request shape,
	// typically because tool calling is unavailable for the model.
	ErrorKindToolsUnsupported
)

// ClassifyProviderError buckets a provider error into a recovery strategy.
//
// Classification is by message content because OpenAI-compatible backends
// differ in how they surface structured codes; the substrings below are the
// ones Gemini's compatibility endpoint and api.openai.com actually emit.
func ClassifyProviderError(err error) ErrorKind {
	if err == nil {
		return ErrorKindFatal
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "tool_use_failed") ||
		strings.Contains(msg, "failed to call a function") {
		return ErrorKindMalformedToolCall
	}

	if strings.Contains(msg, "400") || strings.Contains(msg, "invalid") {
		return ErrorKindToolsUnsupported
	}

	return ErrorKindFatal
}

// IsRetryableError reports whether an error is transient and worth retrying
// at a higher level (rate limits, overload, network flakes).
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	retryable := []string{
		"rate limit",
		"429",
		"overloaded",
		"529",
		"timeout",
		"connection reset",
		"temporarily unavailable",
	}
	for _, s := range retryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
