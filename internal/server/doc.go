// Package server exposes the chat service over HTTP.
//
// Endpoints:
//
//	POST /api/chat      run one conversational turn
//	POST /api/sessions  mint a fresh session id
//	GET  /health        liveness plus store and index counters
//	GET  /metrics       prometheus metrics
//
// Invariants:
//   - A failed turn is never persisted: the session keeps the transcript
//     it had before the request.
//   - Validation failures and server misconfiguration are reported with
//     distinct error codes so callers can tell a bad request from a
//     broken deployment.
package server
