package server

import (
	"encoding/json"
	"net/http"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/ashwin/sia/internal/tracing"
	"github.com/ashwin/sia/pkg/agent"
)

// Error codes returned by the API. Validation codes name the missing
// field; SERVER_MISCONFIGURED marks a broken deployment rather than a
// bad request.
const (
	codeInvalidJSON         = "INVALID_JSON"
	codeMissingMessage      = "MISSING_MESSAGE"
	codeMissingSessionID    = "MISSING_SESSION_ID"
	codeServerMisconfigured = "SERVER_MISCONFIGURED"
	codeInternalError       = "INTERNAL_ERROR"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Answer string `json:"answer"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleChat runs one conversational turn
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidJSON, "request body must be valid JSON")
		return
	}

	// Validation failures short-circuit before any model or store work.
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, codeMissingMessage, "message is required")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, codeMissingSessionID, "session_id is required")
		return
	}

	if !s.cfg.HasModelCredential() {
		writeError(w, http.StatusInternalServerError, codeServerMisconfigured, "model API key is not configured on the server")
		return
	}

	ctx := tracing.WithSessionID(tracing.NewRequestContext(r.Context()), req.SessionID)
	log := tracing.LoggerFromContext(ctx, s.logger)

	// Unknown and expired sessions both start fresh.
	transcript, _ := s.sessions.Get(req.SessionID)
	transcript = agent.EnsureSystemPrompt(transcript, time.Now())
	transcript = append(transcript, agent.UserMessage(req.Message))

	updated, answer, err := s.runner.Run(ctx, transcript)
	if err != nil {
		// The failed turn is not persisted: the session keeps its
		// pre-request transcript.
		log.Error().Err(err).Msg("Turn failed")
		writeError(w, http.StatusInternalServerError, codeInternalError, "something went wrong, please try again")
		return
	}

	s.sessions.Put(req.SessionID, updated)

	log.Info().
		Int("messages", len(updated)).
		Msg("Chat turn completed")

	writeJSON(w, http.StatusOK, chatResponse{Answer: answer})
}

// handleCreateSession mints a fresh session id
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to generate session id")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"sessions":  s.sessions.Len(),
		"timestamp": time.Now().UnixMilli(),
	}
	if s.kb != nil {
		response["knowledge"] = s.kb.Status()
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}
