package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwin/sia/internal/config"
	"github.com/ashwin/sia/pkg/agent"
	"github.com/ashwin/sia/pkg/session"
)

type fakeRunner struct {
	answer     string
	err        error
	transcript []agent.Message // transcript received by Run
	calls      int
}

func (f *fakeRunner) Run(ctx context.Context, transcript []agent.Message) ([]agent.Message, string, error) {
	f.calls++
	f.transcript = transcript
	if f.err != nil {
		return nil, "", f.err
	}
	return append(transcript, agent.AssistantMessage(f.answer)), f.answer, nil
}

func newTestServer(t *testing.T, runner TurnRunner) (*Server, *session.Store) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Model.APIKey = "test-key"

	sessions := session.New(session.Config{Logger: zerolog.Nop()})
	srv, err := NewServer(Options{}, cfg, runner, sessions, nil, zerolog.Nop())
	require.NoError(t, err)
	return srv, sessions
}

func postChat(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHandleChat(t *testing.T) {
	t.Run("should answer and persist the transcript", func(t *testing.T) {
		runner := &fakeRunner{answer: "The capital of France is Paris."}
		srv, sessions := newTestServer(t, runner)

		rec := postChat(t, srv, `{"message": "capital of France?", "session_id": "abc"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp chatResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "The capital of France is Paris.", resp.Answer)

		stored, ok := sessions.Get("abc")
		require.True(t, ok)
		require.Len(t, stored, 3)
		assert.Equal(t, agent.RoleSystem, stored[0].Role)
		assert.Equal(t, agent.RoleUser, stored[1].Role)
		assert.Equal(t, "capital of France?", stored[1].Content)
		assert.Equal(t, agent.RoleAssistant, stored[2].Role)
	})

	t.Run("should seed the system prompt exactly once", func(t *testing.T) {
		runner := &fakeRunner{answer: "ok"}
		srv, _ := newTestServer(t, runner)

		postChat(t, srv, `{"message": "hi", "session_id": "abc"}`)
		postChat(t, srv, `{"message": "again", "session_id": "abc"}`)

		systemCount := 0
		for _, m := range runner.transcript {
			if m.Role == agent.RoleSystem {
				systemCount++
			}
		}
		assert.Equal(t, 1, systemCount)
	})

	t.Run("should pass the prior transcript to the runner", func(t *testing.T) {
		runner := &fakeRunner{answer: "second"}
		srv, _ := newTestServer(t, runner)

		postChat(t, srv, `{"message": "first", "session_id": "abc"}`)
		postChat(t, srv, `{"message": "follow-up", "session_id": "abc"}`)

		// system + first user + first answer + follow-up user
		require.Len(t, runner.transcript, 4)
		assert.Equal(t, "follow-up", runner.transcript[3].Content)
	})

	t.Run("should reject a missing message", func(t *testing.T) {
		runner := &fakeRunner{}
		srv, _ := newTestServer(t, runner)

		rec := postChat(t, srv, `{"session_id": "abc"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_MESSAGE", decodeError(t, rec).Code)
		assert.Zero(t, runner.calls)
	})

	t.Run("should reject a missing session id", func(t *testing.T) {
		runner := &fakeRunner{}
		srv, _ := newTestServer(t, runner)

		rec := postChat(t, srv, `{"message": "hi"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_SESSION_ID", decodeError(t, rec).Code)
		assert.Zero(t, runner.calls)
	})

	t.Run("should reject an unparseable body", func(t *testing.T) {
		srv, _ := newTestServer(t, &fakeRunner{})

		rec := postChat(t, srv, `{"message": `)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
	})

	t.Run("should report a missing model credential as misconfiguration", func(t *testing.T) {
		runner := &fakeRunner{}
		srv, _ := newTestServer(t, runner)
		srv.cfg.Model.APIKey = ""

		rec := postChat(t, srv, `{"message": "hi", "session_id": "abc"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "SERVER_MISCONFIGURED", decodeError(t, rec).Code)
		assert.Zero(t, runner.calls)
	})

	t.Run("should not persist a failed turn", func(t *testing.T) {
		runner := &fakeRunner{answer: "first"}
		srv, sessions := newTestServer(t, runner)

		postChat(t, srv, `{"message": "first", "session_id": "abc"}`)
		before, ok := sessions.Get("abc")
		require.True(t, ok)

		runner.err = errors.New("model call failed: boom")
		rec := postChat(t, srv, `{"message": "second", "session_id": "abc"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)

		after, ok := sessions.Get("abc")
		require.True(t, ok)
		assert.Equal(t, before, after, "failed turn must leave the transcript untouched")
	})

	t.Run("should not leak the internal error to the caller", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("api key sk-secret rejected")}
		srv, _ := newTestServer(t, runner)

		rec := postChat(t, srv, `{"message": "hi", "session_id": "abc"}`)
		assert.NotContains(t, rec.Body.String(), "sk-secret")
	})

	t.Run("should reject non-post methods", func(t *testing.T) {
		srv, _ := newTestServer(t, &fakeRunner{})

		req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandleCreateSession(t *testing.T) {
	t.Run("should mint a fresh session id", func(t *testing.T) {
		srv, _ := newTestServer(t, &fakeRunner{})

		req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["session_id"])
	})

	t.Run("should mint distinct ids", func(t *testing.T) {
		srv, _ := newTestServer(t, &fakeRunner{})

		mint := func() string {
			req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			return resp["session_id"]
		}
		assert.NotEqual(t, mint(), mint())
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("should report status and session count", func(t *testing.T) {
		srv, sessions := newTestServer(t, &fakeRunner{})
		sessions.Put("abc", []agent.Message{agent.UserMessage("hi")})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp["status"])
		assert.Equal(t, float64(1), resp["sessions"])
	})
}

func TestNewServer(t *testing.T) {
	t.Run("should require a runner", func(t *testing.T) {
		cfg := config.DefaultConfig()
		sessions := session.New(session.Config{Logger: zerolog.Nop()})
		_, err := NewServer(Options{}, cfg, nil, sessions, nil, zerolog.Nop())
		assert.Error(t, err)
	})
}
