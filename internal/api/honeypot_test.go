package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/scam-honeypot/internal/agent"
	"github.com/ashureev/scam-honeypot/internal/domain"
	"github.com/ashureev/scam-honeypot/internal/engine"
	"github.com/ashureev/scam-honeypot/internal/evaluation"
	"github.com/ashureev/scam-honeypot/internal/identity"
	"github.com/ashureev/scam-honeypot/internal/store"
)

const testKey = "test-key"

type stubSubmitter struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (s *stubSubmitter) Submit(_ context.Context, p domain.FinalResultPayload) (*evaluation.Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return nil, fmt.Errorf("%w: evaluator down", domain.ErrSubmissionFailed)
	}
	return &evaluation.Ack{AttemptID: "a-" + p.SessionID, StatusCode: http.StatusOK}, nil
}

type stubVerdicter struct {
	text string
	err  error
}

func (s stubVerdicter) Verdict(context.Context, string) (string, error) {
	return s.text, s.err
}

type testServer struct {
	router    http.Handler
	submitter *stubSubmitter
	limiter   *agent.RateLimiter
}

func newTestServer(t *testing.T, detector Verdicter, perMinute int) *testServer {
	t.Helper()
	extractor := agent.NewHeuristicExtractor()
	submitter := &stubSubmitter{}
	eng, err := engine.New(store.NewMemory(), agent.Collaborators{
		Classifier:  agent.NewHeuristicClassifier(),
		Responder:   agent.StaticResponder{Reply: "Which bank is this?"},
		Extractor:   extractor,
		NotesWriter: agent.NewHeuristicNotesWriter(extractor),
	}, submitter, engine.Options{})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	limiter := agent.NewRateLimiter(perMinute, 1)
	t.Cleanup(limiter.Close)

	h := NewHandler(eng, limiter, detector, nil)
	r := chi.NewRouter()
	RegisterDetectStatus(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(testKey))
		h.RegisterRoutes(r)
	})
	return &testServer{router: r, submitter: submitter, limiter: limiter}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(identity.APIKeyHeader, testKey)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func turn(id, text string) domain.IncomingMessage {
	return domain.IncomingMessage{
		SessionID: id,
		Message:   domain.Message{Sender: domain.SenderScammer, Text: text, Timestamp: 1700000000000},
		Metadata:  domain.Metadata{Channel: "SMS", Language: "English", Locale: "IN"},
	}
}

func TestMessageRequiresAPIKey(t *testing.T) {
	s := newTestServer(t, nil, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/honeypot/message", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/honeypot/message", bytes.NewBufferString(`{}`))
	req.Header.Set(identity.APIKeyHeader, "wrong")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestMessageScamFlow(t *testing.T) {
	s := newTestServer(t, nil, 0)

	w := s.do(t, http.MethodPost, "/api/honeypot/message", turn("s-1", "Your account is blocked. Share OTP now"))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[domain.OutgoingResponse](t, w)
	require.Equal(t, domain.ResponseSuccess, resp.Status)
	require.NotEmpty(t, resp.Reply)
	require.NotNil(t, resp.ScamDetected)
	require.True(t, *resp.ScamDetected)

	w = s.do(t, http.MethodGet, "/api/sessions/s-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	session := decodeBody[domain.Session](t, w)
	require.Equal(t, 2, session.TotalMessagesExchanged)
	require.True(t, session.ScamDetected)
	require.Contains(t, session.ExtractedIntelligence.SuspiciousKeywords, "otp")
	require.Equal(t, "SMS", session.Metadata.Channel)
}

func TestMessageWithoutSessionIDAsksForClarification(t *testing.T) {
	s := newTestServer(t, nil, 0)

	w := s.do(t, http.MethodPost, "/api/honeypot/message", turn("", "hello"))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[domain.OutgoingResponse](t, w)
	require.Equal(t, agent.ClarificationReply, resp.Reply)

	w = s.do(t, http.MethodGet, "/api/sessions", nil)
	list := decodeBody[map[string][]domain.Session](t, w)
	require.Empty(t, list["sessions"])
}

func TestMessageInvalidJSON(t *testing.T) {
	s := newTestServer(t, nil, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/honeypot/message", bytes.NewBufferString(`{"sessionId":`))
	req.Header.Set(identity.APIKeyHeader, testKey)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageRateLimited(t *testing.T) {
	s := newTestServer(t, nil, 1)

	w := s.do(t, http.MethodPost, "/api/honeypot/message", turn("s-rl", "hello"))
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/api/honeypot/message", turn("s-rl", "hello again"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// Other sessions have their own budget.
	w = s.do(t, http.MethodPost, "/api/honeypot/message", turn("s-other", "hello"))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetUnknownSessionIs404(t *testing.T) {
	s := newTestServer(t, nil, 0)
	w := s.do(t, http.MethodGet, "/api/sessions/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestEndSessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil, 0)
	s.do(t, http.MethodPost, "/api/honeypot/message", turn("s-end", "Pay the KYC fee to upi scam@okbank"))

	w := s.do(t, http.MethodPost, "/api/sessions/s-end/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[EndResponse](t, w)
	require.Equal(t, domain.StatusCompleted, resp.Session.Status)
	require.NotNil(t, resp.Ack)
	require.Contains(t, resp.Session.ExtractedIntelligence.UpiIDs, "scam@okbank")

	w = s.do(t, http.MethodPost, "/api/sessions/s-end/end", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/honeypot/message", turn("s-end", "still there?"))
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, 1, s.submitter.calls)
}

func TestEndSessionSubmissionFailureIs502AndRetryable(t *testing.T) {
	s := newTestServer(t, nil, 0)
	s.do(t, http.MethodPost, "/api/honeypot/message", turn("s-fail", "urgent: verify bank details"))

	s.submitter.fail = true
	w := s.do(t, http.MethodPost, "/api/sessions/s-fail/end", nil)
	require.Equal(t, http.StatusBadGateway, w.Code)

	w = s.do(t, http.MethodGet, "/api/sessions/s-fail", nil)
	require.Equal(t, domain.StatusActive, decodeBody[domain.Session](t, w).Status)

	s.submitter.fail = false
	w = s.do(t, http.MethodPost, "/api/sessions/s-fail/end", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestResetSession(t *testing.T) {
	s := newTestServer(t, nil, 0)
	s.do(t, http.MethodPost, "/api/honeypot/message", turn("s-reset", "share otp"))

	w := s.do(t, http.MethodPost, "/api/sessions/s-reset/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decodeBody[domain.Session](t, w)
	require.NotEqual(t, "s-reset", fresh.SessionID)
	require.Zero(t, fresh.TotalMessagesExchanged)
	require.False(t, fresh.ScamDetected)

	w = s.do(t, http.MethodGet, "/api/sessions/s-reset", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAndListSessions(t *testing.T) {
	s := newTestServer(t, nil, 0)

	w := s.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody[domain.Session](t, w)
	require.NotEmpty(t, created.SessionID)

	w = s.do(t, http.MethodGet, "/api/sessions?status=active&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decodeBody[map[string][]domain.Session](t, w)
	require.Len(t, list["sessions"], 1)

	w = s.do(t, http.MethodGet, "/api/sessions?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/api/sessions?limit=-3", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetect(t *testing.T) {
	t.Run("heuristic only", func(t *testing.T) {
		s := newTestServer(t, nil, 0)
		w := s.do(t, http.MethodPost, "/api/detect", DetectRequest{Text: "Update KYC urgently"})
		require.Equal(t, http.StatusOK, w.Code)
		resp := decodeBody[DetectResponse](t, w)
		require.True(t, resp.Scam)
		require.Equal(t, noModelResponse, resp.AIResponse)
	})

	t.Run("model verdict", func(t *testing.T) {
		s := newTestServer(t, stubVerdicter{text: `{"scam": true, "reason": "lottery"}`}, 0)
		w := s.do(t, http.MethodPost, "/api/detect", DetectRequest{Text: "You won a lottery"})
		resp := decodeBody[DetectResponse](t, w)
		require.True(t, resp.Scam)
		require.Equal(t, "You won a lottery", resp.Input)
	})

	t.Run("benign", func(t *testing.T) {
		s := newTestServer(t, stubVerdicter{text: `{"scam": false}`}, 0)
		w := s.do(t, http.MethodPost, "/api/detect", DetectRequest{Text: "see you at lunch"})
		require.False(t, decodeBody[DetectResponse](t, w).Scam)
	})

	t.Run("missing text", func(t *testing.T) {
		s := newTestServer(t, nil, 0)
		w := s.do(t, http.MethodPost, "/api/detect", DetectRequest{})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("model failure", func(t *testing.T) {
		s := newTestServer(t, stubVerdicter{err: errors.New("quota")}, 0)
		w := s.do(t, http.MethodPost, "/api/detect", DetectRequest{Text: "hi"})
		require.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("status check is public", func(t *testing.T) {
		s := newTestServer(t, nil, 0)
		req := httptest.NewRequest(http.MethodGet, "/api/detect", nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	})
}
