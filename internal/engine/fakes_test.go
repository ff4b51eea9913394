package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/scam-honeypot/internal/agent"
	"github.com/ashureev/scam-honeypot/internal/domain"
	"github.com/ashureev/scam-honeypot/internal/evaluation"
	"github.com/ashureev/scam-honeypot/internal/store"
)

var errFake = errors.New("fake collaborator failure")

type fakeClassifier struct {
	mu       sync.Mutex
	calls    int
	result   domain.ScamDetectionResult
	err      error
	gate     chan struct{} // when set, DetectScam blocks until closed
	entered  chan struct{}
	lastHist []domain.Message
}

func (f *fakeClassifier) DetectScam(ctx context.Context, _ string, history []domain.Message) (domain.ScamDetectionResult, error) {
	f.mu.Lock()
	f.calls++
	f.lastHist = append([]domain.Message{}, history...)
	gate, entered, res, err := f.gate, f.entered, f.result, f.err
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.ScamDetectionResult{}, ctx.Err()
		}
	}
	return res, err
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func scamVerdict(scamType, reply string) domain.ScamDetectionResult {
	return domain.ScamDetectionResult{IsScam: true, ScamType: &scamType, InitialReply: reply}
}

type fakeResponder struct {
	mu    sync.Mutex
	calls int
	reply string
	err   error
}

func (f *fakeResponder) GenerateReply(context.Context, []domain.Message, agent.Persona) (domain.AgentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return domain.AgentResponse{Reply: f.reply}, f.err
}

type fakeNotes struct {
	mu    sync.Mutex
	calls int
	notes string
	err   error
}

func (f *fakeNotes) GenerateNotes(context.Context, []domain.Message) (domain.AgentNotes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return domain.AgentNotes{Notes: f.notes}, f.err
}

func (f *fakeNotes) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubmitter struct {
	mu       sync.Mutex
	calls    int
	failures int // number of leading calls that fail
	gate     chan struct{}
	entered  chan struct{}
	payloads []domain.FinalResultPayload
}

func (f *fakeSubmitter) Submit(ctx context.Context, payload domain.FinalResultPayload) (*evaluation.Ack, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.payloads = append(f.payloads, payload)
	gate, entered, failures := f.gate, f.entered, f.failures
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n <= failures {
		return nil, errFake
	}
	return &evaluation.Ack{AttemptID: "attempt", AcceptedAt: time.Now()}, nil
}

func (f *fakeSubmitter) setGate(gate, entered chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate, f.entered = gate, entered
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingPublisher) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type harness struct {
	engine     *Engine
	repo       store.Repository
	classifier *fakeClassifier
	responder  *fakeResponder
	notes      *fakeNotes
	submitter  *fakeSubmitter
	events     *recordingPublisher
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHarnessWithRepo(t, store.NewMemory(), opts)
}

// newSQLiteHarness runs the engine over a SQLite file, which unlike the
// memory store honors context cancellation.
func newSQLiteHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHarnessWithRepo(t, openSQLite(t, filepath.Join(t.TempDir(), "honeypot.db")), opts)
}

func openSQLite(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newHarnessWithRepo(t *testing.T, repo store.Repository, opts Options) *harness {
	t.Helper()
	h := &harness{
		repo:       repo,
		classifier: &fakeClassifier{result: scamVerdict("bank_fraud", "Oh no, which account?")},
		responder:  &fakeResponder{reply: "What should I do now?"},
		notes:      &fakeNotes{notes: "Sender impersonated a bank and asked for an OTP."},
		submitter:  &fakeSubmitter{},
		events:     &recordingPublisher{},
	}
	if opts.Publisher == nil {
		opts.Publisher = h.events
	}
	if opts.CollaboratorTimeout == 0 {
		opts.CollaboratorTimeout = 2 * time.Second
	}
	if opts.SubmitTimeout == 0 {
		opts.SubmitTimeout = 2 * time.Second
	}

	e, err := New(h.repo, agent.Collaborators{
		Classifier:  h.classifier,
		Responder:   h.responder,
		Extractor:   agent.NewHeuristicExtractor(),
		NotesWriter: h.notes,
	}, h.submitter, opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	h.engine = e
	return h
}

func inbound(sessionID, text string) domain.IncomingMessage {
	return domain.IncomingMessage{
		SessionID: sessionID,
		Message:   domain.Message{Sender: domain.SenderScammer, Text: text},
	}
}

// flakyExtractor returns intel on its first call and fails afterwards, like
// a model strategy that found something and then hit a transient error.
type flakyExtractor struct {
	mu    sync.Mutex
	calls int
	intel domain.ExtractedIntelligence
}

func (f *flakyExtractor) Extract(context.Context, []domain.Message) (domain.ExtractedIntelligence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls > 1 {
		return domain.ExtractedIntelligence{}, errFake
	}
	return f.intel, nil
}

// hookedRepo runs beforeUpsert once, ahead of the next UpsertSession, to
// interleave a competing writer between a read and its write.
type hookedRepo struct {
	store.Repository

	mu           sync.Mutex
	beforeUpsert func()
}

func (r *hookedRepo) arm(fn func()) {
	r.mu.Lock()
	r.beforeUpsert = fn
	r.mu.Unlock()
}

func (r *hookedRepo) UpsertSession(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	fn := r.beforeUpsert
	r.beforeUpsert = nil
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
	return r.Repository.UpsertSession(ctx, s)
}
