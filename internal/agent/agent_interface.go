package agent

import (
	"context"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

// Classifier decides whether an inbound message is a scam attempt.
type Classifier interface {
	DetectScam(ctx context.Context, text string, history []domain.Message) (domain.ScamDetectionResult, error)
}

// Responder produces the next engagement reply once a session is flagged.
type Responder interface {
	GenerateReply(ctx context.Context, history []domain.Message, persona Persona) (domain.AgentResponse, error)
}

// Extractor pulls intelligence out of a full transcript.
type Extractor interface {
	Extract(ctx context.Context, history []domain.Message) (domain.ExtractedIntelligence, error)
}

// NotesWriter summarizes a transcript for analysts.
type NotesWriter interface {
	GenerateNotes(ctx context.Context, history []domain.Message) (domain.AgentNotes, error)
}

// Collaborators bundles the generative dependencies of the engine.
type Collaborators struct {
	Classifier  Classifier
	Responder   Responder
	Extractor   Extractor
	NotesWriter NotesWriter
	Persona     Persona
}

var (
	_ Classifier  = (*GeminiClient)(nil)
	_ Responder   = (*GeminiClient)(nil)
	_ Extractor   = (*GeminiClient)(nil)
	_ NotesWriter = (*GeminiClient)(nil)

	_ Classifier  = (*HeuristicClassifier)(nil)
	_ Extractor   = (*HeuristicExtractor)(nil)
	_ Extractor   = (*CombinedExtractor)(nil)
	_ Responder   = StaticResponder{}
	_ NotesWriter = (*HeuristicNotesWriter)(nil)
)
