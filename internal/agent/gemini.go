package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

var errEmptyModelResponse = errors.New("empty model response")

const (
	scamDetectionPrompt = `You are a fraud analyst screening messages received by a potential victim.
Decide whether the current message, read together with the conversation so far, is a scam attempt
(bank or KYC impersonation, UPI or payment fraud, OTP harvesting, lottery or prize fraud, fake jobs,
phishing links, tech support fraud or similar).
Respond with JSON: isScam (boolean), scamType (short snake_case label or null) and initialReply, a
believable first reply from a confused but cooperative victim that keeps the sender talking.`

	extractionPrompt = `Extract actionable intelligence from the conversation below. Only report values the
sender actually wrote. Return JSON with arrays bankAccounts, upiIds, phishingLinks, phoneNumbers and
suspiciousKeywords (urgency, threats or credential requests). Use empty arrays when nothing was found.`

	notesPrompt = `Write a short analyst summary of this scam engagement: the scam type, the tactics the
sender used, and any payment or contact details they disclosed. Plain text, at most five sentences.`
)

// GeminiClient implements every collaborator on top of the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// GeminiConfig holds Gemini connection settings.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	BaseURL string // overrides the API endpoint; empty uses the default
}

// NewGeminiClient creates a Gemini-backed collaborator.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	logger.Info("Gemini collaborators enabled", "model", cfg.Model)
	return &GeminiClient{client: client, model: cfg.Model, timeout: cfg.Timeout, logger: logger}, nil
}

// DetectScam classifies the current message in the context of history.
func (g *GeminiClient) DetectScam(ctx context.Context, text string, history []domain.Message) (domain.ScamDetectionResult, error) {
	prompt := scamDetectionPrompt +
		"\n\nCurrent message from sender: " + quote(text) +
		"\nConversation history:\n" + formatTranscript(history, "sender", "victim") +
		"\nJSON response:"

	raw, err := g.generate(ctx, prompt, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"isScam":       {Type: genai.TypeBoolean},
				"scamType":     {Type: genai.TypeString, Nullable: genai.Ptr(true)},
				"initialReply": {Type: genai.TypeString},
			},
			Required: []string{"isScam", "initialReply"},
		},
	})
	if err != nil {
		return domain.ScamDetectionResult{}, err
	}

	var result domain.ScamDetectionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return domain.ScamDetectionResult{}, fmt.Errorf("%w: decode detection: %v", domain.ErrCollaboratorFailure, err)
	}
	if result.ScamType != nil && strings.TrimSpace(*result.ScamType) == "" {
		result.ScamType = nil
	}
	return result, nil
}

// GenerateReply continues the engagement in character.
func (g *GeminiClient) GenerateReply(ctx context.Context, history []domain.Message, persona Persona) (domain.AgentResponse, error) {
	prompt := "Based on the conversation history below, provide a believable human-like response.\n\n" +
		"Conversation history:\n" + formatTranscript(history, "Scammer", "You") +
		"\nYour response:"

	raw, err := g.generate(ctx, prompt, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(persona.Instruction(), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.9),
		TopP:              genai.Ptr[float32](0.95),
		TopK:              genai.Ptr[float32](64),
		MaxOutputTokens:   200,
	})
	if err != nil {
		return domain.AgentResponse{}, err
	}
	return domain.AgentResponse{Reply: raw}, nil
}

// Extract pulls intelligence out of the full transcript.
func (g *GeminiClient) Extract(ctx context.Context, history []domain.Message) (domain.ExtractedIntelligence, error) {
	stringList := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	prompt := extractionPrompt + "\n\nConversation history:\n" + formatTranscript(history, "sender", "victim") + "\nJSON response:"

	raw, err := g.generate(ctx, prompt, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"bankAccounts":       stringList,
				"upiIds":             stringList,
				"phishingLinks":      stringList,
				"phoneNumbers":       stringList,
				"suspiciousKeywords": stringList,
			},
		},
	})
	if err != nil {
		return domain.ExtractedIntelligence{}, err
	}

	var intel domain.ExtractedIntelligence
	if err := json.Unmarshal([]byte(raw), &intel); err != nil {
		return domain.ExtractedIntelligence{}, fmt.Errorf("%w: decode intelligence: %v", domain.ErrCollaboratorFailure, err)
	}
	return intel.Normalize(), nil
}

// GenerateNotes writes the analyst summary.
func (g *GeminiClient) GenerateNotes(ctx context.Context, history []domain.Message) (domain.AgentNotes, error) {
	prompt := notesPrompt + "\n\nConversation history:\n" + formatTranscript(history, "sender", "victim") + "\nSummary:"

	raw, err := g.generate(ctx, prompt, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.7),
	})
	if err != nil {
		return domain.AgentNotes{}, err
	}
	return domain.AgentNotes{Notes: raw}, nil
}

// Verdict asks the model for a one-shot scam verdict on text. It backs the
// stateless detection endpoint.
func (g *GeminiClient) Verdict(ctx context.Context, text string) (string, error) {
	prompt := "You are a cyber security assistant.\n" +
		"Analyze the following message and tell if it is a scam.\n" +
		"Reply in JSON format with keys:\n- scam (true/false)\n- reason (short explanation)\n\n" +
		"Message:\n" + quote(text)
	return g.generate(ctx, prompt, nil)
}

// generate runs one bounded model call and returns the trimmed text.
func (g *GeminiClient) generate(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		g.logger.Warn("gemini call failed", "model", g.model, "duration", time.Since(start), "error", err)
		return "", fmt.Errorf("%w: %v", domain.ErrCollaboratorFailure, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: %w", domain.ErrCollaboratorFailure, errEmptyModelResponse)
	}
	g.logger.Debug("gemini call completed", "model", g.model, "duration", time.Since(start), "chars", len(text))
	return text, nil
}

// formatTranscript renders history one line per message with the given role
// labels for the scammer and honeypot sides.
func formatTranscript(history []domain.Message, scammer, honeypot string) string {
	var b strings.Builder
	for _, msg := range history {
		label := honeypot
		if msg.Sender == domain.SenderScammer {
			label = scammer
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(msg.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

func quote(s string) string {
	return `"` + s + `"`
}
