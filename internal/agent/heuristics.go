package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/scam-honeypot/internal/domain"
)

var (
	scamSignalPattern = regexp.MustCompile(`(?i)otp|upi|blocked|kyc|urgent|bank`)

	upiPattern     = regexp.MustCompile(`\b[a-zA-Z0-9._-]{2,256}@[a-zA-Z][a-zA-Z0-9]{1,64}\b`)
	linkPattern    = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)
	phonePattern   = regexp.MustCompile(`(?:\+91[\s-]?|\b)[6-9]\d{4}[\s-]?\d{5}\b`)
	accountPattern = regexp.MustCompile(`\b\d{9,18}\b`)
)

// suspiciousKeywords are phrases scammers use to create pressure or harvest
// credentials. Matching is case-insensitive.
var suspiciousKeywords = []string{
	"otp", "upi", "kyc", "urgent", "blocked", "suspended", "verify",
	"bank", "account", "refund", "lottery", "prize", "reward", "pin",
	"cvv", "password", "immediately", "penalty", "arrest", "click",
	"link", "expire", "limited time",
}

// MatchesScamSignal reports whether text contains one of the basic scam
// trigger words.
func MatchesScamSignal(text string) bool {
	return scamSignalPattern.MatchString(text)
}

// HeuristicExtractor pulls intelligence from scammer messages with regular
// expressions. It never fails.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates a regex-based extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

// Extract scans every scammer message in history.
func (h *HeuristicExtractor) Extract(_ context.Context, history []domain.Message) (domain.ExtractedIntelligence, error) {
	var intel domain.ExtractedIntelligence
	for _, msg := range history {
		if msg.Sender != domain.SenderScammer {
			continue
		}
		text := msg.Text

		intel.PhishingLinks = append(intel.PhishingLinks, trimLinks(linkPattern.FindAllString(text, -1))...)
		// Links are removed first so their paths do not produce false matches.
		rest := linkPattern.ReplaceAllString(text, " ")

		for _, loc := range upiPattern.FindAllStringIndex(rest, -1) {
			// A dot after the handle means an email address, not a UPI id.
			if loc[1] < len(rest) && rest[loc[1]] == '.' && loc[1]+1 < len(rest) && isLetter(rest[loc[1]+1]) {
				continue
			}
			intel.UpiIDs = append(intel.UpiIDs, rest[loc[0]:loc[1]])
		}
		rest = upiPattern.ReplaceAllString(rest, " ")

		for _, phone := range phonePattern.FindAllString(rest, -1) {
			intel.PhoneNumbers = append(intel.PhoneNumbers, normalizePhone(phone))
		}
		rest = phonePattern.ReplaceAllString(rest, " ")

		intel.BankAccounts = append(intel.BankAccounts, accountPattern.FindAllString(rest, -1)...)
		intel.SuspiciousKeywords = append(intel.SuspiciousKeywords, matchKeywords(text)...)
	}
	return intel.Normalize(), nil
}

func trimLinks(links []string) []string {
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, strings.TrimRight(l, ".,;:!?)]}"))
	}
	return out
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func matchKeywords(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range suspiciousKeywords {
		if containsWord(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// containsWord reports whether kw occurs in text bounded by non-letters.
func containsWord(text, kw string) bool {
	for start := 0; ; {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(kw)
		if (i == 0 || !isLetter(text[i-1])) && (end == len(text) || !isLetter(text[end])) {
			return true
		}
		start = i + 1
	}
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// HeuristicClassifier flags messages that contain scam trigger words. It is
// used when no generative model is configured.
type HeuristicClassifier struct {
	// InitialReply is sent back when a scam is detected.
	InitialReply string
}

// NewHeuristicClassifier creates a keyword classifier.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{InitialReply: "Oh no, what happened? What do I need to do?"}
}

// DetectScam checks the message and any earlier scammer turns.
func (h *HeuristicClassifier) DetectScam(_ context.Context, text string, history []domain.Message) (domain.ScamDetectionResult, error) {
	hit := MatchesScamSignal(text)
	for _, msg := range history {
		if hit {
			break
		}
		hit = msg.Sender == domain.SenderScammer && MatchesScamSignal(msg.Text)
	}
	if !hit {
		return domain.ScamDetectionResult{IsScam: false, InitialReply: DefaultNonScamReply}, nil
	}
	scamType := ScamTypeKeywordMatch
	return domain.ScamDetectionResult{IsScam: true, ScamType: &scamType, InitialReply: h.InitialReply}, nil
}

// StaticResponder always answers with the same reply.
type StaticResponder struct {
	Reply string
}

// GenerateReply returns the configured reply, or RephraseReply when unset.
func (s StaticResponder) GenerateReply(context.Context, []domain.Message, Persona) (domain.AgentResponse, error) {
	if s.Reply == "" {
		return domain.AgentResponse{Reply: RephraseReply}, nil
	}
	return domain.AgentResponse{Reply: s.Reply}, nil
}

// HeuristicNotesWriter summarizes a transcript from extracted artifacts.
type HeuristicNotesWriter struct {
	extractor Extractor
}

// NewHeuristicNotesWriter creates a notes writer backed by extractor. A nil
// extractor falls back to the regex extractor.
func NewHeuristicNotesWriter(extractor Extractor) *HeuristicNotesWriter {
	if extractor == nil {
		extractor = NewHeuristicExtractor()
	}
	return &HeuristicNotesWriter{extractor: extractor}
}

// GenerateNotes produces a one-paragraph summary of the engagement.
func (h *HeuristicNotesWriter) GenerateNotes(ctx context.Context, history []domain.Message) (domain.AgentNotes, error) {
	intel, err := h.extractor.Extract(ctx, history)
	if err != nil && !errors.Is(err, ErrPartialExtraction) {
		return domain.AgentNotes{}, fmt.Errorf("extract for notes: %w", err)
	}

	scammerTurns := 0
	for _, msg := range history {
		if msg.Sender == domain.SenderScammer {
			scammerTurns++
		}
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("Engagement covered %d messages (%d from the sender).", len(history), scammerTurns))
	if len(intel.SuspiciousKeywords) > 0 {
		parts = append(parts, "Pressure tactics: "+strings.Join(intel.SuspiciousKeywords, ", ")+".")
	}
	if intel.Count()-len(intel.SuspiciousKeywords) > 0 {
		parts = append(parts, fmt.Sprintf("Collected %d bank accounts, %d UPI ids, %d links and %d phone numbers.",
			len(intel.BankAccounts), len(intel.UpiIDs), len(intel.PhishingLinks), len(intel.PhoneNumbers)))
	} else {
		parts = append(parts, "No payment or contact details were disclosed.")
	}
	return domain.AgentNotes{Notes: strings.Join(parts, " ")}, nil
}
