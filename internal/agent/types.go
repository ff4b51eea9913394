// Package agent implements the generative and heuristic collaborators that
// classify, engage, extract from and summarize scam conversations.
package agent

// Canned replies used when a collaborator cannot produce one.
const (
	// DefaultNonScamReply answers messages the classifier judged benign.
	DefaultNonScamReply = "Thanks for your message. Could you tell me a bit more about what this is regarding?"
	// ClarificationReply answers inbound turns that carry no usable text.
	ClarificationReply = "I'm not sure I understand, can you clarify?"
	// FailureReply is returned when classification or generation fails.
	FailureReply = "An internal error occurred. Please try again."
	// RephraseReply is the engagement fallback when the model returns nothing.
	RephraseReply = "I seem to be having trouble understanding right now, could you rephrase?"
	// NotesFailureText is recorded when analyst notes cannot be generated.
	NotesFailureText = "Failed to generate agent notes."
)

// Scam types assigned by the heuristic classifier.
const (
	ScamTypeKeywordMatch = "keyword_match"
)
