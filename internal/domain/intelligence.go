package domain

import (
	"slices"
	"strings"
)

// ExtractedIntelligence holds the actionable artifacts pulled from a
// conversation. Every category is a set: unique, trimmed, sorted.
type ExtractedIntelligence struct {
	BankAccounts       []string `json:"bankAccounts"`
	UpiIDs             []string `json:"upiIds"`
	PhishingLinks      []string `json:"phishingLinks"`
	PhoneNumbers       []string `json:"phoneNumbers"`
	SuspiciousKeywords []string `json:"suspiciousKeywords"`
}

// NewExtractedIntelligence returns intelligence with every category empty
// (not nil), so JSON never carries null categories.
func NewExtractedIntelligence() ExtractedIntelligence {
	return ExtractedIntelligence{
		BankAccounts:       []string{},
		UpiIDs:             []string{},
		PhishingLinks:      []string{},
		PhoneNumbers:       []string{},
		SuspiciousKeywords: []string{},
	}
}

// Normalize deduplicates every category and replaces nil with empty.
// Keywords are compared case-insensitively.
func (e ExtractedIntelligence) Normalize() ExtractedIntelligence {
	return ExtractedIntelligence{
		BankAccounts:       uniqueSorted(e.BankAccounts),
		UpiIDs:             uniqueSorted(e.UpiIDs),
		PhishingLinks:      uniqueSorted(e.PhishingLinks),
		PhoneNumbers:       uniqueSorted(e.PhoneNumbers),
		SuspiciousKeywords: uniqueSorted(lowerAll(e.SuspiciousKeywords)),
	}
}

// Union merges two snapshots into one normalized set.
func (e ExtractedIntelligence) Union(other ExtractedIntelligence) ExtractedIntelligence {
	return ExtractedIntelligence{
		BankAccounts:       uniqueSorted(append(slices.Clone(e.BankAccounts), other.BankAccounts...)),
		UpiIDs:             uniqueSorted(append(slices.Clone(e.UpiIDs), other.UpiIDs...)),
		PhishingLinks:      uniqueSorted(append(slices.Clone(e.PhishingLinks), other.PhishingLinks...)),
		PhoneNumbers:       uniqueSorted(append(slices.Clone(e.PhoneNumbers), other.PhoneNumbers...)),
		SuspiciousKeywords: uniqueSorted(lowerAll(append(slices.Clone(e.SuspiciousKeywords), other.SuspiciousKeywords...))),
	}
}

// Clone returns a deep copy.
func (e ExtractedIntelligence) Clone() ExtractedIntelligence {
	return ExtractedIntelligence{
		BankAccounts:       cloneOrEmpty(e.BankAccounts),
		UpiIDs:             cloneOrEmpty(e.UpiIDs),
		PhishingLinks:      cloneOrEmpty(e.PhishingLinks),
		PhoneNumbers:       cloneOrEmpty(e.PhoneNumbers),
		SuspiciousKeywords: cloneOrEmpty(e.SuspiciousKeywords),
	}
}

// Equal reports whether both snapshots hold the same normalized values.
func (e ExtractedIntelligence) Equal(other ExtractedIntelligence) bool {
	a, b := e.Normalize(), other.Normalize()
	return slices.Equal(a.BankAccounts, b.BankAccounts) &&
		slices.Equal(a.UpiIDs, b.UpiIDs) &&
		slices.Equal(a.PhishingLinks, b.PhishingLinks) &&
		slices.Equal(a.PhoneNumbers, b.PhoneNumbers) &&
		slices.Equal(a.SuspiciousKeywords, b.SuspiciousKeywords)
}

// Count returns the total number of artifacts across categories.
func (e ExtractedIntelligence) Count() int {
	return len(e.BankAccounts) + len(e.UpiIDs) + len(e.PhishingLinks) +
		len(e.PhoneNumbers) + len(e.SuspiciousKeywords)
}

func uniqueSorted(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

func cloneOrEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return slices.Clone(values)
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
