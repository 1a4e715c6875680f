package triage

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// extractRule pulls candidate text payloads out of one known response shape.
type extractRule func(doc any) []string

// extractRules run in order; earlier shapes win.
var extractRules = []extractRule{
	fromString,
	fromOutputItems,
	fromOutputString,
	fromContentBlocks,
	fromCandidateParts,
	fromTopLevelFields,
}

var fencePattern = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

// Extract normalizes a raw provider response into a Classification. Every
// candidate payload is tried in rule order and the first one that decodes as
// a JSON object wins.
func Extract(doc any) (domain.Classification, error) {
	candidates := Candidates(doc)
	var lastErr error
	for _, c := range candidates {
		cls, err := decodeClassification(c)
		if err == nil {
			return cls, nil
		}
		lastErr = err
	}
	return domain.Classification{}, &ParseError{Candidates: len(candidates), Err: lastErr}
}

// Candidates lists the non-blank text payloads found in doc, in rule order.
func Candidates(doc any) []string {
	var out []string
	for _, rule := range extractRules {
		for _, s := range rule(doc) {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func fromString(doc any) []string {
	if s, ok := doc.(string); ok {
		return []string{s}
	}
	return nil
}

func fromOutputItems(doc any) []string {
	items, ok := field(doc, "output").([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
			continue
		}
		for _, key := range []string{"text", "context", "content"} {
			if s, ok := field(item, key).(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func fromOutputString(doc any) []string {
	if s, ok := field(doc, "output").(string); ok {
		return []string{s}
	}
	return nil
}

// fromContentBlocks reads message-style responses: {"content":[{"type":"text","text":...}]}.
func fromContentBlocks(doc any) []string {
	blocks, ok := field(doc, "content").([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, block := range blocks {
		if s, ok := field(block, "text").(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// fromCandidateParts reads generateContent-style responses:
// {"candidates":[{"content":{"parts":[{"text":...}]}}]}.
func fromCandidateParts(doc any) []string {
	candidates, ok := field(doc, "candidates").([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, c := range candidates {
		parts, ok := field(field(c, "content"), "parts").([]any)
		if !ok {
			continue
		}
		for _, p := range parts {
			if s, ok := field(p, "text").(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func fromTopLevelFields(doc any) []string {
	var out []string
	for _, key := range []string{"text", "content", "outputString"} {
		if s, ok := field(doc, key).(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func field(doc any, key string) any {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	return m[key]
}

// stripFence returns the body of the first code fence in s, or s trimmed when
// there is none.
func stripFence(s string) string {
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

type rawClassification struct {
	Summary       string      `json:"summary"`
	Priority      string      `json:"priority"`
	HelpfulNotes  string      `json:"helpfulNotes"`
	RelatedSkills skillValues `json:"relatedSkills"`
}

// skillValues accepts either a JSON array of strings or one comma separated string.
type skillValues []string

func (s *skillValues) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return errors.New("relatedSkills must be an array of strings")
	}
	*s = strings.Split(joined, ",")
	return nil
}

func decodeClassification(candidate string) (domain.Classification, error) {
	body := stripFence(candidate)
	if !strings.HasPrefix(body, "{") {
		return domain.Classification{}, errors.New("payload is not a JSON object")
	}
	var raw rawClassification
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return domain.Classification{}, err
	}
	return domain.Classification{
		Summary:       strings.TrimSpace(raw.Summary),
		Priority:      domain.ParsePriority(raw.Priority),
		HelpfulNotes:  strings.TrimSpace(raw.HelpfulNotes),
		RelatedSkills: dedupeSkills(raw.RelatedSkills),
	}, nil
}

// dedupeSkills trims entries, drops blanks and removes case-insensitive
// duplicates, keeping the first spelling seen.
func dedupeSkills(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
