package triage

import (
	"strings"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// HeuristicNotes is the helpful-notes text attached to every heuristic result.
const HeuristicNotes = "AI service unavailable; generated using heuristic analysis. Provide logs, steps to reproduce, and expected behavior."

const summaryLimit = 160

var (
	highKeywords = []string{"crash", "critical", "down", "security", "data loss", "urgent", "production"}
	lowKeywords  = []string{"typo", "minor", "feature request", "css", "style"}

	skillVocabulary = []string{
		"react", "node", "node.js", "express", "mongodb", "mongoose", "vite",
		"tailwind", "auth", "jwt", "email", "api", "docker",
	}
)

// Heuristic classifies a ticket by keyword matching. It does no I/O and is
// deterministic. Low keywords are checked after high ones and win when both
// appear.
func Heuristic(t TicketText) domain.Classification {
	text := strings.ToLower(t.Title + " " + t.Description)

	priority := domain.TicketPriorityMedium
	if containsAny(text, highKeywords) {
		priority = domain.TicketPriorityHigh
	}
	if containsAny(text, lowKeywords) {
		priority = domain.TicketPriorityLow
	}

	skills := []string{}
	seen := make(map[string]struct{}, len(skillVocabulary))
	for _, tag := range skillVocabulary {
		// "node.js" is looked up as "nodejs"
		if !strings.Contains(text, strings.Replace(tag, ".", "", 1)) {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		skills = append(skills, tag)
	}

	return domain.Classification{
		Summary:       heuristicSummary(t),
		Priority:      priority,
		HelpfulNotes:  HeuristicNotes,
		RelatedSkills: skills,
	}
}

func heuristicSummary(t TicketText) string {
	if t.Description != "" {
		runes := []rune(t.Description)
		if len(runes) > summaryLimit {
			runes = runes[:summaryLimit]
		}
		return string(runes)
	}
	if t.Title != "" {
		return t.Title
	}
	return "Ticket"
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
