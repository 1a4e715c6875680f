package triage

import "fmt"

// TicketText is the part of a ticket a classifier sees.
type TicketText struct {
	Title       string
	Description string
}

// Prompt is what a provider sends: a fixed system instruction plus the
// ticket-specific request.
type Prompt struct {
	System string
	User   string
}

const systemInstruction = `You triage technical support tickets for a help desk.
For each ticket you summarize the issue, estimate its priority, write notes a human moderator can act on, and list the technical skills needed to resolve it.
Reply with one raw JSON object and nothing else.
Do not use markdown, code fences, comments or any surrounding prose.`

const userTemplate = `Analyze the support ticket below and return a JSON object with exactly these keys:

- "summary": one or two sentences describing the issue.
- "priority": one of "low", "medium" or "high".
- "helpfulNotes": a technical explanation a moderator can use to resolve the issue, with useful links when possible.
- "relatedSkills": an array of skills needed to resolve the issue, for example ["React", "MongoDB"].

Example shape:
{"summary": "Short summary", "priority": "high", "helpfulNotes": "Steps to try...", "relatedSkills": ["React", "Node.js"]}

Ticket
- Title: %s
- Description: %s`

// BuildPrompt embeds the ticket text verbatim into the classification prompt.
func BuildPrompt(t TicketText) Prompt {
	return Prompt{
		System: systemInstruction,
		User:   fmt.Sprintf(userTemplate, t.Title, t.Description),
	}
}
