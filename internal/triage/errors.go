package triage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoProviderConfigured is returned under the strict policy when no
// provider has credentials.
var ErrNoProviderConfigured = errors.New("no classification provider configured")

// ProviderError captures one failed provider attempt.
type ProviderError struct {
	Provider string
	Status   int // HTTP status when the provider answered, 0 otherwise
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ParseError means a provider answered but no candidate payload decoded as a
// JSON object.
type ParseError struct {
	Candidates int
	Err        error
}

func (e *ParseError) Error() string {
	if e.Candidates == 0 {
		return "no text payload in provider response"
	}
	return fmt.Sprintf("none of %d response payloads is a JSON object: %v", e.Candidates, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ClassificationFailed is returned under the strict policy when every
// configured provider failed.
type ClassificationFailed struct {
	Attempts []*ProviderError
}

func (e *ClassificationFailed) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return "classification failed: " + strings.Join(parts, "; ")
}
