package triage

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/observability"
)

// SourceHeuristic labels classifications produced without a provider.
const SourceHeuristic = "heuristic"

// Provider is an external text-classification backend. Complete returns the
// decoded response document untouched; shape normalization happens in Extract.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt) (any, error)
}

// ClassifierDependencies wires a Classifier. Either provider may be nil.
type ClassifierDependencies struct {
	Primary   Provider
	Secondary Provider
	Policy    config.FallbackPolicy
	Timeout   time.Duration
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// Classifier tries the configured providers in order and applies the
// fallback policy when none succeeds.
type Classifier struct {
	providers []Provider
	policy    config.FallbackPolicy
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewClassifier builds a Classifier. An empty policy means heuristic fallback.
func NewClassifier(deps ClassifierDependencies) *Classifier {
	var providers []Provider
	for _, p := range []Provider{deps.Primary, deps.Secondary} {
		if p != nil {
			providers = append(providers, p)
		}
	}
	policy := deps.Policy
	if policy == "" {
		policy = config.FallbackHeuristic
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		providers: providers,
		policy:    policy,
		timeout:   deps.Timeout,
		logger:    logger,
		metrics:   deps.Metrics,
	}
}

// Classify returns a Classification for the ticket. Under the heuristic
// policy it never fails: missing providers, provider errors and malformed
// payloads all degrade to Heuristic. Under the strict policy it returns
// ErrNoProviderConfigured or *ClassificationFailed.
func (c *Classifier) Classify(ctx context.Context, t TicketText) (domain.Classification, error) {
	if len(c.providers) == 0 {
		if c.policy == config.FallbackStrict {
			return domain.Classification{}, ErrNoProviderConfigured
		}
		c.metrics.RecordClassification(SourceHeuristic)
		return Heuristic(t), nil
	}

	prompt := BuildPrompt(t)
	var attempts []*ProviderError
	for _, p := range c.providers {
		cls, err := c.attempt(ctx, p, prompt)
		if err == nil {
			c.metrics.RecordClassification(p.Name())
			return cls, nil
		}
		perr := asProviderError(p.Name(), err)
		attempts = append(attempts, perr)
		c.metrics.RecordProviderFailure(p.Name())
		c.logger.Warn("classification provider failed",
			zap.String("provider", perr.Provider),
			zap.Int("status", perr.Status),
			zap.Error(err),
		)
	}

	if c.policy == config.FallbackStrict {
		return domain.Classification{}, &ClassificationFailed{Attempts: attempts}
	}
	c.logger.Info("falling back to heuristic classification", zap.Int("failed_attempts", len(attempts)))
	c.metrics.RecordClassification(SourceHeuristic)
	return Heuristic(t), nil
}

func (c *Classifier) attempt(ctx context.Context, p Provider, prompt Prompt) (domain.Classification, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	doc, err := p.Complete(ctx, prompt)
	if err != nil {
		return domain.Classification{}, err
	}
	return Extract(doc)
}

func asProviderError(provider string, err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		if perr.Provider == "" {
			perr.Provider = provider
		}
		return perr
	}
	return &ProviderError{Provider: provider, Message: err.Error(), Err: err}
}
