package stub

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Policy decisions.
const (
	DecisionAllow     = "allow"
	DecisionRateLimit = "rate_limit"
	DecisionBlock     = "block"
)

// PolicyInput is what the message policy sees for each incoming message.
type PolicyInput struct {
	ContentLength int `json:"content_length"`
	RecentCount   int `json:"recent_count"`
	MaxChars      int `json:"max_chars"`
	RateLimit     int `json:"rate_limit"`
}

// PolicyEngine evaluates the message policy with OPA.
type PolicyEngine struct {
	query rego.PreparedEvalQuery
}

// NewPolicyEngine prepares the given policy module.
func NewPolicyEngine(ctx context.Context, policyContent string) (*PolicyEngine, error) {
	r := rego.New(
		rego.Query("data.message_policy.decision"),
		rego.Module("message_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &PolicyEngine{query: query}, nil
}

// Evaluate returns the decision for input: allow, rate_limit or block.
func (e *PolicyEngine) Evaluate(ctx context.Context, input PolicyInput) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"content_length": input.ContentLength,
		"recent_count":   input.RecentCount,
		"max_chars":      input.MaxChars,
		"rate_limit":     input.RateLimit,
	}))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
}

// DefaultPolicy blocks oversized messages and rate limits chatty users.
// A zero max_chars or rate_limit disables that check.
const DefaultPolicy = `
package message_policy

default decision = "allow"

oversized {
	input.max_chars > 0
	input.content_length > input.max_chars
}

decision = "block" {
	oversized
}

decision = "rate_limit" {
	not oversized
	input.rate_limit > 0
	input.recent_count >= input.rate_limit
}
`
