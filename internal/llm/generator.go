// Package llm is the boundary to the text generation service used for meeting
// transcripts, action items, deliverables, evaluations and reports.
package llm

import (
	"context"
	"errors"
)

// ErrMalformedOutput is returned when generated text does not contain the
// structure a caller asked for.
var ErrMalformedOutput = errors.New("llm: malformed output")

// Purposes tag prompts so generators and metering can tell calls apart.
const (
	PurposeTranscript  = "transcript"
	PurposeActionItems = "action_items"
	PurposeDeliverable = "deliverable"
	PurposeEvaluation  = "evaluation"
	PurposeReport      = "report"
	PurposeFeedback    = "feedback"
)

// Prompt is one generation request.
type Prompt struct {
	Purpose    string
	System     string
	User       string
	EmployeeID string
	// Subjects names the people or items the prompt is about, in order.
	Subjects []string
}

// Text returns the prompt as a single string.
func (p Prompt) Text() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt Prompt) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
