package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MinDeliverableChars is the shortest deliverable the offline evaluator
// approves.
const MinDeliverableChars = 40

// Offline produces deterministic output without a network call. It is the
// default backend and the one used in tests.
type Offline struct{}

var _ Generator = Offline{}

// Generate implements Generator.
func (Offline) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch p.Purpose {
	case PurposeTranscript:
		return offlineTranscript(p), nil
	case PurposeActionItems:
		return offlineActionItems(p)
	case PurposeDeliverable:
		return fmt.Sprintf("Deliverable: %s\n\nApproach, findings and next steps for %q, prepared for review.", subject(p, "the task"), subject(p, "the task")), nil
	case PurposeEvaluation:
		return offlineEvaluation(p)
	case PurposeReport:
		return fmt.Sprintf("Status report covering %d item(s): %s.", len(p.Subjects), strings.Join(p.Subjects, ", ")), nil
	case PurposeFeedback:
		return fmt.Sprintf("Thanks for the update on %s. Keep priorities visible and flag blockers early.", subject(p, "the team")), nil
	default:
		return strings.TrimSpace(p.User), nil
	}
}

func subject(p Prompt, fallback string) string {
	if len(p.Subjects) == 0 || strings.TrimSpace(p.Subjects[0]) == "" {
		return fallback
	}
	return p.Subjects[0]
}

func offlineTranscript(p Prompt) string {
	var b strings.Builder
	for _, name := range p.Subjects {
		fmt.Fprintf(&b, "%s: Yesterday I closed out my open items. Today I will continue on the current priority. No blockers.\n", name)
	}
	if b.Len() == 0 {
		return "No participants joined."
	}
	return strings.TrimRight(b.String(), "\n")
}

func offlineActionItems(p Prompt) (string, error) {
	items := make([]ActionItem, 0, len(p.Subjects))
	for _, name := range p.Subjects {
		items = append(items, ActionItem{
			Title:       "Follow up with " + name,
			Description: "Confirm progress on the item " + name + " raised in the meeting.",
			AssignedTo:  name,
			Priority:    "medium",
		})
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func offlineEvaluation(p Prompt) (string, error) {
	content := strings.TrimSpace(subject(p, ""))
	eval := Evaluation{Approved: len(content) >= MinDeliverableChars}
	if eval.Approved {
		eval.Feedback = "Meets the bar. Approved."
	} else {
		eval.Feedback = fmt.Sprintf("Too thin to review (%d characters). Expand the approach and findings.", len(content))
	}
	data, err := json.Marshal(eval)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
