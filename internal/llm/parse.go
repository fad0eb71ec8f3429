package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ActionItem is one follow-up extracted from a meeting transcript.
type ActionItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AssignedTo  string `json:"assignedTo,omitempty"`
	Priority    string `json:"priority"`
}

// Evaluation is a reviewer's verdict on a deliverable.
type Evaluation struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
}

// ParseActionItems extracts the JSON array of action items from text. Fenced
// code blocks and surrounding prose are tolerated; items without a title are
// dropped.
func ParseActionItems(text string) ([]ActionItem, error) {
	body, ok := extract(text, '[', ']')
	if !ok {
		return nil, fmt.Errorf("%w: no JSON array in action items", ErrMalformedOutput)
	}
	var raw []ActionItem
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: action items: %v", ErrMalformedOutput, err)
	}
	items := make([]ActionItem, 0, len(raw))
	for _, item := range raw {
		item.Title = strings.TrimSpace(item.Title)
		if item.Title == "" {
			continue
		}
		item.Priority = normalizePriority(item.Priority)
		items = append(items, item)
	}
	return items, nil
}

// ParseEvaluation extracts an evaluation object from text.
func ParseEvaluation(text string) (Evaluation, error) {
	body, ok := extract(text, '{', '}')
	if !ok {
		return Evaluation{}, fmt.Errorf("%w: no JSON object in evaluation", ErrMalformedOutput)
	}
	var eval Evaluation
	if err := json.Unmarshal([]byte(body), &eval); err != nil {
		return Evaluation{}, fmt.Errorf("%w: evaluation: %v", ErrMalformedOutput, err)
	}
	eval.Feedback = strings.TrimSpace(eval.Feedback)
	return eval, nil
}

func extract(text string, open, close byte) (string, bool) {
	text = stripFence(strings.TrimSpace(text))
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSuffix(strings.TrimSpace(text), "```")
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "low":
		return "low"
	case "high", "urgent", "critical":
		return "high"
	default:
		return "medium"
	}
}
