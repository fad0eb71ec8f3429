package llm

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/logging"
)

// CostRecorder is the slice of the entity store Metered needs.
type CostRecorder interface {
	InsertCost(ctx context.Context, c entity.Cost) (entity.Cost, error)
}

// Metered records the size of every successful generation as a Cost entity.
// Recording failures are logged and never fail the generation.
type Metered struct {
	next   Generator
	costs  CostRecorder
	model  string
	logger logging.Printer
	clock  func() time.Time
}

// NewMetered wraps next.
func NewMetered(next Generator, costs CostRecorder, model string, logger logging.Printer) *Metered {
	return &Metered{next: next, costs: costs, model: model, logger: logging.OrNop(logger), clock: time.Now}
}

// Generate implements Generator.
func (m *Metered) Generate(ctx context.Context, p Prompt) (string, error) {
	out, err := m.next.Generate(ctx, p)
	if err != nil || m.costs == nil {
		return out, err
	}
	cost := entity.Cost{
		EmployeeID:  p.EmployeeID,
		Purpose:     p.Purpose,
		Model:       m.model,
		PromptChars: utf8.RuneCountInString(p.Text()),
		OutputChars: utf8.RuneCountInString(out),
		CreatedAt:   m.clock().UTC(),
	}
	if _, cerr := m.costs.InsertCost(ctx, cost); cerr != nil {
		m.logger.Printf("llm: record %s cost failed: %v", p.Purpose, cerr)
	}
	return out, nil
}
