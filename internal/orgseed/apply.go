package orgseed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/resume"
)

// createdBy marks tasks that came from a seed file.
const createdBy = "seed"

var errNoCEO = errors.New("orgseed: ceo has no address yet")

// Result counts what Apply delivered.
type Result struct {
	Hires    int
	Meetings int
	Tasks    int
	Goals    int
}

// Applier replays a seed file against a live organization.
type Applier struct {
	Host   actor.Host
	Store  entity.Store
	Retry  *resume.Client
	Logger logging.Printer
	Clock  func() time.Time

	// CEOAttempts and CEODelay bound how long goals wait for HR to finish
	// hiring the CEO.
	CEOAttempts int
	CEODelay    time.Duration
}

func (a *Applier) defaults() {
	if a.Retry == nil {
		a.Retry = resume.New(a.Host, resume.WithPermanent(actor.IsValidation), resume.WithLogger(a.Logger))
	}
	a.Logger = logging.OrNop(a.Logger)
	if a.Clock == nil {
		a.Clock = time.Now
	}
	if a.CEOAttempts <= 0 {
		a.CEOAttempts = 20
	}
	if a.CEODelay <= 0 {
		a.CEODelay = 100 * time.Millisecond
	}
}

// Apply sends every hire, meeting, task and goal in f. A resumed organization
// is left alone so restarting with the same seed does not hire twice.
func (a *Applier) Apply(ctx context.Context, org agents.Org, f File) (Result, error) {
	var res Result
	if a.Host == nil {
		return res, errors.New("orgseed: host is required")
	}
	a.defaults()
	if org.Resumed {
		a.Logger.Printf("orgseed: organization %s resumed; seed %s skipped", org.ID, f.Path)
		return res, nil
	}

	for _, h := range f.Hires {
		if err := a.deliver(ctx, org.HR, protocol.EventHireEmployee, h.payload()); err != nil {
			return res, fmt.Errorf("orgseed: hire %s: %w", h.Name, err)
		}
		res.Hires++
	}
	now := a.Clock()
	for _, m := range f.Meetings {
		p, err := m.payload(now)
		if err != nil {
			return res, fmt.Errorf("orgseed: meeting %s: %w", m.ID, err)
		}
		if err := a.deliver(ctx, org.Meeting, protocol.EventScheduleMeeting, p); err != nil {
			return res, fmt.Errorf("orgseed: meeting %s: %w", m.ID, err)
		}
		res.Meetings++
	}
	for _, t := range f.Tasks {
		if err := a.deliver(ctx, org.HR, protocol.EventNewTask, t.payload(createdBy)); err != nil {
			return res, fmt.Errorf("orgseed: task %q: %w", t.Title, err)
		}
		res.Tasks++
	}
	if len(f.Goals) == 0 {
		return res, nil
	}

	ceo, err := a.ceoAddress(ctx)
	if err != nil {
		return res, err
	}
	for _, g := range f.Goals {
		if err := a.deliver(ctx, ceo, protocol.EventSetGoal, g.payload()); err != nil {
			return res, fmt.Errorf("orgseed: goal %q: %w", g.Title, err)
		}
		res.Goals++
	}
	a.Logger.Printf("orgseed: applied %d hire(s), %d meeting(s), %d task(s), %d goal(s)", res.Hires, res.Meetings, res.Tasks, res.Goals)
	return res, nil
}

func (a *Applier) deliver(ctx context.Context, address, kind string, payload any) error {
	msg, err := mailbox.NewMessage(kind, payload)
	if err != nil {
		return err
	}
	if !a.Retry.SendWithRetry(ctx, address, msg) {
		return fmt.Errorf("%s not accepted by %s", kind, address)
	}
	return nil
}

// ceoAddress waits for HR to record where the CEO runs.
func (a *Applier) ceoAddress(ctx context.Context) (string, error) {
	if a.Store == nil {
		return "", errors.New("orgseed: goals need an entity store")
	}
	var address string
	retrier := retry.NewRetrier(a.CEOAttempts, a.CEODelay, a.CEODelay*10)
	err := retrier.RunContext(ctx, func(ctx context.Context) error {
		ceos, err := a.Store.ListEmployees(ctx, entity.EmployeeFilter{Role: protocol.RoleCEO})
		if err != nil {
			return err
		}
		for _, c := range ceos {
			if c.Address != "" {
				address = c.Address
				return nil
			}
		}
		return errNoCEO
	})
	if err != nil {
		return "", fmt.Errorf("orgseed: resolve ceo: %w", err)
	}
	return address, nil
}
