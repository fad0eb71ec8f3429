// Package kit holds what every organization role shares: service
// dependencies, participant resolution and loop construction.
package kit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/llm"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/resume"
)

// DefaultOrg is the organization ID used when an initial state names none.
const DefaultOrg = "default"

// Deps are the external services shared by every role.
type Deps struct {
	Entities      entity.Store
	Generator     llm.Generator
	RetryAttempts int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
	// MeetingGrace is how long the orchestrator waits for participants to join.
	MeetingGrace time.Duration
	// Sleep waits for d; tests replace it to skip grace periods.
	Sleep func(ctx context.Context, d time.Duration)
}

// Validate checks required services.
func (d Deps) Validate() error {
	if d.Entities == nil {
		return errors.New("agents: entity store is required")
	}
	if d.Generator == nil {
		return errors.New("agents: generator is required")
	}
	return nil
}

// Retry returns a resume client delivering through host.
func (d Deps) Retry(env actor.Env) *resume.Client {
	return resume.New(env.Host,
		resume.WithAttempts(d.RetryAttempts),
		resume.WithDelays(d.RetryDelay, d.RetryMaxDelay),
		resume.WithLogger(env.Logger),
		resume.WithPermanent(actor.IsValidation),
	)
}

// Wait sleeps for d unless ctx ends first.
func (d Deps) Wait(ctx context.Context, dur time.Duration) {
	if dur <= 0 {
		return
	}
	if d.Sleep != nil {
		d.Sleep(ctx, dur)
		return
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Participant is a resolved meeting or ping party.
type Participant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// Resolve maps a reference to a participant. References containing ':' are
// actor addresses; anything else is looked up as an employee ID. Lookup
// failures degrade to the bare reference.
func Resolve(ctx context.Context, store entity.Store, ref string) Participant {
	ref = strings.TrimSpace(ref)
	if strings.Contains(ref, ":") {
		return Participant{ID: ref, Name: ref, Address: ref}
	}
	p := Participant{ID: ref, Name: ref}
	if store == nil || ref == "" {
		return p
	}
	emp, err := store.GetEmployee(ctx, ref)
	if err != nil {
		return p
	}
	if emp.Name != "" {
		p.Name = emp.Name
	}
	p.Address = emp.Address
	return p
}

// ChannelOf returns the address of channel on the actor behind address. A
// reference that already names a channel is returned unchanged.
func ChannelOf(address, channel string) (string, bool) {
	addr, err := mailbox.ParseAddress(address)
	if err != nil {
		return "", false
	}
	if addr.Channel != "" {
		return addr.String(), true
	}
	return addr.With(channel).String(), true
}

// Build decodes initial into a seed state and constructs the loop.
func Build[S any](env actor.Env, initial json.RawMessage, defaults func() S, seed func(*S) error, handler actor.Handler[S], scanner actor.Scanner[S]) (actor.Process, error) {
	state := defaults()
	if len(initial) > 0 {
		if err := json.Unmarshal(initial, &state); err != nil {
			return nil, actor.Invalid("%s initial state: %v", env.Address.Role, err)
		}
	}
	if seed != nil {
		if err := seed(&state); err != nil {
			return nil, err
		}
	}
	return actor.NewLoopFor(env, state, defaults, handler, scanner)
}

// OrgIdentity derives the singleton identity of per-organization roles.
func OrgIdentity(initial json.RawMessage) (string, error) {
	var seed struct {
		OrgID string `json:"orgId"`
	}
	if len(initial) > 0 {
		if err := json.Unmarshal(initial, &seed); err != nil {
			return "", actor.Invalid("initial state: %v", err)
		}
	}
	if seed.OrgID == "" {
		return DefaultOrg, nil
	}
	return seed.OrgID, nil
}

// EmployeeIdentity derives the identity of per-employee roles.
func EmployeeIdentity(initial json.RawMessage) (string, error) {
	var seed struct {
		EmployeeID string `json:"employeeId"`
	}
	if err := json.Unmarshal(initial, &seed); err != nil {
		return "", actor.Invalid("initial state: %v", err)
	}
	if seed.EmployeeID == "" {
		return "", actor.Invalid("employeeId is required")
	}
	return seed.EmployeeID, nil
}

// Remember inserts a memory, logging instead of failing.
func Remember(ctx context.Context, env actor.Env, store entity.Store, m entity.Memory) bool {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = env.Now().UTC()
	}
	if _, err := store.InsertMemory(ctx, m); err != nil {
		Logger(env).Printf("%s: remember %s for %s failed: %v", env.Address, m.Kind, m.EmployeeID, err)
		return false
	}
	return true
}

// Logger returns the env logger or a no-op printer.
func Logger(env actor.Env) logging.Printer {
	return logging.OrNop(env.Logger)
}

// AnswerPing replies to a ping on behalf of employeeID through the
// orchestrator at meetingAddress.
func AnswerPing(ctx context.Context, env actor.Env, retry *resume.Client, meetingAddress, employeeID, pingID, message string) bool {
	if meetingAddress == "" {
		Logger(env).Printf("%s: no orchestrator address, ping %s unanswered", env.Address, pingID)
		return false
	}
	reply := protocol.Message(protocol.EventPingResponse, protocol.PingResponse{
		PingID:  pingID,
		From:    employeeID,
		Message: message,
	}, env.Address)
	if !retry.SendWithRetry(ctx, meetingAddress, reply) {
		Logger(env).Printf("%s: answer to ping %s not accepted by %s", env.Address, pingID, meetingAddress)
		return false
	}
	return true
}

// Tell sends msg through retry and logs when it is not accepted.
func Tell(ctx context.Context, env actor.Env, retry *resume.Client, address string, msg mailbox.Message) bool {
	if address == "" {
		Logger(env).Printf("%s: %s has no recipient, dropped", env.Address, msg.Type)
		return false
	}
	if !retry.SendWithRetry(ctx, address, msg) {
		Logger(env).Printf("%s: %s not accepted by %s", env.Address, msg.Type, address)
		return false
	}
	return true
}

// TaskFor returns the task a newTask event refers to, creating it when the
// event carries a description instead of an existing ID.
func TaskFor(ctx context.Context, store entity.Store, p protocol.NewTask, createdBy string) (entity.Task, error) {
	if p.TaskID != "" {
		task, err := store.GetTask(ctx, p.TaskID)
		switch {
		case err == nil:
			return task, nil
		case !errors.Is(err, entity.ErrNotFound):
			return task, fmt.Errorf("load task %s: %w", p.TaskID, err)
		case strings.TrimSpace(p.Title) == "":
			return task, actor.Invalid("task %s does not exist", p.TaskID)
		}
	}
	if p.CreatedBy != "" {
		createdBy = p.CreatedBy
	}
	task, err := store.InsertTask(ctx, entity.Task{
		ID:          p.TaskID,
		Title:       p.Title,
		Description: p.Description,
		Priority:    p.Priority,
		CreatedBy:   createdBy,
	})
	if err != nil {
		return task, fmt.Errorf("create task %q: %w", p.Title, err)
	}
	return task, nil
}
