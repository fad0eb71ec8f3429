// Package agents assembles the organization roles and bootstraps an
// organization on a host.
package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents/ceo"
	"github.com/kingrea/lattice-org/internal/agents/hr"
	"github.com/kingrea/lattice-org/internal/agents/ic"
	"github.com/kingrea/lattice-org/internal/agents/kit"
	"github.com/kingrea/lattice-org/internal/agents/manager"
	"github.com/kingrea/lattice-org/internal/agents/meeting"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/mailbox"
)

// RegisterBuiltins registers every organization role with reg.
func RegisterBuiltins(reg *actor.Registry, deps kit.Deps) error {
	if err := deps.Validate(); err != nil {
		return err
	}
	for _, def := range []actor.Definition{
		meeting.Definition(deps),
		hr.Definition(deps),
		ceo.Definition(deps),
		manager.Definition(deps),
		ic.Definition(deps),
	} {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Org names the singleton actors of a bootstrapped organization.
type Org struct {
	ID      string `json:"orgId"`
	Meeting string `json:"meeting"`
	HR      string `json:"hr"`
	// Resumed is true when the organization was already running.
	Resumed bool `json:"resumed"`
}

// BootstrapOptions describe a new organization.
type BootstrapOptions struct {
	OrgID   string
	CEOName string
	CEOID   string
}

// Bootstrap starts the orchestrator and HR for an organization and asks HR to
// hire the CEO. Running it again for a live organization returns the
// existing addresses without hiring anyone.
func Bootstrap(ctx context.Context, host actor.Host, opts BootstrapOptions) (Org, error) {
	if opts.OrgID == "" {
		opts.OrgID = kit.DefaultOrg
	}
	org := Org{ID: opts.OrgID}

	runID, err := host.Start(ctx, protocol.RoleMeeting, protocol.Initial(map[string]string{"orgId": opts.OrgID}))
	if err != nil && !errors.Is(err, actor.ErrAlreadyActive) {
		return org, fmt.Errorf("bootstrap: start orchestrator: %w", err)
	}
	org.Meeting = mailbox.NewAddress(protocol.RoleMeeting, runID).String()

	runID, err = host.Start(ctx, protocol.RoleHR, protocol.Initial(map[string]string{
		"orgId":          opts.OrgID,
		"meetingAddress": org.Meeting,
	}))
	switch {
	case errors.Is(err, actor.ErrAlreadyActive):
		org.Resumed = true
	case err != nil:
		return org, fmt.Errorf("bootstrap: start hr: %w", err)
	}
	org.HR = mailbox.NewAddress(protocol.RoleHR, runID).String()
	if org.Resumed || opts.CEOName == "" {
		return org, nil
	}

	hire := mailbox.MustMessage(protocol.EventHireEmployee, protocol.HireEmployee{
		EmployeeID: opts.CEOID,
		Name:       opts.CEOName,
		Role:       protocol.RoleCEO,
		Title:      "Chief Executive Officer",
	})
	accepted, err := host.Send(ctx, org.HR, hire)
	if err != nil {
		return org, fmt.Errorf("bootstrap: hire ceo: %w", err)
	}
	if !accepted {
		return org, fmt.Errorf("bootstrap: hr at %s did not accept the ceo hire", org.HR)
	}
	return org, nil
}
