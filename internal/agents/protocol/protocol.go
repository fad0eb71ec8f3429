// Package protocol defines the event vocabulary exchanged between the
// organization's actors: role names, event types, typed payloads and the
// per-channel validation applied before a message reaches an inbox.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/mailbox"
)

// Roles.
const (
	RoleHR      = "hr"
	RoleCEO     = "ceo"
	RoleManager = "manager"
	RoleIC      = "ic"
	RoleMeeting = "meeting"
)

// Sub-channels bound next to the primary inbox of managers and ICs.
const (
	ChannelPing    = "ping"
	ChannelMeeting = "meeting"
)

// Meeting-Orchestrator events.
const (
	EventScheduleMeeting = "scheduleMeeting"
	EventRunStandup      = "runStandup"
	EventRunSync         = "runSync"
	EventSendPing        = "sendPing"
	EventPingResponse    = "pingResponse"
	EventGetStatus       = "getStatus"
)

// HR events.
const (
	EventHireEmployee  = "hireEmployee"
	EventNewTask       = "newTask"
	EventTaskCompleted = "taskCompleted"
)

// CEO events.
const (
	EventSetGoal         = "setGoal"
	EventRegisterManager = "registerManager"
	EventRequestReports  = "requestReports"
	EventManagerReport   = "managerReport"
)

// Manager events.
const (
	EventAddReport            = "addReport"
	EventDeliverableSubmitted = "deliverableSubmitted"
	EventGenerateReport       = "generateReport"
	EventReportFeedback       = "reportFeedback"
)

// IC events.
const (
	EventAssignTask      = "assignTask"
	EventRequestRevision = "requestRevision"
	EventTaskApproved    = "taskApproved"
)

// Sub-channel events.
const (
	EventPing          = "ping"
	EventPingReply     = "pingReply"
	EventMeetingNotice = "meetingNotice"
)

// Vocabulary maps accepted event types to their payload check.
type Vocabulary map[string]func(mailbox.Message) error

// Validate rejects unknown event types and malformed payloads.
func (v Vocabulary) Validate(msg mailbox.Message) error {
	check, ok := v[msg.Type]
	if !ok {
		return actor.Invalid("unknown event %q", msg.Type)
	}
	if check == nil {
		return nil
	}
	return check(msg)
}

// Channels maps a channel name ("" for the primary inbox) to its vocabulary.
type Channels map[string]Vocabulary

// Validate implements actor.Definition.Validate.
func (c Channels) Validate(channel string, msg mailbox.Message) error {
	vocab, ok := c[channel]
	if !ok {
		return actor.Invalid("unknown channel %q", channel)
	}
	return vocab.Validate(msg)
}

// Names returns the sub-channel names, excluding the primary inbox.
func (c Channels) Names() []string {
	var out []string
	for _, ch := range []string{ChannelPing, ChannelMeeting} {
		if _, ok := c[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

type validator interface {
	Validate() error
}

// Expect returns a payload check that decodes into T and runs its Validate
// method when present.
func Expect[T any]() func(mailbox.Message) error {
	return func(msg mailbox.Message) error {
		_, err := Decode[T](msg)
		return err
	}
}

// Decode unmarshals the payload of msg into T and validates it.
func Decode[T any](msg mailbox.Message) (T, error) {
	var out T
	if err := msg.Decode(&out); err != nil {
		return out, actor.Invalid("%s: %v", msg.Type, err)
	}
	if v, ok := any(out).(validator); ok {
		if err := v.Validate(); err != nil {
			return out, actor.Invalid("%s: %v", msg.Type, err)
		}
	}
	return out, nil
}

// Message builds an envelope for payload, stamped with the sender address.
func Message(kind string, payload any, from mailbox.Address) mailbox.Message {
	return mailbox.MustMessage(kind, payload).FromActor(from)
}

// Initial encodes an initial state for Start.
func Initial(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode initial state: %v", err))
	}
	return data
}
