// Package meeting implements the Meeting-Orchestrator: it keeps the meeting
// schedule, runs standups and syncs, and brokers pings between employees.
package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/agents/kit"
	"github.com/kingrea/lattice-org/internal/agents/protocol"
	"github.com/kingrea/lattice-org/internal/entity"
	"github.com/kingrea/lattice-org/internal/llm"
	"github.com/kingrea/lattice-org/internal/logging"
	"github.com/kingrea/lattice-org/internal/mailbox"
	"github.com/kingrea/lattice-org/internal/resume"
)

// Definition registers the orchestrator role. One orchestrator runs per
// organization.
func Definition(deps kit.Deps) actor.Definition {
	return actor.Definition{
		Role:        protocol.RoleMeeting,
		Description: "schedules and runs meetings, brokers pings",
		Channels:    protocol.MeetingChannels.Names(),
		Identity:    kit.OrgIdentity,
		Validate:    protocol.MeetingChannels.Validate,
		New: func(env actor.Env, initial json.RawMessage) (actor.Process, error) {
			o := New(env, deps)
			return kit.Build[State](env, initial, NewState, seed, o, o)
		},
	}
}

func seed(s *State) error {
	if s.OrgID == "" {
		s.OrgID = kit.DefaultOrg
	}
	return nil
}

// Orchestrator handles orchestrator events and runs the schedule scan.
type Orchestrator struct {
	env    actor.Env
	deps   kit.Deps
	retry  *resume.Client
	logger logging.Printer
}

// New builds an orchestrator for env.
func New(env actor.Env, deps kit.Deps) *Orchestrator {
	return &Orchestrator{env: env, deps: deps, retry: deps.Retry(env), logger: kit.Logger(env)}
}

// Handle implements actor.Handler.
func (o *Orchestrator) Handle(ctx context.Context, state State, msg mailbox.Message) (State, error) {
	switch msg.Type {
	case protocol.EventScheduleMeeting:
		p, err := protocol.Decode[protocol.ScheduleMeeting](msg)
		if err != nil {
			return state, err
		}
		return state, o.schedule(&state, p)
	case protocol.EventRunStandup, protocol.EventRunSync:
		p, err := protocol.Decode[protocol.RunMeeting](msg)
		if err != nil {
			return state, err
		}
		kind := protocol.MeetingStandup
		if msg.Type == protocol.EventRunSync {
			kind = protocol.MeetingSync
		}
		return state, o.runMeeting(ctx, &state, kind, p)
	case protocol.EventSendPing:
		p, err := protocol.Decode[protocol.SendPing](msg)
		if err != nil {
			return state, err
		}
		return state, o.sendPing(ctx, &state, p)
	case protocol.EventPingResponse:
		p, err := protocol.Decode[protocol.PingResponse](msg)
		if err != nil {
			return state, err
		}
		o.pingResponse(ctx, &state, p)
		return state, nil
	case protocol.EventGetStatus:
		summary := state.Summary()
		o.logger.Printf("%s: status scheduled=%d recurring=%d activePings=%v meetingsHeld=%d",
			o.env.Address, summary.Scheduled, summary.Recurring, summary.ActivePings, summary.MeetingsHeld)
		return state, nil
	default:
		return state, actor.Invalid("meeting: unknown event %q", msg.Type)
	}
}

// Scan fires every scheduled entry that is due and stamps its LastRun. A
// failed run is logged and still stamped, so it waits for its next period.
func (o *Orchestrator) Scan(ctx context.Context, state State) (State, error) {
	now := o.env.Now()
	for i := range state.Scheduled {
		item := state.Scheduled[i]
		if !item.Due(now) {
			continue
		}
		if err := o.fire(ctx, &state, item); err != nil {
			o.logger.Printf("%s: scheduled %s %s failed: %v", o.env.Address, item.Type, item.ID, err)
		}
		stamp := now
		state.Scheduled[i].LastRun = &stamp
	}
	return state, nil
}

func (o *Orchestrator) fire(ctx context.Context, state *State, item Scheduled) error {
	switch item.Type {
	case protocol.MeetingStandup, protocol.MeetingSync:
		return o.runMeeting(ctx, state, item.Type, protocol.RunMeeting{
			OrganizerID:  item.OrganizerID,
			Participants: item.Participants,
			Topic:        item.Topic,
			ScheduleID:   item.ID,
		})
	case protocol.MeetingPing:
		message := item.Message
		if message == "" {
			message = "Quick status check"
			if item.Topic != "" {
				message += " on " + item.Topic
			}
		}
		replyTo := ""
		organizer := kit.Resolve(ctx, o.deps.Entities, item.OrganizerID)
		if addr, ok := pingChannel(organizer.Address); ok {
			replyTo = addr
		}
		var failed []string
		for _, participant := range dedupe(item.Participants) {
			if participant == item.OrganizerID {
				continue
			}
			err := o.sendPing(ctx, state, protocol.SendPing{From: item.OrganizerID, To: participant, Message: message, ReplyTo: replyTo})
			if err != nil {
				failed = append(failed, participant)
				o.logger.Printf("%s: scheduled ping %s to %s failed: %v", o.env.Address, item.ID, participant, err)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("ping to %s failed", strings.Join(failed, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unknown meeting type %q", item.Type)
	}
}

func (o *Orchestrator) schedule(state *State, p protocol.ScheduleMeeting) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for _, existing := range state.Scheduled {
		if existing.ID == p.ID {
			return actor.Invalid("meeting %s is already scheduled", p.ID)
		}
	}
	freq := p.Frequency
	if freq == "" {
		freq = protocol.FrequencyNone
	}
	state.Scheduled = append(state.Scheduled, Scheduled{
		ID:            p.ID,
		Type:          p.Type,
		ScheduledTime: p.ScheduledTime.UTC(),
		Participants:  dedupe(p.Participants),
		OrganizerID:   p.OrganizerID,
		Frequency:     freq,
		Topic:         p.Topic,
		Message:       p.Message,
	})
	o.logger.Printf("%s: scheduled %s %s at %s (%s)", o.env.Address, p.Type, p.ID, p.ScheduledTime.UTC().Format(time.RFC3339), freq)
	return nil
}

// runMeeting notifies participants, waits for them to join, records the
// transcript and one memory per participant, then turns action items into
// follow-up tasks. Once the meeting record is stored, later failures leave it
// in place.
func (o *Orchestrator) runMeeting(ctx context.Context, state *State, kind string, p protocol.RunMeeting) error {
	store := o.deps.Entities
	refs := dedupe(p.Participants)
	participants := make([]kit.Participant, 0, len(refs))
	for _, ref := range refs {
		participants = append(participants, kit.Resolve(ctx, store, ref))
	}
	organizer := kit.Resolve(ctx, store, p.OrganizerID)

	notice := protocol.MeetingNotice{
		MeetingType:  kind,
		ScheduleID:   p.ScheduleID,
		OrganizerID:  p.OrganizerID,
		Participants: refs,
		Topic:        p.Topic,
	}
	for _, participant := range participants {
		o.notify(ctx, participant, notice)
	}
	o.deps.Wait(ctx, o.deps.MeetingGrace)

	names := make([]string, 0, len(participants))
	for _, participant := range participants {
		names = append(names, participant.Name)
	}
	transcript, err := o.deps.Generator.Generate(ctx, llm.Prompt{
		Purpose:    llm.PurposeTranscript,
		System:     rolePrompt(kind),
		User:       fmt.Sprintf("Write the %s transcript for %s.%s", kind, strings.Join(names, ", "), topicSuffix(p.Topic)),
		EmployeeID: p.OrganizerID,
		Subjects:   names,
	})
	if err != nil {
		return fmt.Errorf("%s transcript: %w", kind, err)
	}

	meeting, err := store.InsertMeeting(ctx, entity.Meeting{
		Type:         kind,
		ScheduleID:   p.ScheduleID,
		OrganizerID:  p.OrganizerID,
		Participants: refs,
		Transcript:   transcript,
		StartedAt:    o.env.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record %s: %w", kind, err)
	}
	state.MeetingsHeld++
	state.LastMeetingID = meeting.ID

	for _, participant := range participants {
		kit.Remember(ctx, o.env, store, entity.Memory{
			EmployeeID: participant.ID,
			Kind:       entity.MemoryMeeting,
			MeetingID:  meeting.ID,
			Content:    fmt.Sprintf("Attended %s with %s.%s", kind, strings.Join(names, ", "), topicSuffix(p.Topic)),
		})
	}
	o.logger.Printf("%s: held %s %s with %d participant(s)", o.env.Address, kind, meeting.ID, len(participants))

	raw, err := o.deps.Generator.Generate(ctx, llm.Prompt{
		Purpose:    llm.PurposeActionItems,
		System:     "Extract follow-up action items as a JSON array of {title, description, assignedTo, priority}.",
		User:       transcript,
		EmployeeID: p.OrganizerID,
		Subjects:   names,
	})
	if err != nil {
		return fmt.Errorf("%s %s action items: %w", kind, meeting.ID, err)
	}
	items, err := llm.ParseActionItems(raw)
	if err != nil {
		return fmt.Errorf("%s %s action items: %w", kind, meeting.ID, err)
	}
	o.createFollowUps(ctx, meeting, organizer, participants, items)
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, participant kit.Participant, notice protocol.MeetingNotice) {
	target, ok := participantChannel(participant.Address, protocol.ChannelMeeting)
	if !ok {
		o.logger.Printf("%s: %s has no meeting inbox, skipping notice", o.env.Address, participant.ID)
		return
	}
	accepted, err := o.env.Host.Send(ctx, target, protocol.Message(protocol.EventMeetingNotice, notice, o.env.Address))
	switch {
	case err != nil:
		o.logger.Printf("%s: notify %s failed: %v", o.env.Address, target, err)
	case !accepted:
		o.logger.Printf("%s: notify %s not accepted", o.env.Address, target)
	}
}

func (o *Orchestrator) createFollowUps(ctx context.Context, meeting entity.Meeting, organizer kit.Participant, participants []kit.Participant, items []llm.ActionItem) {
	managerAddr := ""
	if addr, err := mailbox.ParseAddress(organizer.Address); err == nil && addr.Role == protocol.RoleManager {
		managerAddr = addr.Base().String()
	}
	createdBy := organizer.ID
	if createdBy == "" {
		createdBy = o.env.Address.String()
	}
	for _, item := range items {
		task, err := o.deps.Entities.InsertTask(ctx, entity.Task{
			Title:       item.Title,
			Description: item.Description,
			Priority:    item.Priority,
			Status:      entity.TaskPending,
			AssigneeID:  matchAssignee(item.AssignedTo, participants),
			CreatedBy:   createdBy,
			MeetingID:   meeting.ID,
		})
		if err != nil {
			o.logger.Printf("%s: follow-up %q from %s failed: %v", o.env.Address, item.Title, meeting.ID, err)
			continue
		}
		if managerAddr == "" {
			continue
		}
		msg := protocol.Message(protocol.EventNewTask, protocol.NewTask{TaskID: task.ID, CreatedBy: createdBy}, o.env.Address)
		if !o.retry.SendWithRetry(ctx, managerAddr, msg) {
			o.logger.Printf("%s: follow-up %s not accepted by %s", o.env.Address, task.ID, managerAddr)
		}
	}
}

// sendPing registers the ping, delivers it to the recipient's ping inbox and
// records the exchange from both sides.
func (o *Orchestrator) sendPing(ctx context.Context, state *State, p protocol.SendPing) error {
	if p.PingID == "" {
		p.PingID = uuid.NewString()
	}
	pings := state.pings()
	if _, exists := pings[p.PingID]; exists {
		return actor.Invalid("ping %s is already outstanding", p.PingID)
	}
	store := o.deps.Entities
	from := kit.Resolve(ctx, store, p.From)
	to := kit.Resolve(ctx, store, p.To)

	state.PingSeq++
	pings[p.PingID] = ActivePing{
		PingID:    p.PingID,
		From:      from.ID,
		To:        to.ID,
		Message:   p.Message,
		Timestamp: o.env.Now().UTC(),
		ReplyTo:   p.ReplyTo,
		Seq:       state.PingSeq,
	}

	if target, ok := pingChannel(to.Address); ok {
		msg := protocol.Message(protocol.EventPing, protocol.Ping{PingID: p.PingID, From: from.ID, Message: p.Message}, o.env.Address)
		if !o.retry.SendWithRetry(ctx, target, msg) {
			o.logger.Printf("%s: ping %s to %s not delivered", o.env.Address, p.PingID, target)
		}
	} else {
		o.logger.Printf("%s: %s has no ping inbox, ping %s recorded only", o.env.Address, to.ID, p.PingID)
	}

	kit.Remember(ctx, o.env, store, entity.Memory{
		EmployeeID:    from.ID,
		Kind:          entity.MemoryPingSent,
		PingID:        p.PingID,
		CounterpartID: to.ID,
		Content:       fmt.Sprintf("Pinged %s: %s", to.Name, p.Message),
	})
	kit.Remember(ctx, o.env, store, entity.Memory{
		EmployeeID:    to.ID,
		Kind:          entity.MemoryPingReceived,
		PingID:        p.PingID,
		CounterpartID: from.ID,
		Content:       fmt.Sprintf("Pinged by %s: %s", from.Name, p.Message),
	})
	return nil
}

// pingResponse resolves the ping named by the response. An unknown pingId
// resolves the most recently created outstanding ping instead; this lenient
// match keeps older clients working and is not a correctness guarantee.
func (o *Orchestrator) pingResponse(ctx context.Context, state *State, p protocol.PingResponse) {
	ping, ok := state.ActivePings[p.PingID]
	if !ok {
		ping, ok = state.mostRecentPing()
		if !ok {
			o.logger.Printf("%s: pingResponse %q with no active pings, ignored", o.env.Address, p.PingID)
			return
		}
		o.logger.Printf("%s: pingResponse for unknown ping %q matched most recent ping %s", o.env.Address, p.PingID, ping.PingID)
	}
	store := o.deps.Entities
	responderRef := p.From
	if responderRef == "" {
		responderRef = ping.To
	}
	responder := kit.Resolve(ctx, store, responderRef)
	sender := kit.Resolve(ctx, store, ping.From)

	kit.Remember(ctx, o.env, store, entity.Memory{
		EmployeeID:    sender.ID,
		Kind:          entity.MemoryPingReply,
		PingID:        ping.PingID,
		CounterpartID: responder.ID,
		Content:       fmt.Sprintf("%s replied: %s", responder.Name, p.Message),
	})
	kit.Remember(ctx, o.env, store, entity.Memory{
		EmployeeID:    responder.ID,
		Kind:          entity.MemoryPingAnswered,
		PingID:        ping.PingID,
		CounterpartID: sender.ID,
		Content:       fmt.Sprintf("Answered %s: %s", sender.Name, p.Message),
	})
	delete(state.ActivePings, ping.PingID)
	state.PingsResolved++

	if ping.ReplyTo != "" {
		reply := protocol.Message(protocol.EventPingReply, protocol.PingReply{PingID: ping.PingID, From: responder.ID, Message: p.Message}, o.env.Address)
		if !o.retry.SendWithRetry(ctx, ping.ReplyTo, reply) {
			o.logger.Printf("%s: reply for ping %s not accepted by %s", o.env.Address, ping.PingID, ping.ReplyTo)
		}
	}
}

// dedupe drops blanks and repeats, keeping first-seen order.
func dedupe(refs []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || !seen.Add(ref) {
			continue
		}
		out = append(out, ref)
	}
	return out
}

func matchAssignee(assignedTo string, participants []kit.Participant) string {
	assignedTo = strings.TrimSpace(assignedTo)
	if assignedTo == "" {
		return ""
	}
	for _, p := range participants {
		if strings.EqualFold(p.ID, assignedTo) || strings.EqualFold(p.Name, assignedTo) {
			return p.ID
		}
	}
	return ""
}

// participantChannel returns the sub-channel address for managers and ICs,
// the only roles with ping and meeting inboxes.
func participantChannel(address, channel string) (string, bool) {
	addr, err := mailbox.ParseAddress(address)
	if err != nil {
		return "", false
	}
	if addr.Role != protocol.RoleManager && addr.Role != protocol.RoleIC {
		return "", false
	}
	return kit.ChannelOf(addr.Base().String(), channel)
}

func pingChannel(address string) (string, bool) {
	return participantChannel(address, protocol.ChannelPing)
}

func rolePrompt(kind string) string {
	switch kind {
	case protocol.MeetingSync:
		return "You facilitate a cross-team sync. Each participant shares progress, dependencies and risks."
	default:
		return "You facilitate a daily standup. Each participant says what they did, what they will do and any blockers."
	}
}

func topicSuffix(topic string) string {
	if topic == "" {
		return ""
	}
	return " Topic: " + topic + "."
}
