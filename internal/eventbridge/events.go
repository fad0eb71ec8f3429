package eventbridge

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/kingrea/lattice-org/internal/actor"
	"github.com/kingrea/lattice-org/internal/mailbox"
)

// ProtocolVersion identifies the bridge contract version exposed via /health.
const ProtocolVersion = "1.0.0"

// Response statuses.
const (
	StatusCreated       = "created"
	StatusAlreadyActive = "already_active"
	StatusProcessed     = "processed"
)

// Host is the runtime surface the bridge drives.
type Host interface {
	actor.Host
	Roles() []string
	Actors() []actor.Info
	State(address string) (json.RawMessage, error)
}

var _ Host = (*actor.Runtime)(nil)

// StartRequest asks the runtime to create an actor.
type StartRequest struct {
	Role         string          `json:"role"`
	InitialState json.RawMessage `json:"initialState,omitempty"`
}

// Normalize trims identifiers before validation.
func (r *StartRequest) Normalize() {
	r.Role = strings.TrimSpace(r.Role)
}

// Validate enforces the request schema.
func (r StartRequest) Validate() error {
	if r.Role == "" {
		return errors.New("role is required")
	}
	if len(r.InitialState) > 0 && !json.Valid(r.InitialState) {
		return errors.New("initialState is not valid JSON")
	}
	return nil
}

// StartResponse reports the actor created, or the one already running.
type StartResponse struct {
	Status  string `json:"status"`
	RunID   string `json:"runId"`
	Address string `json:"address"`
}

// SendRequest delivers one event to an actor address.
type SendRequest struct {
	Address string          `json:"address"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// Normalize trims identifiers before validation.
func (r *SendRequest) Normalize() {
	r.Address = strings.TrimSpace(r.Address)
	r.Type = strings.TrimSpace(r.Type)
	r.ID = strings.TrimSpace(r.ID)
}

// Validate enforces the request schema.
func (r SendRequest) Validate() error {
	if r.Type == "" {
		return errors.New("type is required")
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return errors.New("payload is not valid JSON")
	}
	_, err := mailbox.ParseAddress(r.Address)
	return err
}

// Message converts the request into a mailbox envelope.
func (r SendRequest) Message() mailbox.Message {
	return mailbox.Message{ID: r.ID, Type: r.Type, Payload: r.Payload}
}

// SendResponse acknowledges an enqueued event.
type SendResponse struct {
	Status     string    `json:"status"`
	Address    string    `json:"address"`
	ServerTime time.Time `json:"serverTime"`
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Roles         []string `json:"roles"`
	Actors        int      `json:"actors"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
	RunID  string `json:"runId,omitempty"`
}
