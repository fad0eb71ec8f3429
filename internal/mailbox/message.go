package mailbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is the envelope delivered to an inbox. Type discriminates the event;
// Payload carries its JSON body, decoded by the receiving role.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	SentAt  time.Time       `json:"sentAt"`
}

// NewMessage encodes payload and assigns a fresh ID.
func NewMessage(kind string, payload any) (Message, error) {
	msg := Message{ID: uuid.NewString(), Type: kind, SentAt: time.Now().UTC()}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("mailbox: encode %s payload: %w", kind, err)
	}
	msg.Payload = raw
	return msg, nil
}

// MustMessage is NewMessage for payloads that always encode.
func MustMessage(kind string, payload any) Message {
	msg, err := NewMessage(kind, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// FromActor stamps the sender address.
func (m Message) FromActor(addr Address) Message {
	m.From = addr.String()
	return m
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 || string(m.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("mailbox: decode %s payload: %w", m.Type, err)
	}
	return nil
}
