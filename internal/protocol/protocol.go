// Package protocol defines the JSON messages of the /v1/ws feed. JSON
// Schemas for each message live under schemas/ and are validated in
// tests.
package protocol

import (
	"encoding/json"
	"time"

	"silkroad.gg/internal/contracts"
)

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeNotice  = "NOTICE"
	TypeEvent   = "EVENT"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// HelloMsg identifies the connecting actor; notices for that actor are
// routed to this connection while it stays open.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
}

type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ActorID         string `json:"actor_id"`
}

// NoticeMsg is a user-facing message for one actor.
type NoticeMsg struct {
	Type  string    `json:"type"`
	Actor string    `json:"actor"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// EventMsg is a broadcast contract lifecycle event.
type EventMsg struct {
	Type  string          `json:"type"`
	Event contracts.Event `json:"event"`
}

func NewNotice(actor, text string, at time.Time) NoticeMsg {
	return NoticeMsg{Type: TypeNotice, Actor: actor, Text: text, At: at}
}

func NewEvent(ev contracts.Event) EventMsg {
	return EventMsg{Type: TypeEvent, Event: ev}
}
