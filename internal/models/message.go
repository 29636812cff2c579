package models

import (
	"time"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// StatusRank returns the position of a status in the sent < delivered < read
// order. Failed is not part of the rank order; it is an absorbing override.
func StatusRank(s MessageStatus) int {
	switch s {
	case MessageStatusSent:
		return 0
	case MessageStatusDelivered:
		return 1
	case MessageStatusRead:
		return 2
	default:
		return -1
	}
}

// IsValidStatus reports whether s is one of the four known status values.
func IsValidStatus(s MessageStatus) bool {
	return s == MessageStatusSent || s == MessageStatusDelivered ||
		s == MessageStatusRead || s == MessageStatusFailed
}

// ShouldPromote reports whether the stored status projection moves from
// current to next. Failed wins from any state; otherwise the projection
// only ever moves forward in rank.
func ShouldPromote(current, next MessageStatus) bool {
	if current == MessageStatusFailed {
		return next == MessageStatusFailed
	}
	if next == MessageStatusFailed {
		return true
	}
	return StatusRank(next) > StatusRank(current)
}

type MessageDirection string

const (
	DirectionIncoming MessageDirection = "incoming"
	DirectionOutgoing MessageDirection = "outgoing"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindDocument MessageKind = "document"
	KindAudio    MessageKind = "audio"
)

// IsValidKind reports whether k is a supported message kind.
func IsValidKind(k MessageKind) bool {
	return k == KindText || k == KindImage || k == KindDocument || k == KindAudio
}

// StatusEvent is one entry in a message's append-only status history. Every
// received status lands here, including ones that did not move the
// projection.
type StatusEvent struct {
	ID         int64         `json:"id" db:"id"`
	ExternalID string        `json:"external_id" db:"external_id"`
	Status     MessageStatus `json:"status" db:"status"`
	EventTime  time.Time     `json:"event_time" db:"event_time"`
	ReceivedAt time.Time     `json:"received_at" db:"received_at"`
}

// Message is the stored message record. Core fields are immutable once the
// row is created; only Status and the history move afterwards.
type Message struct {
	ID                 int64            `json:"-" db:"id"`
	ConversationID     string           `json:"conversation_id" db:"conversation_id"`
	ExternalID         string           `json:"external_id" db:"external_id"`
	Direction          MessageDirection `json:"direction" db:"direction"`
	Kind               MessageKind      `json:"kind" db:"kind"`
	Body               string           `json:"body" db:"body"`
	ContactName        string           `json:"contact_name,omitempty" db:"contact_name"`
	PhoneNumberID      string           `json:"phone_number_id,omitempty" db:"phone_number_id"`
	DisplayPhoneNumber string           `json:"display_phone_number,omitempty" db:"display_phone_number"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	Status             MessageStatus    `json:"status" db:"status"`
	StatusHistory      []StatusEvent    `json:"status_history,omitempty"`
	StoredAt           time.Time        `json:"-" db:"stored_at"`
	UpdatedAt          time.Time        `json:"-" db:"updated_at"`
}

// ConversationSummary is a derived view: the latest message per
// conversation. It is recomputed on demand and never persisted.
type ConversationSummary struct {
	ConversationID string        `json:"conversation_id"`
	ContactName    string        `json:"contact_name"`
	Phone          string        `json:"phone"`
	LastMessage    string        `json:"last_message"`
	LastMessageAt  time.Time     `json:"last_message_at"`
	LastStatus     MessageStatus `json:"last_status"`
}
