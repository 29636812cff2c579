package models

// Realtime event types broadcast to connected viewers.
const (
	EventNewMessage   = "new_message"
	EventStatusUpdate = "message_status_update"
	EventNewChat      = "new_chat"
)

// Event is the JSON frame pushed over the realtime channel. Exactly one of
// the payload fields is set, matching Type.
type Event struct {
	Type    string               `json:"type"`
	Message *Message             `json:"message,omitempty"`
	Status  *StatusUpdateEvent   `json:"status,omitempty"`
	Chat    *ConversationSummary `json:"chat,omitempty"`
}

// StatusUpdateEvent carries a projection change for one message.
type StatusUpdateEvent struct {
	ExternalID string        `json:"external_id"`
	Status     MessageStatus `json:"status"`
}

func NewMessageEvent(msg *Message) Event {
	return Event{Type: EventNewMessage, Message: msg}
}

func StatusUpdateEventFor(externalID string, status MessageStatus) Event {
	return Event{Type: EventStatusUpdate, Status: &StatusUpdateEvent{ExternalID: externalID, Status: status}}
}

func NewChatEvent(summary *ConversationSummary) Event {
	return Event{Type: EventNewChat, Chat: summary}
}
