package models

// Inbound webhook payload shape. Providers deliver batches of entries, each
// carrying a list of changes whose value object holds message records,
// status records, or both.

type WebhookPayload struct {
	Object string         `json:"object,omitempty"`
	Entry  []WebhookEntry `json:"entry"`
	// Some relays wrap the batch one level deeper.
	MetaData *struct {
		Entry []WebhookEntry `json:"entry"`
	} `json:"metaData,omitempty"`
}

// Entries returns the entry list regardless of which wrapping the sender
// used.
func (p *WebhookPayload) Entries() []WebhookEntry {
	if len(p.Entry) > 0 {
		return p.Entry
	}
	if p.MetaData != nil {
		return p.MetaData.Entry
	}
	return nil
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product,omitempty"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Statuses         []InboundStatus  `json:"statuses,omitempty"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type WebhookContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is one message record inside a webhook value. The provider
// labels the identifier msg_id in most shapes, but id appears in others.
type InboundMessage struct {
	From      string `json:"from"`
	MsgID     string `json:"msg_id,omitempty"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// ExternalID resolves the provider identifier, preferring msg_id when both
// spellings are present.
func (m *InboundMessage) ExternalID() string {
	if m.MsgID != "" {
		return m.MsgID
	}
	return m.ID
}

// InboundStatus is one status record inside a webhook value.
type InboundStatus struct {
	ID          string `json:"id,omitempty"`
	MsgID       string `json:"msg_id,omitempty"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id,omitempty"`
}

// ExternalID resolves the provider identifier, preferring msg_id when both
// spellings are present.
func (s *InboundStatus) ExternalID() string {
	if s.MsgID != "" {
		return s.MsgID
	}
	return s.ID
}

// BatchResult summarizes what one webhook delivery did to the store.
type BatchResult struct {
	Inserted      int `json:"inserted"`
	Duplicates    int `json:"duplicates"`
	StatusApplied int `json:"status_applied"`
	StatusIgnored int `json:"status_ignored"`
	Dropped       int `json:"dropped"`
}
