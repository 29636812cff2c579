package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	apperrors "chatstream/internal/errors"
	"chatstream/internal/metrics"
	"chatstream/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// MessageStore is the slice of the store the gateway needs.
type MessageStore interface {
	InsertMessageIfAbsent(ctx context.Context, msg *models.Message) (inserted bool, stored *models.Message, conversationNew bool, err error)
}

// Publisher is the outbound side of the fanout bus.
type Publisher interface {
	Publish(event models.Event)
}

// Gateway parses inbound webhook batches, stores their records, and
// signals delivery on the fanout bus. Batches are safe to re-deliver in
// full: inserts are idempotent on external id and status merges never
// regress, so a retry produces no new messages and no projection changes.
type Gateway struct {
	store  MessageStore
	merger *StatusMerger
	bus    Publisher
	logger *logrus.Logger
}

func NewGateway(store MessageStore, merger *StatusMerger, bus Publisher, logger *logrus.Logger) *Gateway {
	return &Gateway{
		store:  store,
		merger: merger,
		bus:    bus,
		logger: logger,
	}
}

// ProcessBatch walks every entry and change in the payload. Malformed
// records and status updates for unknown messages are dropped and logged;
// they never fail the batch. A storage failure aborts the batch with a
// retryable error.
func (g *Gateway) ProcessBatch(ctx context.Context, payload *models.WebhookPayload) (*models.BatchResult, error) {
	start := time.Now()
	result := &models.BatchResult{}

	for _, entry := range payload.Entries() {
		for _, change := range entry.Changes {
			value := change.Value
			contact := primaryContact(value.Contacts)

			for i := range value.Messages {
				if err := g.ingestMessage(ctx, &value.Messages[i], &value, contact, result); err != nil {
					return nil, err
				}
			}

			for i := range value.Statuses {
				if err := g.ingestStatus(ctx, &value.Statuses[i], result); err != nil {
					return nil, err
				}
			}
		}
	}

	metrics.RecordTimer("ingestion_batch_duration", time.Since(start), nil, "Webhook batch processing time")
	g.logger.WithFields(logrus.Fields{
		"inserted":       result.Inserted,
		"duplicates":     result.Duplicates,
		"status_applied": result.StatusApplied,
		"status_ignored": result.StatusIgnored,
		"dropped":        result.Dropped,
	}).Info("Webhook batch processed")

	return result, nil
}

func (g *Gateway) ingestMessage(ctx context.Context, record *models.InboundMessage, value *models.WebhookValue, contact *models.WebhookContact, result *models.BatchResult) error {
	externalID := record.ExternalID()
	if externalID == "" {
		result.Dropped++
		metrics.IncrementCounter("ingestion_dropped_total", map[string]string{"reason": "missing_external_id"}, "Records dropped at the ingestion boundary")
		g.logger.WithField("from", SanitizeConversationID(ctx, record.From)).
			Warn("Dropping message record without external id")
		return nil
	}

	msg := g.buildMessage(ctx, record, value, contact, externalID)

	inserted, stored, conversationNew, err := g.store.InsertMessageIfAbsent(ctx, msg)
	if err != nil {
		return apperrors.NewStoreError("insert message", err)
	}

	if !inserted {
		result.Duplicates++
		metrics.IncrementCounter("ingestion_duplicates_total", nil, "Message records already present in the store")
		g.logger.WithField(LogFieldExternalID, SanitizeExternalID(ctx, externalID)).
			Debug("Duplicate message ignored")
		return nil
	}

	result.Inserted++
	metrics.IncrementCounter("ingestion_messages_total", map[string]string{
		"direction": string(stored.Direction),
	}, "Messages stored")

	if conversationNew {
		g.bus.Publish(models.NewChatEvent(summaryFor(stored)))
	}
	g.bus.Publish(models.NewMessageEvent(stored))

	g.logger.WithFields(logrus.Fields{
		LogFieldExternalID:     SanitizeExternalID(ctx, externalID),
		LogFieldConversationID: SanitizeConversationID(ctx, stored.ConversationID),
		LogFieldDirection:      stored.Direction,
		LogFieldKind:           stored.Kind,
	}).Info("Message ingested")

	return nil
}

func (g *Gateway) ingestStatus(ctx context.Context, record *models.InboundStatus, result *models.BatchResult) error {
	externalID := record.ExternalID()
	if externalID == "" {
		result.Dropped++
		metrics.IncrementCounter("ingestion_dropped_total", map[string]string{"reason": "missing_external_id"}, "Records dropped at the ingestion boundary")
		g.logger.Warn("Dropping status record without external id")
		return nil
	}

	status := models.MessageStatus(record.Status)
	eventTime := parseUnixSeconds(record.Timestamp)

	msg, changed, err := g.merger.Apply(ctx, externalID, status, eventTime)
	if err != nil {
		switch apperrors.GetCode(err) {
		case apperrors.ErrCodeNotFound:
			// No placeholder is created for an unmatched status update;
			// the record is dropped.
			result.Dropped++
			metrics.IncrementCounter("ingestion_dropped_total", map[string]string{"reason": "unknown_message"}, "Records dropped at the ingestion boundary")
			g.logger.WithFields(logrus.Fields{
				LogFieldExternalID: SanitizeExternalID(ctx, externalID),
				LogFieldStatus:     status,
			}).Warn("Status update for unknown message dropped")
			return nil
		case apperrors.ErrCodeValidationFailed, apperrors.ErrCodeInvalidInput:
			result.Dropped++
			metrics.IncrementCounter("ingestion_dropped_total", map[string]string{"reason": "invalid_status"}, "Records dropped at the ingestion boundary")
			g.logger.WithFields(logrus.Fields{
				LogFieldExternalID: SanitizeExternalID(ctx, externalID),
				LogFieldStatus:     status,
			}).Warn("Malformed status record dropped")
			return nil
		default:
			return err
		}
	}

	if changed {
		result.StatusApplied++
		// Changed-only broadcasting keeps redundant frames off the wire.
		g.bus.Publish(models.StatusUpdateEventFor(msg.ExternalID, msg.Status))
	} else {
		result.StatusIgnored++
	}

	return nil
}

// SendText is the send-intent path for locally composed messages. The
// message takes a client-generated external id, flows through the same
// idempotent insert as webhook traffic, and is broadcast to all viewers.
func (g *Gateway) SendText(ctx context.Context, conversationID, body string) (*models.Message, error) {
	if conversationID == "" {
		return nil, apperrors.NewValidationError("conversation_id", "", "conversation id is required")
	}
	if body == "" {
		return nil, apperrors.NewValidationError("body", "", "message body is required")
	}

	msg := &models.Message{
		ConversationID: conversationID,
		ExternalID:     fmt.Sprintf("client-%s", uuid.NewString()),
		Direction:      models.DirectionOutgoing,
		Kind:           models.KindText,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
		Status:         models.MessageStatusSent,
	}

	inserted, stored, conversationNew, err := g.store.InsertMessageIfAbsent(ctx, msg)
	if err != nil {
		return nil, apperrors.NewStoreError("insert message", err)
	}
	if !inserted {
		// A uuid collision would be the only way here.
		return nil, apperrors.New(apperrors.ErrCodeInternalError, "generated external id already exists")
	}

	if conversationNew {
		g.bus.Publish(models.NewChatEvent(summaryFor(stored)))
	}
	g.bus.Publish(models.NewMessageEvent(stored))

	metrics.IncrementCounter("ingestion_messages_total", map[string]string{
		"direction": string(models.DirectionOutgoing),
	}, "Messages stored")

	return stored, nil
}

func (g *Gateway) buildMessage(ctx context.Context, record *models.InboundMessage, value *models.WebhookValue, contact *models.WebhookContact, externalID string) *models.Message {
	conversationID := ""
	contactName := ""
	if contact != nil {
		conversationID = contact.WaID
		contactName = contact.Profile.Name
	}
	if conversationID == "" {
		conversationID = record.From
	}

	// The counterparty's id marks the incoming side; anything else was
	// sent from this account.
	direction := models.DirectionOutgoing
	if contact != nil && record.From == contact.WaID {
		direction = models.DirectionIncoming
	}

	kind := models.MessageKind(record.Type)
	if !models.IsValidKind(kind) {
		g.logger.WithFields(logrus.Fields{
			LogFieldExternalID: SanitizeExternalID(ctx, externalID),
			LogFieldKind:       record.Type,
		}).Debug("Unknown message kind, storing as text")
		kind = models.KindText
	}

	body := ""
	if record.Text != nil {
		body = record.Text.Body
	}

	return &models.Message{
		ConversationID:     conversationID,
		ExternalID:         externalID,
		Direction:          direction,
		Kind:               kind,
		Body:               body,
		ContactName:        contactName,
		PhoneNumberID:      value.Metadata.PhoneNumberID,
		DisplayPhoneNumber: value.Metadata.DisplayPhoneNumber,
		CreatedAt:          parseUnixSeconds(record.Timestamp),
		Status:             models.MessageStatusSent,
	}
}

func primaryContact(contacts []models.WebhookContact) *models.WebhookContact {
	if len(contacts) == 0 {
		return nil
	}
	return &contacts[0]
}

func summaryFor(msg *models.Message) *models.ConversationSummary {
	name := msg.ContactName
	if name == "" {
		name = "Unknown"
	}
	return &models.ConversationSummary{
		ConversationID: msg.ConversationID,
		ContactName:    name,
		Phone:          msg.ConversationID,
		LastMessage:    msg.Body,
		LastMessageAt:  msg.CreatedAt,
		LastStatus:     msg.Status,
	}
}

// parseUnixSeconds interprets the provider's unix-seconds timestamp
// string. Unparseable timestamps fall back to the receive time.
func parseUnixSeconds(value string) time.Time {
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(secs, 0).UTC()
}
