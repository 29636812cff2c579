package service

import (
	"context"
	"errors"
	"time"

	"chatstream/internal/database"
	apperrors "chatstream/internal/errors"
	"chatstream/internal/metrics"
	"chatstream/internal/models"

	"github.com/sirupsen/logrus"
)

// StatusStore is the slice of the message store the merger needs.
type StatusStore interface {
	ApplyStatusEvent(ctx context.Context, externalID string, status models.MessageStatus, eventTime time.Time) (*models.Message, bool, error)
}

// StatusMerger is the single path through which a message's status
// projection may change. It owns the transition policy: the projection
// follows the sent < delivered < read rank and never regresses, except
// that failed overrides any state. Every event lands in the audit history
// whether or not it moved the projection.
type StatusMerger struct {
	store  StatusStore
	logger *logrus.Logger
}

func NewStatusMerger(store StatusStore, logger *logrus.Logger) *StatusMerger {
	return &StatusMerger{
		store:  store,
		logger: logger,
	}
}

// Apply records the status event for externalID and returns the stored
// message plus whether the projection changed. Unknown external ids yield
// a NOT_FOUND error; the caller decides whether that drops the record or
// fails the operation.
func (m *StatusMerger) Apply(ctx context.Context, externalID string, status models.MessageStatus, eventTime time.Time) (*models.Message, bool, error) {
	if externalID == "" {
		return nil, false, apperrors.NewValidationError("external_id", "", "external id is required")
	}
	if !models.IsValidStatus(status) {
		return nil, false, apperrors.NewValidationError("status", string(status), "unknown status value")
	}

	msg, changed, err := m.store.ApplyStatusEvent(ctx, externalID, status, eventTime)
	if err != nil {
		if errors.Is(err, database.ErrMessageNotFound) {
			return nil, false, apperrors.NewNotFoundError("message", SanitizeExternalID(ctx, externalID))
		}
		return nil, false, apperrors.NewStoreError("apply status", err)
	}

	if changed {
		metrics.IncrementCounter("status_transitions_total", map[string]string{
			"status": string(status),
		}, "Status projection changes")
	} else {
		// Superseded or regressive event: history records it, the
		// projection stays put.
		metrics.IncrementCounter("status_regressions_total", nil, "Status events that did not move the projection")
		m.logger.WithFields(logrus.Fields{
			LogFieldExternalID: SanitizeExternalID(ctx, externalID),
			LogFieldStatus:     status,
		}).Debug("Status event recorded without projection change")
	}

	return msg, changed, nil
}
