package main

import (
	"encoding/json"
	"net/http"

	apperrors "chatstream/internal/errors"
	"chatstream/internal/models"
	"chatstream/internal/service"
	"chatstream/internal/tracing"
	"chatstream/internal/validation"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"version":     Version,
			"subscribers": s.bus.SubscriberCount(),
		})
	}
}

// handleWebhook ingests one provider batch. Any response other than 200
// tells the provider to re-deliver the whole batch, which the idempotent
// insert path makes safe.
func (s *Server) handleWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := validation.ValidateHTTPRequestSize(r, int64(s.cfg.Server.MaxWebhookBodyBytes)); err != nil {
			s.writeError(w, r, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.Server.MaxWebhookBodyBytes))

		body, err := verifySignature(r, s.webhookSecret())
		if err != nil {
			s.logger.WithError(err).Warn("Webhook signature verification failed")
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeValidationFailed, "signature verification failed"))
			return
		}

		var payload models.WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed webhook payload"))
			return
		}

		result, err := s.gateway.ProcessBatch(ctx, &payload)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summaries, err := s.db.ConversationSummaries(r.Context())
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreError("list conversations", err))
			return
		}
		if summaries == nil {
			summaries = []*models.ConversationSummary{}
		}
		s.writeJSON(w, http.StatusOK, summaries)
	}
}

func (s *Server) handleMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := mux.Vars(r)["conversationId"]
		if err := validation.ValidateConversationID(conversationID); err != nil {
			s.writeError(w, r, err)
			return
		}

		messages, err := s.db.ListMessagesByConversation(r.Context(), conversationID)
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreError("list messages", err))
			return
		}
		if messages == nil {
			messages = []*models.Message{}
		}
		s.writeJSON(w, http.StatusOK, messages)
	}
}

type sendRequest struct {
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
}

func (s *Server) handleSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed send request"))
			return
		}

		if err := validation.ValidateConversationID(req.ConversationID); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := validation.ValidateMessageBody(req.Body); err != nil {
			s.writeError(w, r, err)
			return
		}

		msg, err := s.gateway.SendText(r.Context(), req.ConversationID, req.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.logger.WithFields(logrus.Fields{
			service.LogFieldConversationID: service.SanitizeConversationID(r.Context(), msg.ConversationID),
			service.LogFieldExternalID:     service.SanitizeExternalID(r.Context(), msg.ExternalID),
		}).Info("Message sent")

		s.writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversations, messages, err := s.db.Stats(r.Context())
		if err != nil {
			s.writeError(w, r, apperrors.NewStoreError("read stats", err))
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_conversations": conversations,
			"total_messages":      messages,
			"subscribers":         s.bus.SubscriberCount(),
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	resp := apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		s.logger.WithError(encErr).Error("Failed to encode error response")
	}
}
