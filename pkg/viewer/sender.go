package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "chatstream/internal/errors"
	"chatstream/internal/models"
	"chatstream/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

// HTTPSender delivers messages through the service's send endpoint. A
// circuit breaker fails sends fast while the endpoint is down, so the
// reconciler can mark entries failed instead of queueing behind a dead
// connection.
type HTTPSender struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewHTTPSender(baseURL string, logger *logrus.Logger) *HTTPSender {
	return &HTTPSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: circuitbreaker.New("send", 5, 30*time.Second, logger),
	}
}

func (c *HTTPSender) Send(ctx context.Context, conversationID, body string) (*models.Message, error) {
	var msg *models.Message
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var sendErr error
		msg, sendErr = c.send(ctx, conversationID, body)
		return sendErr
	})
	if err != nil {
		return nil, apperrors.NewSendError(conversationID, err)
	}
	return msg, nil
}

func (c *HTTPSender) send(ctx context.Context, conversationID, body string) (*models.Message, error) {
	payload, err := json.Marshal(map[string]string{
		"conversation_id": conversationID,
		"body":            body,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/messages/send", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("send rejected with status %d: %s", resp.StatusCode, string(respBody))
	}

	var msg models.Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	return &msg, nil
}
