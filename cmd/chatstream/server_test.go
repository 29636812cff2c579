package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"chatstream/internal/constants"
	"chatstream/internal/database"
	"chatstream/internal/models"
	"chatstream/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("CHATSTREAM_WEBHOOK_SECRET", "")
	t.Setenv("CHATSTREAM_ENV", "")
	t.Setenv("CHATSTREAM_ENABLE_ENCRYPTION", "")

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	cfg := &models.Config{}
	cfg.Server.Port = constants.DefaultServerPort
	cfg.Server.MaxWebhookBodyBytes = constants.DefaultMaxWebhookBodyBytes
	cfg.Fanout.SubscriberBufferSize = constants.DefaultSubscriberBufferSize

	bus := service.NewFanoutBus(cfg.Fanout.SubscriberBufferSize, logger)
	merger := service.NewStatusMerger(db, logger)
	gateway := service.NewGateway(db, merger, bus, logger)

	return NewServer(cfg, db, gateway, bus, logger)
}

func webhookBody(externalID, from, body string) []byte {
	payload := fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"contacts": [{"wa_id": %q, "profile": {"name": "Alice"}}],
					"messages": [{
						"from": %q,
						"msg_id": %q,
						"timestamp": "1724932800",
						"type": "text",
						"text": {"body": %q}
					}]
				}
			}]
		}]
	}`, from, from, externalID, body)
	return []byte(payload)
}

func statusBody(externalID, status string) []byte {
	payload := fmt.Sprintf(`{
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"statuses": [{"msg_id": %q, "status": %q, "timestamp": "1724932900"}]
				}
			}]
		}]
	}`, externalID, status)
	return []byte(payload)
}

func postWebhook(t *testing.T, server *Server, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func TestServer_HandleHealth(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestServer_HandleWebhook(t *testing.T) {
	server := newTestServer(t)

	w := postWebhook(t, server, webhookBody("wamid.TEST1", "15551234567", "hello"))
	assert.Equal(t, http.StatusOK, w.Code)

	var result models.BatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 0, result.Duplicates)
}

func TestServer_HandleWebhookRedelivery(t *testing.T) {
	server := newTestServer(t)
	body := webhookBody("wamid.TEST1", "15551234567", "hello")

	first := postWebhook(t, server, body)
	require.Equal(t, http.StatusOK, first.Code)

	second := postWebhook(t, server, body)
	assert.Equal(t, http.StatusOK, second.Code)

	var result models.BatchResult
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &result))
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Duplicates)
}

func TestServer_HandleWebhookStatuses(t *testing.T) {
	server := newTestServer(t)

	require.Equal(t, http.StatusOK, postWebhook(t, server, webhookBody("wamid.TEST1", "15551234567", "hello")).Code)

	applied := postWebhook(t, server, statusBody("wamid.TEST1", "read"))
	assert.Equal(t, http.StatusOK, applied.Code)

	var result models.BatchResult
	require.NoError(t, json.Unmarshal(applied.Body.Bytes(), &result))
	assert.Equal(t, 1, result.StatusApplied)

	// Status for a message we never stored drops without failing the batch.
	unknown := postWebhook(t, server, statusBody("wamid.MISSING", "delivered"))
	assert.Equal(t, http.StatusOK, unknown.Code)
	require.NoError(t, json.Unmarshal(unknown.Body.Bytes(), &result))
	assert.Equal(t, 0, result.StatusApplied)
	assert.Equal(t, 1, result.Dropped)
}

func TestServer_HandleWebhookMalformedPayload(t *testing.T) {
	server := newTestServer(t)

	w := postWebhook(t, server, []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_HandleWebhookSignature(t *testing.T) {
	server := newTestServer(t)
	t.Setenv("CHATSTREAM_WEBHOOK_SECRET", "test-secret")

	body := webhookBody("wamid.SIGNED", "15551234567", "signed hello")
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(body)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, signature)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "sha256=deadbeef")
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(body))
	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_RequiresSecretInProduction(t *testing.T) {
	server := newTestServer(t)
	t.Setenv("CHATSTREAM_ENV", "production")

	w := postWebhook(t, server, webhookBody("wamid.PROD", "15551234567", "hi"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_HandleConversations(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	require.Equal(t, http.StatusOK, postWebhook(t, server, webhookBody("wamid.TEST1", "15551234567", "hello")).Code)

	w = httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var summaries []*models.ConversationSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "15551234567", summaries[0].ConversationID)
	assert.Equal(t, "Alice", summaries[0].ContactName)
}

func TestServer_HandleMessages(t *testing.T) {
	server := newTestServer(t)
	require.Equal(t, http.StatusOK, postWebhook(t, server, webhookBody("wamid.TEST1", "15551234567", "hello")).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/15551234567", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var messages []*models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "wamid.TEST1", messages[0].ExternalID)
	assert.Equal(t, "hello", messages[0].Body)
}

func TestServer_HandleMessagesEmptyConversation(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/19998887777", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestServer_HandleSend(t *testing.T) {
	server := newTestServer(t)

	body := `{"conversation_id": "15551234567", "body": "outbound hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var msg models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.True(t, strings.HasPrefix(msg.ExternalID, "client-"))
	assert.Equal(t, models.DirectionOutgoing, msg.Direction)
	assert.Equal(t, "outbound hello", msg.Body)
}

func TestServer_HandleSendValidation(t *testing.T) {
	server := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"empty conversation", `{"conversation_id": "", "body": "hi"}`},
		{"empty body", `{"conversation_id": "15551234567", "body": ""}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/messages/send", strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestServer_HandleStats(t *testing.T) {
	server := newTestServer(t)
	require.Equal(t, http.StatusOK, postWebhook(t, server, webhookBody("wamid.TEST1", "15551234567", "hello")).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, float64(1), stats["total_conversations"])
	assert.Equal(t, float64(1), stats["total_messages"])
}

func TestServer_HandleMetrics(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "counters")
}
