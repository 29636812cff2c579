package integration_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chatstream/internal/database"
	"chatstream/internal/models"
	"chatstream/internal/service"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// Pipeline wires a real store, status merger, fanout bus and gateway, plus
// an HTTP facade exposing the send endpoint and the realtime feed for
// client tests.
type Pipeline struct {
	DB      *database.Database
	Bus     *service.FanoutBus
	Gateway *service.Gateway
	Server  *httptest.Server
}

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	t.Setenv("CHATSTREAM_ENABLE_ENCRYPTION", "")

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db, err := database.New(filepath.Join(t.TempDir(), "integration.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	bus := service.NewFanoutBus(64, logger)
	t.Cleanup(bus.Close)
	merger := service.NewStatusMerger(db, logger)
	gateway := service.NewGateway(db, merger, bus, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/messages/send", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ConversationID string `json:"conversation_id"`
			Body           string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg, err := gateway.SendText(r.Context(), req.ConversationID, req.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(msg)
	})
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := conn.CloseRead(r.Context())
		sub := bus.Subscribe()
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close(websocket.StatusNormalClosure, "bye")
				return
			case ev, ok := <-sub.Events():
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "shutting down")
					return
				}
				if err := wsjson.Write(ctx, conn, ev); err != nil {
					return
				}
			}
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &Pipeline{DB: db, Bus: bus, Gateway: gateway, Server: server}
}

// inboundBatch builds a provider delivery carrying one text message.
func inboundBatch(externalID, from, name, body, timestamp string) *models.WebhookPayload {
	raw := fmt.Sprintf(`{
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"contacts": [{"wa_id": %q, "profile": {"name": %q}}],
					"messages": [{
						"from": %q,
						"msg_id": %q,
						"timestamp": %q,
						"type": "text",
						"text": {"body": %q}
					}]
				}
			}]
		}]
	}`, from, name, from, externalID, timestamp, body)

	var payload models.WebhookPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		panic(err)
	}
	return &payload
}

// statusBatch builds a provider delivery carrying one status record.
func statusBatch(externalID, status, timestamp string) *models.WebhookPayload {
	raw := fmt.Sprintf(`{
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"statuses": [{"msg_id": %q, "status": %q, "timestamp": %q}]
				}
			}]
		}]
	}`, externalID, status, timestamp)

	var payload models.WebhookPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		panic(err)
	}
	return &payload
}

// collectEvents drains up to n events from the subscriber, failing the test
// if they do not arrive in time.
func collectEvents(t *testing.T, sub *service.Subscriber, n int) []models.Event {
	t.Helper()
	events := make([]models.Event, 0, n)
	for len(events) < n {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "event feed closed early")
			events = append(events, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", len(events)+1, n)
		}
	}
	return events
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
