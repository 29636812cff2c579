package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatstream/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDatabase(t *testing.T) *Database {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testMessage(externalID, conversationID string) *models.Message {
	return &models.Message{
		ConversationID:     conversationID,
		ExternalID:         externalID,
		Direction:          models.DirectionIncoming,
		Kind:               models.KindText,
		Body:               "hello there",
		ContactName:        "Alice",
		PhoneNumberID:      "123456",
		DisplayPhoneNumber: "15550001111",
		CreatedAt:          time.Now().UTC().Truncate(time.Second),
		Status:             models.MessageStatusSent,
	}
}

func TestInsertMessageIfAbsent(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	inserted, stored, conversationNew, err := db.InsertMessageIfAbsent(ctx, testMessage("wamid.1", "15551234567"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.True(t, conversationNew)
	require.NotNil(t, stored)
	assert.Equal(t, "wamid.1", stored.ExternalID)
	assert.Equal(t, "15551234567", stored.ConversationID)
	assert.Equal(t, models.MessageStatusSent, stored.Status)
	require.Len(t, stored.StatusHistory, 1)
	assert.Equal(t, models.MessageStatusSent, stored.StatusHistory[0].Status)

	// Re-delivery of the same record is a no-op that returns the stored row.
	dup := testMessage("wamid.1", "15551234567")
	dup.Body = "a different body that must not win"
	inserted, stored, conversationNew, err = db.InsertMessageIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.False(t, conversationNew)
	require.NotNil(t, stored)
	assert.Equal(t, "hello there", stored.Body)

	// Second message in the same conversation is not a new conversation.
	inserted, _, conversationNew, err = db.InsertMessageIfAbsent(ctx, testMessage("wamid.2", "15551234567"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, conversationNew)

	// First message of another conversation is.
	inserted, _, conversationNew, err = db.InsertMessageIfAbsent(ctx, testMessage("wamid.3", "15559998888"))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.True(t, conversationNew)
}

func TestApplyStatusEvent(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	_, _, _, err := db.InsertMessageIfAbsent(ctx, testMessage("wamid.s1", "15551234567"))
	require.NoError(t, err)

	now := time.Now().UTC()

	t.Run("promotion", func(t *testing.T) {
		msg, changed, err := db.ApplyStatusEvent(ctx, "wamid.s1", models.MessageStatusDelivered, now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, models.MessageStatusDelivered, msg.Status)
	})

	t.Run("regression is recorded but not applied", func(t *testing.T) {
		msg, changed, err := db.ApplyStatusEvent(ctx, "wamid.s1", models.MessageStatusSent, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, models.MessageStatusDelivered, msg.Status)
		// The stale event still lands in history.
		assert.Equal(t, models.MessageStatusSent, msg.StatusHistory[len(msg.StatusHistory)-1].Status)
	})

	t.Run("duplicate status is a no-op on the projection", func(t *testing.T) {
		before := len(historyOf(t, db, ctx, "wamid.s1"))
		msg, changed, err := db.ApplyStatusEvent(ctx, "wamid.s1", models.MessageStatusDelivered, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, models.MessageStatusDelivered, msg.Status)
		assert.Len(t, msg.StatusHistory, before+1)
	})

	t.Run("failed overrides", func(t *testing.T) {
		msg, changed, err := db.ApplyStatusEvent(ctx, "wamid.s1", models.MessageStatusFailed, now)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, models.MessageStatusFailed, msg.Status)

		// Nothing promotes a failed message back.
		msg, changed, err = db.ApplyStatusEvent(ctx, "wamid.s1", models.MessageStatusRead, now)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, models.MessageStatusFailed, msg.Status)
	})

	t.Run("unknown message", func(t *testing.T) {
		_, _, err := db.ApplyStatusEvent(ctx, "wamid.nope", models.MessageStatusRead, now)
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})
}

func historyOf(t *testing.T, db *Database, ctx context.Context, externalID string) []models.StatusEvent {
	t.Helper()
	msg, err := db.GetMessageByExternalID(ctx, externalID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	return msg.StatusHistory
}

func TestStatusHistorySeededOnInsert(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	// Insert seeds the history with the initial sent row, so applying
	// delivered and then a stale sent leaves three entries.
	_, stored, _, err := db.InsertMessageIfAbsent(ctx, testMessage("wamid.h1", "15551234567"))
	require.NoError(t, err)
	require.Len(t, stored.StatusHistory, 1)
	assert.Equal(t, models.MessageStatusSent, stored.StatusHistory[0].Status)

	now := time.Now().UTC()
	_, _, err = db.ApplyStatusEvent(ctx, "wamid.h1", models.MessageStatusDelivered, now)
	require.NoError(t, err)
	msg, changed, err := db.ApplyStatusEvent(ctx, "wamid.h1", models.MessageStatusSent, now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, changed)

	require.Len(t, msg.StatusHistory, 3)
	assert.Equal(t, models.MessageStatusDelivered, msg.Status)
}

func TestGetMessageByExternalID(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	msg, err := db.GetMessageByExternalID(ctx, "wamid.absent")
	require.NoError(t, err)
	assert.Nil(t, msg)

	_, _, _, err = db.InsertMessageIfAbsent(ctx, testMessage("wamid.g1", "15551234567"))
	require.NoError(t, err)

	msg, err = db.GetMessageByExternalID(ctx, "wamid.g1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "Alice", msg.ContactName)
	assert.Equal(t, "hello there", msg.Body)
}

func TestListMessagesByConversation(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"wamid.l1", "wamid.l2", "wamid.l3"} {
		m := testMessage(id, "15551234567")
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, _, _, err := db.InsertMessageIfAbsent(ctx, m)
		require.NoError(t, err)
	}
	_, _, _, err := db.InsertMessageIfAbsent(ctx, testMessage("wamid.other", "15550000000"))
	require.NoError(t, err)

	_, _, err = db.ApplyStatusEvent(ctx, "wamid.l2", models.MessageStatusRead, base.Add(time.Hour))
	require.NoError(t, err)

	messages, err := db.ListMessagesByConversation(ctx, "15551234567")
	require.NoError(t, err)
	require.Len(t, messages, 3)

	assert.Equal(t, "wamid.l1", messages[0].ExternalID)
	assert.Equal(t, "wamid.l2", messages[1].ExternalID)
	assert.Equal(t, "wamid.l3", messages[2].ExternalID)

	assert.Len(t, messages[0].StatusHistory, 1)
	assert.Len(t, messages[1].StatusHistory, 2)
	assert.Equal(t, models.MessageStatusRead, messages[1].Status)

	empty, err := db.ListMessagesByConversation(ctx, "15557777777")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConversationSummaries(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)

	first := testMessage("wamid.c1", "15551111111")
	first.CreatedAt = base
	_, _, _, err := db.InsertMessageIfAbsent(ctx, first)
	require.NoError(t, err)

	second := testMessage("wamid.c2", "15551111111")
	second.CreatedAt = base.Add(time.Minute)
	second.Body = "newest in conversation one"
	_, _, _, err = db.InsertMessageIfAbsent(ctx, second)
	require.NoError(t, err)

	anon := testMessage("wamid.c3", "15552222222")
	anon.CreatedAt = base.Add(2 * time.Minute)
	anon.ContactName = ""
	_, _, _, err = db.InsertMessageIfAbsent(ctx, anon)
	require.NoError(t, err)

	summaries, err := db.ConversationSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Most recent conversation first.
	assert.Equal(t, "15552222222", summaries[0].ConversationID)
	assert.Equal(t, "Unknown", summaries[0].ContactName)
	assert.Equal(t, "15552222222", summaries[0].Phone)

	assert.Equal(t, "15551111111", summaries[1].ConversationID)
	assert.Equal(t, "Alice", summaries[1].ContactName)
	assert.Equal(t, "newest in conversation one", summaries[1].LastMessage)

	// A status change on the latest message shows up on the next read.
	_, _, err = db.ApplyStatusEvent(ctx, "wamid.c3", models.MessageStatusRead, base.Add(time.Hour))
	require.NoError(t, err)

	summaries, err = db.ConversationSummaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, summaries[0].LastStatus)
}

func TestConversationSummariesOutOfOrderDelivery(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)

	// The newer message arrives first; a delayed webhook then delivers an
	// older one. The summary must follow created_at, not insertion order.
	newer := testMessage("wamid.o1", "15551234567")
	newer.CreatedAt = base.Add(time.Hour)
	newer.Body = "newest by event time"
	_, _, _, err := db.InsertMessageIfAbsent(ctx, newer)
	require.NoError(t, err)

	older := testMessage("wamid.o2", "15551234567")
	older.CreatedAt = base
	older.Body = "older, delivered late"
	_, _, _, err = db.InsertMessageIfAbsent(ctx, older)
	require.NoError(t, err)

	summaries, err := db.ConversationSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "newest by event time", summaries[0].LastMessage)
	assert.Equal(t, newer.CreatedAt, summaries[0].LastMessageAt.UTC())
}

func TestStats(t *testing.T) {
	db := setupTestDatabase(t)
	ctx := context.Background()

	conversations, messages, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, conversations)
	assert.Equal(t, 0, messages)

	_, _, _, err = db.InsertMessageIfAbsent(ctx, testMessage("wamid.st1", "15551111111"))
	require.NoError(t, err)
	_, _, _, err = db.InsertMessageIfAbsent(ctx, testMessage("wamid.st2", "15551111111"))
	require.NoError(t, err)
	_, _, _, err = db.InsertMessageIfAbsent(ctx, testMessage("wamid.st3", "15552222222"))
	require.NoError(t, err)

	conversations, messages, err = db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, conversations)
	assert.Equal(t, 3, messages)
}

func TestNewRejectsInvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
