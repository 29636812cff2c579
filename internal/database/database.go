package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"chatstream/internal/migrations"
	"chatstream/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the durable message store. Inserts are idempotent on the
// unique external_id column; that unique index is the sole concurrency
// guard for duplicate deliveries.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// ErrMessageNotFound is returned by status operations referencing an
// external id with no stored message.
var ErrMessageNotFound = fmt.Errorf("message not found")

// InsertMessageIfAbsent stores msg unless a message with the same external
// id already exists. It returns whether the row was inserted, the stored
// record (the existing one on a duplicate), and whether the insert created
// the first message of its conversation. Atomic under concurrent calls with
// the same external id: only one caller observes inserted=true.
func (d *Database) InsertMessageIfAbsent(ctx context.Context, msg *models.Message) (bool, *models.Message, bool, error) {
	encExternalID, err := d.encryptor.EncryptForLookupIfEnabled(msg.ExternalID)
	if err != nil {
		return false, nil, false, fmt.Errorf("failed to encrypt external ID: %w", err)
	}
	encConversationID, err := d.encryptor.EncryptForLookupIfEnabled(msg.ConversationID)
	if err != nil {
		return false, nil, false, fmt.Errorf("failed to encrypt conversation ID: %w", err)
	}
	encBody, err := d.encryptor.EncryptIfEnabled(msg.Body)
	if err != nil {
		return false, nil, false, fmt.Errorf("failed to encrypt body: %w", err)
	}
	encContactName, err := d.encryptor.EncryptIfEnabled(msg.ContactName)
	if err != nil {
		return false, nil, false, fmt.Errorf("failed to encrypt contact name: %w", err)
	}

	var inserted, conversationNew bool
	err = retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var existing int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM messages WHERE conversation_id = ?`,
			encConversationID,
		).Scan(&existing); err != nil {
			return fmt.Errorf("failed to count conversation messages: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO messages (
				conversation_id, external_id, direction, kind, body,
				contact_name, phone_number_id, display_phone_number,
				created_at, status
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			encConversationID,
			encExternalID,
			msg.Direction,
			msg.Kind,
			encBody,
			encContactName,
			msg.PhoneNumberID,
			msg.DisplayPhoneNumber,
			msg.CreatedAt.UTC(),
			msg.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		inserted = rows > 0
		conversationNew = inserted && existing == 0

		if inserted {
			// The creation status is the first entry of the audit history.
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO message_status_events (external_id, status, event_time)
				VALUES (?, ?, ?)
			`, encExternalID, msg.Status, msg.CreatedAt.UTC()); err != nil {
				return fmt.Errorf("failed to record initial status: %w", err)
			}
		}

		return tx.Commit()
	}, "insert message")
	if err != nil {
		return false, nil, false, err
	}

	stored, err := d.GetMessageByExternalID(ctx, msg.ExternalID)
	if err != nil {
		return inserted, nil, conversationNew, err
	}
	if stored == nil {
		return inserted, nil, conversationNew, fmt.Errorf("message disappeared after insert: %s", msg.ExternalID)
	}
	return inserted, stored, conversationNew, nil
}

// ApplyStatusEvent appends (status, eventTime) to the message's status
// history and promotes the status projection when the merge policy allows
// it. Returns the message as stored after the call and whether the
// projection changed. A regressive status is recorded in history only.
func (d *Database) ApplyStatusEvent(ctx context.Context, externalID string, status models.MessageStatus, eventTime time.Time) (*models.Message, bool, error) {
	encExternalID, err := d.encryptor.EncryptForLookupIfEnabled(externalID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encrypt external ID: %w", err)
	}

	var changed bool
	err = retryableDBOperation(ctx, func() error {
		changed = false

		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current models.MessageStatus
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM messages WHERE external_id = ?`,
			encExternalID,
		).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrMessageNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read current status: %w", err)
		}

		// History is append-only and records every event, superseded or not.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_status_events (external_id, status, event_time)
			VALUES (?, ?, ?)
		`, encExternalID, status, eventTime.UTC()); err != nil {
			return fmt.Errorf("failed to append status event: %w", err)
		}

		if models.ShouldPromote(current, status) {
			if _, err := tx.ExecContext(ctx,
				`UPDATE messages SET status = ? WHERE external_id = ?`,
				status, encExternalID,
			); err != nil {
				return fmt.Errorf("failed to update status projection: %w", err)
			}
			changed = true
		}

		return tx.Commit()
	}, "apply status event")
	if err != nil {
		return nil, false, err
	}

	msg, err := d.GetMessageByExternalID(ctx, externalID)
	if err != nil {
		return nil, changed, err
	}
	if msg == nil {
		return nil, changed, ErrMessageNotFound
	}
	return msg, changed, nil
}

// GetMessageByExternalID retrieves one message with its full status
// history. Returns (nil, nil) when no message has that external id.
func (d *Database) GetMessageByExternalID(ctx context.Context, externalID string) (*models.Message, error) {
	encExternalID, err := d.encryptor.EncryptForLookupIfEnabled(externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt external ID: %w", err)
	}

	row := d.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, external_id, direction, kind, body,
		       contact_name, phone_number_id, display_phone_number,
		       created_at, status, stored_at, updated_at
		FROM messages
		WHERE external_id = ?
	`, encExternalID)

	msg, err := d.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	history, err := d.statusHistory(ctx, encExternalID, msg.ExternalID)
	if err != nil {
		return nil, err
	}
	msg.StatusHistory = history
	return msg, nil
}

// ListMessagesByConversation returns every message in the conversation in
// ascending event-time order, histories included.
func (d *Database) ListMessagesByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	encConversationID, err := d.encryptor.EncryptForLookupIfEnabled(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt conversation ID: %w", err)
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, conversation_id, external_id, direction, kind, body,
		       contact_name, phone_number_id, display_phone_number,
		       created_at, status, stored_at, updated_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`, encConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	byEncID := make(map[string]*models.Message)
	for rows.Next() {
		msg, encExternalID, err := d.scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
		byEncID[encExternalID] = msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	if len(messages) == 0 {
		return messages, nil
	}

	// One pass over the history table fills every message in the list.
	histRows, err := d.db.QueryContext(ctx, `
		SELECT e.id, e.external_id, e.status, e.event_time, e.received_at
		FROM message_status_events e
		JOIN messages m ON m.external_id = e.external_id
		WHERE m.conversation_id = ?
		ORDER BY e.id ASC
	`, encConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load status history: %w", err)
	}
	defer func() { _ = histRows.Close() }()

	for histRows.Next() {
		var ev models.StatusEvent
		var encID string
		if err := histRows.Scan(&ev.ID, &encID, &ev.Status, &ev.EventTime, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status event: %w", err)
		}
		if msg, ok := byEncID[encID]; ok {
			ev.ExternalID = msg.ExternalID
			msg.StatusHistory = append(msg.StatusHistory, ev)
		}
	}
	if err := histRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status history: %w", err)
	}

	return messages, nil
}

// ConversationSummaries computes the latest message per conversation,
// ordered by recency descending. The summary is derived on every call and
// never stored.
func (d *Database) ConversationSummaries(ctx context.Context) ([]*models.ConversationSummary, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT m.conversation_id, m.contact_name, m.body, m.created_at, m.status
		FROM messages m
		WHERE m.id = (
			SELECT id FROM messages
			WHERE conversation_id = m.conversation_id
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
		ORDER BY m.created_at DESC, m.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []*models.ConversationSummary
	for rows.Next() {
		var encConversationID, encContactName, encBody string
		s := &models.ConversationSummary{}
		if err := rows.Scan(&encConversationID, &encContactName, &encBody, &s.LastMessageAt, &s.LastStatus); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}

		s.ConversationID, err = d.encryptor.DecryptIfEnabled(encConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt conversation ID: %w", err)
		}
		s.ContactName, err = d.encryptor.DecryptIfEnabled(encContactName)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt contact name: %w", err)
		}
		s.LastMessage, err = d.encryptor.DecryptIfEnabled(encBody)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt body: %w", err)
		}

		if s.ContactName == "" {
			s.ContactName = "Unknown"
		}
		s.Phone = s.ConversationID
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}

	return summaries, nil
}

// Stats returns store-wide totals for the stats endpoint.
func (d *Database) Stats(ctx context.Context) (totalConversations, totalMessages int, err error) {
	err = d.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT conversation_id), COUNT(1) FROM messages`,
	).Scan(&totalConversations, &totalMessages)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query stats: %w", err)
	}
	return totalConversations, totalMessages, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanMessage(row rowScanner) (*models.Message, error) {
	msg, _, err := d.scanMessageFrom(row)
	return msg, err
}

func (d *Database) scanMessageRow(rows *sql.Rows) (*models.Message, string, error) {
	return d.scanMessageFrom(rows)
}

func (d *Database) scanMessageFrom(row rowScanner) (*models.Message, string, error) {
	var encConversationID, encExternalID, encBody, encContactName string
	msg := &models.Message{}

	err := row.Scan(
		&msg.ID,
		&encConversationID,
		&encExternalID,
		&msg.Direction,
		&msg.Kind,
		&encBody,
		&encContactName,
		&msg.PhoneNumberID,
		&msg.DisplayPhoneNumber,
		&msg.CreatedAt,
		&msg.Status,
		&msg.StoredAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, "", err
	}

	msg.ConversationID, err = d.encryptor.DecryptIfEnabled(encConversationID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decrypt conversation ID: %w", err)
	}
	msg.ExternalID, err = d.encryptor.DecryptIfEnabled(encExternalID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decrypt external ID: %w", err)
	}
	msg.Body, err = d.encryptor.DecryptIfEnabled(encBody)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decrypt body: %w", err)
	}
	msg.ContactName, err = d.encryptor.DecryptIfEnabled(encContactName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decrypt contact name: %w", err)
	}

	return msg, encExternalID, nil
}

func (d *Database) statusHistory(ctx context.Context, encExternalID, externalID string) ([]models.StatusEvent, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, status, event_time, received_at
		FROM message_status_events
		WHERE external_id = ?
		ORDER BY id ASC
	`, encExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load status history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var history []models.StatusEvent
	for rows.Next() {
		ev := models.StatusEvent{ExternalID: externalID}
		if err := rows.Scan(&ev.ID, &ev.Status, &ev.EventTime, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan status event: %w", err)
		}
		history = append(history, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status history: %w", err)
	}
	return history, nil
}
