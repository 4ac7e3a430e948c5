package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"dancehost/internal/models"
	"dancehost/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

type PostgresDB struct {
	pool *pgxpool.Pool
}

var _ Database = (*PostgresDB)(nil)

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	if cfg.HealthCheckPeriod == 0 {
		cfg.HealthCheckPeriod = time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Conversation lookup
func (db *PostgresDB) GetConversationParticipants(ctx context.Context, conversationID string) (*models.Conversation, error) {
	query := `SELECT id, participant_1, participant_2, created_at FROM conversations WHERE id = $1`

	conv := &models.Conversation{}
	err := db.pool.QueryRow(ctx, query, conversationID).Scan(
		&conv.ID, &conv.Participant1, &conv.Participant2, &conv.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "conversation", conversationID)
	}

	return conv, nil
}

// Booking lookup
func (db *PostgresDB) GetBookingParticipants(ctx context.Context, bookingID string) (*models.Booking, error) {
	query := `SELECT id, client_id, host_id, status FROM bookings WHERE id = $1`

	booking := &models.Booking{}
	err := db.pool.QueryRow(ctx, query, bookingID).Scan(
		&booking.ID, &booking.ClientID, &booking.HostID, &booking.Status,
	)
	if err != nil {
		return nil, notFound(err, "booking", bookingID)
	}

	return booking, nil
}

// Message store
func (db *PostgresDB) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING id::text, conversation_id, sender_id, content, created_at`

	msg := &models.Message{}
	err := db.pool.QueryRow(ctx, query, conversationID, senderID, content).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return msg, nil
}

func (db *PostgresDB) ListMessages(ctx context.Context, conversationID string, cursor *models.MessageCursor, limit int) ([]*models.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if cursor == nil {
		rows, err = db.pool.Query(ctx, `
			SELECT id::text, conversation_id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, conversationID, limit)
	} else {
		rows, err = db.pool.Query(ctx, `
			SELECT id::text, conversation_id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = $1 AND (created_at, id) < ($2, $3::uuid)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, conversationID, cursor.CreatedAt, cursor.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, models.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", entity, id, err)
}
