package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"dancehost/internal/database"
	"dancehost/internal/models"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// MessageService serves conversation history in newest-first cursor pages.
type MessageService struct {
	messages database.MessageRepository
}

func NewMessageService(messages database.MessageRepository) *MessageService {
	return &MessageService{messages: messages}
}

// ListMessages returns one page. An empty cursor starts from the newest message; a page's
// NextCursor continues strictly older than its last item, so appends between calls never
// shift later pages.
func (s *MessageService) ListMessages(ctx context.Context, conversationID, cursor string, limit int) (*models.MessagePage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var after *models.MessageCursor
	if cursor != "" {
		decoded, err := DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		after = decoded
	}

	// One extra row tells us whether another page exists.
	items, err := s.messages.ListMessages(ctx, conversationID, after, limit+1)
	if err != nil {
		return nil, &models.StoreError{Op: "list", Err: err}
	}

	page := &models.MessagePage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		last := page.Items[limit-1]
		page.NextCursor = EncodeCursor(models.MessageCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	if page.Items == nil {
		page.Items = []*models.Message{}
	}
	return page, nil
}

func EncodeCursor(c models.MessageCursor) string {
	raw, _ := json.Marshal(struct {
		T  string `json:"t"`
		ID string `json:"id"`
	}{T: c.CreatedAt.UTC().Format(time.RFC3339Nano), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func DecodeCursor(token string) (*models.MessageCursor, error) {
	invalid := &models.ValidationError{Code: models.CodeInvalidCursor, Field: "cursor", Message: "cursor is not valid"}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, invalid
	}
	var payload struct {
		T  string `json:"t"`
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ID == "" {
		return nil, invalid
	}
	t, err := time.Parse(time.RFC3339Nano, payload.T)
	if err != nil {
		return nil, invalid
	}
	return &models.MessageCursor{CreatedAt: t, ID: payload.ID}, nil
}
