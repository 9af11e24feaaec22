package history

import (
	"errors"
	"time"

	"gorm.io/gorm"

	domain "github.com/example/campus-presence/domain/presence"
)

// ErrDuplicateMessage is returned when a message id was already persisted.
// The relay can re-emit and the facade double-posts on retry, so the store
// absorbs duplicates instead of failing the caller.
var ErrDuplicateMessage = errors.New("message already persisted")

// MessageRecord is the GORM model for a persisted message.
type MessageRecord struct {
	ID           string `gorm:"primaryKey"`
	RoomID       string `gorm:"index"`
	RecipientID  string `gorm:"index"`
	SenderID     string
	SenderName   string
	SenderAvatar string
	Content      string
	FileName     string
	FileSize     int64
	FileMime     string
	FileURL      string
	Kind         string
	Timestamp    time.Time `gorm:"index"`
}

// TableName sets the table name.
func (MessageRecord) TableName() string {
	return "messages"
}

// Repository persists messages using GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Append stores one message. A duplicate id returns ErrDuplicateMessage.
func (r *Repository) Append(msg domain.Message) error {
	record := toRecord(msg)
	result := r.db.Create(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrDuplicateMessage
		}
		return result.Error
	}
	return nil
}

// RoomHistory returns one page of a room's messages in chronological order.
// Page 0 is the most recent page.
func (r *Repository) RoomHistory(roomID string, page, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page < 0 {
		page = 0
	}

	var records []MessageRecord
	result := r.db.
		Where("room_id = ?", roomID).
		Order("timestamp DESC").
		Limit(limit).
		Offset(page * limit).
		Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}

	// Newest-first from the query, chronological for the caller.
	messages := make([]domain.Message, len(records))
	for i, record := range records {
		messages[len(records)-1-i] = toMessage(record)
	}
	return messages, nil
}

// PrivateHistory returns the persisted private messages addressed to an
// identity, newest first. This is how missed private messages surface after
// reconnect; the relay itself never queues them.
func (r *Repository) PrivateHistory(recipientID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	var records []MessageRecord
	result := r.db.
		Where("recipient_id = ?", recipientID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}

	messages := make([]domain.Message, len(records))
	for i, record := range records {
		messages[i] = toMessage(record)
	}
	return messages, nil
}

func toRecord(msg domain.Message) MessageRecord {
	record := MessageRecord{
		ID:           msg.ID,
		RoomID:       msg.RoomID,
		RecipientID:  msg.RecipientID,
		SenderID:     msg.Sender.ID,
		SenderName:   msg.Sender.Name,
		SenderAvatar: msg.Sender.Avatar,
		Content:      msg.Content,
		Kind:         string(msg.Kind),
		Timestamp:    msg.Timestamp,
	}
	if msg.File != nil {
		record.FileName = msg.File.Name
		record.FileSize = msg.File.Size
		record.FileMime = msg.File.MimeType
		record.FileURL = msg.File.URL
	}
	return record
}

func toMessage(record MessageRecord) domain.Message {
	msg := domain.Message{
		ID:          record.ID,
		RoomID:      record.RoomID,
		RecipientID: record.RecipientID,
		Sender: domain.Identity{
			ID:     record.SenderID,
			Name:   record.SenderName,
			Avatar: record.SenderAvatar,
		},
		Content:   record.Content,
		Kind:      domain.MessageKind(record.Kind),
		Timestamp: record.Timestamp,
	}
	if record.FileName != "" {
		msg.File = &domain.FileMeta{
			Name:     record.FileName,
			Size:     record.FileSize,
			MimeType: record.FileMime,
			URL:      record.FileURL,
		}
	}
	return msg
}
