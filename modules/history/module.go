package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/campus-presence/events"
)

// Module is the durable history store. The presence core never calls it
// directly: messages arrive over the EventBus, and readers go through the
// request-reply services it registers on the ServiceContainer.
type Module struct {
	db     *gorm.DB
	repo   *Repository
	dbPath string
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new history module.
func NewModule() *Module {
	dbPath := os.Getenv("PRESENCE_DB_PATH")
	if dbPath == "" {
		dbPath = "presence_history.db"
	}
	return &Module{
		dbPath: dbPath,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "history"
}

// Start opens the SQLite database and migrates the schema.
func (m *Module) Start(_ context.Context) error {
	db, err := gorm.Open(sqlite.Open(m.dbPath), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	m.db = db

	if err := db.AutoMigrate(&MessageRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	m.repo = NewRepository(db)
	log.Printf("[history] Module started (database: %s)", m.dbPath)
	return nil
}

// Stop closes the database.
func (m *Module) Stop(_ context.Context) error {
	if m.db != nil {
		sqlDB, err := m.db.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
	log.Println("[history] Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get database connection: %v", err),
		}
	}

	if err := sqlDB.Ping(); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"database": m.dbPath,
		},
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceAppendMessage,
		json.Unmarshal,
		json.Marshal,
		m.handleAppendMessage,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceAppendMessage, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceRoomHistory,
		json.Unmarshal,
		json.Marshal,
		m.handleRoomHistory,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceRoomHistory, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServicePrivateHistory,
		json.Unmarshal,
		json.Marshal,
		m.handlePrivateHistory,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServicePrivateHistory, err)
	}

	log.Printf("[history] Registered services: %s, %s, %s",
		ServiceAppendMessage, ServiceRoomHistory, ServicePrivateHistory)
	return nil
}

// RegisterEventConsumers subscribes to the relay's message events so every
// relayed message lands in durable storage without the interactive path
// waiting on it.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageSentV1, m.handleMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageSent consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.PrivateMessageSentV1, m.handlePrivateMessageSent, m,
	); err != nil {
		return fmt.Errorf("failed to register PrivateMessageSent consumer: %w", err)
	}

	log.Println("[history] Registered event consumers: MessageSent, PrivateMessageSent")
	return nil
}

func (m *Module) handleAppendMessage(_ context.Context, req AppendMessageRequest, _ *mono.Msg) (AppendMessageResponse, error) {
	if req.Message.ID == "" {
		return AppendMessageResponse{Accepted: false}, nil
	}
	if err := m.repo.Append(req.Message); err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			// The relay echo and the facade's side-channel POST can both
			// arrive; the first write wins.
			return AppendMessageResponse{Accepted: true}, nil
		}
		return AppendMessageResponse{}, err
	}
	return AppendMessageResponse{Accepted: true}, nil
}

func (m *Module) handleRoomHistory(_ context.Context, req RoomHistoryRequest, _ *mono.Msg) (RoomHistoryResponse, error) {
	messages, err := m.repo.RoomHistory(req.RoomID, req.Page, req.Limit)
	if err != nil {
		return RoomHistoryResponse{}, err
	}
	return RoomHistoryResponse{Messages: messages}, nil
}

func (m *Module) handlePrivateHistory(_ context.Context, req PrivateHistoryRequest, _ *mono.Msg) (PrivateHistoryResponse, error) {
	messages, err := m.repo.PrivateHistory(req.RecipientID, req.Limit)
	if err != nil {
		return PrivateHistoryResponse{}, err
	}
	return PrivateHistoryResponse{Messages: messages}, nil
}

func (m *Module) handleMessageSent(_ context.Context, event events.MessageSentEvent, _ *mono.Msg) error {
	if err := m.repo.Append(event.Message); err != nil && !errors.Is(err, ErrDuplicateMessage) {
		log.Printf("[history] Failed to persist message %s: %v", event.Message.ID, err)
	}
	return nil
}

func (m *Module) handlePrivateMessageSent(_ context.Context, event events.PrivateMessageSentEvent, _ *mono.Msg) error {
	if err := m.repo.Append(event.Message); err != nil && !errors.Is(err, ErrDuplicateMessage) {
		log.Printf("[history] Failed to persist private message %s: %v", event.Message.ID, err)
	}
	return nil
}
