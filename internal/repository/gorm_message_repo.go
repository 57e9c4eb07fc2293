package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/spaceshq/spaces-server/internal/domain"
	"github.com/spaceshq/spaces-server/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Persist stores a message and fills in its generated ID and timestamp.
func (r *GormMessageRepository) Persist(ctx context.Context, msg *domain.Message) error {
	l := log.Ctx(ctx)

	msg.ID = uuid.New().String()
	msg.CreatedAt = time.Now().UTC()

	model := domain.MessageToModel(msg)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to persist message")
		return err
	}

	msg.CreatedAt = model.CreatedAt
	l.Debug().Str(log.FieldMessageID, msg.ID).Str("kind", string(msg.Kind)).Msg("message persisted")
	return nil
}

// QuerySpace returns the full history of one space, oldest first.
func (r *GormMessageRepository) QuerySpace(ctx context.Context, space string) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Where("kind = ? AND space = ?", string(domain.MessageKindSpace), space).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		l.Error().Err(err).Str(log.FieldSpace, space).Msg("failed to query space history")
		return nil, err
	}

	return toDomainMessages(models), nil
}

// QueryConversation returns the direct history between a and b, matching
// either sender/recipient order, oldest first.
func (r *GormMessageRepository) QueryConversation(ctx context.Context, a, b string) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Where("kind = ?", string(domain.MessageKindDirect)).
		Where("(sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?)", a, b, b, a).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		l.Error().Err(err).Msg("failed to query conversation history")
		return nil, err
	}

	return toDomainMessages(models), nil
}

// QueryAll returns every message, oldest first.
func (r *GormMessageRepository) QueryAll(ctx context.Context) ([]domain.Message, error) {
	l := log.Ctx(ctx)

	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		l.Error().Err(err).Msg("failed to query messages")
		return nil, err
	}

	return toDomainMessages(models), nil
}

func toDomainMessages(models []domain.MessageModel) []domain.Message {
	messages := make([]domain.Message, len(models))
	for i, model := range models {
		messages[i] = *model.ToDomain()
	}
	return messages
}
