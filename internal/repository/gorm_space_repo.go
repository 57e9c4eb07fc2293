package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/spaceshq/spaces-server/internal/domain"
	"github.com/spaceshq/spaces-server/pkg/log"
)

// GormSpaceRepository implements SpaceRepository using GORM.
type GormSpaceRepository struct {
	db *gorm.DB
}

// NewGormSpaceRepository creates a new GORM-based space repository.
func NewGormSpaceRepository(db *gorm.DB) *GormSpaceRepository {
	return &GormSpaceRepository{db: db}
}

// Create creates a new space. Returns ErrSpaceExists when the name is
// already taken.
func (r *GormSpaceRepository) Create(ctx context.Context, space *domain.Space) error {
	l := log.Ctx(ctx)

	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.SpaceModel{}).
		Where("name = ?", space.Name).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrSpaceExists
	}

	space.ID = uuid.New().String()

	model := domain.SpaceToModel(space)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldSpace, space.Name).Msg("failed to create space")
		return err
	}

	space.CreatedAt = model.CreatedAt
	l.Debug().Str(log.FieldSpace, space.Name).Msg("space created")
	return nil
}

// GetByName retrieves a space by its unique name.
func (r *GormSpaceRepository) GetByName(ctx context.Context, name string) (*domain.Space, error) {
	var model domain.SpaceModel
	err := r.db.WithContext(ctx).First(&model, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSpaceNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// List returns all spaces ascending by creation time.
func (r *GormSpaceRepository) List(ctx context.Context) ([]domain.Space, error) {
	l := log.Ctx(ctx)

	var models []domain.SpaceModel
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		l.Error().Err(err).Msg("failed to list spaces")
		return nil, err
	}

	spaces := make([]domain.Space, len(models))
	for i, model := range models {
		spaces[i] = *model.ToDomain()
	}
	return spaces, nil
}

// EnsureDefault provisions the default space row if it does not exist.
// Idempotent; called at startup.
func (r *GormSpaceRepository) EnsureDefault(ctx context.Context) error {
	_, err := r.GetByName(ctx, domain.DefaultSpace)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrSpaceNotFound) {
		return err
	}

	l := log.Ctx(ctx)
	l.Info().Str(log.FieldSpace, domain.DefaultSpace).Msg("provisioning default space")

	return r.Create(ctx, &domain.Space{
		Name:        domain.DefaultSpace,
		Description: "Default space",
		CreatedBy:   "system",
		IsDefault:   true,
	})
}
