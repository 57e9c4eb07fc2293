package repository

import (
	"context"
	"errors"

	"github.com/spaceshq/spaces-server/internal/domain"
)

var (
	ErrSpaceNotFound = errors.New("space not found")
	ErrSpaceExists   = errors.New("space already exists")
)

// MessageRepository is the durable append-only record of chat messages.
type MessageRepository interface {
	// Persist stores a message, assigning its ID and CreatedAt.
	Persist(ctx context.Context, msg *domain.Message) error
	// QuerySpace returns all space-scoped messages of one space,
	// ascending by creation time.
	QuerySpace(ctx context.Context, space string) ([]domain.Message, error)
	// QueryConversation returns all direct messages whose
	// {sender, recipient} set equals {a, b}, in either order,
	// ascending by creation time.
	QueryConversation(ctx context.Context, a, b string) ([]domain.Message, error)
	// QueryAll returns every message ascending by creation time.
	QueryAll(ctx context.Context) ([]domain.Message, error)
}

// SpaceRepository is the directory of space metadata. Routing never
// consults it; it backs the HTTP API only.
type SpaceRepository interface {
	Create(ctx context.Context, space *domain.Space) error
	GetByName(ctx context.Context, name string) (*domain.Space, error)
	List(ctx context.Context) ([]domain.Space, error)
	// EnsureDefault provisions the default space row if absent.
	EnsureDefault(ctx context.Context) error
}
