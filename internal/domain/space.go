package domain

import "time"

// DefaultSpace is the space every session lands in when none is named.
// A row for it is provisioned at startup, but routing never requires a
// Space row to exist: spaces are logically just message-grouping keys.
const DefaultSpace = "general"

// Space is a named public channel grouping messages and presence.
type Space struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by,omitempty"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateSpaceRequest represents a create space request.
type CreateSpaceRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

// SpaceModel is the GORM model for the spaces table.
type SpaceModel struct {
	ID          string    `gorm:"type:varchar(36);primaryKey"`
	Name        string    `gorm:"type:varchar(100);uniqueIndex;not null"`
	Description string    `gorm:"type:text"`
	CreatedBy   string    `gorm:"type:varchar(50)"`
	IsDefault   bool      `gorm:"default:false"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for SpaceModel.
func (SpaceModel) TableName() string {
	return "spaces"
}

// ToDomain converts SpaceModel to domain Space.
func (m *SpaceModel) ToDomain() *Space {
	return &Space{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedBy:   m.CreatedBy,
		IsDefault:   m.IsDefault,
		CreatedAt:   m.CreatedAt,
	}
}

// SpaceToModel converts domain Space to SpaceModel.
func SpaceToModel(s *Space) *SpaceModel {
	return &SpaceModel{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		CreatedBy:   s.CreatedBy,
		IsDefault:   s.IsDefault,
		CreatedAt:   s.CreatedAt,
	}
}
