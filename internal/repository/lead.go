package repository

import (
	"context"
	"fmt"

	"retail-integration/internal/model"

	"gorm.io/gorm"
)

type LeadRepository interface {
	Create(ctx context.Context, lead *model.DesignLead) error
}

type leadRepoImpl struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) LeadRepository {
	return &leadRepoImpl{db: db}
}

func (r *leadRepoImpl) Create(ctx context.Context, lead *model.DesignLead) error {
	if err := r.db.WithContext(ctx).Create(lead).Error; err != nil {
		return fmt.Errorf("insert design lead: %w", err)
	}
	return nil
}
