package repository

import (
	"context"
	"fmt"
	"log/slog"

	"retail-integration/internal/model"

	"gorm.io/gorm"
)

type DraftHoldRepository interface {
	Create(ctx context.Context, hold *model.DraftHold) error
	FindByDraft(ctx context.Context, draftID string) (*model.DraftHold, error)
	All(ctx context.Context) ([]model.DraftHold, error)
	Delete(ctx context.Context, docID string) error
}

type draftHoldRepoImpl struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewDraftHoldRepository(db *gorm.DB, logger *slog.Logger) DraftHoldRepository {
	return &draftHoldRepoImpl{
		db:     db,
		logger: orDiscard(logger),
	}
}

func (r *draftHoldRepoImpl) Create(ctx context.Context, hold *model.DraftHold) error {
	if err := r.db.WithContext(ctx).Create(hold).Error; err != nil {
		return fmt.Errorf("insert draft hold mapping: %w", err)
	}
	return nil
}

func (r *draftHoldRepoImpl) FindByDraft(ctx context.Context, draftID string) (*model.DraftHold, error) {
	var hold model.DraftHold
	err := r.db.WithContext(ctx).
		Where("DRAFT_ID = ?", draftID).
		First(&hold).Error
	if err != nil {
		return nil, notFound(r.logger, "draft hold", draftID, err)
	}

	return &hold, nil
}

func (r *draftHoldRepoImpl) All(ctx context.Context) ([]model.DraftHold, error) {
	var holds []model.DraftHold
	if err := r.db.WithContext(ctx).Order("CREATED_AT").Find(&holds).Error; err != nil {
		return nil, fmt.Errorf("query draft holds: %w", err)
	}
	return holds, nil
}

func (r *draftHoldRepoImpl) Delete(ctx context.Context, docID string) error {
	return r.db.WithContext(ctx).
		Where("DOC_ID = ?", docID).
		Delete(&model.DraftHold{}).Error
}
