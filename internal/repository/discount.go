package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"retail-integration/internal/model"

	"gorm.io/gorm"
)

// DiscountRepository owns ERP price-group coupons and their storefront
// mirror mapping.
type DiscountRepository interface {
	CodeExists(ctx context.Context, grpCod string) (bool, error)
	CreateRule(ctx context.Context, rule *model.DiscountRule) error
	Disable(ctx context.Context, grpCod string) error
	Delete(ctx context.Context, grpCod string) error
	SaveMapping(ctx context.Context, mapping *model.PromoMapping) error
	Mapping(ctx context.Context, grpCod string) (*model.PromoMapping, error)
	ExpiredMappings(ctx context.Context, now time.Time) ([]model.PromoMapping, error)
	DeleteMapping(ctx context.Context, grpCod string) error
}

type discountRepoImpl struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewDiscountRepository(db *gorm.DB, logger *slog.Logger) DiscountRepository {
	return &discountRepoImpl{
		db:     db,
		logger: orDiscard(logger),
	}
}

func (r *discountRepoImpl) CodeExists(ctx context.Context, grpCod string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.DiscountRule{}).
		Where("GRP_COD = ?", grpCod).
		Count(&count).Error

	return count > 0, err
}

func (r *discountRepoImpl) CreateRule(ctx context.Context, rule *model.DiscountRule) error {
	if rule.RulSeqNo == 0 {
		rule.RulSeqNo = 1
	}
	if rule.IsEnabled == "" {
		rule.IsEnabled = "Y"
	}
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("insert discount rule: %w", err)
	}
	return nil
}

func (r *discountRepoImpl) Disable(ctx context.Context, grpCod string) error {
	result := r.db.WithContext(ctx).
		Model(&model.DiscountRule{}).
		Where("GRP_COD = ?", grpCod).
		Update("IS_ENABLED", "N")
	if result.Error != nil {
		return fmt.Errorf("disable discount rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(r.logger, "discount", grpCod, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *discountRepoImpl) Delete(ctx context.Context, grpCod string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("GRP_COD = ?", grpCod).Delete(&model.DiscountRule{}).Error; err != nil {
			return fmt.Errorf("delete discount rule: %w", err)
		}
		return tx.Where("GRP_COD = ?", grpCod).Delete(&model.PromoMapping{}).Error
	})
}

func (r *discountRepoImpl) SaveMapping(ctx context.Context, mapping *model.PromoMapping) error {
	return r.db.WithContext(ctx).Create(mapping).Error
}

func (r *discountRepoImpl) Mapping(ctx context.Context, grpCod string) (*model.PromoMapping, error) {
	var mapping model.PromoMapping
	err := r.db.WithContext(ctx).
		Where("GRP_COD = ?", grpCod).
		First(&mapping).Error
	if err != nil {
		return nil, notFound(r.logger, "promo mapping", grpCod, err)
	}

	return &mapping, nil
}

func (r *discountRepoImpl) ExpiredMappings(ctx context.Context, now time.Time) ([]model.PromoMapping, error) {
	var rows []model.PromoMapping
	err := r.db.WithContext(ctx).
		Where("EXPIRES_AT < ?", now).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query expired promos: %w", err)
	}

	return rows, nil
}

func (r *discountRepoImpl) DeleteMapping(ctx context.Context, grpCod string) error {
	return r.db.WithContext(ctx).
		Where("GRP_COD = ?", grpCod).
		Delete(&model.PromoMapping{}).Error
}
