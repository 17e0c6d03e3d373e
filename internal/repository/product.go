package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"retail-integration/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ProductRepository interface {
	Get(ctx context.Context, itemNo string) (*model.Item, error)
	Costs(ctx context.Context, itemNos []string) (map[string]decimal.Decimal, error)
	Available(ctx context.Context, itemNos []string, locID string) (map[string]decimal.Decimal, error)
	ChangedSince(ctx context.Context, since time.Time) ([]model.Item, error)
}

type productRepoImpl struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewProductRepository(db *gorm.DB, logger *slog.Logger) ProductRepository {
	return &productRepoImpl{
		db:     db,
		logger: orDiscard(logger),
	}
}

func (r *productRepoImpl) Get(ctx context.Context, itemNo string) (*model.Item, error) {
	var item model.Item
	err := r.db.WithContext(ctx).
		Where("ITEM_NO = ?", itemNo).
		First(&item).Error
	if err != nil {
		return nil, notFound(r.logger, "item", itemNo, err)
	}

	return &item, nil
}

// Costs returns LST_COST per item. Unknown items are absent from the map.
func (r *productRepoImpl) Costs(ctx context.Context, itemNos []string) (map[string]decimal.Decimal, error) {
	costs := make(map[string]decimal.Decimal, len(itemNos))
	if len(itemNos) == 0 {
		return costs, nil
	}

	var items []model.Item
	err := r.db.WithContext(ctx).
		Select("ITEM_NO", "LST_COST").
		Where("ITEM_NO IN ?", itemNos).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("query item costs: %w", err)
	}

	for _, it := range items {
		costs[it.ItemNo] = it.LstCost
	}
	return costs, nil
}

func (r *productRepoImpl) Available(ctx context.Context, itemNos []string, locID string) (map[string]decimal.Decimal, error) {
	avail := make(map[string]decimal.Decimal, len(itemNos))
	if len(itemNos) == 0 {
		return avail, nil
	}

	var rows []model.Inventory
	err := r.db.WithContext(ctx).
		Where("ITEM_NO IN ? AND LOC_ID = ?", itemNos, locID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	for _, row := range rows {
		avail[row.ItemNo] = row.QtyAvail
	}
	return avail, nil
}

func (r *productRepoImpl) ChangedSince(ctx context.Context, since time.Time) ([]model.Item, error) {
	var items []model.Item
	err := r.db.WithContext(ctx).
		Where("LST_MAINT_DT >= ?", since).
		Order("ITEM_NO").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("query changed items: %w", err)
	}

	return items, nil
}
