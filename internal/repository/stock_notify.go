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

// ReadySubscription is a back-in-stock subscription whose item now has stock.
type ReadySubscription struct {
	ID        uint
	ItemNo    string
	Email     string
	Phone     string
	CreatedAt time.Time
	QtyAvail  decimal.Decimal
	Descr     string
	ImageFile string
}

type StockNotifyRepository interface {
	Subscribe(ctx context.Context, sub *model.StockSubscription) error
	Ready(ctx context.Context, locID string) ([]ReadySubscription, error)
	Delete(ctx context.Context, id uint) error
}

type stockNotifyRepoImpl struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStockNotifyRepository(db *gorm.DB, logger *slog.Logger) StockNotifyRepository {
	return &stockNotifyRepoImpl{
		db:     db,
		logger: orDiscard(logger),
	}
}

func (r *stockNotifyRepoImpl) Subscribe(ctx context.Context, sub *model.StockSubscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *stockNotifyRepoImpl) Ready(ctx context.Context, locID string) ([]ReadySubscription, error) {
	var rows []ReadySubscription
	err := r.db.WithContext(ctx).
		Table("SN_STOCK_NOTIFY AS s").
		Select(`s.ID AS id, s.ITEM_NO AS item_no, s.EMAIL AS email, s.PHONE AS phone,
			s.CREATED_AT AS created_at, i.QTY_AVAIL AS qty_avail,
			m.DESCR AS descr, m.IMAGE_FILE AS image_file`).
		Joins("JOIN IM_INV AS i ON i.ITEM_NO = s.ITEM_NO AND i.LOC_ID = ?", locID).
		Joins("LEFT JOIN IM_ITEM AS m ON m.ITEM_NO = s.ITEM_NO").
		Where("i.QTY_AVAIL > 0").
		Order("s.ID").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query ready subscriptions: %w", err)
	}

	ready := rows[:0]
	for _, row := range rows {
		if row.QtyAvail.IsPositive() {
			ready = append(ready, row)
		}
	}
	return ready, nil
}

func (r *stockNotifyRepoImpl) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Where("ID = ?", id).
		Delete(&model.StockSubscription{}).Error
}
