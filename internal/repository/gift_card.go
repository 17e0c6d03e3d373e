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

type GiftCardRepository interface {
	Exists(ctx context.Context, gfcNo string) (bool, error)
	Get(ctx context.Context, gfcNo string) (*model.GiftCard, error)
	FindByLastChars(ctx context.Context, last string) (*model.GiftCard, error)
	IssuedOn(ctx context.Context, docID string) ([]model.GiftCard, error)
	Issue(ctx context.Context, card *model.GiftCard, docID, tktNo string) error
	Refund(ctx context.Context, gfcNo string, amount, balance decimal.Decimal, docID, tktNo string) error
	Activities(ctx context.Context, gfcNo string) ([]model.GiftCardActivity, error)
}

type giftCardRepoImpl struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewGiftCardRepository(db *gorm.DB, logger *slog.Logger) GiftCardRepository {
	return &giftCardRepoImpl{
		db:     db,
		logger: orDiscard(logger),
	}
}

func (r *giftCardRepoImpl) Exists(ctx context.Context, gfcNo string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.GiftCard{}).
		Where("GFC_NO = ?", gfcNo).
		Count(&count).Error

	return count > 0, err
}

func (r *giftCardRepoImpl) Get(ctx context.Context, gfcNo string) (*model.GiftCard, error) {
	var card model.GiftCard
	err := r.db.WithContext(ctx).
		Where("GFC_NO = ?", gfcNo).
		First(&card).Error
	if err != nil {
		return nil, notFound(r.logger, "gift card", gfcNo, err)
	}

	return &card, nil
}

// FindByLastChars resolves a storefront gift card by the trailing characters
// the storefront reveals on the transaction.
func (r *giftCardRepoImpl) FindByLastChars(ctx context.Context, last string) (*model.GiftCard, error) {
	if last == "" {
		return nil, notFound(r.logger, "gift card", last, gorm.ErrRecordNotFound)
	}

	var card model.GiftCard
	err := r.db.WithContext(ctx).
		Where("GFC_NO LIKE ?", "%"+last).
		Order("LST_ACTIV_DAT DESC").
		First(&card).Error
	if err != nil {
		return nil, notFound(r.logger, "gift card", last, err)
	}

	return &card, nil
}

// IssuedOn lists the cards sold on docID.
func (r *giftCardRepoImpl) IssuedOn(ctx context.Context, docID string) ([]model.GiftCard, error) {
	var cards []model.GiftCard
	err := r.db.WithContext(ctx).
		Where("ORIG_DOC_ID = ?", docID).
		Order("GFC_NO").
		Find(&cards).Error
	if err != nil {
		return nil, fmt.Errorf("query issued gift cards: %w", err)
	}

	return cards, nil
}

// Issue creates the card master row with its current amount equal to face
// value and appends the issue activity.
func (r *giftCardRepoImpl) Issue(ctx context.Context, card *model.GiftCard, docID, tktNo string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		card.CurrAmt = card.OrigAmt
		card.OrigDocID = docID
		if card.OrigDat.IsZero() {
			card.OrigDat = now
		}
		card.LstActivDt = now

		if err := tx.Create(card).Error; err != nil {
			return fmt.Errorf("insert gift card: %w", err)
		}
		return appendActivity(tx, model.GiftCardActivity{
			GfcNo:    card.GfcNo,
			ActivTyp: model.GiftCardIssue,
			Amt:      card.OrigAmt,
			DocID:    docID,
			TktNo:    tktNo,
			Dat:      now,
		})
	})
}

// Refund appends a refund activity and sets the current amount to balance.
func (r *giftCardRepoImpl) Refund(ctx context.Context, gfcNo string, amount, balance decimal.Decimal, docID, tktNo string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		result := tx.Model(&model.GiftCard{}).
			Where("GFC_NO = ?", gfcNo).
			Updates(map[string]interface{}{
				"CURR_AMT":      balance,
				"LST_ACTIV_DAT": now,
			})
		if result.Error != nil {
			return fmt.Errorf("update gift card balance: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return notFound(r.logger, "gift card", gfcNo, gorm.ErrRecordNotFound)
		}

		return appendActivity(tx, model.GiftCardActivity{
			GfcNo:    gfcNo,
			ActivTyp: model.GiftCardRefund,
			Amt:      amount,
			DocID:    docID,
			TktNo:    tktNo,
			Dat:      now,
		})
	})
}

func (r *giftCardRepoImpl) Activities(ctx context.Context, gfcNo string) ([]model.GiftCardActivity, error) {
	var rows []model.GiftCardActivity
	err := r.db.WithContext(ctx).
		Where("GFC_NO = ?", gfcNo).
		Order("SEQ_NO").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query gift card activity: %w", err)
	}

	return rows, nil
}

func appendActivity(tx *gorm.DB, act model.GiftCardActivity) error {
	var last model.GiftCardActivity
	err := tx.Where("GFC_NO = ?", act.GfcNo).Order("SEQ_NO DESC").Limit(1).Find(&last).Error
	if err != nil {
		return fmt.Errorf("query gift card sequence: %w", err)
	}

	act.SeqNo = last.SeqNo + 1
	if err := tx.Create(&act).Error; err != nil {
		return fmt.Errorf("insert gift card activity: %w", err)
	}
	return nil
}
