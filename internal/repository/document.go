package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"retail-integration/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository covers the ticket tables the Document API writes and the
// finishing writes applied after it.
type DocumentRepository interface {
	Header(ctx context.Context, docID string) (*model.DocHeader, error)
	FindTicket(ctx context.Context, tktNo string) (*model.DocHeader, error)
	TicketNumbersLike(ctx context.Context, prefix string) ([]string, error)
	SetTicketNumber(ctx context.Context, docID, tktNo string) error
	UpdateHeader(ctx context.Context, docID string, fields map[string]interface{}) error

	Lines(ctx context.Context, docID string) ([]model.DocLine, error)
	UpdateLine(ctx context.Context, docID string, seq int, fields map[string]interface{}) error
	SetLineTypes(ctx context.Context, docID, linTyp string) error
	LinePrices(ctx context.Context, docID string) ([]model.DocLinePrice, error)
	UpdateLinePrice(ctx context.Context, row model.DocLinePrice) error

	Payments(ctx context.Context, docID string) ([]model.DocPayment, error)
	UpdatePaymentAmount(ctx context.Context, docID string, seq int, amount interface{}) error
	PaymentApplies(ctx context.Context, docID string) ([]model.DocPaymentApply, error)
	UpdatePaymentApplyAmount(ctx context.Context, docID string, seq int, amount interface{}) error
	SetApplyTypes(ctx context.Context, docID, applTyp string) error

	ReplaceTotals(ctx context.Context, row *model.DocHeaderTotal) error
	Totals(ctx context.Context, docID string) (*model.DocHeaderTotal, error)
	InsertLoyalty(ctx context.Context, lines []model.DocLineLoyalty, header *model.DocHeaderLoyalty) error
	InsertDiscounts(ctx context.Context, rows []model.DocDiscount) error
	Discounts(ctx context.Context, docID string) ([]model.DocDiscount, error)

	OrigDocID(ctx context.Context, docID string) (string, error)
	RebindMiscCharge(ctx context.Context, fromDocID, toDocID string, negate bool) (int64, error)
	MiscCharges(ctx context.Context, docID string) ([]model.DocMiscCharge, error)
	DeleteOrigDoc(ctx context.Context, docID, origDocID string) error
	DeleteDocument(ctx context.Context, docID string) error

	RecentForCustomer(ctx context.Context, custNo string, since time.Time, limit int) ([]model.DocHeader, error)
	TicketSince(ctx context.Context, custNo string, since time.Time) (bool, error)
}

type documentRepoImpl struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewDocumentRepository(db *gorm.DB, logger *slog.Logger) DocumentRepository {
	return &documentRepoImpl{
		db:     db,
		logger: orDiscard(logger),
	}
}

func (r *documentRepoImpl) Header(ctx context.Context, docID string) (*model.DocHeader, error) {
	var hdr model.DocHeader
	err := r.db.WithContext(ctx).
		Where("DOC_ID = ?", docID).
		First(&hdr).Error
	if err != nil {
		return nil, notFound(r.logger, "document", docID, err)
	}

	return &hdr, nil
}

// FindTicket returns the final (T) document carrying tktNo.
func (r *documentRepoImpl) FindTicket(ctx context.Context, tktNo string) (*model.DocHeader, error) {
	var hdr model.DocHeader
	err := r.db.WithContext(ctx).
		Where("TKT_NO = ? AND DOC_TYP = ?", tktNo, model.DocTypeTicket).
		First(&hdr).Error
	if err != nil {
		return nil, notFound(r.logger, "ticket", tktNo, err)
	}

	return &hdr, nil
}

func (r *documentRepoImpl) TicketNumbersLike(ctx context.Context, prefix string) ([]string, error) {
	var tickets []string
	err := r.db.WithContext(ctx).
		Model(&model.DocHeader{}).
		Where("TKT_NO LIKE ?", prefix+"%").
		Pluck("TKT_NO", &tickets).Error
	if err != nil {
		return nil, fmt.Errorf("query ticket numbers: %w", err)
	}

	return tickets, nil
}

func (r *documentRepoImpl) SetTicketNumber(ctx context.Context, docID, tktNo string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{&model.DocHeader{}, &model.DocLine{}, &model.DocPayment{}} {
			if err := tx.Model(m).Where("DOC_ID = ?", docID).Update("TKT_NO", tktNo).Error; err != nil {
				return fmt.Errorf("set ticket number: %w", err)
			}
		}
		return nil
	})
}

func (r *documentRepoImpl) UpdateHeader(ctx context.Context, docID string, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).
		Model(&model.DocHeader{}).
		Where("DOC_ID = ?", docID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update document header: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(r.logger, "document", docID, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *documentRepoImpl) Lines(ctx context.Context, docID string) ([]model.DocLine, error) {
	var lines []model.DocLine
	err := r.db.WithContext(ctx).
		Where("DOC_ID = ?", docID).
		Order("LIN_SEQ_NO").
		Find(&lines).Error
	if err != nil {
		return nil, fmt.Errorf("query document lines: %w", err)
	}

	return lines, nil
}

func (r *documentRepoImpl) UpdateLine(ctx context.Context, docID string, seq int, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.DocLine{}).
		Where("DOC_ID = ? AND LIN_SEQ_NO = ?", docID, seq).
		Updates(fields).Error
}

func (r *documentRepoImpl) SetLineTypes(ctx context.Context, docID, linTyp string) error {
	return r.db.WithContext(ctx).
		Model(&model.DocLine{}).
		Where("DOC_ID = ?", docID).
		Update("LIN_TYP", linTyp).Error
}

func (r *documentRepoImpl) LinePrices(ctx context.Context, docID string) ([]model.DocLinePrice, error) {
	var rows []model.DocLinePrice
	err := r.db.WithContext(ctx).
		Where("DOC_ID = ?", docID).
		Order("LIN_SEQ_NO, PRC_SEQ_NO").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query line prices: %w", err)
	}

	return rows, nil
}

func (r *documentRepoImpl) UpdateLinePrice(ctx context.Context, row model.DocLinePrice) error {
	return r.db.WithContext(ctx).
		Model(&model.DocLinePrice{}).
		Where("DOC_ID = ? AND LIN_SEQ_NO = ? AND PRC_SEQ_NO = ?", row.DocID, row.LinSeqNo, row.PrcSeqNo).
		Updates(map[string]interface{}{
			"QTY_PRCD": row.QtyPrcd,
			"UNIT_PRC": row.UnitPrc,
			"EXT_PRC":  row.ExtPrc,
		}).Error
}

func (r *documentRepoImpl) Payments(ctx context.Context, docID string) ([]model.DocPayment, error) {
	var rows []model.DocPayment
	err := r.db.WithContext(ctx).
		Where("DOC_ID = ?", docID).
		Order("PMT_SEQ_NO").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}

	return rows, nil
}

func (r *documentRepoImpl) UpdatePaymentAmount(ctx context.Context, docID string, seq int, amount interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.DocPayment{}).
		Where("DOC_ID = ? AND PMT_SEQ_NO = ?", docID, seq).
		Update("AMT", amount).Error
}

func (r *documentRepoImpl) PaymentApplies(ctx context.Context, docID string) ([]model.DocPaymentApply, error) {
	var rows []model.DocPaymentApply
	err := r.db.WithContext(ctx).
		Where("DOC_ID = ?", docID).
		Order("PMT_SEQ_NO").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query payment applications: %w", err)
	}

	return rows, nil
}

func (r *documentRepoImpl) UpdatePaymentApplyAmount(ctx context.Context, docID string, seq int, amount interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.DocPaymentApply{}).
		Where("DOC_ID = ? AND PMT_SEQ_NO = ?", docID, seq).
		Update("AMT", amount).Error
}

func (r *documentRepoImpl) SetApplyTypes(ctx context.Context, docID, applTyp string) error {
	return r.db.WithContext(ctx).
		Model(&model.DocPaymentApply{}).
		Where("DOC_ID = ?", docID).
		Update("APPL_TYP", applTyp).Error
}

// ReplaceTotals drops whatever totals the API generated and writes row.
func (r *documentRepoImpl) ReplaceTotals(ctx context.Context, row *model.DocHeaderTotal) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("DOC_ID = ?", row.DocID).Delete(&model.DocHeaderTotal{}).Error; err != nil {
			return fmt.Errorf("delete header totals: %w", err)
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("insert header totals: %w", err)
		}
		return nil
	})
}

func (r *documentRepoImpl) Totals(ctx context.Context, docID string) (*model.DocHeaderTotal, error) {
	var row model.DocHeaderTotal
	err := r.db.WithContext(ctx).
		Where("DOC_ID = ?", docID).
		First(&row).Error
	if err != nil {
		return nil, notFound(r.logger, "header totals", docID, err)
	}

	return &row, nil
}

func (r *documentRepoImpl) InsertLoyalty(ctx context.Context, lines []model.DocLineLoyalty, header *model.DocHeaderLoyalty) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(lines) > 0 {
			if err := tx.Create(&lines).Error; err != nil {
				return fmt.Errorf("insert line loyalty: %w", err)
			}
		}
		if header != nil {
			if err := tx.Create(header).Error; err != nil {
				return fmt.Errorf("insert header loyalty: %w", err)
			}
		}
		return nil
	})
}

func (r *documentRepoImpl) InsertDiscounts(ctx context.Context, rows []model.DocDiscount) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *documentRepoImpl) Discounts(ctx context.Context, docID string) ([]model.DocDiscount, error) {
	var rows []model.DocDiscount
	err := r.db.WithContext(ctx).
		Where("DOC_ID = ?", docID).
		Order("DISC_SEQ_NO").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query document discounts: %w", err)
	}

	return rows, nil
}

func (r *documentRepoImpl) OrigDocID(ctx context.Context, docID string) (string, error) {
	var row model.DocOrigDoc
	err := r.db.WithContext(ctx).
		Where("DOC_ID = ?", docID).
		First(&row).Error
	if err != nil {
		return "", notFound(r.logger, "original document", docID, err)
	}

	return row.OrigDocID, nil
}

// RebindMiscCharge moves the charge rows of fromDocID onto toDocID, flipping
// their sign to negative when negate is set.
func (r *documentRepoImpl) RebindMiscCharge(ctx context.Context, fromDocID, toDocID string, negate bool) (int64, error) {
	var moved int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.DocMiscCharge
		if err := tx.Where("DOC_ID = ?", fromDocID).Find(&rows).Error; err != nil {
			return fmt.Errorf("query misc charges: %w", err)
		}

		for _, row := range rows {
			amt := row.Amt
			if negate {
				amt = amt.Abs().Neg()
			}
			result := tx.Model(&model.DocMiscCharge{}).
				Where("DOC_ID = ? AND MISC_CHRG_SEQ_NO = ?", fromDocID, row.MiscChrgSeq).
				Updates(map[string]interface{}{
					"DOC_ID": toDocID,
					"AMT":    amt,
				})
			if result.Error != nil {
				return fmt.Errorf("rebind misc charge: %w", result.Error)
			}
			moved += result.RowsAffected
		}
		return nil
	})

	return moved, err
}

func (r *documentRepoImpl) MiscCharges(ctx context.Context, docID string) ([]model.DocMiscCharge, error) {
	var rows []model.DocMiscCharge
	err := r.db.WithContext(ctx).
		Where("DOC_ID = ?", docID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query misc charges: %w", err)
	}

	return rows, nil
}

// DeleteOrigDoc removes the order-stage document and its cross-reference.
func (r *documentRepoImpl) DeleteOrigDoc(ctx context.Context, docID, origDocID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteDocument(tx, origDocID); err != nil {
			return err
		}
		return tx.Where("DOC_ID = ?", docID).Delete(&model.DocOrigDoc{}).Error
	})
}

func (r *documentRepoImpl) DeleteDocument(ctx context.Context, docID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteDocument(tx, docID)
	})
}

func deleteDocument(tx *gorm.DB, docID string) error {
	tables := []interface{}{
		&model.DocLine{}, &model.DocLinePrice{}, &model.DocPayment{}, &model.DocPaymentApply{},
		&model.DocHeaderTotal{}, &model.DocMiscCharge{}, &model.DocLineLoyalty{},
		&model.DocHeaderLoyalty{}, &model.DocDiscount{}, &model.DocOrigDoc{}, &model.DocHeader{},
	}
	for _, t := range tables {
		if err := tx.Where("DOC_ID = ?", docID).Delete(t).Error; err != nil {
			return fmt.Errorf("delete document %s: %w", docID, err)
		}
	}
	return nil
}

// RecentForCustomer lists documents for custNo dated at or after since,
// most recently maintained first.
func (r *documentRepoImpl) RecentForCustomer(ctx context.Context, custNo string, since time.Time, limit int) ([]model.DocHeader, error) {
	var docs []model.DocHeader
	err := r.db.WithContext(ctx).
		Where("CUST_NO = ? AND TKT_DT >= ?", custNo, since).
		Order("LST_MAINT_DT DESC").
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("query recent documents: %w", err)
	}

	return docs, nil
}

// TicketSince reports whether custNo has a final ticket dated at or after since.
func (r *documentRepoImpl) TicketSince(ctx context.Context, custNo string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.DocHeader{}).
		Where("CUST_NO = ? AND DOC_TYP = ? AND TKT_DT >= ?", custNo, model.DocTypeTicket, since).
		Count(&count).Error

	return count > 0, err
}
