package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"retail-integration/internal/model"

	"gorm.io/gorm"
)

// Recipient is one row produced by a campaign query.
type Recipient struct {
	CustNo         string
	Phone          string
	Name           string
	Category       string
	RewardsBalance int64
}

type SMSRepository interface {
	Log(ctx context.Context, entry *model.SMSLog) error
	History(ctx context.Context, phone string, limit int) ([]model.SMSLog, error)
	Recipients(ctx context.Context, query string) ([]Recipient, error)
}

type smsRepoImpl struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewSMSRepository(db *gorm.DB, logger *slog.Logger) SMSRepository {
	return &smsRepoImpl{
		db:     db,
		logger: orDiscard(logger),
	}
}

func (r *smsRepoImpl) Log(ctx context.Context, entry *model.SMSLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("insert sms log: %w", err)
	}
	return nil
}

func (r *smsRepoImpl) History(ctx context.Context, phone string, limit int) ([]model.SMSLog, error) {
	var rows []model.SMSLog
	err := r.db.WithContext(ctx).
		Where("PHONE = ?", phone).
		Order("CREATED_AT DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query sms history: %w", err)
	}

	return rows, nil
}

// Recipients runs an operator-authored campaign query. Columns are matched by
// name: customer_no, phone, name, category and the optional rewards_balance.
func (r *smsRepoImpl) Recipients(ctx context.Context, query string) ([]Recipient, error) {
	rows, err := r.db.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, fmt.Errorf("run campaign query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read campaign columns: %w", err)
	}

	var out []Recipient
	for rows.Next() {
		values := make([]sql.NullString, len(cols))
		dest := make([]interface{}, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan campaign row: %w", err)
		}

		var rec Recipient
		for i, col := range cols {
			v := strings.TrimSpace(values[i].String)
			switch strings.ToLower(col) {
			case "customer_no", "cust_no":
				rec.CustNo = v
			case "phone":
				rec.Phone = v
			case "name":
				rec.Name = v
			case "category":
				rec.Category = v
			case "rewards_balance":
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					rec.RewardsBalance = int64(f)
				}
			}
		}
		if rec.Phone == "" {
			r.logger.Warn("campaign row without phone", "cust_no", rec.CustNo)
			continue
		}
		out = append(out, rec)
	}

	return out, rows.Err()
}
