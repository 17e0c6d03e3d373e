package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/model"
	"retail-integration/internal/util"

	"gorm.io/gorm"
)

type CustomerRepository interface {
	Get(ctx context.Context, custNo string) (*model.Customer, error)
	FindByContact(ctx context.Context, email, phone string) (*model.Customer, error)
	FindByPhone(ctx context.Context, phone string) (*model.Customer, error)
	Create(ctx context.Context, customer *model.Customer) error
	Update(ctx context.Context, customer *model.Customer) error
	Delete(ctx context.Context, custNo string) error
	AdjustLoyalty(ctx context.Context, custNo string, delta int64) (int64, error)
	SetSMSSubscribe(ctx context.Context, phone string, subscribed bool) (int64, error)
	OptedOut(ctx context.Context, phones []string) (map[string]bool, error)
	DemoteMobile(ctx context.Context, phone string) error
	ChangedSince(ctx context.Context, since time.Time) ([]model.Customer, error)
}

type customerRepoImpl struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewCustomerRepository(db *gorm.DB, logger *slog.Logger) CustomerRepository {
	return &customerRepoImpl{
		db:     db,
		logger: orDiscard(logger),
	}
}

func (r *customerRepoImpl) Get(ctx context.Context, custNo string) (*model.Customer, error) {
	var customer model.Customer
	err := r.db.WithContext(ctx).
		Where("CUST_NO = ?", custNo).
		First(&customer).Error
	if err != nil {
		return nil, notFound(r.logger, "customer", custNo, err)
	}

	return &customer, nil
}

// FindByContact matches on email first, then on either phone column.
func (r *customerRepoImpl) FindByContact(ctx context.Context, email, phone string) (*model.Customer, error) {
	if email != "" {
		var customer model.Customer
		err := r.db.WithContext(ctx).
			Where("LOWER(EMAIL_ADRS_1) = LOWER(?)", email).
			Order("LST_MAINT_DT DESC").
			First(&customer).Error
		if err == nil {
			return &customer, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("query customer by email: %w", err)
		}
	}

	if phone != "" {
		return r.FindByPhone(ctx, phone)
	}
	return nil, notFound(r.logger, "customer", email, gorm.ErrRecordNotFound)
}

func (r *customerRepoImpl) FindByPhone(ctx context.Context, phone string) (*model.Customer, error) {
	formatted := util.ERPPhone(phone)
	if formatted == "" {
		return nil, fmt.Errorf("find customer by phone %q: %w", phone, util.ErrInvalidPhone)
	}

	var customer model.Customer
	err := r.db.WithContext(ctx).
		Where("MBL_PHONE_1 = ? OR PHONE_1 = ?", formatted, formatted).
		Order("LST_MAINT_DT DESC").
		First(&customer).Error
	if err != nil {
		return nil, notFound(r.logger, "customer", formatted, err)
	}

	return &customer, nil
}

// Create assigns the next free web customer number when none is set.
func (r *customerRepoImpl) Create(ctx context.Context, customer *model.Customer) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if customer.CustNo == "" {
			var count int64
			if err := tx.Model(&model.Customer{}).Where("CUST_NO LIKE ?", "W%").Count(&count).Error; err != nil {
				return fmt.Errorf("count web customers: %w", err)
			}
			for n := count + 1; ; n++ {
				candidate := fmt.Sprintf("W%09d", n)
				var taken int64
				if err := tx.Model(&model.Customer{}).Where("CUST_NO = ?", candidate).Count(&taken).Error; err != nil {
					return fmt.Errorf("check customer number: %w", err)
				}
				if taken == 0 {
					customer.CustNo = candidate
					break
				}
			}
		}

		now := time.Now()
		if customer.FstSalDat.IsZero() {
			customer.FstSalDat = now
		}
		customer.LstMaintDt = now
		if customer.Nam == "" {
			customer.Nam = fullName(customer.FstNam, customer.LstNam)
		}
		if customer.LoyPtsBal < 0 {
			customer.LoyPtsBal = 0
		}

		return tx.Create(customer).Error
	})
}

func (r *customerRepoImpl) Update(ctx context.Context, customer *model.Customer) error {
	result := r.db.WithContext(ctx).
		Model(&model.Customer{}).
		Where("CUST_NO = ?", customer.CustNo).
		Updates(map[string]interface{}{
			"NAM":          fullName(customer.FstNam, customer.LstNam),
			"FST_NAM":      customer.FstNam,
			"LST_NAM":      customer.LstNam,
			"EMAIL_ADRS_1": customer.Email,
			"PHONE_1":      customer.Phone,
			"MBL_PHONE_1":  customer.MblPhone,
			"ADRS_1":       customer.Adrs1,
			"ADRS_2":       customer.Adrs2,
			"CITY":         customer.City,
			"STATE":        customer.State,
			"ZIP_COD":      customer.ZipCod,
			"CNTRY":        customer.Cntry,
			"LST_MAINT_DT": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("update customer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(r.logger, "customer", customer.CustNo, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *customerRepoImpl) Delete(ctx context.Context, custNo string) error {
	result := r.db.WithContext(ctx).Where("CUST_NO = ?", custNo).Delete(&model.Customer{})
	if result.Error != nil {
		return fmt.Errorf("delete customer: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFound(r.logger, "customer", custNo, gorm.ErrRecordNotFound)
	}
	return nil
}

// AdjustLoyalty adds delta to the point balance and clamps the result at zero.
// A balance that was already negative is repaired with a warning.
func (r *customerRepoImpl) AdjustLoyalty(ctx context.Context, custNo string, delta int64) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var customer model.Customer
		if err := tx.Select("CUST_NO", "LOY_PTS_BAL").Where("CUST_NO = ?", custNo).First(&customer).Error; err != nil {
			return notFound(r.logger, "customer", custNo, err)
		}

		opening := customer.LoyPtsBal
		if opening < 0 {
			r.logger.Warn("negative loyalty balance repaired", "cust_no", custNo, "balance", opening)
			opening = 0
		}

		balance = opening + delta
		if balance < 0 {
			r.logger.Warn("loyalty balance clamped", "cust_no", custNo, "balance", balance)
			balance = 0
		}

		return tx.Model(&model.Customer{}).
			Where("CUST_NO = ?", custNo).
			Updates(map[string]interface{}{
				"LOY_PTS_BAL":  balance,
				"LST_MAINT_DT": time.Now(),
			}).Error
	})

	return balance, err
}

func (r *customerRepoImpl) SetSMSSubscribe(ctx context.Context, phone string, subscribed bool) (int64, error) {
	formatted := util.ERPPhone(phone)
	if formatted == "" {
		return 0, fmt.Errorf("set sms subscription %q: %w", phone, apperr.ErrBadPayload)
	}

	flag := "N"
	if subscribed {
		flag = "Y"
	}

	result := r.db.WithContext(ctx).
		Model(&model.Customer{}).
		Where("MBL_PHONE_1 = ? OR PHONE_1 = ?", formatted, formatted).
		Updates(map[string]interface{}{
			"SMS_SUBSCRIBE": flag,
			"LST_MAINT_DT":  time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("set sms subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		r.logger.Warn("no rows", "entity", "customer", "key", formatted)
	}
	return result.RowsAffected, nil
}

// phoneBatch keeps IN lists under the SQL Server parameter limit.
const phoneBatch = 500

// OptedOut returns the ERP-formatted phones among phones that belong to a
// customer with SMS_SUBSCRIBE = 'N'.
func (r *customerRepoImpl) OptedOut(ctx context.Context, phones []string) (map[string]bool, error) {
	var formatted []string
	for _, p := range phones {
		if f := util.ERPPhone(p); f != "" {
			formatted = append(formatted, f)
		}
	}

	out := make(map[string]bool)
	for batch := range slices.Chunk(formatted, phoneBatch) {
		var rows []model.Customer
		err := r.db.WithContext(ctx).
			Select("MBL_PHONE_1", "PHONE_1").
			Where("SMS_SUBSCRIBE = ?", "N").
			Where(r.db.Where("MBL_PHONE_1 IN ?", batch).Or("PHONE_1 IN ?", batch)).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("query opted-out phones: %w", err)
		}
		for _, c := range rows {
			for _, p := range []string{c.MblPhone, c.Phone} {
				if p != "" && slices.Contains(batch, p) {
					out[p] = true
				}
			}
		}
	}
	return out, nil
}

// DemoteMobile moves a number that cannot receive texts from the mobile
// column to the landline column.
func (r *customerRepoImpl) DemoteMobile(ctx context.Context, phone string) error {
	formatted := util.ERPPhone(phone)
	if formatted == "" {
		return fmt.Errorf("demote phone %q: %w", phone, apperr.ErrBadPayload)
	}

	return r.db.WithContext(ctx).
		Model(&model.Customer{}).
		Where("MBL_PHONE_1 = ?", formatted).
		Updates(map[string]interface{}{
			"PHONE_1":      formatted,
			"MBL_PHONE_1":  "",
			"LST_MAINT_DT": time.Now(),
		}).Error
}

func (r *customerRepoImpl) ChangedSince(ctx context.Context, since time.Time) ([]model.Customer, error) {
	var customers []model.Customer
	err := r.db.WithContext(ctx).
		Where("LST_MAINT_DT >= ?", since).
		Order("LST_MAINT_DT").
		Find(&customers).Error
	if err != nil {
		return nil, fmt.Errorf("query changed customers: %w", err)
	}

	return customers, nil
}

func fullName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
