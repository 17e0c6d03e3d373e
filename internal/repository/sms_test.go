package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	return db, mock
}

func TestSMSRepository_Recipients(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	repo := NewSMSRepository(db, nil)

	query := "SELECT CUST_NO AS customer_no, MBL_PHONE_1 AS phone, NAM AS name, CATEG_COD AS category, LOY_PTS_BAL AS rewards_balance FROM AR_CUST"
	mock.ExpectQuery("SELECT CUST_NO AS customer_no").
		WillReturnRows(sqlmock.NewRows([]string{"customer_no", "phone", "name", "category", "rewards_balance"}).
			AddRow("C1", "555-123-4567", "Ada", "VIP", "120").
			AddRow("C2", nil, "Nobody", "RETAIL", "0").
			AddRow("C3", "555-987-6543", "Grace", "RETAIL", nil))

	got, err := repo.Recipients(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Recipient{CustNo: "C1", Phone: "555-123-4567", Name: "Ada", Category: "VIP", RewardsBalance: 120}, got[0])
	assert.Equal(t, "C3", got[1].CustNo)
	assert.Zero(t, got[1].RewardsBalance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSMSRepository_RecipientsQueryError(t *testing.T) {
	t.Parallel()
	db, mock := newMockDB(t)
	repo := NewSMSRepository(db, nil)

	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	_, err := repo.Recipients(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, assert.AnError)
}
