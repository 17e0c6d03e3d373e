package repository

import (
	"context"
	"fmt"
	"log/slog"

	"retail-integration/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MirrorRepository tracks which storefront ids mirror which ERP rows.
type MirrorRepository interface {
	UpsertCustomer(ctx context.Context, m *model.CustomerMirror) error
	Customer(ctx context.Context, custNo string) (*model.CustomerMirror, error)
	DeleteCustomer(ctx context.Context, custNo string) error
	UpsertProduct(ctx context.Context, m *model.ProductMirror) error
	Product(ctx context.Context, itemNo string) (*model.ProductMirror, error)
	ProductsInCategory(ctx context.Context, categ string) ([]model.ProductMirror, error)
	UpsertCollection(ctx context.Context, m *model.CollectionMirror) error
	Collections(ctx context.Context) ([]model.CollectionMirror, error)
	Rebuild(ctx context.Context) error
}

type mirrorRepoImpl struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewMirrorRepository(db *gorm.DB, logger *slog.Logger) MirrorRepository {
	return &mirrorRepoImpl{
		db:     db,
		logger: orDiscard(logger),
	}
}

func (r *mirrorRepoImpl) UpsertCustomer(ctx context.Context, m *model.CustomerMirror) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "CUST_NO"}},
		DoUpdates: clause.AssignmentColumns([]string{"SHOP_ID", "LST_SYNC_DAT"}),
	}).Create(m).Error
}

func (r *mirrorRepoImpl) Customer(ctx context.Context, custNo string) (*model.CustomerMirror, error) {
	var m model.CustomerMirror
	err := r.db.WithContext(ctx).Where("CUST_NO = ?", custNo).First(&m).Error
	if err != nil {
		return nil, notFound(r.logger, "customer mirror", custNo, err)
	}
	return &m, nil
}

func (r *mirrorRepoImpl) DeleteCustomer(ctx context.Context, custNo string) error {
	return r.db.WithContext(ctx).Where("CUST_NO = ?", custNo).Delete(&model.CustomerMirror{}).Error
}

func (r *mirrorRepoImpl) UpsertProduct(ctx context.Context, m *model.ProductMirror) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ITEM_NO"}},
		DoUpdates: clause.AssignmentColumns([]string{"PRODUCT_ID", "VARIANT_ID", "INVENTORY_ITEM_ID", "CATEG_COD", "LST_SYNC_DAT"}),
	}).Create(m).Error
}

func (r *mirrorRepoImpl) Product(ctx context.Context, itemNo string) (*model.ProductMirror, error) {
	var m model.ProductMirror
	err := r.db.WithContext(ctx).Where("ITEM_NO = ?", itemNo).First(&m).Error
	if err != nil {
		return nil, notFound(r.logger, "product mirror", itemNo, err)
	}
	return &m, nil
}

func (r *mirrorRepoImpl) ProductsInCategory(ctx context.Context, categ string) ([]model.ProductMirror, error) {
	var rows []model.ProductMirror
	err := r.db.WithContext(ctx).Where("CATEG_COD = ?", categ).Order("ITEM_NO").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query product mirror: %w", err)
	}
	return rows, nil
}

func (r *mirrorRepoImpl) UpsertCollection(ctx context.Context, m *model.CollectionMirror) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "COLLECTION_ID"}},
		DoUpdates: clause.AssignmentColumns([]string{"CATEG_COD"}),
	}).Create(m).Error
}

func (r *mirrorRepoImpl) Collections(ctx context.Context) ([]model.CollectionMirror, error) {
	var rows []model.CollectionMirror
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query collection mirror: %w", err)
	}
	return rows, nil
}

// Rebuild drops and recreates the mirror tables.
func (r *mirrorRepoImpl) Rebuild(ctx context.Context) error {
	m := r.db.WithContext(ctx).Migrator()
	if err := m.DropTable(model.MirrorModels()...); err != nil {
		return fmt.Errorf("drop mirror tables: %w", err)
	}
	if err := m.AutoMigrate(model.MirrorModels()...); err != nil {
		return fmt.Errorf("create mirror tables: %w", err)
	}
	return nil
}
