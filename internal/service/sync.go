package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/client"
	"retail-integration/internal/errsink"
	"retail-integration/internal/model"
	"retail-integration/internal/repository"
	"retail-integration/internal/util"

	"github.com/shopspring/decimal"
)

type SyncReport struct {
	Customers   int
	Products    int
	Collections int
	Failures    int
}

func (r SyncReport) String() string {
	return fmt.Sprintf("%d customers, %d products, %d collections synced, %d failures",
		r.Customers, r.Products, r.Collections, r.Failures)
}

type SyncService interface {
	// Sync pushes ERP changes at or after since to the storefront.
	Sync(ctx context.Context, since time.Time) (SyncReport, error)
	// SyncSinceLast runs Sync from the stamp file and advances it.
	SyncSinceLast(ctx context.Context) (SyncReport, error)
	// Initialize rebuilds the mirror tables and runs a full sync.
	Initialize(ctx context.Context) (SyncReport, error)
	OnSyncOnDemand(ctx context.Context, phone string) error
	DeleteCustomer(ctx context.Context, custNo string) error
	DeleteDiscount(ctx context.Context, grpCod string) error
}

type syncServiceImpl struct {
	shopify   client.ShopifyClient
	customers repository.CustomerRepository
	products  repository.ProductRepository
	mirror    repository.MirrorRepository
	discounts repository.DiscountRepository
	texts     texter
	sink      errsink.Sink
	locID     string
	stampPath string
	now       func() time.Time
	// one sync at a time; scheduled and on-demand runs share the stamp
	mu     sync.Mutex
	logger *slog.Logger
}

func NewSyncService(
	shopify client.ShopifyClient,
	customers repository.CustomerRepository,
	products repository.ProductRepository,
	mirror repository.MirrorRepository,
	discounts repository.DiscountRepository,
	sms client.SMSSender,
	smsLog repository.SMSRepository,
	sink errsink.Sink,
	locID string,
	stampPath string,
	logger *slog.Logger,
) SyncService {
	return &syncServiceImpl{
		shopify:   shopify,
		customers: customers,
		products:  products,
		mirror:    mirror,
		discounts: discounts,
		texts:     texter{sender: sms, log: smsLog, logger: logger},
		sink:      sink,
		locID:     locID,
		stampPath: stampPath,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *syncServiceImpl) Sync(ctx context.Context, since time.Time) (SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync(ctx, since)
}

func (s *syncServiceImpl) SyncSinceLast(ctx context.Context) (SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	since, err := util.ReadStamp(s.stampPath)
	if err != nil {
		return SyncReport{}, err
	}
	started := s.now()
	report, err := s.sync(ctx, since)
	if err != nil {
		return report, err
	}
	return report, util.WriteStamp(s.stampPath, started)
}

func (s *syncServiceImpl) Initialize(ctx context.Context) (SyncReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mirror.Rebuild(ctx); err != nil {
		return SyncReport{}, err
	}

	collections, err := s.shopify.ListCollections(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("list collections: %w", err)
	}
	for _, c := range collections {
		m := &model.CollectionMirror{CollectionID: c.ID, Categ: strings.ToUpper(c.Handle)}
		if err := s.mirror.UpsertCollection(ctx, m); err != nil {
			return SyncReport{}, fmt.Errorf("mirror collection %s: %w", c.ID, err)
		}
	}
	s.logger.Info("mirror tables rebuilt", "collections", len(collections))

	started := s.now()
	report, err := s.sync(ctx, time.Time{})
	if err != nil {
		return report, err
	}
	return report, util.WriteStamp(s.stampPath, started)
}

func (s *syncServiceImpl) OnSyncOnDemand(ctx context.Context, phone string) error {
	phone = strings.Trim(strings.TrimSpace(phone), `"`)
	if phone != "" && util.E164(phone) == "" {
		return fmt.Errorf("sync on demand: phone %q: %w", phone, apperr.ErrBadPayload)
	}

	s.notify(ctx, phone, "Sync started.")
	report, err := s.SyncSinceLast(ctx)
	if err != nil {
		s.notify(ctx, phone, "Sync failed: "+err.Error())
		return err
	}
	s.notify(ctx, phone, "Sync complete: "+report.String()+".")
	return nil
}

func (s *syncServiceImpl) notify(ctx context.Context, phone, body string) {
	if phone == "" {
		return
	}
	guard(ctx, s.sink, "sync.notify", func() error {
		_, err := s.texts.send(ctx, "", phone, body, "", "")
		return err
	})
}

func (s *syncServiceImpl) sync(ctx context.Context, since time.Time) (SyncReport, error) {
	var report SyncReport

	customers, err := s.customers.ChangedSince(ctx, since)
	if err != nil {
		return report, err
	}
	for i := range customers {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if guard(ctx, s.sink, "sync.customer", func() error { return s.syncCustomer(ctx, &customers[i]) }) {
			report.Customers++
		} else {
			report.Failures++
		}
	}

	items, err := s.products.ChangedSince(ctx, since)
	if err != nil {
		return report, err
	}
	itemNos := make([]string, 0, len(items))
	for _, it := range items {
		itemNos = append(itemNos, it.ItemNo)
	}
	avail, err := s.products.Available(ctx, itemNos, s.locID)
	if err != nil {
		return report, err
	}

	touched := map[string]bool{}
	for i := range items {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		it := &items[i]
		if guard(ctx, s.sink, "sync.product", func() error { return s.syncItem(ctx, it, avail[it.ItemNo]) }) {
			report.Products++
			touched[it.Categ] = true
		} else {
			report.Failures++
		}
	}

	collections, err := s.mirror.Collections(ctx)
	if err != nil {
		return report, err
	}
	for _, c := range collections {
		if !since.IsZero() && !touched[c.Categ] {
			continue
		}
		if guard(ctx, s.sink, "sync.collection", func() error { return s.reorder(ctx, c) }) {
			report.Collections++
		} else {
			report.Failures++
		}
	}

	s.logger.Info("sync finished", "since", since, "customers", report.Customers,
		"products", report.Products, "collections", report.Collections, "failures", report.Failures)
	return report, nil
}

func (s *syncServiceImpl) syncCustomer(ctx context.Context, c *model.Customer) error {
	if c.LoyPtsBal < 0 {
		// a zero adjustment clamps the stored balance
		bal, err := s.customers.AdjustLoyalty(ctx, c.CustNo, 0)
		if err != nil {
			return fmt.Errorf("repair loyalty for %s: %w", c.CustNo, err)
		}
		c.LoyPtsBal = bal
	}

	in := client.CustomerInput{
		FirstName:     c.FstNam,
		LastName:      c.LstNam,
		Email:         c.Email,
		Phone:         util.E164(cmp.Or(c.MblPhone, c.Phone)),
		LoyaltyPoints: max(c.LoyPtsBal, 0),
		Marketing:     c.MarketingConsent(),
	}
	if c.Categ != "" {
		in.Tags = []string{c.Categ}
	}

	m, err := s.mirror.Customer(ctx, c.CustNo)
	switch {
	case err == nil:
		in.ID = m.ShopID
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}
	if in.Email == "" && in.Phone == "" {
		return nil
	}

	shopID, err := s.shopify.UpsertCustomer(ctx, in)
	if err != nil {
		return fmt.Errorf("upsert customer %s: %w", c.CustNo, err)
	}
	return s.mirror.UpsertCustomer(ctx, &model.CustomerMirror{CustNo: c.CustNo, ShopID: shopID, LstSyncDat: s.now()})
}

func (s *syncServiceImpl) syncItem(ctx context.Context, it *model.Item, qty decimal.Decimal) error {
	m, err := s.mirror.Product(ctx, it.ItemNo)
	if errors.Is(err, apperr.ErrNotFound) {
		ref, ferr := s.shopify.FindVariantBySKU(ctx, it.ItemNo)
		if errors.Is(ferr, apperr.ErrNotFound) {
			// not sold online
			return nil
		}
		if ferr != nil {
			return fmt.Errorf("find variant %s: %w", it.ItemNo, ferr)
		}
		m = &model.ProductMirror{
			ItemNo:          it.ItemNo,
			ProductID:       ref.ProductID,
			VariantID:       ref.VariantID,
			InventoryItemID: ref.InventoryItemID,
		}
	} else if err != nil {
		return err
	}

	if it.Prc1.IsPositive() {
		if err := s.shopify.UpdateVariantPrice(ctx, m.ProductID, m.VariantID, util.Round2(it.Prc1)); err != nil {
			return fmt.Errorf("price %s: %w", it.ItemNo, err)
		}
	}
	if err := s.shopify.SetInventory(ctx, m.InventoryItemID, int(util.WholeUnits(qty))); err != nil {
		return fmt.Errorf("inventory %s: %w", it.ItemNo, err)
	}

	m.Categ = it.Categ
	m.LstSyncDat = s.now()
	return s.mirror.UpsertProduct(ctx, m)
}

// reorder puts a collection's in-stock products first, keeping item order
// within each group.
func (s *syncServiceImpl) reorder(ctx context.Context, c model.CollectionMirror) error {
	products, err := s.mirror.ProductsInCategory(ctx, c.Categ)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		return nil
	}

	itemNos := make([]string, len(products))
	for i, p := range products {
		itemNos[i] = p.ItemNo
	}
	avail, err := s.products.Available(ctx, itemNos, s.locID)
	if err != nil {
		return err
	}

	slices.SortStableFunc(products, func(a, b model.ProductMirror) int {
		ia, ib := avail[a.ItemNo].IsPositive(), avail[b.ItemNo].IsPositive()
		switch {
		case ia == ib:
			return 0
		case ia:
			return -1
		default:
			return 1
		}
	})

	var ids []string
	seen := map[string]bool{}
	for _, p := range products {
		if p.ProductID == "" || seen[p.ProductID] {
			continue
		}
		seen[p.ProductID] = true
		ids = append(ids, p.ProductID)
	}
	return s.shopify.ReorderCollection(ctx, c.CollectionID, ids)
}

func (s *syncServiceImpl) DeleteCustomer(ctx context.Context, custNo string) error {
	m, err := s.mirror.Customer(ctx, custNo)
	if err != nil {
		return err
	}
	if err := s.shopify.DeleteCustomer(ctx, m.ShopID); err != nil {
		return fmt.Errorf("delete storefront customer %s: %w", custNo, err)
	}
	return s.mirror.DeleteCustomer(ctx, custNo)
}

func (s *syncServiceImpl) DeleteDiscount(ctx context.Context, grpCod string) error {
	m, err := s.discounts.Mapping(ctx, grpCod)
	if err != nil {
		return err
	}
	if err := s.shopify.DeleteDiscountCode(ctx, m.ShopID); err != nil {
		return fmt.Errorf("delete storefront discount %s: %w", grpCod, err)
	}
	return s.discounts.Delete(ctx, grpCod)
}
