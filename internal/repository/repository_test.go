package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(model.ERPModels()...))
	require.NoError(t, db.AutoMigrate(model.MiddlewareModels()...))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCustomerRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewCustomerRepository(newTestDB(t), nil)

	c := &model.Customer{FstNam: "Ada", LstNam: "Lovelace", Email: "Ada@Example.com", MblPhone: "555-123-4567", LoyPtsBal: -4}
	require.NoError(t, repo.Create(ctx, c))
	assert.Equal(t, "W000000001", c.CustNo)
	assert.Equal(t, "Ada Lovelace", c.Nam)
	assert.Equal(t, int64(0), c.LoyPtsBal)

	got, err := repo.FindByContact(ctx, "ada@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, c.CustNo, got.CustNo)

	got, err = repo.FindByContact(ctx, "nobody@example.com", "(555) 123-4567")
	require.NoError(t, err)
	assert.Equal(t, c.CustNo, got.CustNo)

	_, err = repo.FindByContact(ctx, "nobody@example.com", "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	bal, err := repo.AdjustLoyalty(ctx, c.CustNo, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), bal)

	bal, err = repo.AdjustLoyalty(ctx, c.CustNo, -25)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	out, err := repo.OptedOut(ctx, []string{"555-123-4567"})
	require.NoError(t, err)
	assert.Empty(t, out)

	n, err := repo.SetSMSSubscribe(ctx, "+15551234567", false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	out, err = repo.OptedOut(ctx, []string{"(555) 123-4567", "555-000-0000", "not a phone"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"555-123-4567": true}, out)

	require.NoError(t, repo.DemoteMobile(ctx, "5551234567"))
	got, err = repo.Get(ctx, c.CustNo)
	require.NoError(t, err)
	assert.Equal(t, "N", got.SMSSub)
	assert.Empty(t, got.MblPhone)
	assert.Equal(t, "555-123-4567", got.Phone)

	second := &model.Customer{FstNam: "Grace"}
	require.NoError(t, repo.Create(ctx, second))
	assert.Equal(t, "W000000002", second.CustNo)

	changed, err := repo.ChangedSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, changed, 2)
}

func seedDocument(t *testing.T, db *gorm.DB, docID, custNo, tktNo string, tktDt time.Time) {
	t.Helper()

	require.NoError(t, db.Create(&model.DocHeader{
		DocID: docID, TktNo: tktNo, CustNo: custNo, DocTyp: model.DocTypeTicket,
		TktTyp: model.TicketTypeTicket, TktDt: tktDt, LstMaintDt: tktDt,
	}).Error)
	require.NoError(t, db.Create(&model.DocLine{DocID: docID, LinSeqNo: 1, TktNo: tktNo, ItemNo: "A", QtySold: dec("1"), ExtPrc: dec("10")}).Error)
	require.NoError(t, db.Create(&model.DocPayment{DocID: docID, PmtSeqNo: 1, TktNo: tktNo, PayCod: "WEB", Amt: dec("10")}).Error)
}

func TestDocumentRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewDocumentRepository(db, nil)
	now := time.Now()

	seedDocument(t, db, "100", "C1", "", now.Add(-2*time.Minute))
	seedDocument(t, db, "101", "C1", "5001R1", now.Add(-time.Minute))

	require.NoError(t, repo.SetTicketNumber(ctx, "100", "5001"))
	lines, err := repo.Lines(ctx, "100")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "5001", lines[0].TktNo)
	pmts, err := repo.Payments(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, "5001", pmts[0].TktNo)

	hdr, err := repo.FindTicket(ctx, "5001")
	require.NoError(t, err)
	assert.Equal(t, "100", hdr.DocID)

	tickets, err := repo.TicketNumbersLike(ctx, "5001R")
	require.NoError(t, err)
	assert.Equal(t, []string{"5001R1"}, tickets)

	recent, err := repo.RecentForCustomer(ctx, "C1", now.Add(-time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "101", recent[0].DocID)

	ok, err := repo.TicketSince(ctx, "C1", now.Add(-90*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, db.Create(&model.DocMiscCharge{DocID: "900", TotTyp: "S", MiscChrgSeq: 1, MiscTyp: "O", Amt: dec("5")}).Error)
	moved, err := repo.RebindMiscCharge(ctx, "900", "101", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)
	charges, err := repo.MiscCharges(ctx, "101")
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, "-5.00", charges[0].Amt.StringFixed(2))

	require.NoError(t, repo.ReplaceTotals(ctx, &model.DocHeaderTotal{DocID: "101", TotTyp: "S", Lins: 3}))
	require.NoError(t, repo.ReplaceTotals(ctx, &model.DocHeaderTotal{DocID: "101", TotTyp: "S", Lins: 4}))
	tot, err := repo.Totals(ctx, "101")
	require.NoError(t, err)
	assert.Equal(t, 4, tot.Lins)

	require.NoError(t, repo.DeleteDocument(ctx, "101"))
	_, err = repo.Header(ctx, "101")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	lines, err = repo.Lines(ctx, "101")
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestGiftCardRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewGiftCardRepository(newTestDB(t), nil)

	card := &model.GiftCard{GfcNo: "GC-ABCD1234", OrigAmt: dec("50")}
	require.NoError(t, repo.Issue(ctx, card, "D1", "5001"))

	got, err := repo.FindByLastChars(ctx, "1234")
	require.NoError(t, err)
	assert.Equal(t, "50.00", got.CurrAmt.StringFixed(2))

	require.NoError(t, repo.Refund(ctx, card.GfcNo, dec("-50"), decimal.Zero, "D2", "5001R1"))

	acts, err := repo.Activities(ctx, card.GfcNo)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, model.GiftCardIssue, acts[0].ActivTyp)
	assert.Equal(t, 1, acts[0].SeqNo)
	assert.Equal(t, model.GiftCardRefund, acts[1].ActivTyp)
	assert.Equal(t, 2, acts[1].SeqNo)

	got, err = repo.Get(ctx, card.GfcNo)
	require.NoError(t, err)
	assert.True(t, got.CurrAmt.IsZero())

	_, err = repo.FindByLastChars(ctx, "9999")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDraftHoldRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewDraftHoldRepository(newTestDB(t), nil)

	require.NoError(t, repo.Create(ctx, &model.DraftHold{DocID: "D1", DraftID: "7"}))
	assert.Error(t, repo.Create(ctx, &model.DraftHold{DocID: "D2", DraftID: "7"}))

	hold, err := repo.FindByDraft(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, "D1", hold.DocID)

	require.NoError(t, repo.Delete(ctx, "D1"))
	holds, err := repo.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestStockNotifyRepository_Ready(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewStockNotifyRepository(db, nil)

	require.NoError(t, db.Create(&model.Item{ItemNo: "BTSP5OZ", Descr: "Bitters 5oz"}).Error)
	require.NoError(t, db.Create(&model.Inventory{ItemNo: "BTSP5OZ", LocID: "1", QtyAvail: dec("4")}).Error)
	require.NoError(t, db.Create(&model.Inventory{ItemNo: "EMPTY", LocID: "1", QtyAvail: decimal.Zero}).Error)
	require.NoError(t, repo.Subscribe(ctx, &model.StockSubscription{ItemNo: "BTSP5OZ", Phone: "5551234567"}))
	require.NoError(t, repo.Subscribe(ctx, &model.StockSubscription{ItemNo: "EMPTY", Email: "a@b.c"}))

	ready, err := repo.Ready(ctx, "1")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "BTSP5OZ", ready[0].ItemNo)
	assert.Equal(t, "Bitters 5oz", ready[0].Descr)
	assert.Equal(t, "4", ready[0].QtyAvail.String())

	require.NoError(t, repo.Delete(ctx, ready[0].ID))
	ready, err = repo.Ready(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestDiscountRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewDiscountRepository(newTestDB(t), nil)
	now := time.Now()

	require.NoError(t, repo.CreateRule(ctx, &model.DiscountRule{GrpCod: "BISABCDEFGH", DiscAmt: dec("10"), EndDat: now.Add(-time.Hour)}))
	exists, err := repo.CodeExists(ctx, "BISABCDEFGH")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, repo.SaveMapping(ctx, &model.PromoMapping{GrpCod: "BISABCDEFGH", ShopID: "gid://shopify/DiscountCodeNode/1", ExpiresAt: now.Add(-time.Hour)}))
	expired, err := repo.ExpiredMappings(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	require.NoError(t, repo.Disable(ctx, "BISABCDEFGH"))
	require.NoError(t, repo.DeleteMapping(ctx, "BISABCDEFGH"))
	_, err = repo.Mapping(ctx, "BISABCDEFGH")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.ErrorIs(t, repo.Disable(ctx, "NOPE"), apperr.ErrNotFound)
}

func TestMirrorRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMirrorRepository(newTestDB(t), nil)

	require.NoError(t, repo.UpsertCustomer(ctx, &model.CustomerMirror{CustNo: "C1", ShopID: "1"}))
	require.NoError(t, repo.UpsertCustomer(ctx, &model.CustomerMirror{CustNo: "C1", ShopID: "2"}))
	m, err := repo.Customer(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "2", m.ShopID)

	require.NoError(t, repo.UpsertProduct(ctx, &model.ProductMirror{ItemNo: "A", ProductID: "P1", Categ: "BAR"}))
	prods, err := repo.ProductsInCategory(ctx, "BAR")
	require.NoError(t, err)
	assert.Len(t, prods, 1)

	require.NoError(t, repo.Rebuild(ctx))
	_, err = repo.Customer(ctx, "C1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestWebhookEventRepository(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewWebhookEventRepository(newTestDB(t))

	first, err := repo.Claim(ctx, "shopify-orders", "evt-1")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := repo.Claim(ctx, "shopify-orders", "evt-1")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := repo.Claim(ctx, "shopify-draft-create", "evt-1")
	require.NoError(t, err)
	assert.True(t, other, "ids are scoped by topic")

	require.NoError(t, repo.Release(ctx, "shopify-draft-create", "evt-1"))
	other, err = repo.Claim(ctx, "shopify-draft-create", "evt-1")
	require.NoError(t, err)
	assert.True(t, other, "released ids can be claimed again")

	n, err := repo.PurgeBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
