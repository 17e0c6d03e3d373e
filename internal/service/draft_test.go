package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/errsink"
	"retail-integration/internal/logging"
	"retail-integration/internal/model"
	"retail-integration/internal/posting"
	"retail-integration/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeHoldAPI stores the header of every posted document as H1, H2, ...
type fakeHoldAPI struct {
	db       *gorm.DB
	next     int
	payloads []*model.DocumentPayload
}

func (f *fakeHoldAPI) PostDocument(_ context.Context, p *model.DocumentPayload) (string, error) {
	f.next++
	f.payloads = append(f.payloads, p)
	docID := fmt.Sprintf("H%d", f.next)
	now := time.Now().UTC()
	err := f.db.Create(&model.DocHeader{
		DocID: docID, CustNo: p.Header.CustNo, DocTyp: p.Header.DocTyp, TktDt: now, LstMaintDt: now,
	}).Error
	return docID, err
}

type draftFixture struct {
	db        *gorm.DB
	shopify   *fakeShopify
	api       *fakeHoldAPI
	holds     repository.DraftHoldRepository
	documents repository.DocumentRepository
	sink      *errsink.Collector
	svc       DraftService
}

func newDraftFixture(t *testing.T) *draftFixture {
	t.Helper()
	db := newTestDB(t)
	log := logging.Discard()

	f := &draftFixture{
		db:        db,
		shopify:   newFakeShopify(),
		api:       &fakeHoldAPI{db: db},
		holds:     repository.NewDraftHoldRepository(db, log),
		documents: repository.NewDocumentRepository(db, log),
		sink:      errsink.NewCollector(log),
	}
	f.svc = NewDraftService(
		f.shopify, f.api, f.documents,
		repository.NewCustomerRepository(db, log),
		f.holds, f.sink,
		posting.Settings{StoreID: "1", StationID: "WEB", DrawerID: "WEB", TaxCode: "EXEMPT"},
		log,
	)
	return f
}

func (f *draftFixture) draft(status model.DraftStatus) {
	f.shopify.drafts["7"] = &model.DraftOrder{
		ID:     "7",
		Name:   "#D7",
		Status: status,
		Email:  "ada@example.com",
		BillingAddress: &model.Address{
			FirstName: "Ada", LastName: "Lovelace", Address1: "1 Main St", City: "Springfield", Province: "IL", Zip: "62701",
		},
		Lines: []model.LineItem{
			{ID: "1", Kind: model.LinePhysical, SKU: "JIG", Name: "Jigger", Seq: 1, Quantity: 2, RetailPrice: dec("15.00"), UnitPrice: dec("15.00")},
		},
		Total: dec("30.00"),
	}
}

func (f *draftFixture) holdDoc(t *testing.T) string {
	t.Helper()
	h, err := f.holds.FindByDraft(context.Background(), "7")
	require.NoError(t, err)
	return h.DocID
}

func TestDraftLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newDraftFixture(t)

	f.draft(model.DraftOpen)
	require.NoError(t, f.svc.OnDraftCreated(ctx, "7"))
	assert.Equal(t, "H1", f.holdDoc(t))

	hold := f.api.payloads[0].Header
	assert.Equal(t, model.DocTypeHold, hold.DocTyp)
	assert.Empty(t, hold.Payments)
	assert.Equal(t, "W000000001", hold.CustNo)

	require.NoError(t, f.svc.OnDraftUpdated(ctx, "7"))
	assert.Equal(t, "H2", f.holdDoc(t))
	_, err := f.documents.Header(ctx, "H1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "W000000001", f.api.payloads[1].Header.CustNo, "same customer resolved again")

	f.shopify.drafts["7"].Status = model.DraftCompleted
	require.NoError(t, f.svc.OnDraftUpdated(ctx, "7"))

	_, err = f.holds.FindByDraft(ctx, "7")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.documents.Header(ctx, "H2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{"7"}, f.shopify.deletedDrafts)
	assert.Zero(t, f.sink.Len())
}

func TestDraftUpdated_MissingDraftOnlyDropsHold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newDraftFixture(t)

	f.draft(model.DraftOpen)
	require.NoError(t, f.svc.OnDraftCreated(ctx, "gid://shopify/DraftOrder/7"))
	delete(f.shopify.drafts, "7")

	require.NoError(t, f.svc.OnDraftUpdated(ctx, "7"))
	all, err := f.holds.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, f.shopify.deletedDrafts)
}

func TestDraftSweep_RemovesTicketedHolds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newDraftFixture(t)

	f.draft(model.DraftOpen)
	require.NoError(t, f.svc.OnDraftCreated(ctx, "7"))
	hdr, err := f.documents.Header(ctx, "H1")
	require.NoError(t, err)

	// a mapping whose hold document has vanished
	require.NoError(t, f.holds.Create(ctx, &model.DraftHold{DocID: "GONE", DraftID: "8"}))

	require.NoError(t, f.svc.Sweep(ctx))
	all, err := f.holds.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "the live hold stays until a ticket appears")
	assert.Equal(t, "H1", all[0].DocID)

	require.NoError(t, f.db.Create(&model.DocHeader{
		DocID: "T1", TktNo: "1001", CustNo: hdr.CustNo, DocTyp: model.DocTypeTicket,
		TktDt: hdr.TktDt.Add(time.Minute), LstMaintDt: hdr.TktDt.Add(time.Minute),
	}).Error)

	require.NoError(t, f.svc.Sweep(ctx))
	all, err = f.holds.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	_, err = f.documents.Header(ctx, "H1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteDraft(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newDraftFixture(t)

	f.draft(model.DraftInvoiceSent)
	require.NoError(t, f.svc.OnDraftCreated(ctx, "7"))
	require.NoError(t, f.svc.DeleteDraft(ctx, "7"))

	_, err := f.holds.FindByDraft(ctx, "7")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{"7"}, f.shopify.deletedDrafts)
	assert.ErrorIs(t, f.svc.DeleteDraft(ctx, ""), apperr.ErrBadPayload)
}
