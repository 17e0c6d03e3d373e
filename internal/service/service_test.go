package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/client"
	"retail-integration/internal/errsink"
	"retail-integration/internal/logging"
	"retail-integration/internal/model"
	"retail-integration/internal/queue"

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

type fakeShopify struct {
	mu sync.Mutex

	orders        map[string]*model.Order
	drafts        map[string]*model.DraftOrder
	deletedDrafts []string

	nextID           int
	discounts        map[string]client.DiscountCodeInput
	deletedDiscounts []string

	customers   []client.CustomerInput
	collections []client.CollectionRef
	reorders    map[string][]string
	variants    map[string]*client.VariantRef
	prices      map[string]decimal.Decimal
	inventory   map[string]int
}

func newFakeShopify() *fakeShopify {
	return &fakeShopify{
		orders:    map[string]*model.Order{},
		drafts:    map[string]*model.DraftOrder{},
		discounts: map[string]client.DiscountCodeInput{},
		reorders:  map[string][]string{},
		variants:  map[string]*client.VariantRef{},
		prices:    map[string]decimal.Decimal{},
		inventory: map[string]int{},
	}
}

func (f *fakeShopify) id(kind string) string {
	f.nextID++
	return fmt.Sprintf("gid://shopify/%s/%d", kind, f.nextID)
}

func (f *fakeShopify) GetOrder(_ context.Context, id string) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return o, nil
}

func (f *fakeShopify) GetDraftOrder(_ context.Context, id string) (*model.DraftOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, apperr.ErrNotFound)
	}
	return d, nil
}

func (f *fakeShopify) DeleteDraftOrder(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.drafts, id)
	f.deletedDrafts = append(f.deletedDrafts, id)
	return nil
}

func (f *fakeShopify) CreateDiscountCode(_ context.Context, in client.DiscountCodeInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id("DiscountCodeNode")
	f.discounts[id] = in
	return id, nil
}

func (f *fakeShopify) DeleteDiscountCode(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.discounts, id)
	f.deletedDiscounts = append(f.deletedDiscounts, id)
	return nil
}

func (f *fakeShopify) ListCollections(context.Context) ([]client.CollectionRef, error) {
	return f.collections, nil
}

func (f *fakeShopify) ReorderCollection(_ context.Context, id string, productIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reorders[id] = productIDs
	return nil
}

func (f *fakeShopify) UpsertCustomer(_ context.Context, in client.CustomerInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers = append(f.customers, in)
	if in.ID != "" {
		return in.ID, nil
	}
	return f.id("Customer"), nil
}

func (f *fakeShopify) DeleteCustomer(context.Context, string) error { return nil }

func (f *fakeShopify) FindVariantBySKU(_ context.Context, sku string) (*client.VariantRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.variants[sku]
	if !ok {
		return nil, fmt.Errorf("variant %s: %w", sku, apperr.ErrNotFound)
	}
	return v, nil
}

func (f *fakeShopify) UpdateVariantPrice(_ context.Context, _, variantID string, price decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[variantID] = price
	return nil
}

func (f *fakeShopify) SetInventory(_ context.Context, inventoryItemID string, qty int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inventory[inventoryItemID] = qty
	return nil
}

type sentSMS struct {
	To, Body, Media string
}

// fakeSMS fails sends to phones listed in codes with that Twilio code.
type fakeSMS struct {
	mu    sync.Mutex
	sent  []sentSMS
	codes map[string]int
	err   error
}

func (f *fakeSMS) SendSMS(_ context.Context, to, body, media string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if code, ok := f.codes[to]; ok {
		return "", &client.TwilioError{Code: code, Message: "rejected", Status: 400}
	}
	f.sent = append(f.sent, sentSMS{To: to, Body: body, Media: media})
	return fmt.Sprintf("SM%03d", len(f.sent)), nil
}

func (f *fakeSMS) messages() []sentSMS {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentSMS(nil), f.sent...)
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []client.Mail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, m client.Mail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type fakePrinter struct {
	jobs []client.PrintJob
	err  error
}

func (f *fakePrinter) Print(_ context.Context, job client.PrintJob) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeSheet struct {
	rows map[string][]map[string]string
}

func (f *fakeSheet) Append(_ context.Context, sheet string, row map[string]string) error {
	if f.rows == nil {
		f.rows = map[string][]map[string]string{}
	}
	f.rows[sheet] = append(f.rows[sheet], row)
	return nil
}

type published struct {
	Topic string
	Body  string
}

type fakeQueue struct {
	msgs []published
}

func (f *fakeQueue) Publish(_ context.Context, topic string, body []byte) error {
	f.msgs = append(f.msgs, published{topic, string(body)})
	return nil
}

func TestGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink := errsink.NewCollector(logging.Discard())

	assert.True(t, guard(ctx, sink, "ok", func() error { return nil }))
	assert.False(t, guard(ctx, sink, "fails", func() error { return errors.New("boom") }))
	assert.False(t, guard(ctx, sink, "panics", func() error { panic("kaboom") }))

	records := sink.Drain()
	require.Len(t, records, 2)
	assert.Equal(t, "fails", records[0].Origin)
	assert.Equal(t, "panics", records[1].Origin)
	assert.Equal(t, "panic", records[1].Kind)
	assert.NotEmpty(t, records[1].Stack)
}

type recordingHandlers struct {
	calls []string
}

func (r *recordingHandlers) OnOrder(_ context.Context, id string) error {
	r.calls = append(r.calls, "order:"+id)
	return nil
}
func (r *recordingHandlers) OnDraftCreated(_ context.Context, id string) error {
	r.calls = append(r.calls, "draft_create:"+id)
	return nil
}
func (r *recordingHandlers) OnDraftUpdated(_ context.Context, id string) error {
	r.calls = append(r.calls, "draft_update:"+id)
	return nil
}
func (r *recordingHandlers) Sweep(context.Context) error                { return nil }
func (r *recordingHandlers) DeleteDraft(context.Context, string) error  { return nil }
func (r *recordingHandlers) OnDesignLead(_ context.Context, b []byte) error {
	r.calls = append(r.calls, "lead:"+string(b))
	return nil
}
func (r *recordingHandlers) OnSyncOnDemand(_ context.Context, phone string) error {
	r.calls = append(r.calls, "sync:"+phone)
	return nil
}
func (r *recordingHandlers) OnInboundSMS(_ context.Context, b []byte) error {
	r.calls = append(r.calls, "sms:"+string(b))
	return nil
}

func TestHandlers_CoverEveryTopic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &recordingHandlers{}

	handlers := Handlers(rec, rec, rec, syncOnly{rec}, rec)
	require.Len(t, handlers, 6)

	for _, topic := range []string{
		queue.TopicOrders, queue.TopicDraftCreate, queue.TopicDraftUpdate,
		queue.TopicDesignLead, queue.TopicSyncOnDemand, queue.TopicInboundSMS,
	} {
		h, ok := handlers[topic]
		require.True(t, ok, topic)
		require.NoError(t, h(ctx, queue.Message{Topic: topic, Body: "x"}))
	}
	assert.Equal(t, []string{
		"order:x", "draft_create:x", "draft_update:x", "lead:x", "sync:x", "sms:x",
	}, rec.calls)
}

// syncOnly adapts recordingHandlers to SyncService.
type syncOnly struct{ *recordingHandlers }

func (syncOnly) Sync(context.Context, time.Time) (SyncReport, error) { return SyncReport{}, nil }
func (syncOnly) SyncSinceLast(context.Context) (SyncReport, error)   { return SyncReport{}, nil }
func (syncOnly) Initialize(context.Context) (SyncReport, error)      { return SyncReport{}, nil }
func (syncOnly) DeleteCustomer(context.Context, string) error        { return nil }
func (syncOnly) DeleteDiscount(context.Context, string) error        { return nil }
