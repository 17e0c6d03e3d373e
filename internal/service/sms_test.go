package service

import (
	"context"
	"testing"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/config"
	"retail-integration/internal/errsink"
	"retail-integration/internal/logging"
	"retail-integration/internal/model"
	"retail-integration/internal/queue"
	"retail-integration/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const closedReply = "We're closed, back tomorrow at 10."

type inboundFixture struct {
	db    *gorm.DB
	sms   *fakeSMS
	queue *fakeQueue
	sink  *errsink.Collector
	svc   InboundSMSService
}

func newInboundFixture(t *testing.T, hours config.Hours) *inboundFixture {
	t.Helper()
	db := newTestDB(t)
	log := logging.Discard()

	f := &inboundFixture{
		db:    db,
		sms:   &fakeSMS{},
		queue: &fakeQueue{},
		sink:  errsink.NewCollector(log),
	}
	f.svc = NewInboundSMSService(
		repository.NewCustomerRepository(db, log),
		repository.NewSMSRepository(db, log),
		f.sms, f.queue, f.sink,
		[]string{"+1 (555) 123-4567", "not a phone"},
		hours, time.UTC, log,
	)

	require.NoError(t, db.Create(&model.Customer{
		CustNo: "1001", Nam: "Ada Lovelace", MblPhone: "555-987-6543", SMSSub: "Y", LstMaintDt: time.Now(),
	}).Error)
	return f
}

// alwaysOpen and neverOpen keep the tests independent of the wall clock.
var (
	alwaysOpen = config.Hours{Open: 0, Close: 24, Days: []int{0, 1, 2, 3, 4, 5, 6}, Reply: closedReply}
	neverOpen  = config.Hours{Open: 10, Close: 18, Reply: closedReply}
)

func inbound(from, body string) []byte {
	return []byte(`{"from":"` + from + `","to":"+15550000000","body":"` + body + `","sid":"SMin"}`)
}

func (f *inboundFixture) subscribed(t *testing.T) string {
	t.Helper()
	var c model.Customer
	require.NoError(t, f.db.First(&c, "CUST_NO = ?", "1001").Error)
	return c.SMSSub
}

func TestInboundSMS_StopAndStart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newInboundFixture(t, neverOpen)

	require.NoError(t, f.svc.OnInboundSMS(ctx, inbound("+15559876543", " STOP ")))
	assert.Equal(t, "N", f.subscribed(t))

	require.NoError(t, f.svc.OnInboundSMS(ctx, inbound("+15559876543", "Start!")))
	assert.Equal(t, "Y", f.subscribed(t))

	assert.Empty(t, f.sms.messages(), "keywords never get the after-hours reply")

	var in []model.SMSLog
	require.NoError(t, f.db.Where("DIRECTION = ?", model.SMSDirectionIn).Order("ID").Find(&in).Error)
	require.Len(t, in, 2)
	assert.Equal(t, "1001", in[0].CustNo)
	assert.Equal(t, "555-987-6543", in[0].Phone)
	assert.Equal(t, " STOP ", in[0].Body)
}

func TestInboundSMS_AdminSync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newInboundFixture(t, alwaysOpen)

	require.NoError(t, f.svc.OnInboundSMS(ctx, inbound("5551234567", "Sync")))
	assert.Equal(t, []published{{Topic: queue.TopicSyncOnDemand, Body: "555-123-4567"}}, f.queue.msgs)

	// a customer saying sync is just a message
	require.NoError(t, f.svc.OnInboundSMS(ctx, inbound("5559876543", "sync")))
	assert.Len(t, f.queue.msgs, 1)
}

func TestInboundSMS_AfterHoursReplyOncePerWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newInboundFixture(t, neverOpen)

	require.NoError(t, f.svc.OnInboundSMS(ctx, inbound("5559876543", "Do you have the bar spoon?")))
	require.NoError(t, f.svc.OnInboundSMS(ctx, inbound("5559876543", "Hello?")))

	msgs := f.sms.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "555-987-6543", msgs[0].To)
	assert.Equal(t, closedReply, msgs[0].Body)

	// another sender gets their own reply
	require.NoError(t, f.svc.OnInboundSMS(ctx, inbound("5552223333", "hi")))
	assert.Len(t, f.sms.messages(), 2)
}

func TestInboundSMS_OpenHoursNoReply(t *testing.T) {
	t.Parallel()
	f := newInboundFixture(t, alwaysOpen)

	require.NoError(t, f.svc.OnInboundSMS(context.Background(), inbound("5559876543", "hello")))
	assert.Empty(t, f.sms.messages())
}

func TestInboundSMS_BadPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newInboundFixture(t, alwaysOpen)

	assert.ErrorIs(t, f.svc.OnInboundSMS(ctx, []byte("{")), apperr.ErrBadPayload)
	assert.ErrorIs(t, f.svc.OnInboundSMS(ctx, inbound("12345", "hi")), apperr.ErrBadPayload)
}

func TestInboundSMS_IsOpen(t *testing.T) {
	t.Parallel()
	s := &inboundSMSServiceImpl{hours: config.Hours{Open: 10, Close: 18, Days: []int{1, 2, 3, 4, 5, 6}}}

	monday := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	assert.True(t, s.isOpen(monday.Add(10*time.Hour)))
	assert.True(t, s.isOpen(monday.Add(17*time.Hour+59*time.Minute)))
	assert.False(t, s.isOpen(monday.Add(18*time.Hour)))
	assert.False(t, s.isOpen(monday.Add(9*time.Hour)))
	assert.False(t, s.isOpen(monday.AddDate(0, 0, -1).Add(12*time.Hour)), "closed sundays")
}
