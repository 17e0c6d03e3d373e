package service

import (
	"context"
	"testing"
	"time"

	"retail-integration/internal/client"
	"retail-integration/internal/errsink"
	"retail-integration/internal/logging"
	"retail-integration/internal/model"
	"retail-integration/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const campaignYAML = `
campaigns:
  - name: rewards-monday
    hour: 9
    minute: 30
    days: [mon]
    query: >
      SELECT CUST_NO AS customer_no, MBL_PHONE_1 AS phone, NAM AS name,
             CATEG_COD AS category, LOY_PTS_BAL AS rewards_balance
      FROM AR_CUST WHERE SMS_SUBSCRIBE = 'Y' ORDER BY CUST_NO
    template: "Hi {{.FirstName}}, you have {{.RewardsBalance}} points."
  - name: month-start
    hour: 12
    minute: 0
    days: ["1", "15"]
    query: SELECT CUST_NO AS customer_no, MBL_PHONE_1 AS phone FROM AR_CUST
    template: New arrivals are in.
    media_url: https://files.example.com/arrivals.jpg
`

func TestParseCampaigns(t *testing.T) {
	t.Parallel()

	campaigns, err := ParseCampaigns([]byte(campaignYAML))
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, "rewards-monday", campaigns[0].Name)
	assert.Equal(t, "https://files.example.com/arrivals.jpg", campaigns[1].MediaURL)

	for name, doc := range map[string]string{
		"missing name":   "campaigns: [{hour: 9, days: [daily], query: SELECT 1, template: hi}]",
		"duplicate name": "campaigns: [{name: a, days: [daily], query: SELECT 1}, {name: a, days: [daily], query: SELECT 1}]",
		"bad hour":       "campaigns: [{name: a, hour: 24, days: [daily], query: SELECT 1}]",
		"bad minute":     "campaigns: [{name: a, minute: 60, days: [daily], query: SELECT 1}]",
		"no days":        "campaigns: [{name: a, query: SELECT 1}]",
		"bad day":        "campaigns: [{name: a, days: [someday], query: SELECT 1}]",
		"no query":       "campaigns: [{name: a, days: [daily]}]",
		"bad template":   "campaigns: [{name: a, days: [daily], query: SELECT 1, template: '{{.Name'}]",
		"not yaml":       "campaigns: [",
	} {
		_, err := ParseCampaigns([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestParseDay(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in  string
		wd  time.Weekday
		dom int
		ok  bool
	}{
		{"daily", -1, -1, true},
		{"Mon", time.Monday, -1, true},
		{"thursday", time.Thursday, -1, true},
		{"thurs", time.Thursday, -1, true},
		{"month", 0, 0, false},
		{"1", -1, 1, true},
		{"31", -1, 31, true},
		{"32", 0, 0, false},
		{"mo", 0, 0, false},
	} {
		wd, dom, ok := parseDay(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.wd, wd, tc.in)
			assert.Equal(t, tc.dom, dom, tc.in)
		}
	}
}

func TestCampaignDue(t *testing.T) {
	t.Parallel()

	campaigns, err := ParseCampaigns([]byte(campaignYAML))
	require.NoError(t, err)
	weekly, monthly := &campaigns[0], &campaigns[1]

	monday := time.Date(2026, 10, 19, 9, 30, 45, 0, time.UTC)
	assert.True(t, weekly.Due(monday))
	assert.False(t, weekly.Due(monday.Add(time.Minute)))
	assert.False(t, weekly.Due(monday.AddDate(0, 0, 1)))

	assert.True(t, monthly.Due(time.Date(2026, 11, 15, 12, 0, 0, 0, time.UTC)))
	assert.False(t, monthly.Due(time.Date(2026, 11, 16, 12, 0, 0, 0, time.UTC)))
}

func TestCampaignRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	log := logging.Discard()

	now := time.Now()
	require.NoError(t, db.Create([]model.Customer{
		{CustNo: "1001", Nam: "Ada Lovelace", MblPhone: "555-987-6543", SMSSub: "Y", LoyPtsBal: 120, LstMaintDt: now},
		{CustNo: "1002", Nam: "Bob Stone", MblPhone: "555-222-3333", SMSSub: "Y", LstMaintDt: now},
		{CustNo: "1003", Nam: "Cat Ng", MblPhone: "555-333-4444", SMSSub: "Y", LstMaintDt: now},
		{CustNo: "1004", Nam: "Ada Household", MblPhone: "(555) 987-6543", SMSSub: "Y", LstMaintDt: now},
		{CustNo: "1005", Nam: "Eve Quiet", MblPhone: "555-555-5555", SMSSub: "N", LstMaintDt: now},
	}).Error)

	campaigns, err := ParseCampaigns([]byte(campaignYAML))
	require.NoError(t, err)

	sms := &fakeSMS{codes: map[string]int{
		"555-222-3333": client.TwilioUnsubscribed,
		"555-333-4444": client.TwilioLandline,
	}}
	sink := errsink.NewCollector(log)
	svc := NewCampaignService(
		campaigns,
		repository.NewSMSRepository(db, log),
		repository.NewCustomerRepository(db, log),
		sms, sink, time.UTC, log,
	)

	at := time.Date(2026, 10, 19, 9, 30, 5, 0, time.UTC)
	reports, err := svc.Run(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, []CampaignReport{{Campaign: "rewards-monday", Sent: 1, Failed: 2, Unsubscribed: 1, Landlines: 1}}, reports)
	assert.Zero(t, sink.Len())

	msgs := sms.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "555-987-6543", msgs[0].To)
	assert.Equal(t, "Hi Ada, you have 120 points.", msgs[0].Body)

	var bob, cat model.Customer
	require.NoError(t, db.First(&bob, "CUST_NO = ?", "1002").Error)
	assert.Equal(t, "N", bob.SMSSub)
	require.NoError(t, db.First(&cat, "CUST_NO = ?", "1003").Error)
	assert.Empty(t, cat.MblPhone)
	assert.Equal(t, "555-333-4444", cat.Phone)

	var failed []model.SMSLog
	require.NoError(t, db.Where("ERROR_CODE <> 0").Order("ERROR_CODE").Find(&failed).Error)
	require.Len(t, failed, 2)
	assert.Equal(t, client.TwilioUnsubscribed, failed[0].ErrorCode)
	assert.Equal(t, "rewards-monday", failed[0].Campaign)

	// the same minute never sends twice
	reports, err = svc.Run(ctx, at.Add(30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, reports)
	assert.Len(t, sms.messages(), 1)
}

func TestCampaignRun_SkipsOptedOutPhones(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)
	log := logging.Discard()

	now := time.Now()
	require.NoError(t, db.Create([]model.Customer{
		{CustNo: "1001", Nam: "Ada Lovelace", MblPhone: "555-987-6543", SMSSub: "Y", LstMaintDt: now},
		{CustNo: "1005", Nam: "Eve Quiet", MblPhone: "555-555-5555", SMSSub: "Y", LstMaintDt: now},
		{CustNo: "1006", Nam: "Fay Landline", Phone: "555-666-7777", MblPhone: "555-666-7777", SMSSub: "N", LstMaintDt: now},
	}).Error)

	customers := repository.NewCustomerRepository(db, log)
	_, err := customers.SetSMSSubscribe(ctx, "5555555555", false)
	require.NoError(t, err)

	campaigns, err := ParseCampaigns([]byte(campaignYAML))
	require.NoError(t, err)
	sms := &fakeSMS{}
	sink := errsink.NewCollector(log)
	svc := NewCampaignService(campaigns, repository.NewSMSRepository(db, log), customers, sms, sink, time.UTC, log)

	// month-start selects every customer without looking at SMS_SUBSCRIBE
	reports, err := svc.Run(ctx, time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []CampaignReport{{Campaign: "month-start", Sent: 1, OptedOut: 2}}, reports)
	assert.Zero(t, sink.Len())

	msgs := sms.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "555-987-6543", msgs[0].To)
}

func TestCampaignRun_TransportErrorsAreRecorded(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	log := logging.Discard()

	require.NoError(t, db.Create(&model.Customer{
		CustNo: "1001", Nam: "Ada Lovelace", MblPhone: "555-987-6543", SMSSub: "Y", LstMaintDt: time.Now(),
	}).Error)
	campaigns, err := ParseCampaigns([]byte(campaignYAML))
	require.NoError(t, err)

	sink := errsink.NewCollector(log)
	svc := NewCampaignService(campaigns, repository.NewSMSRepository(db, log), repository.NewCustomerRepository(db, log),
		&fakeSMS{err: assert.AnError}, sink, time.UTC, log)

	reports, err := svc.Run(context.Background(), time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Failed)

	records := sink.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, "campaign.send", records[0].Origin)
}
