package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"retail-integration/internal/config"
	"retail-integration/internal/dedupe"
	"retail-integration/internal/dto"
	"retail-integration/internal/errsink"
	"retail-integration/internal/logging"
	"retail-integration/internal/middleware"
	"retail-integration/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	shopifySecret   = "shpss_test"
	marketingSecret = "mkt_test"
	twilioToken     = "twilio_test"
	twilioURL       = "https://bridge.example.com/api/sms"
)

type published struct {
	topic string
	body  string
}

type fakeQueue struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (q *fakeQueue) Publish(_ context.Context, topic string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, published{topic, string(body)})
	return nil
}

func (q *fakeQueue) messages() []published {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]published(nil), q.msgs...)
}

type gateway struct {
	srv   *Server
	queue *fakeQueue
	sink  *errsink.Collector
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	cfg := &config.Config{}
	cfg.Shopify.WebhookSecret = shopifySecret
	cfg.Marketing.Secret = marketingSecret
	cfg.Twilio.AuthToken = twilioToken
	cfg.Twilio.WebhookURL = twilioURL

	log := logging.Discard()
	g := &gateway{queue: &fakeQueue{}, sink: errsink.NewCollector(log)}
	g.srv = NewServer(cfg, g.queue, dedupe.NewMemory(), g.sink, log)
	return g
}

func (g *gateway) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func shopifyRequest(path, body, eventID, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderShopifyHmac, signature)
	if eventID != "" {
		req.Header.Set("X-Shopify-Event-Id", eventID)
	}
	return req
}

func signed(path, body, eventID string) *http.Request {
	return shopifyRequest(path, body, eventID, middleware.SignBody(shopifySecret, []byte(body)))
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out dto.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Error
}

func TestOrderCreate_DuplicateEventQueuedOnce(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	body := `{"id":5717619933351}`
	for range 2 {
		rec := g.do(signed("/api/shopify/order-create", body, "E1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	}

	assert.Equal(t, []published{{queue.TopicOrders, `"5717619933351"`}}, g.queue.messages())
}

func TestOrderCreate_ConcurrentDuplicatesQueuedOnce(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	body := `{"id":5717619933351}`
	var wg sync.WaitGroup
	start := make(chan struct{})
	codes := make([]int, defaultRate)
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := signed("/api/shopify/order-create", body, "E2")
			<-start
			codes[i] = g.do(req).Code
		}()
	}
	close(start)
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Len(t, g.queue.messages(), 1)
}

func TestShopify_BadSignature(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	rec := g.do(shopifyRequest("/api/shopify/order-create", `{"id":1}`, "E1", "xxxx"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", errorBody(t, rec))

	rec = g.do(shopifyRequest("/api/shopify/order-create", `{"id":1}`, "E1", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, g.queue.messages())
}

func TestShopify_Routes(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	cases := []struct {
		path, body, want, topic string
	}{
		{"/api/shopify/order-update", `{"id":42,"name":"#1001"}`, `"42"`, queue.TopicOrders},
		{"/api/shopify/refund-create", `{"id":9,"order_id":42}`, `"42"`, queue.TopicOrders},
		{"/api/shopify/draft-create", `{"id":77}`, `"77"`, queue.TopicDraftCreate},
		{"/api/shopify/draft-update", `{"admin_graphql_api_id":"gid://shopify/DraftOrder/78"}`, `"78"`, queue.TopicDraftUpdate},
	}
	for _, tc := range cases {
		rec := g.do(signed(tc.path, tc.body, ""))
		require.Equal(t, http.StatusOK, rec.Code, tc.path)
	}

	msgs := g.queue.messages()
	require.Len(t, msgs, len(cases))
	for i, tc := range cases {
		assert.Equal(t, published{tc.topic, tc.want}, msgs[i], tc.path)
	}
}

func TestShopify_BadPayload(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	rec := g.do(signed("/api/shopify/order-create", `not json`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Bad Request", errorBody(t, rec))

	rec = g.do(signed("/api/shopify/refund-create", `{"id":9}`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, g.queue.messages())
	assert.Zero(t, g.sink.Len())
}

func TestPublishFailure_Is500AndRecorded(t *testing.T) {
	t.Parallel()
	g := newGateway(t)
	g.queue.err = errors.New("broker nack")

	rec := g.do(signed("/api/shopify/order-create", `{"id":1}`, "E9"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", errorBody(t, rec))

	records := g.sink.Drain()
	require.Len(t, records, 1)
	assert.Equal(t, "gateway./api/shopify/order-create", records[0].Origin)

	// the claim was released, so a retry goes through
	g.queue.err = nil
	rec = g.do(signed("/api/shopify/order-create", `{"id":1}`, "E9"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, g.queue.messages(), 1)
}

func marketingRequest(path, body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderMarketingHmac, signature)
	return req
}

func TestMarketing(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	lead := `{"first_name":"Ada","email":"ada@example.com","phone":"5551234567"}`
	rec := g.do(marketingRequest("/api/marketing/design-lead", lead, middleware.SignBody(marketingSecret, []byte(lead))))
	require.Equal(t, http.StatusOK, rec.Code)

	syncBody := `{"phone":"555-123-4567"}`
	rec = g.do(marketingRequest("/api/marketing/sync", syncBody, middleware.SignBody(marketingSecret, []byte(syncBody))))
	require.Equal(t, http.StatusOK, rec.Code)

	// signed with the storefront secret
	rec = g.do(marketingRequest("/api/marketing/sync", syncBody, middleware.SignBody(shopifySecret, []byte(syncBody))))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, []published{
		{queue.TopicDesignLead, lead},
		{queue.TopicSyncOnDemand, `"555-123-4567"`},
	}, g.queue.messages())
}

func smsRequest(form url.Values, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(middleware.HeaderTwilioSignature, signature)
	return req
}

func TestInboundSMS(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	form := url.Values{
		"From":       {"+15551234567"},
		"To":         {"+15557654321"},
		"Body":       {"STOP"},
		"MessageSid": {"SM1"},
		"NumMedia":   {"1"},
		"MediaUrl0":  {"https://media.example.com/1.jpg"},
	}
	sig := middleware.TwilioSign(twilioToken, twilioURL, form)

	rec := g.do(smsRequest(form, sig))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = g.do(smsRequest(form, sig))
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := g.queue.messages()
	require.Len(t, msgs, 1, "same MessageSid is queued once")
	assert.Equal(t, queue.TopicInboundSMS, msgs[0].topic)

	var got dto.InboundSMS
	require.NoError(t, json.Unmarshal([]byte(msgs[0].body), &got))
	assert.Equal(t, dto.InboundSMS{
		From:  "+15551234567",
		To:    "+15557654321",
		Body:  "STOP",
		SID:   "SM1",
		Media: []string{"https://media.example.com/1.jpg"},
	}, got)

	form.Set("Body", "START")
	rec = g.do(smsRequest(form, sig))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "signature covers the form")
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	codes := map[int]int{}
	for range defaultRate + 1 {
		rec := g.do(marketingRequest("/api/marketing/sync", `{}`, "bad"))
		codes[rec.Code]++
	}
	assert.Equal(t, map[int]int{http.StatusUnauthorized: defaultRate, http.StatusTooManyRequests: 1}, codes)

	// other routes keep their own budget
	rec := g.do(marketingRequest("/api/marketing/design-lead", `{}`, "bad"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	g := newGateway(t)

	rec := g.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
