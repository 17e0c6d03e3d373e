package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"retail-integration/internal/apperr"
	"retail-integration/internal/dedupe"
	"retail-integration/internal/dto"
	"retail-integration/internal/middleware"
	"retail-integration/internal/queue"
	"retail-integration/internal/service"

	"github.com/labstack/echo/v4"
)

const (
	HeaderShopifyEventID   = "X-Shopify-Event-Id"
	HeaderShopifyWebhookID = "X-Shopify-Webhook-Id"
	HeaderMarketingEventID = "X-Event-Id"
)

// WebhookHandler turns verified webhooks into queue messages. It never calls
// the ERP or the storefront itself.
type WebhookHandler struct {
	queue  service.Enqueuer
	dedupe dedupe.Deduper
	logger *slog.Logger
}

func NewWebhookHandler(queue service.Enqueuer, dd dedupe.Deduper, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{queue: queue, dedupe: dd, logger: logger}
}

func (h *WebhookHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WebhookHandler) OrderCreated(c echo.Context) error {
	return h.shopifyEntity(c, queue.TopicOrders)
}

func (h *WebhookHandler) OrderUpdated(c echo.Context) error {
	return h.shopifyEntity(c, queue.TopicOrders)
}

func (h *WebhookHandler) DraftCreated(c echo.Context) error {
	return h.shopifyEntity(c, queue.TopicDraftCreate)
}

func (h *WebhookHandler) DraftUpdated(c echo.Context) error {
	return h.shopifyEntity(c, queue.TopicDraftUpdate)
}

func (h *WebhookHandler) RefundCreated(c echo.Context) error {
	var refund dto.ShopifyRefund
	if err := json.Unmarshal(middleware.RawBody(c), &refund); err != nil {
		return badPayload(err)
	}
	if refund.OrderID.String() == "" {
		return badPayload(fmt.Errorf("refund without order_id"))
	}
	return h.enqueue(c, queue.TopicOrders, shopifyEventID(c), quoted(refund.OrderID.String()))
}

func (h *WebhookHandler) shopifyEntity(c echo.Context, topic string) error {
	var e dto.ShopifyEntity
	if err := json.Unmarshal(middleware.RawBody(c), &e); err != nil {
		return badPayload(err)
	}
	id := e.ID.String()
	if id == "" {
		id = legacyID(e.AdminGraphqlAPIID)
	}
	if id == "" {
		return badPayload(fmt.Errorf("webhook without id"))
	}
	return h.enqueue(c, topic, shopifyEventID(c), quoted(id))
}

// DesignLead forwards the form JSON unchanged; validation happens in the consumer.
func (h *WebhookHandler) DesignLead(c echo.Context) error {
	body := middleware.RawBody(c)
	if !json.Valid(body) {
		return badPayload(fmt.Errorf("design lead is not JSON"))
	}
	return h.enqueue(c, queue.TopicDesignLead, c.Request().Header.Get(HeaderMarketingEventID), body)
}

func (h *WebhookHandler) SyncOnDemand(c echo.Context) error {
	var req dto.SyncRequest
	if err := json.Unmarshal(middleware.RawBody(c), &req); err != nil {
		return badPayload(err)
	}
	if strings.TrimSpace(req.Phone) == "" {
		return badPayload(fmt.Errorf("sync request without phone"))
	}
	return h.enqueue(c, queue.TopicSyncOnDemand, c.Request().Header.Get(HeaderMarketingEventID), quoted(req.Phone))
}

// InboundSMS repacks the Twilio form post as JSON. The message sid doubles as
// the event id.
func (h *WebhookHandler) InboundSMS(c echo.Context) error {
	form, err := url.ParseQuery(string(middleware.RawBody(c)))
	if err != nil {
		return badPayload(err)
	}
	msg := dto.InboundSMS{
		From: form.Get("From"),
		To:   form.Get("To"),
		Body: form.Get("Body"),
		SID:  form.Get("MessageSid"),
	}
	if msg.From == "" {
		return badPayload(fmt.Errorf("inbound sms without sender"))
	}
	n, _ := strconv.Atoi(form.Get("NumMedia"))
	for i := range n {
		if u := form.Get(fmt.Sprintf("MediaUrl%d", i)); u != "" {
			msg.Media = append(msg.Media, u)
		}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.enqueue(c, queue.TopicInboundSMS, msg.SID, body)
}

// enqueue publishes body unless another delivery already claimed eventID for
// topic. The response goes out only after the broker confirmed the message; a
// failed publish gives the claim back so the sender's retry goes through.
func (h *WebhookHandler) enqueue(c echo.Context, topic, eventID string, body []byte) error {
	ctx := c.Request().Context()

	claimed := false
	if eventID != "" {
		first, err := h.dedupe.Claim(ctx, topic, eventID)
		switch {
		case err != nil:
			h.logger.Warn("dedupe claim failed, publishing anyway", "topic", topic, "event_id", eventID, "error", err)
		case !first:
			h.logger.Info("duplicate webhook ignored", "topic", topic, "event_id", eventID)
			return c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
		default:
			claimed = true
		}
	}

	if err := h.queue.Publish(ctx, topic, body); err != nil {
		if claimed {
			if rerr := h.dedupe.Release(ctx, topic, eventID); rerr != nil {
				h.logger.Warn("dedupe release failed", "topic", topic, "event_id", eventID, "error", rerr)
			}
		}
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	h.logger.Info("webhook queued", "topic", topic, "event_id", eventID)
	return c.JSON(http.StatusOK, dto.SuccessResponse{Success: true})
}

func shopifyEventID(c echo.Context) string {
	if id := c.Request().Header.Get(HeaderShopifyEventID); id != "" {
		return id
	}
	return c.Request().Header.Get(HeaderShopifyWebhookID)
}

// legacyID takes the numeric tail of a gid://shopify/Order/123 id.
func legacyID(gid string) string {
	if i := strings.LastIndexByte(gid, '/'); i >= 0 {
		return gid[i+1:]
	}
	return gid
}

func quoted(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}

func badPayload(err error) error {
	return fmt.Errorf("%w: %v", apperr.ErrBadPayload, err)
}
