// Package service holds the topic handlers and the scheduled engines.
package service

import (
	"context"
	"log/slog"

	"retail-integration/internal/client"
	"retail-integration/internal/errsink"
	"retail-integration/internal/model"
	"retail-integration/internal/queue"
	"retail-integration/internal/repository"
	"retail-integration/internal/util"
)

// guard runs fn and records a failure or panic under origin. It reports
// whether fn completed without error.
func guard(ctx context.Context, sink errsink.Sink, origin string, fn func() error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			sink.RecordPanic(ctx, origin, r)
			ok = false
		}
	}()

	if err := fn(); err != nil {
		sink.Record(ctx, origin, err)
		return false
	}
	return true
}

// Handlers maps every queue topic to its handler.
func Handlers(
	orders OrderService,
	drafts DraftService,
	leads LeadService,
	syncs SyncService,
	inbound InboundSMSService,
) map[string]queue.Handler {
	return map[string]queue.Handler{
		queue.TopicOrders: func(ctx context.Context, m queue.Message) error {
			return orders.OnOrder(ctx, m.Body)
		},
		queue.TopicDraftCreate: func(ctx context.Context, m queue.Message) error {
			return drafts.OnDraftCreated(ctx, m.Body)
		},
		queue.TopicDraftUpdate: func(ctx context.Context, m queue.Message) error {
			return drafts.OnDraftUpdated(ctx, m.Body)
		},
		queue.TopicDesignLead: func(ctx context.Context, m queue.Message) error {
			return leads.OnDesignLead(ctx, []byte(m.Body))
		},
		queue.TopicSyncOnDemand: func(ctx context.Context, m queue.Message) error {
			return syncs.OnSyncOnDemand(ctx, m.Body)
		},
		queue.TopicInboundSMS: func(ctx context.Context, m queue.Message) error {
			return inbound.OnInboundSMS(ctx, []byte(m.Body))
		},
	}
}

// texter sends an SMS and writes its SN_SMS audit row, successful or not.
type texter struct {
	sender client.SMSSender
	log    repository.SMSRepository
	logger *slog.Logger
}

func (t texter) send(ctx context.Context, custNo, phone, body, mediaURL, campaign string) (string, error) {
	sid, err := t.sender.SendSMS(ctx, phone, body, mediaURL)

	entry := &model.SMSLog{
		Direction: model.SMSDirectionOut,
		CustNo:    custNo,
		Phone:     util.ERPPhone(phone),
		Body:      body,
		MediaURL:  mediaURL,
		SID:       sid,
		Campaign:  campaign,
		ErrorCode: client.TwilioCode(err),
	}
	if lerr := t.log.Log(ctx, entry); lerr != nil {
		t.logger.Warn("sms audit row not written", "phone", phone, "error", lerr)
	}
	return sid, err
}
