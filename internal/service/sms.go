package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/client"
	"retail-integration/internal/config"
	"retail-integration/internal/dto"
	"retail-integration/internal/errsink"
	"retail-integration/internal/model"
	"retail-integration/internal/queue"
	"retail-integration/internal/repository"
	"retail-integration/internal/util"
)

var (
	stopWords  = []string{"stop", "stopall", "unsubscribe", "cancel", "end", "quit"}
	startWords = []string{"start", "unstop", "subscribe", "yes"}
)

// after-hours replies go out at most once per window per phone
const afterHoursWindow = 12 * time.Hour

// Enqueuer publishes a message to a durable topic.
type Enqueuer interface {
	Publish(ctx context.Context, topic string, body []byte) error
}

type InboundSMSService interface {
	OnInboundSMS(ctx context.Context, body []byte) error
}

type inboundSMSServiceImpl struct {
	customers repository.CustomerRepository
	smsLog    repository.SMSRepository
	texts     texter
	queue     Enqueuer
	sink      errsink.Sink
	admins    []string
	hours     config.Hours
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

func NewInboundSMSService(
	customers repository.CustomerRepository,
	smsLog repository.SMSRepository,
	sms client.SMSSender,
	queue Enqueuer,
	sink errsink.Sink,
	admins []string,
	hours config.Hours,
	loc *time.Location,
	logger *slog.Logger,
) InboundSMSService {
	canon := make([]string, 0, len(admins))
	for _, a := range admins {
		if p := util.ERPPhone(a); p != "" {
			canon = append(canon, p)
		}
	}
	return &inboundSMSServiceImpl{
		customers: customers,
		smsLog:    smsLog,
		texts:     texter{sender: sms, log: smsLog, logger: logger},
		queue:     queue,
		sink:      sink,
		admins:    canon,
		hours:     hours,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *inboundSMSServiceImpl) OnInboundSMS(ctx context.Context, body []byte) error {
	var in dto.InboundSMS
	if err := json.Unmarshal(body, &in); err != nil {
		return fmt.Errorf("decode inbound sms: %w: %w", apperr.ErrBadPayload, err)
	}
	phone := util.ERPPhone(in.From)
	if phone == "" {
		return fmt.Errorf("inbound sms from %q: %w", in.From, apperr.ErrBadPayload)
	}
	log := s.logger.With("phone", phone, "sid", in.SID)

	var custNo string
	cust, err := s.customers.FindByPhone(ctx, phone)
	switch {
	case err == nil:
		custNo = cust.CustNo
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	// the outbound after-hours check must not see this message
	history, err := s.smsLog.History(ctx, phone, 20)
	if err != nil {
		return err
	}

	entry := &model.SMSLog{
		Direction: model.SMSDirectionIn,
		CustNo:    custNo,
		Phone:     phone,
		Body:      in.Body,
		SID:       in.SID,
	}
	if len(in.Media) > 0 {
		entry.MediaURL = in.Media[0]
	}
	if err := s.smsLog.Log(ctx, entry); err != nil {
		return err
	}

	word := strings.ToLower(strings.Trim(strings.TrimSpace(in.Body), ".!"))
	switch {
	case slices.Contains(stopWords, word):
		n, err := s.customers.SetSMSSubscribe(ctx, phone, false)
		if err != nil {
			return err
		}
		log.Info("sms unsubscribed", "customers", n)
		return nil

	case slices.Contains(startWords, word):
		n, err := s.customers.SetSMSSubscribe(ctx, phone, true)
		if err != nil {
			return err
		}
		log.Info("sms subscribed", "customers", n)
		return nil

	case word == "sync" && slices.Contains(s.admins, phone):
		if err := s.queue.Publish(ctx, queue.TopicSyncOnDemand, []byte(phone)); err != nil {
			return fmt.Errorf("enqueue sync: %w", err)
		}
		log.Info("sync requested by sms")
		return nil
	}

	now := s.now().In(s.loc)
	if s.isOpen(now) || s.repliedRecently(history, now) {
		return nil
	}
	guard(ctx, s.sink, "sms.after_hours", func() error {
		_, err := s.texts.send(ctx, custNo, phone, s.hours.Reply, "", "")
		return err
	})
	return nil
}

func (s *inboundSMSServiceImpl) isOpen(t time.Time) bool {
	if !slices.Contains(s.hours.Days, int(t.Weekday())) {
		return false
	}
	return t.Hour() >= s.hours.Open && t.Hour() < s.hours.Close
}

func (s *inboundSMSServiceImpl) repliedRecently(history []model.SMSLog, now time.Time) bool {
	for _, h := range history {
		if h.Direction == model.SMSDirectionOut && h.Body == s.hours.Reply && now.Sub(h.CreatedAt) < afterHoursWindow {
			return true
		}
	}
	return false
}
