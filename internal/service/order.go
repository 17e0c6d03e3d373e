package service

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/client"
	"retail-integration/internal/errsink"
	"retail-integration/internal/model"
	"retail-integration/internal/posting"
)

type OrderService interface {
	OnOrder(ctx context.Context, orderID string) error
}

// OrderPoster is the posting state machine as the order handler sees it.
type OrderPoster interface {
	Post(ctx context.Context, o *model.Order, custNo string) (*posting.Result, error)
}

type orderServiceImpl struct {
	shopify client.ShopifyClient
	poster  OrderPoster
	printer client.Printer
	mailer  client.Mailer
	sink    errsink.Sink
	settle  time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
}

func NewOrderService(
	shopify client.ShopifyClient,
	poster OrderPoster,
	printer client.Printer,
	mailer client.Mailer,
	sink errsink.Sink,
	settle time.Duration,
	logger *slog.Logger,
) OrderService {
	return &orderServiceImpl{
		shopify: shopify,
		poster:  poster,
		printer: printer,
		mailer:  mailer,
		sink:    sink,
		settle:  settle,
		sleep:   sleepCtx,
		logger:  logger,
	}
}

func (s *orderServiceImpl) OnOrder(ctx context.Context, orderID string) error {
	orderID, err := cleanID(orderID, "order")
	if err != nil {
		return err
	}
	log := s.logger.With("order_id", orderID)

	// let the payment capture settle before reading the order
	if err := s.sleep(ctx, s.settle); err != nil {
		return err
	}

	order, err := s.shopify.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	res, err := s.poster.Post(ctx, order, "")
	if errors.Is(err, apperr.ErrDeclined) {
		return nil
	}
	if err != nil {
		return err
	}
	if res.Existing {
		log.Info("order already in the erp, nothing printed", "doc_id", res.DocID)
		return nil
	}

	if order.GiftCardOnly() {
		log.Info("gift card only order, not printed")
	} else {
		guard(ctx, s.sink, "order.print", func() error {
			return s.printer.Print(ctx, orderPrintJob(order, res))
		})
	}

	if !res.Kind.Refunding() && len(res.GiftCards) > 0 && order.Email != "" {
		guard(ctx, s.sink, "order.gift_card_email", func() error {
			mail, err := giftCardMail(order, res.GiftCards)
			if err != nil {
				return err
			}
			return s.mailer.Send(ctx, mail)
		})
	}

	log.Info("order handled", "doc_id", res.DocID, "ticket", res.TicketNo, "kind", res.Kind)
	return nil
}

func orderPrintJob(o *model.Order, res *posting.Result) client.PrintJob {
	kind := "order"
	if res.Kind.Refunding() {
		kind = "refund"
	}

	job := client.PrintJob{
		Kind:  kind,
		Title: o.Name,
		Fields: map[string]string{
			"ticket":   res.TicketNo,
			"customer": res.CustNo,
			"email":    o.Email,
			"total":    o.Total.StringFixed(2),
			"shipping": o.ShippingCost.StringFixed(2),
			"note":     o.Note,
		},
	}
	if a := o.ShippingAddress; !a.Empty() {
		job.Fields["ship_to"] = strings.TrimSpace(strings.Join([]string{
			a.FirstName + " " + a.LastName, a.Address1, a.Address2, a.City, a.Province, a.Zip,
		}, ", "))
	}
	for _, l := range o.Lines {
		if l.Kind == model.LineGiftCard {
			continue
		}
		job.Lines = append(job.Lines, client.PrintLine{
			SKU:      l.SKU,
			Name:     l.Name,
			Quantity: l.Quantity,
			Amount:   l.ExtPrice().StringFixed(2),
		})
	}
	return job
}

var giftCardTemplate = template.Must(template.New("gift_card").Parse(`<p>Thank you for your order {{.Order}}!</p>
<p>Your gift card{{if gt (len .Cards) 1}}s are{{else}} is{{end}} ready:</p>
<ul>{{range .Cards}}<li><b>{{.Code}}</b> for ${{.Amount}}</li>{{end}}</ul>
<p>Present the code at checkout in the store or online.</p>`))

type giftCardLine struct {
	Code   string
	Amount string
}

func giftCardMail(o *model.Order, cards []posting.PlanGiftCard) (client.Mail, error) {
	data := struct {
		Order string
		Cards []giftCardLine
	}{Order: o.Name}
	for _, g := range cards {
		if g.Code == "" {
			continue
		}
		data.Cards = append(data.Cards, giftCardLine{Code: g.Code, Amount: g.Amount.Abs().StringFixed(2)})
	}
	if len(data.Cards) == 0 {
		return client.Mail{}, fmt.Errorf("gift card email for %s: no codes issued", o.ID)
	}

	var b strings.Builder
	if err := giftCardTemplate.Execute(&b, data); err != nil {
		return client.Mail{}, fmt.Errorf("render gift card email: %w", err)
	}
	return client.Mail{
		To:      []string{o.Email},
		Subject: "Your gift card",
		HTML:    b.String(),
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
