package service

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/client"
	"retail-integration/internal/config"
	"retail-integration/internal/errsink"
	"retail-integration/internal/imaging"
	"retail-integration/internal/model"
	"retail-integration/internal/repository"
	"retail-integration/internal/util"
)

const couponAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var greetings = []string{"Good news!", "Great news!", "It's back!", "Guess what?", "You asked, we listened!"}

type StockNotifyService interface {
	// Run notifies every subscriber whose item is back in stock, then
	// retires expired coupons.
	Run(ctx context.Context) error
}

type stockNotifyServiceImpl struct {
	subs      repository.StockNotifyRepository
	customers repository.CustomerRepository
	discounts repository.DiscountRepository
	shopify   client.ShopifyClient
	texts     texter
	mailer    client.Mailer
	sink      errsink.Sink
	cfg       config.StockNotify
	imageDir  string
	locID     string
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

func NewStockNotifyService(
	subs repository.StockNotifyRepository,
	customers repository.CustomerRepository,
	discounts repository.DiscountRepository,
	shopify client.ShopifyClient,
	sms client.SMSSender,
	smsLog repository.SMSRepository,
	mailer client.Mailer,
	sink errsink.Sink,
	cfg config.StockNotify,
	imageDir string,
	locID string,
	loc *time.Location,
	logger *slog.Logger,
) StockNotifyService {
	return &stockNotifyServiceImpl{
		subs:      subs,
		customers: customers,
		discounts: discounts,
		shopify:   shopify,
		texts:     texter{sender: sms, log: smsLog, logger: logger},
		mailer:    mailer,
		sink:      sink,
		cfg:       cfg,
		imageDir:  imageDir,
		locID:     locID,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

type coupon struct {
	Code    string
	Amount  string
	Expires string
	shopID  string
}

func (s *stockNotifyServiceImpl) Run(ctx context.Context) error {
	ready, err := s.subs.Ready(ctx, s.locID)
	if err != nil {
		return err
	}

	var temp []string
	defer func() {
		for _, p := range temp {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("temp image not removed", "path", p, "error", err)
			}
		}
	}()

	for _, sub := range ready {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		guard(ctx, s.sink, "stock_notify.subscription", func() error {
			tmp, err := s.notify(ctx, sub)
			temp = append(temp, tmp...)
			return err
		})
	}

	guard(ctx, s.sink, "stock_notify.expire", func() error { return s.expireCoupons(ctx) })
	return nil
}

func (s *stockNotifyServiceImpl) notify(ctx context.Context, sub repository.ReadySubscription) ([]string, error) {
	log := s.logger.With("subscription", sub.ID, "item_no", sub.ItemNo)

	if sub.Phone == "" && sub.Email == "" {
		log.Warn("subscription has no phone or email, dropped")
		return nil, s.subs.Delete(ctx, sub.ID)
	}

	var custNo, firstName string
	if c, err := s.customers.FindByContact(ctx, sub.Email, sub.Phone); err == nil {
		custNo, firstName = c.CustNo, c.FstNam
	} else if !errors.Is(err, apperr.ErrNotFound) && !errors.Is(err, util.ErrInvalidPhone) {
		return nil, err
	}

	var cp *coupon
	if !slices.Contains(s.cfg.ExcludedSKUs, sub.ItemNo) {
		var err error
		cp, err = s.issueCoupon(ctx, sub, custNo)
		if err != nil {
			return nil, err
		}
	}

	var temp []string
	var mediaURL string
	var picture []byte
	code := ""
	if cp != nil {
		code = cp.Code
	}
	if path, err := s.composeImage(sub, code); err != nil {
		log.Warn("no notification image", "error", err)
	} else {
		temp = append(temp, path)
		if picture, err = os.ReadFile(path); err != nil {
			return temp, fmt.Errorf("read notification image: %w", err)
		}
		if url, err := s.publish(path); err != nil {
			log.Warn("notification image not published", "error", err)
		} else {
			mediaURL = url
		}
	}

	qty := util.WholeUnits(sub.QtyAvail)
	greeting := greetings[rand.IntN(len(greetings))]
	body := smsBody(greeting, firstName, sub.Descr, qty, cp)

	delivered := false
	if sub.Phone != "" {
		if _, err := s.texts.send(ctx, custNo, sub.Phone, body, mediaURL, "stock-notify"); err != nil {
			s.sink.Record(ctx, "stock_notify.sms", err)
		} else {
			delivered = true
		}
	}
	if sub.Email != "" {
		if err := s.sendMail(ctx, sub, greeting, firstName, qty, cp, picture); err != nil {
			s.sink.Record(ctx, "stock_notify.email", err)
		} else {
			delivered = true
		}
	}

	if !delivered {
		if cp != nil {
			s.retireCoupon(ctx, cp)
		}
		return temp, fmt.Errorf("notify subscription %d: no channel delivered", sub.ID)
	}
	if err := s.subs.Delete(ctx, sub.ID); err != nil {
		return temp, fmt.Errorf("delete subscription %d: %w", sub.ID, err)
	}
	log.Info("back-in-stock notice sent", "qty", qty, "coupon", code)
	return temp, nil
}

func (s *stockNotifyServiceImpl) issueCoupon(ctx context.Context, sub repository.ReadySubscription, custNo string) (*coupon, error) {
	code, err := s.newCouponCode(ctx)
	if err != nil {
		return nil, err
	}

	start := s.now().In(s.loc)
	end := start.AddDate(0, 0, s.cfg.CouponDays)
	amount := util.Round2(s.cfg.OfferAmount)

	rule := &model.DiscountRule{
		GrpCod:  code,
		Descr:   "Back in stock " + sub.ItemNo,
		DiscAmt: amount,
		BegDat:  start,
		EndDat:  end,
		CustNo:  custNo,
	}
	if err := s.discounts.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	shopID, err := s.shopify.CreateDiscountCode(ctx, client.DiscountCodeInput{
		Code:       code,
		Title:      rule.Descr,
		Amount:     amount,
		StartsAt:   start,
		EndsAt:     end,
		UsageLimit: 1,
	})
	if err != nil {
		if derr := s.discounts.Delete(ctx, code); derr != nil {
			s.logger.Warn("orphan discount rule", "grp_cod", code, "error", derr)
		}
		return nil, fmt.Errorf("mirror coupon %s: %w", code, err)
	}

	if err := s.discounts.SaveMapping(ctx, &model.PromoMapping{GrpCod: code, ShopID: shopID, ExpiresAt: end}); err != nil {
		return nil, fmt.Errorf("map coupon %s: %w", code, err)
	}

	return &coupon{
		Code:    code,
		Amount:  amount.StringFixed(2),
		Expires: end.Format("Jan 2"),
		shopID:  shopID,
	}, nil
}

// retireCoupon withdraws a coupon nobody was told about. The next run issues
// a fresh one, so at most one coupon per subscription is ever live.
func (s *stockNotifyServiceImpl) retireCoupon(ctx context.Context, cp *coupon) {
	guard(ctx, s.sink, "stock_notify.coupon", func() error {
		if err := s.shopify.DeleteDiscountCode(ctx, cp.shopID); err != nil {
			return fmt.Errorf("withdraw coupon %s: %w", cp.Code, err)
		}
		return s.discounts.Delete(ctx, cp.Code)
	})
}

func (s *stockNotifyServiceImpl) newCouponCode(ctx context.Context) (string, error) {
	for range 10 {
		b := make([]byte, 8)
		for i := range b {
			b[i] = couponAlphabet[rand.IntN(len(couponAlphabet))]
		}
		code := "BIS" + string(b)

		exists, err := s.discounts.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check coupon code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free coupon code after 10 tries")
}

// composeImage writes the notification picture to the temp directory.
func (s *stockNotifyServiceImpl) composeImage(sub repository.ReadySubscription, code string) (string, error) {
	var photo string
	if sub.ImageFile != "" && s.imageDir != "" {
		photo = filepath.Join(s.imageDir, sub.ImageFile)
		if _, err := os.Stat(photo); err != nil {
			photo = ""
		}
	}

	img, err := imaging.Compose(photo, code)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("stock-%d.png", sub.ID)
	if code != "" {
		name = fmt.Sprintf("coupon-%s.png", code)
	}
	path := filepath.Join(cmp.Or(s.cfg.TempDir, os.TempDir()), name)
	if err := imaging.WritePNG(path, img); err != nil {
		return "", err
	}
	return path, nil
}

// publish copies a temp image to the file server and returns its public URL.
func (s *stockNotifyServiceImpl) publish(path string) (string, error) {
	if s.cfg.FileServerDir == "" || s.cfg.PublicURL == "" {
		return "", fmt.Errorf("no file server configured")
	}

	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	name := filepath.Base(path)
	dst, err := os.Create(filepath.Join(s.cfg.FileServerDir, name))
	if err != nil {
		return "", fmt.Errorf("publish image: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("publish image: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + name, nil
}

func smsBody(greeting, firstName, descr string, qty int64, cp *coupon) string {
	var b strings.Builder
	b.WriteString(greeting)
	if firstName != "" {
		b.WriteString(" " + firstName + ",")
	}
	fmt.Fprintf(&b, " %s is back in stock. We have %d available now.", cmp.Or(descr, "Your item"), qty)
	if cp != nil {
		fmt.Fprintf(&b, " Use code %s for $%s off, valid through %s.", cp.Code, cp.Amount, cp.Expires)
	}
	b.WriteString(" Reply STOP to opt out.")
	return b.String()
}

var stockMailTemplate = template.Must(template.New("stock").Parse(`<p>{{.Greeting}}{{if .Name}} {{.Name}},{{end}}</p>
<p>{{.Descr}} is back in stock. We have {{.Qty}} available now.</p>
{{if .Coupon}}<p>Use code <b>{{.Coupon.Code}}</b> for ${{.Coupon.Amount}} off, valid through {{.Coupon.Expires}}.</p>{{end}}
{{if .Picture}}<p><img src="cid:notice" alt="{{.Descr}}"></p>{{end}}`))

func (s *stockNotifyServiceImpl) sendMail(ctx context.Context, sub repository.ReadySubscription, greeting, name string, qty int64, cp *coupon, picture []byte) error {
	var b bytes.Buffer
	err := stockMailTemplate.Execute(&b, map[string]any{
		"Greeting": greeting,
		"Name":     name,
		"Descr":    cmp.Or(sub.Descr, sub.ItemNo),
		"Qty":      qty,
		"Coupon":   cp,
		"Picture":  len(picture) > 0,
	})
	if err != nil {
		return fmt.Errorf("render stock email: %w", err)
	}

	mail := client.Mail{
		To:      []string{sub.Email},
		Subject: cmp.Or(sub.Descr, sub.ItemNo) + " is back in stock",
		HTML:    b.String(),
	}
	if len(picture) > 0 {
		mail.Inline = []client.Attachment{{Name: "notice.png", ContentID: "notice", ContentType: "image/png", Data: picture}}
	}
	return s.mailer.Send(ctx, mail)
}

func (s *stockNotifyServiceImpl) expireCoupons(ctx context.Context) error {
	expired, err := s.discounts.ExpiredMappings(ctx, s.now())
	if err != nil {
		return err
	}

	var errs []error
	for _, m := range expired {
		if err := s.shopify.DeleteDiscountCode(ctx, m.ShopID); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.discounts.Disable(ctx, m.GrpCod); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		if err := s.discounts.DeleteMapping(ctx, m.GrpCod); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("expired coupon retired", "grp_cod", m.GrpCod)
	}
	return errors.Join(errs...)
}

