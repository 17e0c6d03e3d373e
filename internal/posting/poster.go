package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/client"
	"retail-integration/internal/errsink"
	"retail-integration/internal/model"
	"retail-integration/internal/repository"
	"retail-integration/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StepResult struct {
	Step string
	Err  error
}

type Result struct {
	DocID    string
	TicketNo string
	Kind     Kind
	CustNo   string
	// Existing is set when the sale, or every refund record, had already
	// been posted.
	Existing  bool
	GiftCards []PlanGiftCard
	Steps     []StepResult
}

// Failed lists the secondary writes that did not complete.
func (r *Result) Failed() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

type Poster struct {
	erp       client.DocumentPoster
	documents repository.DocumentRepository
	customers repository.CustomerRepository
	products  repository.ProductRepository
	giftCards repository.GiftCardRepository
	sink      errsink.Sink
	settings  Settings
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

func NewPoster(
	erp client.DocumentPoster,
	documents repository.DocumentRepository,
	customers repository.CustomerRepository,
	products repository.ProductRepository,
	giftCards repository.GiftCardRepository,
	sink errsink.Sink,
	settings Settings,
	loc *time.Location,
	logger *slog.Logger,
) *Poster {
	return &Poster{
		erp:       erp,
		documents: documents,
		customers: customers,
		products:  products,
		giftCards: giftCards,
		sink:      sink,
		settings:  settings,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// Post writes o to the ERP. custNo overrides customer resolution when set.
//
// Only a failed Document API call stops the machine: the customer's documents
// from today are compensated and the error returned. Secondary write failures
// are recorded in the result and the error sink.
func (p *Poster) Post(ctx context.Context, o *model.Order, custNo string) (*Result, error) {
	log := p.logger.With("order_id", o.ID)

	if o.Declined() {
		log.Warn("order not posted", "financial_status", o.FinancialStatus)
		return nil, fmt.Errorf("post order %s: status %q: %w", o.ID, o.FinancialStatus, apperr.ErrDeclined)
	}

	if custNo == "" {
		var err error
		custNo, err = ResolveCustomer(ctx, p.customers, o.Email, o.Phone, o.Contact())
		if err != nil {
			return nil, fmt.Errorf("post order %s: %w", o.ID, err)
		}
	}

	kind := Classify(o)
	log = log.With("kind", kind, "cust_no", custNo)

	if kind == NewSale {
		hdr, err := p.documents.FindTicket(ctx, o.ID)
		if err == nil {
			log.Info("order already posted", "doc_id", hdr.DocID)
			return &Result{DocID: hdr.DocID, TicketNo: hdr.TktNo, Kind: kind, CustNo: custNo, Existing: true}, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("post order %s: %w", o.ID, err)
		}
	}

	if kind == Refund {
		prior, err := p.documents.TicketNumbersLike(ctx, o.ID+PartialRefund.TicketSuffix())
		if err != nil {
			return nil, fmt.Errorf("post order %s: %w", o.ID, err)
		}
		if len(prior) >= len(o.Refunds) {
			log.Info("every refund already posted", "partial_refunds", len(prior))
			return &Result{TicketNo: o.ID, Kind: kind, CustNo: custNo, Existing: true}, nil
		}
		if len(prior) > 0 {
			log.Info("refund posts the remainder", "partial_refunds", len(prior))
			o = Unposted(o, len(prior))
		}
	}

	p.resolveGiftCardTenders(ctx, o)

	costs, err := p.products.Costs(ctx, itemNumbers(o))
	if err != nil {
		p.sink.Record(ctx, "posting.costs", fmt.Errorf("order %s: %w", o.ID, err))
		costs = nil
	}

	plan := BuildPlan(o, kind, custNo, costs, p.settings)
	if err := p.prepareGiftCards(ctx, plan); err != nil {
		p.sink.Record(ctx, "posting.gift_cards", fmt.Errorf("order %s: %w", o.ID, err))
	}

	res := &Result{Kind: kind, CustNo: custNo, TicketNo: o.ID, GiftCards: plan.GiftCards}

	docID, err := p.erp.PostDocument(ctx, plan.Payload(p.settings))
	if err != nil {
		res.Steps = append(res.Steps, StepResult{Step: "primary_write", Err: err})
		if cerr := p.compensate(ctx, custNo); cerr != nil {
			p.sink.Record(ctx, "posting.compensate", cerr)
		}
		if !errors.Is(err, apperr.ErrPostingFailed) {
			err = fmt.Errorf("%w: %w", apperr.ErrPostingFailed, err)
		}
		return res, fmt.Errorf("post order %s: %w", o.ID, err)
	}
	res.DocID = docID
	log = log.With("doc_id", docID)
	log.Info("document posted")

	r := &run{plan: plan, result: res, docID: docID, ticket: o.ID}
	for _, step := range p.steps() {
		if step.when != nil && !step.when(kind) {
			continue
		}
		err := step.fn(ctx, r)
		res.Steps = append(res.Steps, StepResult{Step: step.name, Err: err})
		if err != nil {
			p.sink.Record(ctx, "posting."+step.name, fmt.Errorf("order %s doc %s: %w", o.ID, docID, err))
		}
	}
	res.TicketNo = r.ticket

	log.Info("order posted", "ticket", res.TicketNo, "failed_steps", len(res.Failed()))
	return res, nil
}

// resolveGiftCardTenders fills in card numbers the storefront only reports by
// their last characters.
func (p *Poster) resolveGiftCardTenders(ctx context.Context, o *model.Order) {
	resolve := func(txs []model.Transaction) {
		for i := range txs {
			tx := &txs[i]
			if tx.Method != model.PaymentGiftCard || tx.GiftCardLast4 == "" {
				continue
			}
			if tx.GiftCardCode != "" && !isNumeric(tx.GiftCardCode) {
				continue
			}
			card, err := p.giftCards.FindByLastChars(ctx, tx.GiftCardLast4)
			if err != nil {
				p.sink.Record(ctx, "posting.gift_card_tender", fmt.Errorf("order %s card ..%s: %w", o.ID, tx.GiftCardLast4, err))
				continue
			}
			tx.GiftCardCode = card.GfcNo
		}
	}

	resolve(o.Transactions)
	for i := range o.Refunds {
		resolve(o.Refunds[i].Transactions)
	}
}

// prepareGiftCards generates codes for cards sold without one and, on a
// refund, finds the cards the original sale issued.
func (p *Poster) prepareGiftCards(ctx context.Context, plan *Plan) error {
	if len(plan.GiftCards) == 0 {
		return nil
	}

	if !plan.Kind.Refunding() {
		for i := range plan.GiftCards {
			if plan.GiftCards[i].Code != "" {
				continue
			}
			code, err := p.newGiftCardCode(ctx)
			if err != nil {
				return err
			}
			plan.GiftCards[i].Code = code
		}
		return nil
	}

	sale, err := p.documents.FindTicket(ctx, plan.OrderID)
	if err != nil {
		return fmt.Errorf("find original sale: %w", err)
	}
	issued, err := p.giftCards.IssuedOn(ctx, sale.DocID)
	if err != nil {
		return err
	}

	taken := make(map[string]bool)
	for i := range plan.GiftCards {
		g := &plan.GiftCards[i]
		if g.Code != "" {
			continue
		}
		for _, card := range issued {
			if !taken[card.GfcNo] && card.OrigAmt.Equal(g.Amount.Abs()) {
				g.Code = card.GfcNo
				taken[card.GfcNo] = true
				break
			}
		}
		if g.Code == "" {
			return fmt.Errorf("no issued gift card of %s on %s: %w", g.Amount.Abs(), sale.DocID, apperr.ErrNotFound)
		}
	}
	return nil
}

func (p *Poster) newGiftCardCode(ctx context.Context) (string, error) {
	for range 5 {
		code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
		exists, err := p.giftCards.Exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check gift card code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("generate gift card code: %w", apperr.ErrInconsistent)
}

// compensate removes the customer's documents from today after a failed
// post. More than two candidates means it cannot tell which are ours.
func (p *Poster) compensate(ctx context.Context, custNo string) error {
	since := util.StartOfDay(p.now(), p.loc)
	docs, err := p.documents.RecentForCustomer(ctx, custNo, since, 3)
	if err != nil {
		return fmt.Errorf("compensate customer %s: %w", custNo, err)
	}

	if len(docs) > 2 {
		return fmt.Errorf("compensate customer %s: %d documents today: %w", custNo, len(docs), apperr.ErrCompensationAborted)
	}

	var errs []error
	for _, d := range docs {
		if err := p.documents.DeleteDocument(ctx, d.DocID); err != nil {
			errs = append(errs, err)
			continue
		}
		p.logger.Warn("compensated document", "cust_no", custNo, "doc_id", d.DocID)
	}
	return errors.Join(errs...)
}

func itemNumbers(o *model.Order) []string {
	var out []string
	for _, l := range o.Lines {
		if l.SKU != "" && l.Kind != model.LineGiftCard {
			out = append(out, l.SKU)
		}
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func negative(d decimal.Decimal) decimal.Decimal { return d.Abs().Neg() }
