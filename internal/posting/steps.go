package posting

import (
	"context"
	"errors"
	"fmt"

	"retail-integration/internal/model"
	"retail-integration/internal/util"

	"github.com/shopspring/decimal"
)

type run struct {
	plan      *Plan
	result    *Result
	docID     string
	ticket    string
	origDocID string
}

type step struct {
	name string
	when func(Kind) bool
	fn   func(context.Context, *run) error
}

func saleOnly(k Kind) bool   { return !k.Refunding() }
func refundOnly(k Kind) bool { return k.Refunding() }

// steps are the finishing writes, in the order they must run.
func (p *Poster) steps() []step {
	return []step{
		{name: "ticket_number", fn: p.setTicketNumber},
		{name: "gift_card_issue", when: saleOnly, fn: p.issueGiftCards},
		{name: "loyalty_accrual", fn: p.accrueLoyalty},
		{name: "discounts", fn: p.writeDiscounts},
		{name: "refund", when: refundOnly, fn: p.applyRefund},
		{name: "header_totals", fn: p.writeTotals},
		{name: "line_types", fn: p.setLineTypes},
		{name: "apply_types", fn: p.setApplyTypes},
		{name: "header_counters", fn: p.setHeaderCounters},
		{name: "shipping_charge", fn: p.rebindShipping},
		{name: "cleanup", fn: p.deleteOrderStage},
		{name: "redeem_loyalty", when: saleOnly, fn: p.redeemLoyalty},
	}
}

func (p *Poster) setTicketNumber(ctx context.Context, r *run) error {
	ticket := r.plan.OrderID
	if suffix := r.plan.Kind.TicketSuffix(); suffix != "" {
		next, err := NextTicketNumber(ctx, p.documents, r.plan.OrderID, suffix)
		if err != nil {
			return err
		}
		ticket = next
	}

	if err := p.documents.SetTicketNumber(ctx, r.docID, ticket); err != nil {
		return err
	}
	r.ticket = ticket
	return nil
}

func (p *Poster) issueGiftCards(ctx context.Context, r *run) error {
	var errs []error
	for _, g := range r.plan.GiftCards {
		if g.Code == "" {
			errs = append(errs, fmt.Errorf("gift card line %d has no code", g.Seq))
			continue
		}
		card := &model.GiftCard{
			GfcNo:      g.Code,
			Descr:      g.Descr,
			OrigAmt:    g.Amount.Abs(),
			OrigCustNo: r.plan.CustNo,
		}
		if err := p.giftCards.Issue(ctx, card, r.docID, r.ticket); err != nil {
			errs = append(errs, fmt.Errorf("issue gift card %s: %w", g.Code, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Poster) accrueLoyalty(ctx context.Context, r *run) error {
	c, err := p.customers.Get(ctx, r.plan.CustNo)
	if err != nil {
		return err
	}
	opening := max(c.LoyPtsBal, 0)

	var lines []model.DocLineLoyalty
	var earned int64
	for _, l := range r.plan.Lines {
		if l.Kind == model.LineDelivery {
			continue
		}
		pts := util.LoyaltyPoints(l.Ext)
		earned += pts
		lines = append(lines, model.DocLineLoyalty{
			DocID:          r.docID,
			LinSeqNo:       l.Seq,
			LinLoyPtsEarnd: pts,
		})
	}

	header := &model.DocHeaderLoyalty{
		DocID:          r.docID,
		LinLoyPtsEarnd: earned,
		LoyPtsRedm:     util.WholeUnits(r.plan.Loyalty),
		LoyPtsBal:      opening,
	}
	return p.documents.InsertLoyalty(ctx, lines, header)
}

func (p *Poster) writeDiscounts(ctx context.Context, r *run) error {
	return p.documents.InsertDiscounts(ctx, DiscountRows(r.plan, r.docID))
}

// DiscountRows is one header row per coupon code followed by one row per
// discounted line, numbered densely.
func DiscountRows(plan *Plan, docID string) []model.DocDiscount {
	var rows []model.DocDiscount
	seq := 0

	var codes []string
	byCode := make(map[string]decimal.Decimal)
	for _, c := range plan.Coupons {
		if c.Code == "" {
			continue
		}
		if _, ok := byCode[c.Code]; !ok {
			codes = append(codes, c.Code)
		}
		byCode[c.Code] = byCode[c.Code].Add(c.Amount.Abs())
	}
	for _, code := range codes {
		seq++
		rows = append(rows, model.DocDiscount{
			DocID:     docID,
			DiscSeqNo: seq,
			ApplyTo:   model.DiscountApplyHeader,
			DiscCod:   code,
			DiscAmt:   byCode[code],
		})
	}

	for _, l := range plan.Lines {
		if l.Discount.IsZero() {
			continue
		}
		seq++
		rows = append(rows, model.DocDiscount{
			DocID:     docID,
			DiscSeqNo: seq,
			ApplyTo:   model.DiscountApplyLine,
			LinSeqNo:  l.Seq,
			DiscCod:   "LINE",
			DiscAmt:   l.Discount,
		})
	}

	return rows
}

// applyRefund forces every stored amount on a refund document negative. Each
// write is -|x|, so running it again changes nothing.
func (p *Poster) applyRefund(ctx context.Context, r *run) error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	lines, err := p.documents.Lines(ctx, r.docID)
	add(err)
	for _, l := range lines {
		qty := negative(l.QtySold)
		add(p.documents.UpdateLine(ctx, r.docID, l.LinSeqNo, map[string]interface{}{
			"QTY_SOLD":           qty,
			"EXT_PRC":            negative(l.ExtPrc),
			"EXT_COST":           negative(l.ExtCost),
			"ORIG_QTY":           negative(l.OrigQty),
			"GROSS_EXT_PRC":      negative(l.GrossExtPrc),
			"GROSS_DISP_EXT_PRC": negative(l.GrossDispExtPrc),
			"CALC_EXT_PRC":       negative(l.CalcExtPrc),
			"QTY_ENTD":           decimal.Zero,
			"QTY_TO_REL":         qty,
			"QTY_TO_LEAVE":       decimal.Zero,
		}))
	}

	prices, err := p.documents.LinePrices(ctx, r.docID)
	add(err)
	for _, row := range prices {
		row.QtyPrcd = negative(row.QtyPrcd)
		row.ExtPrc = negative(row.ExtPrc)
		add(p.documents.UpdateLinePrice(ctx, row))
	}

	payments, err := p.documents.Payments(ctx, r.docID)
	add(err)
	primary := make(map[int]bool)
	for _, pm := range payments {
		if pm.PayCod != p.settings.PayCode {
			continue
		}
		primary[pm.PmtSeqNo] = true
		add(p.documents.UpdatePaymentAmount(ctx, r.docID, pm.PmtSeqNo, negative(pm.Amt)))
	}
	applies, err := p.documents.PaymentApplies(ctx, r.docID)
	add(err)
	for _, a := range applies {
		if primary[a.PmtSeqNo] {
			add(p.documents.UpdatePaymentApplyAmount(ctx, r.docID, a.PmtSeqNo, negative(a.Amt)))
		}
	}

	for _, pm := range r.plan.Payments {
		switch pm.Method {
		case model.PaymentGiftCard:
			if pm.GfcNo == "" {
				add(fmt.Errorf("gift card tender ..%s not resolved", pm.Last4))
				continue
			}
			add(p.giftCards.Refund(ctx, pm.GfcNo, pm.Amount.Abs(), pm.Balance, r.docID, r.ticket))
		case model.PaymentLoyalty:
			_, err := p.customers.AdjustLoyalty(ctx, r.plan.CustNo, util.WholeUnits(pm.Amount))
			add(err)
		}
	}

	for _, g := range r.plan.GiftCards {
		if g.Code == "" {
			add(fmt.Errorf("refunded gift card line %d has no code", g.Seq))
			continue
		}
		add(p.giftCards.Refund(ctx, g.Code, negative(g.Amount), decimal.Zero, r.docID, r.ticket))
	}

	return errors.Join(errs...)
}

func (p *Poster) writeTotals(ctx context.Context, r *run) error {
	row := HeaderTotals(r.plan)
	row.DocID = r.docID
	return p.documents.ReplaceTotals(ctx, &row)
}

func (p *Poster) setLineTypes(ctx context.Context, r *run) error {
	return p.documents.SetLineTypes(ctx, r.docID, r.plan.lineType())
}

func (p *Poster) setApplyTypes(ctx context.Context, r *run) error {
	return p.documents.SetApplyTypes(ctx, r.docID, model.ApplyTypeSale)
}

func (p *Poster) setHeaderCounters(ctx context.Context, r *run) error {
	total := decimal.Zero
	for _, l := range r.plan.Lines {
		total = total.Add(l.Ext)
	}
	n := len(r.plan.Lines)

	fields := map[string]interface{}{
		"SAL_LINS":    n,
		"SAL_LIN_TOT": total,
		"TO_REL_LINS": n,
	}
	if r.plan.Kind.Refunding() {
		fields = map[string]interface{}{
			"RET_LINS":    n,
			"RET_LIN_TOT": total.Abs(),
		}
	}
	return p.documents.UpdateHeader(ctx, r.docID, fields)
}

func (p *Poster) origDoc(ctx context.Context, r *run) (string, error) {
	if r.origDocID != "" {
		return r.origDocID, nil
	}
	orig, err := p.documents.OrigDocID(ctx, r.docID)
	if err != nil {
		return "", err
	}
	r.origDocID = orig
	return orig, nil
}

func (p *Poster) rebindShipping(ctx context.Context, r *run) error {
	if !r.plan.Shipping.IsPositive() {
		return nil
	}
	orig, err := p.origDoc(ctx, r)
	if err != nil {
		return err
	}

	moved, err := p.documents.RebindMiscCharge(ctx, orig, r.docID, r.plan.Kind.Refunding())
	if err != nil {
		return err
	}
	if moved == 0 {
		p.logger.Warn("no shipping charge to rebind", "doc_id", r.docID, "orig_doc_id", orig)
	}
	return nil
}

func (p *Poster) deleteOrderStage(ctx context.Context, r *run) error {
	orig, err := p.origDoc(ctx, r)
	if err != nil {
		return err
	}
	return p.documents.DeleteOrigDoc(ctx, r.docID, orig)
}

func (p *Poster) redeemLoyalty(ctx context.Context, r *run) error {
	points := util.WholeUnits(r.plan.Loyalty)
	if points == 0 {
		return nil
	}
	_, err := p.customers.AdjustLoyalty(ctx, r.plan.CustNo, -points)
	return err
}
