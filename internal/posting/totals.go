package posting

import (
	"retail-integration/internal/model"

	"github.com/shopspring/decimal"
)

// HeaderTotals computes the single PS_DOC_HDR_TOT row for a plan.
func HeaderTotals(p *Plan) model.DocHeaderTotal {
	sign := p.sign()

	merchandise, cost, lineDisc := decimal.Zero, decimal.Zero, decimal.Zero
	for _, l := range p.Lines {
		cost = cost.Add(l.ExtCost)
		lineDisc = lineDisc.Add(l.Discount)
		if l.Kind != model.LineDelivery {
			merchandise = merchandise.Add(l.Ext)
		}
	}

	giftCards := decimal.Zero
	for _, g := range p.GiftCards {
		giftCards = giftCards.Add(g.Amount)
	}

	coupons := decimal.Zero
	for _, c := range p.Coupons {
		coupons = coupons.Add(c.Amount.Abs())
	}
	hdrDisc := coupons.Sub(lineDisc)
	if hdrDisc.IsNegative() {
		hdrDisc = decimal.Zero
	}

	var subTot decimal.Decimal
	if p.Kind == PartialRefund {
		items := p.ItemsTotal
		if items == 0 {
			items = 1
		}
		prorated := coupons.Div(decimal.NewFromInt(int64(items)))
		subTot = p.RefundedAmount.Add(prorated).Round(2).Neg()
	} else {
		subTot = merchandise.Add(giftCards).Sub(hdrDisc.Mul(sign))
	}

	tendered := decimal.Zero
	if !p.Kind.Refunding() {
		for _, pm := range p.Payments {
			tendered = tendered.Add(pm.Amount)
		}
	}

	return model.DocHeaderTotal{
		TotTyp:     model.TotalTypeSale,
		Lins:       len(p.Lines),
		TotGfcAmt:  giftCards,
		SubTot:     subTot,
		TotExtCost: cost,
		TotMisc:    p.Shipping.Mul(sign),
		TotTnd:     tendered,
		TotHdrDisc: hdrDisc,
		TotLinDisc: lineDisc,
		TotTax:     decimal.Zero,
		AmtDue:     subTot,
	}
}
