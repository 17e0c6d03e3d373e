package posting

import (
	"slices"

	"retail-integration/internal/config"
	"retail-integration/internal/model"

	"github.com/shopspring/decimal"
)

// ChannelID is the sales channel stamped on every header.
const ChannelID = 1

const (
	ShipViaCarrier = "T"
	ShipViaPickup  = "C"
	ShipViaRefund  = "CPC_FLAT"
)

// Settings are the store constants a document carries.
type Settings struct {
	StoreID     string
	StationID   string
	DrawerID    string
	TaxCode     string
	PayCode     string
	LoyaltyCode string
	GiftPayCode string
	DeliverySKU string
	ServiceSKU  string
}

func SettingsFrom(cfg *config.ERP) Settings {
	return Settings{
		StoreID:     cfg.StoreID,
		StationID:   cfg.StationID,
		DrawerID:    cfg.DrawerID,
		TaxCode:     cfg.TaxCode,
		PayCode:     cfg.PayCode,
		LoyaltyCode: cfg.LoyaltyCode,
		GiftPayCode: cfg.GiftPayCode,
		DeliverySKU: cfg.DeliverySKU,
		ServiceSKU:  cfg.ServiceSKU,
	}
}

// PlanLine is one PS_DOC_LIN row. Qty, Ext and ExtCost carry the document
// sign; Unit and Discount are magnitudes.
type PlanLine struct {
	Seq      int
	Kind     model.LineKind
	ItemNo   string
	Descr    string
	Qty      int
	Unit     decimal.Decimal
	Ext      decimal.Decimal
	ExtCost  decimal.Decimal
	Discount decimal.Decimal
}

type PlanGiftCard struct {
	Code   string
	Amount decimal.Decimal
	Seq    int
	Index  int
	Descr  string
}

// PlanPayment amounts are magnitudes; the refund path signs them after the
// document exists.
type PlanPayment struct {
	Seq     int
	Method  model.PaymentMethod
	PayCode string
	Amount  decimal.Decimal
	GfcNo   string
	Last4   string
	Balance decimal.Decimal
}

// Plan is the classified order reduced to what the document needs.
type Plan struct {
	Kind           Kind
	OrderID        string
	CustNo         string
	ShipVia        string
	Note           string
	Lines          []PlanLine
	GiftCards      []PlanGiftCard
	Payments       []PlanPayment
	Coupons        []model.DiscountCode
	Shipping       decimal.Decimal
	Total          decimal.Decimal
	Loyalty        decimal.Decimal
	RefundedAmount decimal.Decimal
	ItemsTotal     int
}

func (p *Plan) sign() decimal.Decimal {
	if p.Kind.Refunding() {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// BuildPlan lays out lines, gift cards and tenders for kind. Sequence numbers
// are dense over every included order line, gift cards too, with delivery
// last. Partial refunds take their lines from the latest refund record.
func BuildPlan(o *model.Order, kind Kind, custNo string, costs map[string]decimal.Decimal, s Settings) *Plan {
	p := &Plan{
		Kind:    kind,
		OrderID: o.ID,
		CustNo:  custNo,
		Note:    o.Note,
		Coupons: o.DiscountCodes,
	}
	sign := p.sign()

	var latest *model.Refund
	if kind == PartialRefund {
		latest = o.LatestRefund()
	}

	seq := 0
	for _, l := range o.Lines {
		if l.Kind != model.LineGiftCard && l.Kind != model.LineDelivery {
			p.ItemsTotal += l.Quantity
		}

		qty := l.Quantity
		discount := l.LineDiscount
		if latest != nil {
			qty = latest.Quantity(l.ID)
			if qty <= 0 {
				continue
			}
			if l.Quantity > 0 && qty != l.Quantity {
				discount = l.LineDiscount.Mul(decimal.NewFromInt(int64(qty))).
					Div(decimal.NewFromInt(int64(l.Quantity))).Round(2)
			}
		}
		if qty <= 0 {
			continue
		}
		seq++

		ext := l.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
		if l.Kind == model.LineGiftCard {
			p.GiftCards = append(p.GiftCards, PlanGiftCard{
				Code:   l.GiftCardCode,
				Amount: ext.Mul(sign),
				Seq:    seq,
				Index:  len(p.GiftCards) + 1,
				Descr:  l.Name,
			})
			continue
		}

		item, unit, units := l.SKU, l.UnitPrice, qty
		if l.Kind == model.LineService {
			if item == "" {
				item = s.ServiceSKU
			}
			unit, units = ext, 1
		}
		cost := costs[item].Mul(decimal.NewFromInt(int64(qty)))

		p.Lines = append(p.Lines, PlanLine{
			Seq:      seq,
			Kind:     l.Kind,
			ItemNo:   item,
			Descr:    l.Name,
			Qty:      units * int(sign.IntPart()),
			Unit:     unit,
			Ext:      ext.Mul(sign),
			ExtCost:  cost.Mul(sign),
			Discount: discount.Abs(),
		})
	}

	shipping := o.ShippingCost
	if latest != nil {
		shipping = latest.Shipping
		for _, rl := range latest.Lines {
			p.RefundedAmount = p.RefundedAmount.Add(rl.Subtotal)
		}
	}
	if shipping.IsPositive() {
		seq++
		p.Shipping = shipping
		p.Lines = append(p.Lines, PlanLine{
			Seq:    seq,
			Kind:   model.LineDelivery,
			ItemNo: s.DeliverySKU,
			Descr:  "Delivery",
			Qty:    int(sign.IntPart()),
			Unit:   shipping,
			Ext:    shipping.Mul(sign),
		})
	}

	switch {
	case kind.Refunding():
		p.ShipVia = ShipViaRefund
	case p.Shipping.IsPositive():
		p.ShipVia = ShipViaCarrier
	default:
		p.ShipVia = ShipViaPickup
	}

	p.planPayments(o, latest, s)
	return p
}

// Unposted reduces o to what a final refund still has to return once the
// oldest posted refund records went out as partial refunds: line quantities,
// line discounts and shipping net of those records, and only the later
// records' tenders.
func Unposted(o *model.Order, posted int) *model.Order {
	if posted <= 0 {
		return o
	}
	refunds := slices.Clone(o.Refunds)
	slices.SortStableFunc(refunds, func(a, b model.Refund) int { return a.CreatedAt.Compare(b.CreatedAt) })
	posted = min(posted, len(refunds))
	done := refunds[:posted]

	rest := *o
	rest.Refunds = refunds[posted:]
	rest.Lines = make([]model.LineItem, 0, len(o.Lines))
	for _, l := range o.Lines {
		returned := 0
		for _, r := range done {
			returned += r.Quantity(l.ID)
		}
		if returned > 0 && l.Quantity > 0 {
			left := max(l.Quantity-returned, 0)
			l.LineDiscount = l.LineDiscount.Mul(decimal.NewFromInt(int64(left))).
				Div(decimal.NewFromInt(int64(l.Quantity))).Round(2)
			l.Quantity = left
		}
		rest.Lines = append(rest.Lines, l)
	}
	for _, r := range done {
		rest.ShippingCost = rest.ShippingCost.Sub(r.Shipping)
	}
	return &rest
}

func (p *Plan) planPayments(o *model.Order, latest *model.Refund, s Settings) {
	var txs []model.Transaction
	total := decimal.Zero

	switch p.Kind {
	case NewSale:
		txs = o.Transactions
		total = o.Total
	default:
		refunds := o.Refunds
		if latest != nil {
			refunds = []model.Refund{*latest}
		}
		owed := decimal.Zero
		for _, r := range refunds {
			txs = append(txs, r.Transactions...)
			owed = owed.Add(r.Amount())
		}
		for _, tx := range txs {
			total = total.Add(tx.Amount.Abs())
		}
		if total.IsZero() {
			total = owed
		}
	}
	p.Total = total.Abs()

	var cards []PlanPayment
	giftTotal := decimal.Zero
	for _, tx := range txs {
		switch tx.Method {
		case model.PaymentLoyalty:
			p.Loyalty = p.Loyalty.Add(tx.Amount.Abs())
		case model.PaymentGiftCard:
			giftTotal = giftTotal.Add(tx.Amount.Abs())
			cards = append(cards, PlanPayment{
				Method:  model.PaymentGiftCard,
				PayCode: s.GiftPayCode,
				Amount:  tx.Amount.Abs(),
				GfcNo:   tx.GiftCardCode,
				Last4:   tx.GiftCardLast4,
				Balance: tx.RemainingBalance,
			})
		}
	}

	primary := p.Total.Sub(p.Loyalty).Sub(giftTotal)
	if primary.IsNegative() {
		primary = decimal.Zero
	}

	var payments []PlanPayment
	if primary.IsPositive() || (p.Loyalty.IsZero() && len(cards) == 0) {
		payments = append(payments, PlanPayment{Method: model.PaymentPrimary, PayCode: s.PayCode, Amount: primary})
	}
	if p.Loyalty.IsPositive() {
		payments = append(payments, PlanPayment{Method: model.PaymentLoyalty, PayCode: s.LoyaltyCode, Amount: p.Loyalty})
	}
	payments = append(payments, cards...)

	for i := range payments {
		payments[i].Seq = i + 1
	}
	p.Payments = payments
}

func (p *Plan) lineType() string {
	if p.Kind.Refunding() {
		return model.LineTypeReturn
	}
	return model.LineTypeSale
}

// Payload renders the Document API request.
func (p *Plan) Payload(s Settings) *model.DocumentPayload {
	hdr := model.DocumentHeader{
		StrID:      s.StoreID,
		StaID:      s.StationID,
		DrwID:      s.DrawerID,
		TktNo:      p.OrderID,
		CustNo:     p.CustNo,
		TktTyp:     model.TicketTypeTicket,
		DocTyp:     model.DocTypeOrder,
		TaxCod:     s.TaxCode,
		ShipViaCod: p.ShipVia,
		ChannelID:  ChannelID,
	}
	if p.Note != "" {
		hdr.Notes = []model.DocumentNote{{NoteID: "ORDER", Note: p.Note}}
	}

	linTyp := p.lineType()
	for _, l := range p.Lines {
		hdr.Lines = append(hdr.Lines, model.DocumentLine{
			LinSeqNo:   l.Seq,
			LinTyp:     linTyp,
			ItemNo:     l.ItemNo,
			Descr:      l.Descr,
			QtySold:    decimal.NewFromInt(int64(l.Qty)),
			Prc:        l.Unit,
			ExtPrc:     l.Ext,
			ExtCost:    l.ExtCost,
			LinDiscAmt: l.Discount,
			IsDelivery: l.Kind == model.LineDelivery,
		})
	}

	for _, g := range p.GiftCards {
		hdr.GiftCards = append(hdr.GiftCards, model.DocumentGiftCard{
			GfcNo:    g.Code,
			Amt:      g.Amount,
			LinSeqNo: g.Seq,
			GfcSeqNo: g.Index,
			Descr:    g.Descr,
		})
	}

	for _, pm := range p.Payments {
		out := model.DocumentPayment{
			PmtSeqNo: pm.Seq,
			PayCod:   pm.PayCode,
			Amt:      pm.Amount,
			GfcNo:    pm.GfcNo,
			Method:   pm.Method,
		}
		if pm.Method == model.PaymentGiftCard {
			bal := pm.Balance
			out.GfcBal = &bal
		}
		hdr.Payments = append(hdr.Payments, out)
	}

	hdr.Taxes = []model.DocumentTax{{
		AuthCod: s.TaxCode,
		RulCod:  s.TaxCode,
		TaxAmt:  decimal.Zero,
		TxblAmt: p.Total.Sub(p.Shipping).Mul(p.sign()),
	}}

	if p.Shipping.IsPositive() {
		hdr.MiscCharges = []model.DocumentMiscCharge{{
			TotTyp:  model.TotalTypeSale,
			MiscTyp: model.MiscTypeOther,
			Amt:     p.Shipping,
		}}
	}

	return &model.DocumentPayload{Header: hdr}
}
