package posting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"retail-integration/internal/model"
	"retail-integration/internal/repository"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSettings = Settings{
	StoreID:     "1",
	StationID:   "WEB",
	DrawerID:    "1",
	TaxCode:     "EXEMPT",
	PayCode:     "WEB",
	LoyaltyCode: "LOYALTY",
	GiftPayCode: "GC",
	DeliverySKU: "DELIVERY",
	ServiceSKU:  "SERVICE",
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(id, sku string, qty int, unit, disc string) model.LineItem {
	return model.LineItem{
		ID:           id,
		Kind:         model.LinePhysical,
		SKU:          sku,
		Name:         sku,
		Quantity:     qty,
		UnitPrice:    dec(unit),
		LineDiscount: dec(disc),
	}
}

// twoLineOrder has lines of 30.00 and 12.50 after a 5.00 coupon, plus 5.00
// shipping.
func twoLineOrder() *model.Order {
	return &model.Order{
		ID:              "5717619933351",
		Email:           "ada@example.com",
		FinancialStatus: model.FinancialPaid,
		BillingAddress:  &model.Address{FirstName: "Ada", LastName: "Lovelace", Address1: "1 Main St", Phone: "555-123-4567"},
		Lines: []model.LineItem{
			line("L1", "JIG", 1, "30.00", "3.53"),
			line("L2", "BAR", 1, "12.50", "1.47"),
		},
		DiscountCodes: []model.DiscountCode{{Code: "SAVE5", Amount: dec("5.00")}},
		ShippingCost:  dec("5.00"),
		Total:         dec("47.50"),
		Transactions:  []model.Transaction{{Method: model.PaymentPrimary, Amount: dec("47.50")}},
	}
}

func fullyRefunded(o *model.Order) *model.Order {
	o.FinancialStatus = model.FinancialRefunded
	o.Refunds = []model.Refund{{
		ID:        "R1",
		CreatedAt: time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC),
		Lines: []model.RefundLine{
			{LineID: "L1", Quantity: 1, Subtotal: dec("30.00")},
			{LineID: "L2", Quantity: 1, Subtotal: dec("12.50")},
		},
		Shipping:     dec("5.00"),
		Transactions: []model.Transaction{{Method: model.PaymentPrimary, Amount: dec("47.50")}},
	}}
	for i := range o.Lines {
		o.Lines[i].RefundedQuantity = o.Lines[i].Quantity
	}
	return o
}

func partiallyRefunded(o *model.Order) *model.Order {
	o.FinancialStatus = model.FinancialPartiallyRefunded
	o.Refunds = []model.Refund{{
		ID:           "R1",
		CreatedAt:    time.Date(2024, 7, 2, 0, 0, 0, 0, time.UTC),
		Lines:        []model.RefundLine{{LineID: "L2", Quantity: 1, Subtotal: dec("12.50")}},
		Transactions: []model.Transaction{{Method: model.PaymentPrimary, Amount: dec("12.50")}},
	}}
	o.Lines[1].RefundedQuantity = 1
	return o
}

func TestClassify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NewSale, Classify(twoLineOrder()))
	assert.Equal(t, Refund, Classify(fullyRefunded(twoLineOrder())))
	assert.Equal(t, PartialRefund, Classify(partiallyRefunded(twoLineOrder())))

	empty := twoLineOrder()
	empty.Refunds = []model.Refund{{ID: "R0"}}
	assert.Equal(t, NewSale, Classify(empty))

	// every line back but shipping kept
	keptShipping := fullyRefunded(twoLineOrder())
	keptShipping.Refunds[0].Shipping = decimal.Zero
	assert.Equal(t, PartialRefund, Classify(keptShipping))

	flagged := fullyRefunded(twoLineOrder())
	flagged.FinancialStatus = model.FinancialPartiallyRefunded
	assert.Equal(t, PartialRefund, Classify(flagged))
}

// refundedAfterPartial returns the order once a second refund record returned
// everything the first one left.
func refundedAfterPartial() *model.Order {
	o := partiallyRefunded(twoLineOrder())
	o.FinancialStatus = model.FinancialRefunded
	o.Refunds = append(o.Refunds, model.Refund{
		ID:           "R2",
		CreatedAt:    time.Date(2024, 7, 3, 0, 0, 0, 0, time.UTC),
		Lines:        []model.RefundLine{{LineID: "L1", Quantity: 1, Subtotal: dec("30.00")}},
		Shipping:     dec("5.00"),
		Transactions: []model.Transaction{{Method: model.PaymentPrimary, Amount: dec("35.00")}},
	})
	o.Lines[0].RefundedQuantity = 1
	return o
}

func TestUnposted(t *testing.T) {
	t.Parallel()

	o := refundedAfterPartial()
	// newest first on the wire
	o.Refunds[0], o.Refunds[1] = o.Refunds[1], o.Refunds[0]
	assert.Same(t, o, Unposted(o, 0))

	rest := Unposted(o, 1)
	require.Len(t, rest.Refunds, 1)
	assert.Equal(t, "R2", rest.Refunds[0].ID)
	assert.Equal(t, 1, rest.Lines[0].Quantity)
	assert.Equal(t, 0, rest.Lines[1].Quantity)
	assert.True(t, rest.Lines[1].LineDiscount.IsZero())
	assert.True(t, rest.ShippingCost.Equal(dec("5.00")))

	// the caller's order is untouched
	assert.Equal(t, 1, o.Lines[1].Quantity)
	assert.Len(t, o.Refunds, 2)

	plan := BuildPlan(rest, Refund, "C1", nil, testSettings)
	require.Len(t, plan.Lines, 2)
	assert.Equal(t, "JIG", plan.Lines[0].ItemNo)
	assert.Equal(t, "DELIVERY", plan.Lines[1].ItemNo)
	assert.True(t, plan.Total.Equal(dec("35.00")))

	assert.Empty(t, Unposted(o, 2).Refunds)
}

func TestBuildPlan_Sale(t *testing.T) {
	t.Parallel()

	o := twoLineOrder()
	o.Lines = append(o.Lines, model.LineItem{ID: "G1", Kind: model.LineGiftCard, Name: "Gift card", Quantity: 1, UnitPrice: dec("25.00")})
	o.Lines = append(o.Lines, model.LineItem{ID: "S1", Kind: model.LineService, Name: "Engraving", Quantity: 2, UnitPrice: dec("4.00")})
	o.StoreCredit = dec("10.00")
	o.Total = dec("80.50")
	o.Transactions = []model.Transaction{
		{Method: model.PaymentPrimary, Amount: dec("50.50")},
		{Method: model.PaymentLoyalty, Amount: dec("10.00")},
		{Method: model.PaymentGiftCard, Amount: dec("20.00"), GiftCardCode: "GC0001", RemainingBalance: dec("5.00")},
	}

	plan := BuildPlan(o, NewSale, "W000000001", map[string]decimal.Decimal{"JIG": dec("11.00")}, testSettings)

	require.Len(t, plan.Lines, 4)
	assert.Equal(t, []int{1, 2, 4, 5}, []int{plan.Lines[0].Seq, plan.Lines[1].Seq, plan.Lines[2].Seq, plan.Lines[3].Seq})
	assert.Equal(t, "SERVICE", plan.Lines[2].ItemNo)
	assert.Equal(t, 1, plan.Lines[2].Qty)
	assert.True(t, plan.Lines[2].Ext.Equal(dec("8.00")))
	assert.Equal(t, model.LineDelivery, plan.Lines[3].Kind)
	assert.True(t, plan.Lines[0].ExtCost.Equal(dec("11.00")))

	require.Len(t, plan.GiftCards, 1)
	assert.Equal(t, 3, plan.GiftCards[0].Seq)
	assert.Equal(t, 1, plan.GiftCards[0].Index)

	require.Len(t, plan.Payments, 3)
	assert.Equal(t, model.PaymentPrimary, plan.Payments[0].Method)
	assert.True(t, plan.Payments[0].Amount.Equal(dec("50.50")))
	assert.Equal(t, "LOYALTY", plan.Payments[1].PayCode)
	assert.Equal(t, "GC0001", plan.Payments[2].GfcNo)
	assert.Equal(t, ShipViaCarrier, plan.ShipVia)

	payload := plan.Payload(testSettings)
	hdr := payload.Header
	assert.Equal(t, "5717619933351", hdr.TktNo)
	assert.Equal(t, model.DocTypeOrder, hdr.DocTyp)
	assert.Equal(t, ChannelID, hdr.ChannelID)
	require.Len(t, hdr.Taxes, 1)
	assert.True(t, hdr.Taxes[0].TxblAmt.Equal(dec("75.50")))
	require.Len(t, hdr.MiscCharges, 1)
	assert.True(t, hdr.MiscCharges[0].Amt.Equal(dec("5.00")))
	require.NotNil(t, hdr.Payments[2].GfcBal)
	assert.Nil(t, hdr.Payments[0].GfcBal)

	totals := HeaderTotals(plan)
	assert.Equal(t, 4, totals.Lins)
	assert.True(t, totals.TotGfcAmt.Equal(dec("25.00")))
	assert.True(t, totals.TotLinDisc.Equal(dec("5.00")))
	assert.True(t, totals.TotHdrDisc.IsZero())
	assert.True(t, totals.SubTot.Equal(dec("75.50")), totals.SubTot.String())
	assert.True(t, totals.TotTnd.Equal(dec("80.50")))
	assert.True(t, totals.TotMisc.Equal(dec("5.00")))
}

func TestBuildPlan_PickupHasNoDelivery(t *testing.T) {
	t.Parallel()

	o := twoLineOrder()
	o.ShippingCost = decimal.Zero

	plan := BuildPlan(o, NewSale, "C1", nil, testSettings)
	assert.Len(t, plan.Lines, 2)
	assert.Equal(t, ShipViaPickup, plan.ShipVia)
	assert.Empty(t, plan.Payload(testSettings).Header.MiscCharges)
}

func TestBuildPlan_PartialRefund(t *testing.T) {
	t.Parallel()

	o := partiallyRefunded(twoLineOrder())
	plan := BuildPlan(o, PartialRefund, "C1", nil, testSettings)

	require.Len(t, plan.Lines, 1)
	assert.Equal(t, "BAR", plan.Lines[0].ItemNo)
	assert.Equal(t, -1, plan.Lines[0].Qty)
	assert.True(t, plan.Lines[0].Ext.Equal(dec("-12.50")))
	assert.Equal(t, ShipViaRefund, plan.ShipVia)
	assert.True(t, plan.Total.Equal(dec("12.50")))

	totals := HeaderTotals(plan)
	// 12.50 refunded plus the 5.00 coupon spread over two items
	assert.True(t, totals.SubTot.Equal(dec("-15.00")), totals.SubTot.String())
	assert.True(t, totals.TotTnd.IsZero())
}

func TestDiscountRows(t *testing.T) {
	t.Parallel()

	plan := BuildPlan(twoLineOrder(), NewSale, "C1", nil, testSettings)
	rows := DiscountRows(plan, "D1")

	require.Len(t, rows, 3)
	assert.Equal(t, model.DiscountApplyHeader, rows[0].ApplyTo)
	assert.Equal(t, "SAVE5", rows[0].DiscCod)
	assert.Equal(t, []int{1, 2, 3}, []int{rows[0].DiscSeqNo, rows[1].DiscSeqNo, rows[2].DiscSeqNo})
	assert.Equal(t, 2, rows[2].LinSeqNo)
}

type ticketsOnly struct {
	repository.DocumentRepository
	tickets []string
}

func (f ticketsOnly) TicketNumbersLike(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for _, t := range f.tickets {
		if len(t) >= len(prefix) && t[:len(prefix)] == prefix {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestNextTicketNumber(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	docs := ticketsOnly{tickets: []string{"100", "100R1", "100R2", "100PR1", "1001R1", "100Rx"}}

	next, err := NextTicketNumber(ctx, docs, "100", "R")
	require.NoError(t, err)
	assert.Equal(t, "100R3", next)

	next, err = NextTicketNumber(ctx, docs, "100", "PR")
	require.NoError(t, err)
	assert.Equal(t, "100PR2", next)

	next, err = NextTicketNumber(ctx, docs, "200", "R")
	require.NoError(t, err)
	assert.Equal(t, "200R1", next)
}

func TestProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	buildOrder := func(qtys []int, cents []int, shipCents int) *model.Order {
		o := &model.Order{ID: "9", FinancialStatus: model.FinancialPaid, ShippingCost: decimal.New(int64(shipCents), -2)}
		for i, q := range qtys {
			c := 100
			if i < len(cents) {
				c = cents[i]
			}
			o.Lines = append(o.Lines, line(fmt.Sprintf("L%d", i), fmt.Sprintf("SKU%d", i), q, decimal.New(int64(c), -2).String(), "0"))
		}
		return o
	}

	properties.Property("line signs follow the order kind", prop.ForAll(
		func(qtys []int, cents []int, shipCents int) bool {
			if len(qtys) == 0 {
				return true
			}
			sale := BuildPlan(buildOrder(qtys, cents, shipCents), NewSale, "C", nil, testSettings)
			for _, l := range sale.Lines {
				if l.Ext.IsNegative() || l.Qty <= 0 {
					return false
				}
			}

			refund := BuildPlan(buildOrder(qtys, cents, shipCents), Refund, "C", nil, testSettings)
			for _, l := range refund.Lines {
				if !l.Ext.IsNegative() || l.Qty >= 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 9)),
		gen.SliceOf(gen.IntRange(1, 50000)),
		gen.IntRange(0, 2000),
	))

	properties.Property("partial refunds carry the refunded quantity", prop.ForAll(
		func(qtys []int, pick int) bool {
			if len(qtys) == 0 {
				return true
			}
			o := buildOrder(qtys, nil, 0)
			idx := pick % len(qtys)
			refunded := 1 + pick%qtys[idx]
			o.Refunds = []model.Refund{{Lines: []model.RefundLine{{LineID: o.Lines[idx].ID, Quantity: refunded}}}}

			plan := BuildPlan(o, PartialRefund, "C", nil, testSettings)
			return len(plan.Lines) == 1 && plan.Lines[0].Qty == -refunded && plan.Lines[0].Ext.IsNegative()
		},
		gen.SliceOf(gen.IntRange(1, 9)),
		gen.IntRange(0, 1000),
	))

	properties.Property("sequence is dense with delivery last", prop.ForAll(
		func(qtys []int, shipCents int) bool {
			if len(qtys) == 0 {
				return true
			}
			plan := BuildPlan(buildOrder(qtys, nil, shipCents), NewSale, "C", nil, testSettings)
			for i, l := range plan.Lines {
				if l.Seq != i+1 {
					return false
				}
				if l.Kind == model.LineDelivery && i != len(plan.Lines)-1 {
					return false
				}
			}
			return (shipCents > 0) == (plan.Lines[len(plan.Lines)-1].Kind == model.LineDelivery)
		},
		gen.SliceOf(gen.IntRange(1, 9)),
		gen.IntRange(0, 2000),
	))

	properties.Property("discount rows sum to coupons plus line discounts", prop.ForAll(
		func(discCents []int, couponCents int) bool {
			o := &model.Order{ID: "9", FinancialStatus: model.FinancialPaid}
			want := decimal.New(int64(couponCents), -2)
			for i, c := range discCents {
				d := decimal.New(int64(c), -2)
				want = want.Add(d)
				o.Lines = append(o.Lines, line(fmt.Sprintf("L%d", i), "SKU", 1, "50.00", d.String()))
			}
			o.DiscountCodes = []model.DiscountCode{{Code: "C", Amount: decimal.New(int64(couponCents), -2)}}

			got := decimal.Zero
			for _, r := range DiscountRows(BuildPlan(o, NewSale, "C", nil, testSettings), "D") {
				got = got.Add(r.DiscAmt)
			}
			return got.Equal(want)
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.IntRange(0, 5000),
	))

	properties.Property("refund index is the smallest unused", prop.ForAll(
		func(used []int) bool {
			docs := ticketsOnly{}
			taken := make(map[int]bool)
			for _, n := range used {
				docs.tickets = append(docs.tickets, fmt.Sprintf("77R%d", n))
				taken[n] = true
			}
			next, err := NextTicketNumber(context.Background(), docs, "77", "R")
			if err != nil {
				return false
			}
			var n int
			if _, err := fmt.Sscanf(next, "77R%d", &n); err != nil {
				return false
			}
			if taken[n] {
				return false
			}
			for i := 1; i < n; i++ {
				if !taken[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(1, 12)),
	))

	properties.TestingRun(t)
}
