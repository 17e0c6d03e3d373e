package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type FinancialStatus string

const (
	FinancialPaid              FinancialStatus = "PAID"
	FinancialRefunded          FinancialStatus = "REFUNDED"
	FinancialPartiallyRefunded FinancialStatus = "PARTIALLY_REFUNDED"
	FinancialDeclined          FinancialStatus = "DECLINED"
	FinancialPending           FinancialStatus = "PENDING"
)

type FulfillmentStatus string

const (
	FulfillmentUnfulfilled       FulfillmentStatus = "UNFULFILLED"
	FulfillmentFulfilled         FulfillmentStatus = "FULFILLED"
	FulfillmentOnHold            FulfillmentStatus = "ON_HOLD"
	FulfillmentPartiallyRefunded FulfillmentStatus = "PARTIALLY_REFUNDED"
	FulfillmentOther             FulfillmentStatus = "OTHER"
)

type LineKind string

const (
	LinePhysical LineKind = "PHYSICAL"
	LineGiftCard LineKind = "GIFT_CARD"
	LineDelivery LineKind = "DELIVERY"
	LineService  LineKind = "SERVICE"
)

type PaymentMethod string

const (
	PaymentPrimary  PaymentMethod = "PRIMARY"
	PaymentGiftCard PaymentMethod = "GIFT_CARD"
	PaymentLoyalty  PaymentMethod = "LOYALTY"
)

type Address struct {
	FirstName string
	LastName  string
	Company   string
	Address1  string
	Address2  string
	City      string
	Province  string
	Zip       string
	Country   string
	Phone     string
}

func (a *Address) Empty() bool {
	return a == nil || (a.FirstName == "" && a.LastName == "" && a.Address1 == "" && a.Phone == "")
}

// Order is the storefront view of an order after parsing.
type Order struct {
	ID                string
	Name              string
	Channel           string
	Email             string
	Phone             string
	CreatedAt         time.Time
	FinancialStatus   FinancialStatus
	FulfillmentStatus FulfillmentStatus
	BillingAddress    *Address
	ShippingAddress   *Address
	Lines             []LineItem
	Refunds           []Refund
	DiscountCodes     []DiscountCode
	StoreCredit       decimal.Decimal
	ShippingCost      decimal.Decimal
	Subtotal          decimal.Decimal
	Total             decimal.Decimal
	Transactions      []Transaction
	Note              string
	CustomerID        string
}

type LineItem struct {
	ID               string
	Kind             LineKind
	SKU              string
	Name             string
	Seq              int
	Quantity         int
	RefundedQuantity int
	RetailPrice      decimal.Decimal
	UnitPrice        decimal.Decimal
	LineDiscount     decimal.Decimal
	Cost             decimal.Decimal
	GiftCardCode     string
}

// ExtPrice is the unit price after discount times quantity.
func (l LineItem) ExtPrice() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Refund struct {
	ID           string
	CreatedAt    time.Time
	Lines        []RefundLine
	Shipping     decimal.Decimal
	Transactions []Transaction
}

type RefundLine struct {
	LineID   string
	Quantity int
	Subtotal decimal.Decimal
}

// Quantity sums this refund's quantity for one line.
func (r Refund) Quantity(lineID string) int {
	n := 0
	for _, rl := range r.Lines {
		if rl.LineID == lineID {
			n += rl.Quantity
		}
	}
	return n
}

func (r Refund) Amount() decimal.Decimal {
	sum := r.Shipping
	for _, rl := range r.Lines {
		sum = sum.Add(rl.Subtotal)
	}
	return sum
}

type DiscountCode struct {
	Code   string
	Amount decimal.Decimal
}

type Transaction struct {
	Method           PaymentMethod
	Gateway          string
	Amount           decimal.Decimal
	GiftCardLast4    string
	GiftCardCode     string
	RemainingBalance decimal.Decimal
}

func (o *Order) IsRefund() bool { return len(o.Refunds) > 0 }

func (o *Order) Declined() bool {
	return o.FinancialStatus == FinancialDeclined || o.FinancialStatus == ""
}

// ShippingRefunded sums shipping returned across all refund records.
func (o *Order) ShippingRefunded() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range o.Refunds {
		sum = sum.Add(r.Shipping)
	}
	return sum
}

// LatestRefund is the most recent refund record, or nil.
func (o *Order) LatestRefund() *Refund {
	if len(o.Refunds) == 0 {
		return nil
	}
	latest := &o.Refunds[0]
	for i := range o.Refunds[1:] {
		r := &o.Refunds[i+1]
		if !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

// GiftCardOnly reports whether every line is a gift card.
func (o *Order) GiftCardOnly() bool {
	if len(o.Lines) == 0 {
		return false
	}
	for _, l := range o.Lines {
		if l.Kind != LineGiftCard {
			return false
		}
	}
	return true
}

func (o *Order) CouponTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, d := range o.DiscountCodes {
		sum = sum.Add(d.Amount.Abs())
	}
	return sum
}

// Contact picks the billing address, falling back to shipping.
func (o *Order) Contact() *Address {
	if !o.BillingAddress.Empty() {
		return o.BillingAddress
	}
	if !o.ShippingAddress.Empty() {
		return o.ShippingAddress
	}
	return nil
}

type DraftStatus string

const (
	DraftOpen        DraftStatus = "OPEN"
	DraftInvoiceSent DraftStatus = "INVOICE_SENT"
	DraftCompleted   DraftStatus = "COMPLETED"
)

type DraftOrder struct {
	ID              string
	Name            string
	Status          DraftStatus
	Email           string
	Phone           string
	CreatedAt       time.Time
	BillingAddress  *Address
	ShippingAddress *Address
	Lines           []LineItem
	ShippingCost    decimal.Decimal
	Total           decimal.Decimal
	Note            string
}

func (d *DraftOrder) Contact() *Address {
	if !d.BillingAddress.Empty() {
		return d.BillingAddress
	}
	if !d.ShippingAddress.Empty() {
		return d.ShippingAddress
	}
	return nil
}
