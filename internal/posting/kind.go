// Package posting turns a storefront order into a finished ERP ticket: one
// Document API call followed by the writes that bring the auxiliary tables in
// line with what the in-store POS produces.
package posting

import (
	"retail-integration/internal/model"
)

type Kind string

const (
	NewSale       Kind = "NEW_SALE"
	Refund        Kind = "REFUND"
	PartialRefund Kind = "PARTIAL_REFUND"
)

func (k Kind) Refunding() bool { return k == Refund || k == PartialRefund }

// TicketSuffix is appended to the order id, followed by the refund index.
func (k Kind) TicketSuffix() string {
	switch k {
	case Refund:
		return "R"
	case PartialRefund:
		return "PR"
	default:
		return ""
	}
}

// Classify decides how an order is posted. A refund record that returns
// nothing leaves the order a sale; a refund that returns every line and all
// shipping is a full refund unless the storefront says otherwise.
func Classify(o *model.Order) Kind {
	if len(o.Refunds) == 0 {
		return NewSale
	}

	returned := false
	for _, r := range o.Refunds {
		if r.Shipping.IsPositive() {
			returned = true
		}
		for _, rl := range r.Lines {
			if rl.Quantity > 0 {
				returned = true
			}
		}
	}
	if !returned {
		return NewSale
	}

	if o.FinancialStatus == model.FinancialPartiallyRefunded {
		return PartialRefund
	}
	for _, l := range o.Lines {
		if l.RefundedQuantity < l.Quantity {
			return PartialRefund
		}
	}
	if o.ShippingRefunded().LessThan(o.ShippingCost) {
		return PartialRefund
	}
	return Refund
}
