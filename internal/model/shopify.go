package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Wire types for the storefront Admin GraphQL API. They stop at the gateway:
// ToOrder/ToDraft convert them to the typed domain records.

type Money struct {
	Amount decimal.Decimal `json:"amount"`
}

type MoneyBag struct {
	ShopMoney Money `json:"shopMoney"`
}

func (m MoneyBag) Value() decimal.Decimal { return m.ShopMoney.Amount.Round(2) }

type Connection[T any] struct {
	Nodes []T `json:"nodes"`
}

type ShopifyAddress struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Company      string `json:"company"`
	Address1     string `json:"address1"`
	Address2     string `json:"address2"`
	City         string `json:"city"`
	ProvinceCode string `json:"provinceCode"`
	Zip          string `json:"zip"`
	CountryCode  string `json:"countryCodeV2"`
	Phone        string `json:"phone"`
}

func (a *ShopifyAddress) toAddress() *Address {
	if a == nil {
		return nil
	}
	return &Address{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Company:   a.Company,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		Province:  a.ProvinceCode,
		Zip:       a.Zip,
		Country:   a.CountryCode,
		Phone:     a.Phone,
	}
}

type ShopifyDiscountAllocation struct {
	AllocatedAmountSet  MoneyBag `json:"allocatedAmountSet"`
	DiscountApplication struct {
		Code string `json:"code"`
	} `json:"discountApplication"`
}

type ShopifyLineItem struct {
	ID                                      string                      `json:"id"`
	SKU                                     string                      `json:"sku"`
	Name                                    string                      `json:"name"`
	Quantity                                int                         `json:"quantity"`
	IsGiftCard                              bool                        `json:"isGiftCard"`
	RequiresShipping                        bool                        `json:"requiresShipping"`
	OriginalUnitPriceSet                    MoneyBag                    `json:"originalUnitPriceSet"`
	DiscountedUnitPriceAfterAllDiscountsSet MoneyBag                    `json:"discountedUnitPriceAfterAllDiscountsSet"`
	DiscountAllocations                     []ShopifyDiscountAllocation `json:"discountAllocations"`
}

type ShopifyRefundLineItem struct {
	LineItem struct {
		ID string `json:"id"`
	} `json:"lineItem"`
	Quantity    int      `json:"quantity"`
	SubtotalSet MoneyBag `json:"subtotalSet"`
}

type ShopifyRefundShippingLine struct {
	SubtotalAmountSet MoneyBag `json:"subtotalAmountSet"`
}

type ShopifyTransaction struct {
	Kind        string   `json:"kind"`
	Status      string   `json:"status"`
	Gateway     string   `json:"gateway"`
	AmountSet   MoneyBag `json:"amountSet"`
	ReceiptJSON string   `json:"receiptJson"`
}

type ShopifyRefund struct {
	ID                  string                                `json:"id"`
	CreatedAt           time.Time                             `json:"createdAt"`
	RefundLineItems     Connection[ShopifyRefundLineItem]     `json:"refundLineItems"`
	RefundShippingLines Connection[ShopifyRefundShippingLine] `json:"refundShippingLines"`
	Transactions        Connection[ShopifyTransaction]        `json:"transactions"`
}

type ShopifyOrder struct {
	ID                       string                        `json:"id"`
	Name                     string                        `json:"name"`
	Email                    string                        `json:"email"`
	Phone                    string                        `json:"phone"`
	CreatedAt                time.Time                     `json:"createdAt"`
	SourceName               string                        `json:"sourceName"`
	DisplayFinancialStatus   string                        `json:"displayFinancialStatus"`
	DisplayFulfillmentStatus string                        `json:"displayFulfillmentStatus"`
	Note                     string                        `json:"note"`
	Customer                 *struct{ ID string }          `json:"customer"`
	BillingAddress           *ShopifyAddress               `json:"billingAddress"`
	ShippingAddress          *ShopifyAddress               `json:"shippingAddress"`
	DiscountCodes            []string                      `json:"discountCodes"`
	CurrentSubtotalPriceSet  MoneyBag                      `json:"currentSubtotalPriceSet"`
	TotalPriceSet            MoneyBag                      `json:"totalPriceSet"`
	TotalShippingPriceSet    MoneyBag                      `json:"totalShippingPriceSet"`
	ShippingLines            Connection[ShopifyShipLine]   `json:"shippingLines"`
	LineItems                Connection[ShopifyLineItem]   `json:"lineItems"`
	Refunds                  []ShopifyRefund               `json:"refunds"`
	Transactions             []ShopifyTransaction          `json:"transactions"`
}

type ShopifyShipLine struct {
	DiscountAllocations []ShopifyDiscountAllocation `json:"discountAllocations"`
}

// GiftCardReceipt is the part of a gift-card transaction receipt we read.
type GiftCardReceipt struct {
	GiftCardID     json.Number `json:"gift_card_id"`
	LastCharacters string      `json:"gift_card_last_characters"`
}

// LegacyID strips the gid://shopify/<Type>/ prefix.
func LegacyID(gid string) string {
	if i := strings.LastIndex(gid, "/"); i >= 0 {
		return gid[i+1:]
	}
	return gid
}

func OrderGID(id string) string {
	if strings.HasPrefix(id, "gid://") {
		return id
	}
	return "gid://shopify/Order/" + id
}

func DraftOrderGID(id string) string {
	if strings.HasPrefix(id, "gid://") {
		return id
	}
	return "gid://shopify/DraftOrder/" + id
}

func parseFinancial(s string) FinancialStatus {
	switch strings.ToUpper(s) {
	case "PAID":
		return FinancialPaid
	case "REFUNDED":
		return FinancialRefunded
	case "PARTIALLY_REFUNDED":
		return FinancialPartiallyRefunded
	case "DECLINED", "VOIDED", "EXPIRED":
		return FinancialDeclined
	case "":
		return ""
	default:
		return FinancialPending
	}
}

func parseFulfillment(s string) FulfillmentStatus {
	switch strings.ToUpper(s) {
	case "UNFULFILLED":
		return FulfillmentUnfulfilled
	case "FULFILLED":
		return FulfillmentFulfilled
	case "ON_HOLD":
		return FulfillmentOnHold
	case "PARTIALLY_REFUNDED":
		return FulfillmentPartiallyRefunded
	default:
		return FulfillmentOther
	}
}

func lineKind(isGiftCard, requiresShipping bool, sku string) LineKind {
	switch {
	case isGiftCard:
		return LineGiftCard
	case sku == "" && !requiresShipping:
		return LineService
	default:
		return LinePhysical
	}
}

// PaymentMethodFor classifies a transaction gateway.
func PaymentMethodFor(gateway string) PaymentMethod {
	switch strings.ToLower(gateway) {
	case "gift_card":
		return PaymentGiftCard
	case "shopify_store_credit", "store_credit", "loyalty":
		return PaymentLoyalty
	default:
		return PaymentPrimary
	}
}

func succeeded(t ShopifyTransaction) bool {
	return t.Status == "" || strings.EqualFold(t.Status, "SUCCESS")
}

func toTransactions(in []ShopifyTransaction, kinds ...string) []Transaction {
	var out []Transaction
	for _, t := range in {
		if !succeeded(t) {
			continue
		}
		if len(kinds) > 0 && !containsFold(kinds, t.Kind) {
			continue
		}
		tx := Transaction{
			Method:  PaymentMethodFor(t.Gateway),
			Gateway: t.Gateway,
			Amount:  t.AmountSet.Value(),
		}
		if tx.Method == PaymentGiftCard && t.ReceiptJSON != "" {
			var rc GiftCardReceipt
			if err := json.Unmarshal([]byte(t.ReceiptJSON), &rc); err == nil {
				tx.GiftCardLast4 = rc.LastCharacters
				tx.GiftCardCode = rc.GiftCardID.String()
			}
		}
		out = append(out, tx)
	}
	return out
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// ToOrder converts the wire order into the domain record. Line sequence
// numbers are assigned densely in storefront order starting at 1.
func (o *ShopifyOrder) ToOrder() *Order {
	out := &Order{
		ID:                LegacyID(o.ID),
		Name:              o.Name,
		Channel:           o.SourceName,
		Email:             o.Email,
		Phone:             o.Phone,
		CreatedAt:         o.CreatedAt,
		FinancialStatus:   parseFinancial(o.DisplayFinancialStatus),
		FulfillmentStatus: parseFulfillment(o.DisplayFulfillmentStatus),
		BillingAddress:    o.BillingAddress.toAddress(),
		ShippingAddress:   o.ShippingAddress.toAddress(),
		ShippingCost:      o.TotalShippingPriceSet.Value(),
		Subtotal:          o.CurrentSubtotalPriceSet.Value(),
		Total:             o.TotalPriceSet.Value(),
		Note:              o.Note,
	}
	if o.Customer != nil {
		out.CustomerID = LegacyID(o.Customer.ID)
	}

	refunded := make(map[string]int)
	for _, r := range o.Refunds {
		for _, rl := range r.RefundLineItems.Nodes {
			refunded[rl.LineItem.ID] += rl.Quantity
		}
	}

	codeAmounts := make(map[string]decimal.Decimal)
	addAlloc := func(allocs []ShopifyDiscountAllocation) decimal.Decimal {
		sum := decimal.Zero
		for _, a := range allocs {
			amt := a.AllocatedAmountSet.Value()
			sum = sum.Add(amt)
			if code := a.DiscountApplication.Code; code != "" {
				codeAmounts[code] = codeAmounts[code].Add(amt)
			}
		}
		return sum
	}

	for i, li := range o.LineItems.Nodes {
		lineDiscount := addAlloc(li.DiscountAllocations)
		unit := li.DiscountedUnitPriceAfterAllDiscountsSet.Value()
		if unit.IsZero() && lineDiscount.IsZero() {
			unit = li.OriginalUnitPriceSet.Value()
		}
		out.Lines = append(out.Lines, LineItem{
			ID:               li.ID,
			Kind:             lineKind(li.IsGiftCard, li.RequiresShipping, li.SKU),
			SKU:              strings.TrimSpace(li.SKU),
			Name:             li.Name,
			Seq:              i + 1,
			Quantity:         li.Quantity,
			RefundedQuantity: refunded[li.ID],
			RetailPrice:      li.OriginalUnitPriceSet.Value(),
			UnitPrice:        unit,
			LineDiscount:     lineDiscount,
		})
	}
	for _, sl := range o.ShippingLines.Nodes {
		addAlloc(sl.DiscountAllocations)
	}

	for _, code := range o.DiscountCodes {
		out.DiscountCodes = append(out.DiscountCodes, DiscountCode{Code: code, Amount: codeAmounts[code]})
	}

	for _, r := range o.Refunds {
		ref := Refund{
			ID:           LegacyID(r.ID),
			CreatedAt:    r.CreatedAt,
			Transactions: toTransactions(r.Transactions.Nodes, "REFUND"),
		}
		for _, rl := range r.RefundLineItems.Nodes {
			ref.Lines = append(ref.Lines, RefundLine{
				LineID:   rl.LineItem.ID,
				Quantity: rl.Quantity,
				Subtotal: rl.SubtotalSet.Value(),
			})
		}
		for _, sl := range r.RefundShippingLines.Nodes {
			ref.Shipping = ref.Shipping.Add(sl.SubtotalAmountSet.Value())
		}
		out.Refunds = append(out.Refunds, ref)
	}

	out.Transactions = toTransactions(o.Transactions, "SALE", "CAPTURE")
	for _, tx := range out.Transactions {
		if tx.Method == PaymentLoyalty {
			out.StoreCredit = out.StoreCredit.Add(tx.Amount)
		}
	}

	return out
}

type ShopifyDraftLineItem struct {
	ID                   string   `json:"id"`
	SKU                  string   `json:"sku"`
	Name                 string   `json:"name"`
	Quantity             int      `json:"quantity"`
	IsGiftCard           bool     `json:"isGiftCard"`
	RequiresShipping     bool     `json:"requiresShipping"`
	OriginalUnitPriceSet MoneyBag `json:"originalUnitPriceSet"`
	DiscountedTotalSet   MoneyBag `json:"discountedTotalSet"`
	TotalDiscountSet     MoneyBag `json:"totalDiscountSet"`
}

type ShopifyDraftOrder struct {
	ID              string                           `json:"id"`
	Name            string                           `json:"name"`
	Status          string                           `json:"status"`
	Email           string                           `json:"email"`
	Phone           string                           `json:"phone"`
	CreatedAt       time.Time                        `json:"createdAt"`
	Note            string                           `json:"note2"`
	BillingAddress  *ShopifyAddress                  `json:"billingAddress"`
	ShippingAddress *ShopifyAddress                  `json:"shippingAddress"`
	ShippingLine    *struct {
		OriginalPriceSet MoneyBag `json:"originalPriceSet"`
	} `json:"shippingLine"`
	TotalPriceSet MoneyBag                         `json:"totalPriceSet"`
	LineItems     Connection[ShopifyDraftLineItem] `json:"lineItems"`
}

func (d *ShopifyDraftOrder) ToDraft() *DraftOrder {
	out := &DraftOrder{
		ID:              LegacyID(d.ID),
		Name:            d.Name,
		Status:          DraftStatus(strings.ToUpper(d.Status)),
		Email:           d.Email,
		Phone:           d.Phone,
		CreatedAt:       d.CreatedAt,
		Note:            d.Note,
		BillingAddress:  d.BillingAddress.toAddress(),
		ShippingAddress: d.ShippingAddress.toAddress(),
		Total:           d.TotalPriceSet.Value(),
	}
	if d.ShippingLine != nil {
		out.ShippingCost = d.ShippingLine.OriginalPriceSet.Value()
	}

	for i, li := range d.LineItems.Nodes {
		unit := li.OriginalUnitPriceSet.Value()
		if li.Quantity > 0 {
			unit = li.DiscountedTotalSet.Value().Div(decimal.NewFromInt(int64(li.Quantity))).Round(2)
		}
		out.Lines = append(out.Lines, LineItem{
			ID:           li.ID,
			Kind:         lineKind(li.IsGiftCard, li.RequiresShipping, li.SKU),
			SKU:          strings.TrimSpace(li.SKU),
			Name:         li.Name,
			Seq:          i + 1,
			Quantity:     li.Quantity,
			RetailPrice:  li.OriginalUnitPriceSet.Value(),
			UnitPrice:    unit,
			LineDiscount: li.TotalDiscountSet.Value(),
		})
	}
	return out
}
