package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"retail-integration/internal/apperr"
	"retail-integration/internal/config"
	"retail-integration/internal/model"
	"retail-integration/internal/util"

	"github.com/shopspring/decimal"
)

type ShopifyClient interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	GetDraftOrder(ctx context.Context, draftID string) (*model.DraftOrder, error)
	DeleteDraftOrder(ctx context.Context, draftID string) error
	CreateDiscountCode(ctx context.Context, in DiscountCodeInput) (string, error)
	DeleteDiscountCode(ctx context.Context, discountID string) error
	ListCollections(ctx context.Context) ([]CollectionRef, error)
	ReorderCollection(ctx context.Context, collectionID string, productIDs []string) error
	UpsertCustomer(ctx context.Context, in CustomerInput) (string, error)
	DeleteCustomer(ctx context.Context, customerID string) error
	FindVariantBySKU(ctx context.Context, sku string) (*VariantRef, error)
	UpdateVariantPrice(ctx context.Context, productID, variantID string, price decimal.Decimal) error
	SetInventory(ctx context.Context, inventoryItemID string, quantity int) error
}

type DiscountCodeInput struct {
	Code       string
	Title      string
	Amount     decimal.Decimal
	StartsAt   time.Time
	EndsAt     time.Time
	UsageLimit int
}

type CustomerInput struct {
	ID            string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Tags          []string
	LoyaltyPoints int64
	Marketing     bool
}

type CollectionRef struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

type VariantRef struct {
	VariantID       string
	ProductID       string
	InventoryItemID string
}

type shopifyClientImpl struct {
	http       *LimitedClient
	endpoint   string
	token      string
	locationID string
	logger     *slog.Logger
}

func NewShopifyClient(cfg *config.Shopify, logger *slog.Logger) ShopifyClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &shopifyClientImpl{
		http:       NewLimitedClient(cfg.RatePerSecond, cfg.Burst, cfg.MaxInFlight, logger),
		endpoint:   graphQLEndpoint(cfg.Shop, cfg.APIVersion),
		token:      cfg.AccessToken,
		locationID: cfg.LocationID,
		logger:     logger,
	}
}

func graphQLEndpoint(shop, version string) string {
	if strings.HasPrefix(shop, "http://") || strings.HasPrefix(shop, "https://") {
		return strings.TrimRight(shop, "/") + "/admin/api/" + version + "/graphql.json"
	}
	return "https://" + shop + "/admin/api/" + version + "/graphql.json"
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data       json.RawMessage `json:"data"`
	Errors     []gqlError      `json:"errors"`
	Extensions struct {
		Cost struct {
			RequestedQueryCost float64 `json:"requestedQueryCost"`
			ThrottleStatus     struct {
				CurrentlyAvailable float64 `json:"currentlyAvailable"`
				RestoreRate        float64 `json:"restoreRate"`
			} `json:"throttleStatus"`
		} `json:"cost"`
	} `json:"extensions"`
}

type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

func userErrors(op string, errs []userError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, strings.Join(e.Field, ".")+": "+e.Message)
	}
	return fmt.Errorf("%s: %s", op, strings.Join(msgs, "; "))
}

// do runs one GraphQL operation. A THROTTLED answer pauses the shared limiter
// for as long as the cost bucket needs to refill, then retries.
func (c *shopifyClientImpl) do(ctx context.Context, query string, vars map[string]any, out any) error {
	header := http.Header{}
	header.Set("X-Shopify-Access-Token", c.token)
	body := map[string]any{"query": query, "variables": vars}

	for attempt := 0; ; attempt++ {
		var resp gqlResponse
		if err := c.http.JSON(ctx, http.MethodPost, c.endpoint, header, body, &resp); err != nil {
			return fmt.Errorf("shopify graphql: %w", err)
		}

		if len(resp.Errors) > 0 {
			if resp.Errors[0].Extensions.Code == "THROTTLED" && attempt < defaultRetries {
				c.http.Pause(throttleWait(resp))
				continue
			}
			return fmt.Errorf("shopify graphql: %s", resp.Errors[0].Message)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode shopify data: %w", err)
		}
		return nil
	}
}

func throttleWait(resp gqlResponse) time.Duration {
	cost := resp.Extensions.Cost
	rate := cost.ThrottleStatus.RestoreRate
	if rate <= 0 {
		return defaultPause
	}
	missing := cost.RequestedQueryCost - cost.ThrottleStatus.CurrentlyAvailable
	if missing <= 0 {
		return defaultPause
	}
	return time.Duration(math.Ceil(missing/rate*1000)) * time.Millisecond
}

const moneyFields = `shopMoney { amount }`

const orderQuery = `query Order($id: ID!) {
  order(id: $id) {
    id name email phone createdAt sourceName note
    displayFinancialStatus displayFulfillmentStatus
    customer { id }
    billingAddress { firstName lastName company address1 address2 city provinceCode zip countryCodeV2 phone }
    shippingAddress { firstName lastName company address1 address2 city provinceCode zip countryCodeV2 phone }
    discountCodes
    currentSubtotalPriceSet { ` + moneyFields + ` }
    totalPriceSet { ` + moneyFields + ` }
    totalShippingPriceSet { ` + moneyFields + ` }
    shippingLines(first: 5) { nodes { discountAllocations { allocatedAmountSet { ` + moneyFields + ` } discountApplication { ... on DiscountCodeApplication { code } } } } }
    lineItems(first: 250) {
      nodes {
        id sku name quantity isGiftCard requiresShipping
        originalUnitPriceSet { ` + moneyFields + ` }
        discountedUnitPriceAfterAllDiscountsSet { ` + moneyFields + ` }
        discountAllocations { allocatedAmountSet { ` + moneyFields + ` } discountApplication { ... on DiscountCodeApplication { code } } }
      }
    }
    refunds {
      id createdAt
      refundLineItems(first: 250) { nodes { lineItem { id } quantity subtotalSet { ` + moneyFields + ` } } }
      refundShippingLines(first: 5) { nodes { subtotalAmountSet { ` + moneyFields + ` } } }
      transactions(first: 20) { nodes { kind status gateway receiptJson amountSet { ` + moneyFields + ` } } }
    }
    transactions { kind status gateway receiptJson amountSet { ` + moneyFields + ` } }
  }
}`

func (c *shopifyClientImpl) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var data struct {
		Order *model.ShopifyOrder `json:"order"`
	}
	if err := c.do(ctx, orderQuery, map[string]any{"id": model.OrderGID(orderID)}, &data); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if data.Order == nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, apperr.ErrNotFound)
	}

	order := data.Order.ToOrder()
	if err := c.fillGiftCardBalances(ctx, order.Transactions); err != nil {
		return nil, err
	}
	for i := range order.Refunds {
		if err := c.fillGiftCardBalances(ctx, order.Refunds[i].Transactions); err != nil {
			return nil, err
		}
	}
	return order, nil
}

const giftCardQuery = `query GiftCard($id: ID!) { giftCard(id: $id) { lastCharacters balance { amount } } }`

// fillGiftCardBalances reads the remaining balance of each gift card used as
// payment.
func (c *shopifyClientImpl) fillGiftCardBalances(ctx context.Context, txs []model.Transaction) error {
	for i := range txs {
		tx := &txs[i]
		if tx.Method != model.PaymentGiftCard || tx.GiftCardCode == "" {
			continue
		}

		var raw json.RawMessage
		gid := "gid://shopify/GiftCard/" + tx.GiftCardCode
		if err := c.do(ctx, giftCardQuery, map[string]any{"id": gid}, &raw); err != nil {
			return fmt.Errorf("get gift card %s: %w", tx.GiftCardCode, err)
		}

		balance, err := util.ExtractMoney(raw, "giftCard", "balance", "amount")
		if err != nil {
			c.logger.Warn("gift card balance unavailable", "gift_card", tx.GiftCardCode, "err", err)
			continue
		}
		tx.RemainingBalance = balance

		if tx.GiftCardLast4 == "" {
			var gc struct {
				GiftCard struct {
					LastCharacters string `json:"lastCharacters"`
				} `json:"giftCard"`
			}
			if json.Unmarshal(raw, &gc) == nil {
				tx.GiftCardLast4 = gc.GiftCard.LastCharacters
			}
		}
	}
	return nil
}

const draftQuery = `query Draft($id: ID!) {
  draftOrder(id: $id) {
    id name status email phone createdAt note2
    billingAddress { firstName lastName company address1 address2 city provinceCode zip countryCodeV2 phone }
    shippingAddress { firstName lastName company address1 address2 city provinceCode zip countryCodeV2 phone }
    shippingLine { originalPriceSet { ` + moneyFields + ` } }
    totalPriceSet { ` + moneyFields + ` }
    lineItems(first: 250) {
      nodes {
        id sku name quantity isGiftCard requiresShipping
        originalUnitPriceSet { ` + moneyFields + ` }
        discountedTotalSet { ` + moneyFields + ` }
        totalDiscountSet { ` + moneyFields + ` }
      }
    }
  }
}`

func (c *shopifyClientImpl) GetDraftOrder(ctx context.Context, draftID string) (*model.DraftOrder, error) {
	var data struct {
		DraftOrder *model.ShopifyDraftOrder `json:"draftOrder"`
	}
	if err := c.do(ctx, draftQuery, map[string]any{"id": model.DraftOrderGID(draftID)}, &data); err != nil {
		return nil, fmt.Errorf("get draft order %s: %w", draftID, err)
	}
	if data.DraftOrder == nil {
		return nil, fmt.Errorf("get draft order %s: %w", draftID, apperr.ErrNotFound)
	}
	return data.DraftOrder.ToDraft(), nil
}

const draftDeleteMutation = `mutation DraftDelete($input: DraftOrderDeleteInput!) {
  draftOrderDelete(input: $input) { deletedId userErrors { field message } }
}`

func (c *shopifyClientImpl) DeleteDraftOrder(ctx context.Context, draftID string) error {
	var data struct {
		DraftOrderDelete struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"draftOrderDelete"`
	}
	vars := map[string]any{"input": map[string]any{"id": model.DraftOrderGID(draftID)}}
	if err := c.do(ctx, draftDeleteMutation, vars, &data); err != nil {
		return fmt.Errorf("delete draft order %s: %w", draftID, err)
	}
	return userErrors("delete draft order", data.DraftOrderDelete.UserErrors)
}

const discountCreateMutation = `mutation DiscountCreate($discount: DiscountCodeBasicInput!) {
  discountCodeBasicCreate(basicCodeDiscount: $discount) {
    codeDiscountNode { id }
    userErrors { field message }
  }
}`

// CreateDiscountCode creates a fixed-amount, order-wide code and returns the
// discount node id.
func (c *shopifyClientImpl) CreateDiscountCode(ctx context.Context, in DiscountCodeInput) (string, error) {
	discount := map[string]any{
		"title":                  in.Title,
		"code":                   in.Code,
		"startsAt":               in.StartsAt.UTC().Format(time.RFC3339),
		"endsAt":                 in.EndsAt.UTC().Format(time.RFC3339),
		"appliesOncePerCustomer": true,
		"customerSelection":      map[string]any{"all": true},
		"customerGets": map[string]any{
			"value": map[string]any{
				"discountAmount": map[string]any{
					"amount":            in.Amount.StringFixed(2),
					"appliesOnEachItem": false,
				},
			},
			"items": map[string]any{"all": true},
		},
	}
	if in.UsageLimit > 0 {
		discount["usageLimit"] = in.UsageLimit
	}

	var data struct {
		DiscountCodeBasicCreate struct {
			CodeDiscountNode *struct {
				ID string `json:"id"`
			} `json:"codeDiscountNode"`
			UserErrors []userError `json:"userErrors"`
		} `json:"discountCodeBasicCreate"`
	}
	if err := c.do(ctx, discountCreateMutation, map[string]any{"discount": discount}, &data); err != nil {
		return "", fmt.Errorf("create discount %s: %w", in.Code, err)
	}
	res := data.DiscountCodeBasicCreate
	if err := userErrors("create discount", res.UserErrors); err != nil {
		return "", err
	}
	if res.CodeDiscountNode == nil {
		return "", fmt.Errorf("create discount %s: empty response", in.Code)
	}
	return res.CodeDiscountNode.ID, nil
}

const discountDeleteMutation = `mutation DiscountDelete($id: ID!) {
  discountCodeDelete(id: $id) { deletedCodeDiscountId userErrors { field message } }
}`

func (c *shopifyClientImpl) DeleteDiscountCode(ctx context.Context, discountID string) error {
	var data struct {
		DiscountCodeDelete struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"discountCodeDelete"`
	}
	if err := c.do(ctx, discountDeleteMutation, map[string]any{"id": discountID}, &data); err != nil {
		return fmt.Errorf("delete discount %s: %w", discountID, err)
	}
	return userErrors("delete discount", data.DiscountCodeDelete.UserErrors)
}

const collectionsQuery = `query Collections { collections(first: 250) { nodes { id handle } } }`

func (c *shopifyClientImpl) ListCollections(ctx context.Context) ([]CollectionRef, error) {
	var data struct {
		Collections model.Connection[CollectionRef] `json:"collections"`
	}
	if err := c.do(ctx, collectionsQuery, nil, &data); err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return data.Collections.Nodes, nil
}

const collectionReorderMutation = `mutation Reorder($id: ID!, $moves: [MoveInput!]!) {
  collectionReorderProducts(id: $id, moves: $moves) { job { id } userErrors { field message } }
}`

// ReorderCollection places productIDs at the top of a manually sorted
// collection, in the given order.
func (c *shopifyClientImpl) ReorderCollection(ctx context.Context, collectionID string, productIDs []string) error {
	if len(productIDs) == 0 {
		return nil
	}
	moves := make([]map[string]any, 0, len(productIDs))
	for i, id := range productIDs {
		moves = append(moves, map[string]any{"id": id, "newPosition": fmt.Sprint(i)})
	}

	var data struct {
		CollectionReorderProducts struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"collectionReorderProducts"`
	}
	if err := c.do(ctx, collectionReorderMutation, map[string]any{"id": collectionID, "moves": moves}, &data); err != nil {
		return fmt.Errorf("reorder collection %s: %w", collectionID, err)
	}
	return userErrors("reorder collection", data.CollectionReorderProducts.UserErrors)
}

const customerCreateMutation = `mutation CustomerCreate($input: CustomerInput!) {
  customerCreate(input: $input) { customer { id } userErrors { field message } }
}`

const customerUpdateMutation = `mutation CustomerUpdate($input: CustomerInput!) {
  customerUpdate(input: $input) { customer { id } userErrors { field message } }
}`

// UpsertCustomer updates the customer when in.ID is set and creates it
// otherwise. It returns the storefront customer id.
func (c *shopifyClientImpl) UpsertCustomer(ctx context.Context, in CustomerInput) (string, error) {
	input := map[string]any{
		"firstName": in.FirstName,
		"lastName":  in.LastName,
		"tags":      in.Tags,
		"metafields": []map[string]any{{
			"namespace": "counterpoint",
			"key":       "loyalty_points",
			"type":      "number_integer",
			"value":     fmt.Sprint(in.LoyaltyPoints),
		}},
	}
	if in.Email != "" {
		input["email"] = in.Email
	}
	if in.Phone != "" {
		input["phone"] = util.E164(in.Phone)
	}

	mutation, field := customerCreateMutation, "customerCreate"
	if in.ID != "" {
		input["id"] = in.ID
		mutation, field = customerUpdateMutation, "customerUpdate"
	} else if in.Email != "" {
		state := "UNSUBSCRIBED"
		if in.Marketing {
			state = "SUBSCRIBED"
		}
		input["emailMarketingConsent"] = map[string]any{"marketingState": state}
	}

	var data map[string]struct {
		Customer *struct {
			ID string `json:"id"`
		} `json:"customer"`
		UserErrors []userError `json:"userErrors"`
	}
	if err := c.do(ctx, mutation, map[string]any{"input": input}, &data); err != nil {
		return "", fmt.Errorf("upsert customer: %w", err)
	}
	res := data[field]
	if err := userErrors("upsert customer", res.UserErrors); err != nil {
		return "", err
	}
	if res.Customer == nil {
		return "", fmt.Errorf("upsert customer: empty response")
	}
	return res.Customer.ID, nil
}

const customerDeleteMutation = `mutation CustomerDelete($input: CustomerDeleteInput!) {
  customerDelete(input: $input) { deletedCustomerId userErrors { field message } }
}`

func (c *shopifyClientImpl) DeleteCustomer(ctx context.Context, customerID string) error {
	var data struct {
		CustomerDelete struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"customerDelete"`
	}
	if err := c.do(ctx, customerDeleteMutation, map[string]any{"input": map[string]any{"id": customerID}}, &data); err != nil {
		return fmt.Errorf("delete customer %s: %w", customerID, err)
	}
	return userErrors("delete customer", data.CustomerDelete.UserErrors)
}

const variantBySKUQuery = `query Variant($q: String!) {
  productVariants(first: 1, query: $q) { nodes { id product { id } inventoryItem { id } } }
}`

func (c *shopifyClientImpl) FindVariantBySKU(ctx context.Context, sku string) (*VariantRef, error) {
	var data struct {
		ProductVariants model.Connection[struct {
			ID      string `json:"id"`
			Product struct {
				ID string `json:"id"`
			} `json:"product"`
			InventoryItem struct {
				ID string `json:"id"`
			} `json:"inventoryItem"`
		}] `json:"productVariants"`
	}
	if err := c.do(ctx, variantBySKUQuery, map[string]any{"q": "sku:" + sku}, &data); err != nil {
		return nil, fmt.Errorf("find variant %s: %w", sku, err)
	}
	if len(data.ProductVariants.Nodes) == 0 {
		return nil, fmt.Errorf("find variant %s: %w", sku, apperr.ErrNotFound)
	}
	v := data.ProductVariants.Nodes[0]
	return &VariantRef{VariantID: v.ID, ProductID: v.Product.ID, InventoryItemID: v.InventoryItem.ID}, nil
}

const variantPriceMutation = `mutation VariantPrice($productId: ID!, $variants: [ProductVariantsBulkInput!]!) {
  productVariantsBulkUpdate(productId: $productId, variants: $variants) { userErrors { field message } }
}`

func (c *shopifyClientImpl) UpdateVariantPrice(ctx context.Context, productID, variantID string, price decimal.Decimal) error {
	vars := map[string]any{
		"productId": productID,
		"variants":  []map[string]any{{"id": variantID, "price": price.StringFixed(2)}},
	}
	var data struct {
		ProductVariantsBulkUpdate struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"productVariantsBulkUpdate"`
	}
	if err := c.do(ctx, variantPriceMutation, vars, &data); err != nil {
		return fmt.Errorf("update variant price %s: %w", variantID, err)
	}
	return userErrors("update variant price", data.ProductVariantsBulkUpdate.UserErrors)
}

const inventorySetMutation = `mutation InventorySet($input: InventorySetOnHandQuantitiesInput!) {
  inventorySetOnHandQuantities(input: $input) { userErrors { field message } }
}`

func (c *shopifyClientImpl) SetInventory(ctx context.Context, inventoryItemID string, quantity int) error {
	vars := map[string]any{"input": map[string]any{
		"reason": "correction",
		"setQuantities": []map[string]any{{
			"inventoryItemId": inventoryItemID,
			"locationId":      c.locationID,
			"quantity":        quantity,
		}},
	}}
	var data struct {
		InventorySetOnHandQuantities struct {
			UserErrors []userError `json:"userErrors"`
		} `json:"inventorySetOnHandQuantities"`
	}
	if err := c.do(ctx, inventorySetMutation, vars, &data); err != nil {
		return fmt.Errorf("set inventory %s: %w", inventoryItemID, err)
	}
	return userErrors("set inventory", data.InventorySetOnHandQuantities.UserErrors)
}
