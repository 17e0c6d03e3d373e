package util

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

var twenty = decimal.NewFromInt(20)

// Round2 rounds to storefront precision.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ExtractMoney walks a nested JSON document along path and parses the amount
// found there. Amounts may be JSON strings ("12.50") or numbers.
func ExtractMoney(raw []byte, path ...string) (decimal.Decimal, error) {
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return decimal.Zero, fmt.Errorf("decode money document: %w", err)
	}

	for _, key := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return decimal.Zero, fmt.Errorf("money path %v: %q is not an object", path, key)
		}
		node, ok = m[key]
		if !ok {
			return decimal.Zero, fmt.Errorf("money path %v: missing %q", path, key)
		}
	}

	switch v := node.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse amount %q: %w", v, err)
		}
		return Round2(d), nil
	case float64:
		return Round2(decimal.NewFromFloat(v)), nil
	case nil:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("money path %v: unexpected %T", path, node)
	}
}

// LoyaltyPoints is one point per whole twenty of extended price, truncated
// toward zero so refunds earn negative points symmetrically.
func LoyaltyPoints(extPrice decimal.Decimal) int64 {
	return extPrice.Div(twenty).Truncate(0).IntPart()
}

// WholeUnits truncates an amount to its integer magnitude.
func WholeUnits(amount decimal.Decimal) int64 {
	return amount.Abs().Truncate(0).IntPart()
}
