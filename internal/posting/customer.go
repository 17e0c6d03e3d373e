package posting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"retail-integration/internal/apperr"
	"retail-integration/internal/model"
	"retail-integration/internal/repository"
	"retail-integration/internal/util"
)

// ResolveCustomer finds the ERP customer for a contact, refreshing its
// address, or creates one.
func ResolveCustomer(ctx context.Context, customers repository.CustomerRepository, email, phone string, addr *model.Address) (string, error) {
	if phone == "" && addr != nil {
		phone = addr.Phone
	}
	if util.ERPPhone(phone) == "" {
		phone = ""
	}
	if email == "" && phone == "" {
		return "", fmt.Errorf("resolve customer: no email or phone: %w", apperr.ErrBadPayload)
	}

	existing, err := customers.FindByContact(ctx, email, phone)
	switch {
	case err == nil:
		applyAddress(existing, email, phone, addr)
		if err := customers.Update(ctx, existing); err != nil {
			return "", fmt.Errorf("refresh customer %s: %w", existing.CustNo, err)
		}
		return existing.CustNo, nil

	case errors.Is(err, apperr.ErrNotFound):
		c := &model.Customer{InclMktg: "N", SMSSub: "N"}
		applyAddress(c, email, phone, addr)
		if err := customers.Create(ctx, c); err != nil {
			return "", fmt.Errorf("create customer: %w", err)
		}
		return c.CustNo, nil

	default:
		return "", fmt.Errorf("find customer: %w", err)
	}
}

func applyAddress(c *model.Customer, email, phone string, addr *model.Address) {
	if email != "" {
		c.Email = strings.ToLower(strings.TrimSpace(email))
	}
	if p := util.ERPPhone(phone); p != "" && c.Phone != p {
		c.MblPhone = p
	}
	if addr.Empty() {
		return
	}
	if addr.FirstName != "" {
		c.FstNam = addr.FirstName
	}
	if addr.LastName != "" {
		c.LstNam = addr.LastName
	}
	if addr.Address1 != "" {
		c.Adrs1 = addr.Address1
		c.Adrs2 = addr.Address2
		c.City = addr.City
		c.State = addr.Province
		c.ZipCod = addr.Zip
		c.Cntry = addr.Country
	}
}
