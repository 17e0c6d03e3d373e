package posting

import (
	"retail-integration/internal/model"
)

// HoldPayload renders a parked document for a draft order: the draft's lines
// under DOC_TYP H with no tenders, taxes or gift-card issues.
func HoldPayload(d *model.DraftOrder, custNo string, s Settings) *model.DocumentPayload {
	o := &model.Order{
		ID:           d.ID,
		Lines:        d.Lines,
		ShippingCost: d.ShippingCost,
		Total:        d.Total,
		Note:         d.Note,
	}

	plan := BuildPlan(o, NewSale, custNo, nil, s)
	payload := plan.Payload(s)

	hdr := &payload.Header
	hdr.DocTyp = model.DocTypeHold
	hdr.TktNo = ""
	hdr.GiftCards = nil
	hdr.Payments = nil
	hdr.Taxes = nil
	if d.Name != "" {
		hdr.Notes = append(hdr.Notes, model.DocumentNote{NoteID: "DRAFT", Note: d.Name})
	}
	return payload
}
