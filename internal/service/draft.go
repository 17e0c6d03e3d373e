package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"retail-integration/internal/apperr"
	"retail-integration/internal/client"
	"retail-integration/internal/errsink"
	"retail-integration/internal/model"
	"retail-integration/internal/posting"
	"retail-integration/internal/repository"
)

type DraftService interface {
	OnDraftCreated(ctx context.Context, draftID string) error
	OnDraftUpdated(ctx context.Context, draftID string) error
	// Sweep drops holds whose customer has since been ticketed.
	Sweep(ctx context.Context) error
	// DeleteDraft removes the hold, its mapping and the storefront draft.
	DeleteDraft(ctx context.Context, draftID string) error
}

type draftServiceImpl struct {
	shopify   client.ShopifyClient
	erp       client.DocumentPoster
	documents repository.DocumentRepository
	customers repository.CustomerRepository
	holds     repository.DraftHoldRepository
	sink      errsink.Sink
	settings  posting.Settings
	logger    *slog.Logger
}

func NewDraftService(
	shopify client.ShopifyClient,
	erp client.DocumentPoster,
	documents repository.DocumentRepository,
	customers repository.CustomerRepository,
	holds repository.DraftHoldRepository,
	sink errsink.Sink,
	settings posting.Settings,
	logger *slog.Logger,
) DraftService {
	return &draftServiceImpl{
		shopify:   shopify,
		erp:       erp,
		documents: documents,
		customers: customers,
		holds:     holds,
		sink:      sink,
		settings:  settings,
		logger:    logger,
	}
}

func (s *draftServiceImpl) OnDraftCreated(ctx context.Context, draftID string) error {
	draftID, err := cleanID(draftID, "draft")
	if err != nil {
		return err
	}
	s.sweep(ctx)

	draft, err := s.shopify.GetDraftOrder(ctx, draftID)
	if err != nil {
		return fmt.Errorf("fetch draft %s: %w", draftID, err)
	}
	return s.createHold(ctx, draft)
}

func (s *draftServiceImpl) OnDraftUpdated(ctx context.Context, draftID string) error {
	draftID, err := cleanID(draftID, "draft")
	if err != nil {
		return err
	}
	s.sweep(ctx)

	if err := s.dropHold(ctx, draftID); err != nil {
		return err
	}

	draft, err := s.shopify.GetDraftOrder(ctx, draftID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.logger.Info("draft gone from the storefront", "draft_id", draftID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch draft %s: %w", draftID, err)
	}

	// the real ticket arrives on the orders topic
	if draft.Status == model.DraftCompleted {
		if err := s.shopify.DeleteDraftOrder(ctx, draftID); err != nil {
			return fmt.Errorf("delete completed draft %s: %w", draftID, err)
		}
		s.logger.Info("completed draft removed", "draft_id", draftID)
		return nil
	}
	return s.createHold(ctx, draft)
}

func (s *draftServiceImpl) DeleteDraft(ctx context.Context, draftID string) error {
	draftID, err := cleanID(draftID, "draft")
	if err != nil {
		return err
	}
	if err := s.dropHold(ctx, draftID); err != nil {
		return err
	}
	if err := s.shopify.DeleteDraftOrder(ctx, draftID); err != nil {
		return fmt.Errorf("delete draft %s: %w", draftID, err)
	}
	return nil
}

func (s *draftServiceImpl) Sweep(ctx context.Context) error {
	holds, err := s.holds.All(ctx)
	if err != nil {
		return fmt.Errorf("list holds: %w", err)
	}

	var errs []error
	for _, h := range holds {
		hdr, err := s.documents.Header(ctx, h.DocID)
		if errors.Is(err, apperr.ErrNotFound) {
			if err := s.holds.Delete(ctx, h.DocID); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		ticketed, err := s.documents.TicketSince(ctx, hdr.CustNo, hdr.TktDt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ticketed {
			continue
		}
		s.logger.Info("hold superseded by a ticket", "doc_id", h.DocID, "draft_id", h.DraftID, "cust_no", hdr.CustNo)
		if err := s.deleteHold(ctx, h.DocID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sweep runs Sweep for a handler, where a failed sweep must not block the
// event itself.
func (s *draftServiceImpl) sweep(ctx context.Context) {
	guard(ctx, s.sink, "draft.sweep", func() error { return s.Sweep(ctx) })
}

func (s *draftServiceImpl) createHold(ctx context.Context, d *model.DraftOrder) error {
	log := s.logger.With("draft_id", d.ID)
	if len(d.Lines) == 0 {
		log.Info("draft has no lines, no hold")
		return nil
	}

	custNo, err := posting.ResolveCustomer(ctx, s.customers, d.Email, d.Phone, d.Contact())
	if err != nil {
		return fmt.Errorf("hold for draft %s: %w", d.ID, err)
	}

	docID, err := s.erp.PostDocument(ctx, posting.HoldPayload(d, custNo, s.settings))
	if err != nil {
		return fmt.Errorf("post hold for draft %s: %w", d.ID, err)
	}

	if err := s.holds.Create(ctx, &model.DraftHold{DocID: docID, DraftID: d.ID}); err != nil {
		// keep the mapping 1:1 with live holds
		if derr := s.documents.DeleteDocument(ctx, docID); derr != nil {
			return errors.Join(fmt.Errorf("map hold %s: %w", docID, err), derr)
		}
		return fmt.Errorf("map hold %s: %w", docID, err)
	}

	log.Info("hold posted", "doc_id", docID, "cust_no", custNo)
	return nil
}

func (s *draftServiceImpl) dropHold(ctx context.Context, draftID string) error {
	h, err := s.holds.FindByDraft(ctx, draftID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find hold for draft %s: %w", draftID, err)
	}
	return s.deleteHold(ctx, h.DocID)
}

func (s *draftServiceImpl) deleteHold(ctx context.Context, docID string) error {
	if err := s.documents.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("delete hold %s: %w", docID, err)
	}
	if err := s.holds.Delete(ctx, docID); err != nil {
		return fmt.Errorf("delete hold mapping %s: %w", docID, err)
	}
	return nil
}

// cleanID trims an entity id from a queue body, which may be JSON-quoted.
func cleanID(raw, entity string) (string, error) {
	id := strings.Trim(strings.TrimSpace(raw), `"`)
	if id == "" {
		return "", fmt.Errorf("empty %s id: %w", entity, apperr.ErrBadPayload)
	}
	return model.LegacyID(id), nil
}
