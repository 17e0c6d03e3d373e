package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"retail-integration/internal/apperr"
	"retail-integration/internal/errsink"
	"retail-integration/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorReporter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := logging.Discard()
	collector := errsink.NewCollector(log)
	mailer := &fakeMailer{}
	r := NewErrorReporter(collector, mailer, "ops@example.com", log)

	require.NoError(t, r.Run(ctx))
	assert.Empty(t, mailer.sent, "nothing to report")

	collector.Record(ctx, "order.print", fmt.Errorf("printer offline: %w", apperr.ErrTransient))
	collector.Record(ctx, "sync.product", errors.New("bad <sku>"))
	require.NoError(t, r.Run(ctx))

	require.Len(t, mailer.sent, 1)
	mail := mailer.sent[0]
	assert.Equal(t, []string{"ops@example.com"}, mail.To)
	assert.Equal(t, "Integration errors: 2", mail.Subject)
	assert.Contains(t, mail.HTML, "order.print")
	assert.Contains(t, mail.HTML, "bad &lt;sku&gt;")
	assert.Zero(t, collector.Len())
}

func TestErrorReporter_MailFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	log := logging.Discard()
	collector := errsink.NewCollector(log)
	r := NewErrorReporter(collector, &fakeMailer{err: assert.AnError}, "ops@example.com", log)

	collector.Record(ctx, "lead.sheet", errors.New("quota"))
	assert.ErrorIs(t, r.Run(ctx), assert.AnError)

	noRecipient := NewErrorReporter(collector, &fakeMailer{err: assert.AnError}, "", log)
	collector.Record(ctx, "lead.sheet", errors.New("quota"))
	assert.NoError(t, noRecipient.Run(ctx))
	assert.Equal(t, 2, collector.Total())
}
