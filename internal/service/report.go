package service

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"retail-integration/internal/client"
	"retail-integration/internal/errsink"
)

// ErrorReporter mails the error records gathered since its last run.
type ErrorReporter struct {
	collector *errsink.Collector
	mailer    client.Mailer
	to        string
	logger    *slog.Logger
}

func NewErrorReporter(collector *errsink.Collector, mailer client.Mailer, to string, logger *slog.Logger) *ErrorReporter {
	return &ErrorReporter{
		collector: collector,
		mailer:    mailer,
		to:        to,
		logger:    logger,
	}
}

func (r *ErrorReporter) Run(ctx context.Context) error {
	records := r.collector.Drain()
	if len(records) == 0 {
		return nil
	}

	summary := errsink.Summarize(records)
	if r.to == "" {
		r.logger.Warn("error summary not mailed, no recipient", "errors", len(records))
		return nil
	}

	err := r.mailer.Send(ctx, client.Mail{
		To:      []string{r.to},
		Subject: fmt.Sprintf("Integration errors: %d", len(records)),
		HTML:    "<pre>" + html.EscapeString(summary) + "</pre>",
	})
	if err != nil {
		// the records are gone from the collector; keep them in the log
		r.logger.Error("error summary not mailed", "error", err, "summary", summary)
		return fmt.Errorf("mail error summary: %w", err)
	}
	r.logger.Info("error summary mailed", "errors", len(records), "total", r.collector.Total())
	return nil
}
