package repository

import (
	"errors"
	"fmt"
	"log/slog"

	"retail-integration/internal/apperr"

	"gorm.io/gorm"
)

// notFound turns an empty result into apperr.ErrNotFound and logs it at warn.
// Other errors pass through unchanged.
func notFound(logger *slog.Logger, entity, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Warn("no rows", "entity", entity, "key", key)
		return fmt.Errorf("%s %q: %w: %w", entity, key, apperr.ErrNotFound, err)
	}
	return fmt.Errorf("query %s: %w", entity, err)
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
