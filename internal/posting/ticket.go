package posting

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"retail-integration/internal/repository"
)

// NextTicketNumber returns base+suffix+N for the smallest N >= 1 that no
// existing ticket uses.
func NextTicketNumber(ctx context.Context, docs repository.DocumentRepository, base, suffix string) (string, error) {
	prefix := base + suffix
	existing, err := docs.TicketNumbersLike(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("next ticket number for %s: %w", prefix, err)
	}

	used := make(map[int]bool, len(existing))
	for _, t := range existing {
		n, err := strconv.Atoi(strings.TrimPrefix(t, prefix))
		if err == nil && n > 0 {
			used[n] = true
		}
	}

	n := 1
	for used[n] {
		n++
	}
	return prefix + strconv.Itoa(n), nil
}
