// Package errsink collects structured error records from every component and
// drains them into the log stream and a periodic summary.
package errsink

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"retail-integration/internal/apperr"
)

type Record struct {
	ID      string
	Kind    string
	Origin  string
	Time    time.Time
	Message string
	Stack   string
}

type Sink interface {
	// Record stores err under origin. A nil err is ignored.
	Record(ctx context.Context, origin string, err error)
	// RecordPanic stores a recovered panic value together with the current stack.
	RecordPanic(ctx context.Context, origin string, recovered any)
}

// Collector logs every record as it arrives and keeps it until the next Drain.
type Collector struct {
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending []Record
	total   int
}

func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
		now:    time.Now,
	}
}

func (c *Collector) Record(ctx context.Context, origin string, err error) {
	if err == nil {
		return
	}
	c.add(ctx, Record{
		Kind:    apperr.Kind(err),
		Origin:  origin,
		Message: err.Error(),
	})
}

func (c *Collector) RecordPanic(ctx context.Context, origin string, recovered any) {
	c.add(ctx, Record{
		Kind:    "panic",
		Origin:  origin,
		Message: fmt.Sprint(recovered),
		Stack:   string(debug.Stack()),
	})
}

func (c *Collector) add(ctx context.Context, rec Record) {
	rec.ID = uuid.NewString()
	rec.Time = c.now()

	attrs := []any{
		slog.String("error_id", rec.ID),
		slog.String("kind", rec.Kind),
		slog.String("origin", rec.Origin),
	}
	if rec.Stack != "" {
		attrs = append(attrs, slog.String("stack", rec.Stack))
	}
	c.logger.ErrorContext(ctx, rec.Message, attrs...)

	c.mu.Lock()
	c.pending = append(c.pending, rec)
	c.total++
	c.mu.Unlock()
}

// Drain returns the records gathered since the previous call and forgets them.
func (c *Collector) Drain() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.pending
	c.pending = nil
	return out
}

// Len reports how many records are waiting to be drained.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Total reports how many records were collected since start.
func (c *Collector) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Summarize renders records grouped by origin and kind, most frequent first.
func Summarize(records []Record) string {
	if len(records) == 0 {
		return ""
	}

	type key struct{ origin, kind string }
	counts := make(map[key]int)
	last := make(map[key]string)
	for _, r := range records {
		k := key{r.Origin, r.Kind}
		counts[k]++
		last[k] = r.Message
	}

	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		if keys[i].origin != keys[j].origin {
			return keys[i].origin < keys[j].origin
		}
		return keys[i].kind < keys[j].kind
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%d error(s)\n", len(records))
	for _, k := range keys {
		fmt.Fprintf(&b, "%4d  %-28s %-14s last: %s\n", counts[k], k.origin, k.kind, last[k])
	}
	return b.String()
}
