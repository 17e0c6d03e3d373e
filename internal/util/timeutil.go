package util

import (
	"fmt"
	"os"
	"strings"
	"time"
)

func ToLocal(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc)
}

func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	l := ToLocal(t, loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, l.Location())
}

// ReadStamp reads a single ISO-8601 timestamp from path. A missing file yields
// the zero time so the first sync is a full one.
func ReadStamp(path string) (time.Time, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read sync stamp: %w", err)
	}

	s := strings.TrimSpace(string(b))
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sync stamp %q: %w", s, err)
	}
	return t, nil
}

// WriteStamp replaces the stamp file atomically.
func WriteStamp(path string, t time.Time) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(t.UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write sync stamp: %w", err)
	}
	return os.Rename(tmp, path)
}
