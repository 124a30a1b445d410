package content

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var parser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseWhen turns a user supplied publication time into an instant.
//
// Accepted forms, tried in order:
//   - RFC 3339 ("2024-05-01T09:30:00+02:00")
//   - "2006-01-02 15:04" or "2006-01-02T15:04" in the site timezone
//   - "2006-01-02", at the default schedule time
//   - natural language ("tomorrow", "next friday at 9am", "in 3 days")
//
// A natural-language expression without a time of day gets the default
// schedule time.
func (s *Store) ParseWhen(input string) (time.Time, error) {
	in := strings.TrimSpace(input)
	if in == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := dateValue(in, s.loc, s.defHour, s.defMinute); err == nil {
		return t, nil
	}

	now := s.Now()
	r, err := parser.Parse(in, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", input, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("parse %q: no date found", input)
	}
	t := r.Time.In(s.loc)
	if !mentionsClock(r.Text) {
		t = time.Date(t.Year(), t.Month(), t.Day(), s.defHour, s.defMinute, 0, 0, s.loc)
	}
	return t, nil
}

// mentionsClock reports whether the matched text names a time of day.
func mentionsClock(text string) bool {
	t := strings.ToLower(text)
	for _, marker := range []string{":", "am", "pm", "a.m", "p.m", "noon", "midnight", "hour", "minute", "o'clock"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}
