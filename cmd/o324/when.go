package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

var whenParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseTime turns a user supplied time into unix milliseconds. It accepts
// absolute timestamps, "HH:MM" for today, unix milliseconds and natural
// language such as "10 minutes ago" or "yesterday at 5pm", relative to
// now.
func parseTime(s string, now time.Time) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time")
	}
	if s == "now" {
		return now.UnixMilli(), nil
	}

	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t.UnixMilli(), nil
		}
	}
	if t, err := time.ParseInLocation("15:04", s, now.Location()); err == nil {
		y, m, d := now.Date()
		return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, now.Location()).UnixMilli(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return ms, nil
	}

	r, err := whenParser.Parse(s, now)
	if err != nil {
		return 0, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	if r == nil {
		return 0, fmt.Errorf("unrecognized time %q", s)
	}
	return r.Time.UnixMilli(), nil
}
