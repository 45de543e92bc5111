package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week. Each field accepts "*",
// numbers, comma lists, ranges "a-b" and steps "*/n" or "a-b/n".
type Schedule struct {
	minute, hour, dom, month, dow field
}

type field struct {
	any bool
	set map[int]bool
}

func (f field) matches(v int) bool { return f.any || f.set[v] }

var fieldBounds = [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}

// ParseCron parses expr.
func ParseCron(expr string) (Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(parts))
	}
	var fs [5]field
	for i, p := range parts {
		f, err := parseField(p, fieldBounds[i][0], fieldBounds[i][1])
		if err != nil {
			return Schedule{}, fmt.Errorf("field %d %q: %w", i+1, p, err)
		}
		fs[i] = f
	}
	return Schedule{minute: fs[0], hour: fs[1], dom: fs[2], month: fs[3], dow: fs[4]}, nil
}

func parseField(s string, lo, hi int) (field, error) {
	if s == "*" {
		return field{any: true}, nil
	}
	f := field{set: make(map[int]bool)}
	for _, term := range strings.Split(s, ",") {
		rng, step := term, 1
		if base, st, ok := strings.Cut(term, "/"); ok {
			n, err := strconv.Atoi(st)
			if err != nil || n < 1 {
				return field{}, fmt.Errorf("invalid step %q", st)
			}
			rng, step = base, n
		}

		from, to := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return field{}, fmt.Errorf("invalid value %q", a)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return field{}, fmt.Errorf("invalid value %q", b)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return field{}, fmt.Errorf("invalid value %q", rng)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return field{}, fmt.Errorf("value out of range %d-%d", lo, hi)
		}
		for v := from; v <= to; v += step {
			f.set[v] = true
		}
	}
	return f, nil
}

// Next returns the first minute strictly after t that matches, searching up
// to a year ahead.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	c := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(366 * 24 * time.Hour)
	for c.Before(limit) {
		if !s.month.matches(int(c.Month())) {
			c = time.Date(c.Year(), c.Month()+1, 1, 0, 0, 0, 0, c.Location())
			continue
		}
		if !s.dom.matches(c.Day()) || !s.dow.matches(int(c.Weekday())) {
			c = time.Date(c.Year(), c.Month(), c.Day()+1, 0, 0, 0, 0, c.Location())
			continue
		}
		if !s.hour.matches(c.Hour()) {
			c = c.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if s.minute.matches(c.Minute()) {
			return c, nil
		}
		c = c.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within a year")
}
