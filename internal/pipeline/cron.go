package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cron is a parsed 5-field cron expression. Each field accepts "*", a
// number, a range "a-b", a step "*/n" or "a-b/n", and comma-separated lists
// of those. When both day-of-month and day-of-week are restricted a day
// matches if either does, as in standard cron.
type Cron struct {
	minute, hour, dom, month, dow field
	expr                          string
}

type field struct {
	any  bool
	vals map[int]bool
}

func (f field) has(v int) bool { return f.any || f.vals[v] }

var bounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week, 0 = Sunday
}

var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// monthDays is the longest each month gets, leap years included.
var monthDays = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// searchYears bounds Next. Eight years covers Feb 29 across a skipped
// century leap year.
const searchYears = 8

// ParseCron parses expr. Expressions whose day-of-month never occurs in
// any selected month are rejected.
func ParseCron(expr string) (Cron, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Cron{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(parts))
	}
	var fs [5]field
	for i, p := range parts {
		f, err := parseField(p, bounds[i][0], bounds[i][1])
		if err != nil {
			return Cron{}, fmt.Errorf("cron %q: %s field: %w", expr, fieldNames[i], err)
		}
		fs[i] = f
	}
	c := Cron{minute: fs[0], hour: fs[1], dom: fs[2], month: fs[3], dow: fs[4], expr: expr}
	if !c.schedulable() {
		return Cron{}, fmt.Errorf("cron %q: day-of-month never occurs in the selected months", expr)
	}
	return c, nil
}

func (c Cron) schedulable() bool {
	if c.dom.any || !c.dow.any {
		return true
	}
	for m := 1; m <= 12; m++ {
		if !c.month.has(m) {
			continue
		}
		for d := 1; d <= monthDays[m]; d++ {
			if c.dom.has(d) {
				return true
			}
		}
	}
	return false
}

func parseField(s string, lo, hi int) (field, error) {
	if s == "*" {
		return field{any: true}, nil
	}
	f := field{vals: make(map[int]bool)}
	for _, term := range strings.Split(s, ",") {
		step := 1
		if base, stepStr, ok := strings.Cut(term, "/"); ok {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return field{}, fmt.Errorf("bad step %q", stepStr)
			}
			step, term = n, base
		}
		from, to := lo, hi
		switch {
		case term == "*":
		case strings.Contains(term, "-"):
			a, b, _ := strings.Cut(term, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return field{}, fmt.Errorf("bad range start %q", a)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return field{}, fmt.Errorf("bad range end %q", b)
			}
		default:
			v, err := strconv.Atoi(term)
			if err != nil {
				return field{}, fmt.Errorf("bad value %q", term)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return field{}, fmt.Errorf("%d-%d outside %d-%d", from, to, lo, hi)
		}
		for v := from; v <= to; v += step {
			f.vals[v] = true
		}
	}
	return f, nil
}

func (c Cron) dayMatches(t time.Time) bool {
	dom, dow := c.dom.has(t.Day()), c.dow.has(int(t.Weekday()))
	if c.dom.any || c.dow.any {
		return dom && dow
	}
	return dom || dow
}

func (c Cron) matches(t time.Time) bool {
	return c.minute.has(t.Minute()) &&
		c.hour.has(t.Hour()) &&
		c.month.has(int(t.Month())) &&
		c.dayMatches(t)
}

// Next returns the first minute strictly after t that matches.
func (c Cron) Next(t time.Time) (time.Time, error) {
	cand := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(searchYears, 0, 0)
	for cand.Before(limit) {
		if !c.month.has(int(cand.Month())) {
			cand = time.Date(cand.Year(), cand.Month()+1, 1, 0, 0, 0, 0, cand.Location())
			continue
		}
		if !c.dayMatches(cand) {
			cand = time.Date(cand.Year(), cand.Month(), cand.Day()+1, 0, 0, 0, 0, cand.Location())
			continue
		}
		if !c.hour.has(cand.Hour()) {
			cand = cand.Truncate(time.Hour).Add(time.Hour)
			continue
		}
		if c.matches(cand) {
			return cand, nil
		}
		cand = cand.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("cron %q: no match within %d years", c.expr, searchYears)
}

func (c Cron) String() string { return c.expr }
