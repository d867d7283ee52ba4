package timeframe

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// pattern pairs a phrase regex with a builder that turns its submatches
// into a range. A nil range from build means "not actually a timeframe"
// and the scan continues with the next pattern.
type pattern struct {
	re    *regexp.Regexp
	build func(match []string, now time.Time) *Range
}

// dateToken matches the explicit-date forms accepted after since/before/
// after/between: ISO dates, slash dates, "January 2(, 2006)", a bare month,
// or a bare year.
const dateToken = `(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4}|` +
	`(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|` +
	`jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|` +
	`dec(?:ember)?)(?:\s+\d{1,2})?(?:,?\s+\d{4})?|\d{4})`

const amountToken = `(\d+|an?|one|two|three|four|five|six|seven|eight|nine|ten|` +
	`(?:a\s+)?few|several|(?:a\s+)?couple(?:\s+of)?)`

const unitToken = `(minute|hour|day|week|month|year)s?`

// patterns is scanned in order; the first match wins. Broad phrases with
// explicit bounds come first so "in the last 2 weeks" is not eaten by the
// bare "last week" rule.
var patterns = []pattern{
	{
		re: regexp.MustCompile(`(?i)\bbetween\s+` + dateToken + `\s+and\s+` + dateToken + `\b`),
		build: func(m []string, now time.Time) *Range {
			return buildSpan(m[1], m[2], now)
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bfrom\s+` + dateToken + `\s+(?:to|until|through)\s+` + dateToken + `\b`),
		build: func(m []string, now time.Time) *Range {
			return buildSpan(m[1], m[2], now)
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bsince\s+` + dateToken + `\b`),
		build: func(m []string, now time.Time) *Range {
			start, ok := parseDateToken(m[1], now)
			if !ok {
				return nil
			}
			return &Range{Start: start, End: now}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bbefore\s+` + dateToken + `\b`),
		build: func(m []string, now time.Time) *Range {
			end, ok := parseDateToken(m[1], now)
			if !ok {
				return nil
			}
			return &Range{End: end}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bafter\s+` + dateToken + `\b`),
		build: func(m []string, now time.Time) *Range {
			start, ok := parseDateToken(m[1], now)
			if !ok {
				return nil
			}
			return &Range{Start: start}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(?:(?:in|within|over|during)\s+)?the\s+(?:last|past)\s+(?:` +
			amountToken + `\s+)?` + unitToken + `\b`),
		build: func(m []string, now time.Time) *Range {
			n := parseAmount(m[1])
			return &Range{Start: now.Add(-time.Duration(n) * unitDuration(m[2], now)), End: now}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(?:the\s+)?weekend\s+before\s+last\b`),
		build: func(_ []string, now time.Time) *Range {
			r := weekendRange(now, 2)
			return &r
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b` + amountToken + `\s+weekends?\s+ago\b`),
		build: func(m []string, now time.Time) *Range {
			r := weekendRange(now, parseAmount(m[1]))
			return &r
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b` + amountToken + `\s+` + unitToken + `\s+ago\b`),
		build: func(m []string, now time.Time) *Range {
			r := periodAround(now, m[2], parseAmount(m[1]))
			return &r
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(last|this|next)\s+weekend\b`),
		build: func(m []string, now time.Time) *Range {
			var r Range
			switch strings.ToLower(m[1]) {
			case "last":
				r = weekendRange(now, 1)
			case "next":
				r = weekendRange(now, -1)
			default:
				r = weekendRange(now, 0)
			}
			return &r
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(last|this|next)\s+(week|month|year|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
		build: func(m []string, now time.Time) *Range {
			r := relativePeriod(now, strings.ToLower(m[1]), strings.ToLower(m[2]))
			return &r
		},
	},
	{
		re: regexp.MustCompile(`(?i)\brecent(?:ly)?\b`),
		build: func(_ []string, now time.Time) *Range {
			return &Range{Start: now.AddDate(0, 0, -3), End: now}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\b(yesterday|today|tonight|this\s+morning|this\s+afternoon|this\s+evening|last\s+night)\b`),
		build: func(m []string, now time.Time) *Range {
			r := dayPart(now, strings.ToLower(strings.Join(strings.Fields(m[1]), " ")))
			return &r
		},
	},
}

// buildSpan covers "between X and Y" / "from X to Y". A date-only Y is
// extended to the end of its day so the span is inclusive.
func buildSpan(from, to string, now time.Time) *Range {
	start, ok1 := parseDateToken(from, now)
	end, ok2 := parseDateToken(to, now)
	if !ok1 || !ok2 {
		return nil
	}
	end = end.AddDate(0, 0, 1)
	if end.Before(start) {
		return nil
	}
	return &Range{Start: start, End: end}
}

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// parseDateToken resolves one dateToken capture to the start of the period
// it names. A bare month resolves within the current year, a bare year to
// January 1st of that year.
func parseDateToken(tok string, now time.Time) (time.Time, bool) {
	tok = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(tok, ",", "")))

	for _, layout := range []string{"2006-01-02", "1/2/2006"} {
		if t, err := time.ParseInLocation(layout, tok, now.Location()); err == nil {
			return t, true
		}
	}
	if year, err := strconv.Atoi(tok); err == nil && year >= 1000 && year <= 9999 {
		return time.Date(year, time.January, 1, 0, 0, 0, 0, now.Location()), true
	}

	// Month-name forms: "march", "march 5", "march 5 2024", "march 2024".
	fields := strings.Fields(tok)
	if len(fields) == 0 {
		return time.Time{}, false
	}
	prefix := fields[0]
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	month, ok := monthsByPrefix[prefix]
	if !ok {
		return time.Time{}, false
	}

	day, year := 1, now.Year()
	switch len(fields) {
	case 1:
	case 2:
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return time.Time{}, false
		}
		if n >= 1000 {
			year = n
		} else {
			day = n
		}
	case 3:
		d, err1 := strconv.Atoi(fields[1])
		y, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			return time.Time{}, false
		}
		day, year = d, y
	default:
		return time.Time{}, false
	}

	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()), true
}

var writtenNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// parseAmount resolves an amountToken capture. Vague quantities follow
// common usage: few/several mean 3, a couple means 2, an empty or
// article-only capture means 1.
func parseAmount(s string) int {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == "a" || s == "an":
		return 1
	case strings.Contains(s, "couple"):
		return 2
	case strings.Contains(s, "few") || s == "several":
		return 3
	}
	if n, ok := writtenNumbers[s]; ok {
		return n
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return 1
}

// unitDuration gives the sliding-window length of one unit. Months and
// years use calendar-ish fixed lengths; windows, not calendar periods.
func unitDuration(unit string, _ time.Time) time.Duration {
	switch strings.ToLower(unit) {
	case "minute":
		return time.Minute
	case "hour":
		return time.Hour
	case "day":
		return 24 * time.Hour
	case "week":
		return 7 * 24 * time.Hour
	case "month":
		return 30 * 24 * time.Hour
	case "year":
		return 365 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// periodAround resolves "N units ago" to the calendar period containing
// the referenced instant: the whole day for day units, the Monday-based
// week for weeks, and so on. Sub-day units keep a rolling window.
func periodAround(now time.Time, unit string, n int) Range {
	switch strings.ToLower(unit) {
	case "minute", "hour":
		t := now.Add(-time.Duration(n) * unitDuration(unit, now))
		return Range{Start: t, End: now}
	case "day":
		return ExpandDay(now.AddDate(0, 0, -n))
	case "week":
		return weekOf(now.AddDate(0, 0, -7*n))
	case "month":
		return monthOf(now.AddDate(0, -n, 0))
	case "year":
		return yearOf(now.AddDate(-n, 0, 0))
	}
	return ExpandDay(now.AddDate(0, 0, -n))
}

// weekendRange returns the weekend n weekends back (0 = the weekend of
// the current week, negative = future), spanning Saturday 00:00 to
// Monday 00:00.
func weekendRange(now time.Time, n int) Range {
	sat := weekOf(now).Start.AddDate(0, 0, 5-7*n)
	return Range{Start: sat, End: sat.AddDate(0, 0, 2)}
}

// weekOf returns the Monday-based week containing t.
func weekOf(t time.Time) Range {
	sinceMonday := (int(t.Weekday()) + 6) % 7
	monday := midnight(t).AddDate(0, 0, -sinceMonday)
	return Range{Start: monday, End: monday.AddDate(0, 0, 7)}
}

func monthOf(t time.Time) Range {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return Range{Start: first, End: first.AddDate(0, 1, 0)}
}

func yearOf(t time.Time) Range {
	first := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	return Range{Start: first, End: first.AddDate(1, 0, 0)}
}

var weekdaysByName = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

// relativePeriod resolves "last/this/next week|month|year|<weekday>".
func relativePeriod(now time.Time, qualifier, period string) Range {
	if wd, ok := weekdaysByName[period]; ok {
		return weekdayRange(now, qualifier, wd)
	}

	var r Range
	switch period {
	case "week":
		r = weekOf(now)
		switch qualifier {
		case "last":
			r = weekOf(now.AddDate(0, 0, -7))
		case "next":
			r = weekOf(now.AddDate(0, 0, 7))
		}
	case "month":
		r = monthOf(now)
		switch qualifier {
		case "last":
			r = monthOf(r.Start.AddDate(0, 0, -1))
		case "next":
			r = monthOf(r.End)
		}
	case "year":
		r = yearOf(now)
		switch qualifier {
		case "last":
			r = yearOf(r.Start.AddDate(0, 0, -1))
		case "next":
			r = yearOf(r.End)
		}
	}
	return r
}

// weekdayRange: "last friday" is the most recent strictly-past Friday,
// "next friday" the nearest strictly-future one, "this friday" the Friday
// of the current Monday-based week.
func weekdayRange(now time.Time, qualifier string, wd time.Weekday) Range {
	today := midnight(now)
	var day time.Time
	switch qualifier {
	case "last":
		day = today.AddDate(0, 0, -1)
		for day.Weekday() != wd {
			day = day.AddDate(0, 0, -1)
		}
	case "next":
		day = today.AddDate(0, 0, 1)
		for day.Weekday() != wd {
			day = day.AddDate(0, 0, 1)
		}
	default:
		week := weekOf(now)
		day = week.Start
		for day.Weekday() != wd {
			day = day.AddDate(0, 0, 1)
		}
	}
	return ExpandDay(day)
}

// dayPart resolves the single-word day references.
func dayPart(now time.Time, phrase string) Range {
	today := midnight(now)
	at := func(d time.Time, h int) time.Time { return d.Add(time.Duration(h) * time.Hour) }

	switch phrase {
	case "yesterday":
		return ExpandDay(today.AddDate(0, 0, -1))
	case "tonight":
		return Range{Start: at(today, 18), End: today.AddDate(0, 0, 1)}
	case "this morning":
		return Range{Start: at(today, 5), End: at(today, 12)}
	case "this afternoon":
		return Range{Start: at(today, 12), End: at(today, 17)}
	case "this evening":
		return Range{Start: at(today, 17), End: at(today, 21)}
	case "last night":
		return Range{Start: at(today.AddDate(0, 0, -1), 20), End: at(today, 6)}
	}
	return ExpandDay(today)
}
