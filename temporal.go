package recall

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Interval is a half-open time window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// temporalRule pairs a pattern with its resolver. Rules are tried in order
// and the first match wins, so specific phrases ("last tuesday") must come
// before the generic ones that would shadow them ("last week").
type temporalRule struct {
	re      *regexp.Regexp
	resolve func(m []string, now time.Time) Interval
}

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

var temporalRules = []temporalRule{
	{
		re: regexp.MustCompile(`(?i)\blast\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
		resolve: func(m []string, now time.Time) Interval {
			target := weekdays[strings.ToLower(m[1])]
			back := (int(now.Weekday()) - int(target) + 7) % 7
			if back == 0 {
				back = 7
			}
			start := midnight(now).AddDate(0, 0, -back)
			return Interval{Start: start, End: start.AddDate(0, 0, 1)}
		},
	},
	// "yesterday", "last week", and "last month" are rolling windows ending
	// at now, not calendar-aligned periods: "last week" is the past 7 days,
	// so a document from yesterday always falls inside it.
	{
		re: regexp.MustCompile(`(?i)\byesterday\b`),
		resolve: func(_ []string, now time.Time) Interval {
			return Interval{Start: now.AddDate(0, 0, -1), End: now}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\blast\s+week\b`),
		resolve: func(_ []string, now time.Time) Interval {
			return Interval{Start: now.AddDate(0, 0, -7), End: now}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\blast\s+month\b`),
		resolve: func(_ []string, now time.Time) Interval {
			return Interval{Start: now.AddDate(0, 0, -30), End: now}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\blast\s+(\d+)\s+days?\b`),
		resolve: func(m []string, now time.Time) Interval {
			n, _ := strconv.Atoi(m[1])
			return Interval{Start: now.AddDate(0, 0, -n), End: now}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bin\s+(january|february|march|april|may|june|july|august|september|october|november|december)\b`),
		resolve: func(m []string, now time.Time) Interval {
			month := months[strings.ToLower(m[1])]
			year := now.Year()
			if month > now.Month() {
				year--
			}
			start := time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
			return Interval{Start: start, End: start.AddDate(0, 1, 0)}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\bthis\s+week\b`),
		resolve: func(_ []string, now time.Time) Interval {
			return Interval{Start: weekStart(now), End: now}
		},
	},
	{
		re: regexp.MustCompile(`(?i)\btoday\b`),
		resolve: func(_ []string, now time.Time) Interval {
			return Interval{Start: midnight(now), End: now}
		},
	},
}

// ExtractTemporal scans query for a temporal expression. On a match it
// returns the query with the matched span removed (whitespace collapsed)
// and the resolved interval; otherwise the query unchanged and nil.
// Day and week boundaries follow now's location.
func ExtractTemporal(query string, now time.Time) (string, *Interval) {
	for _, rule := range temporalRules {
		loc := rule.re.FindStringSubmatchIndex(query)
		if loc == nil {
			continue
		}
		m := make([]string, 0, len(loc)/2)
		for i := 0; i < len(loc); i += 2 {
			if loc[i] < 0 {
				m = append(m, "")
				continue
			}
			m = append(m, query[loc[i]:loc[i+1]])
		}
		iv := rule.resolve(m, now)
		cleaned := strings.Join(strings.Fields(query[:loc[0]]+" "+query[loc[1]:]), " ")
		return cleaned, &iv
	}
	return query, nil
}

// LoadLocation resolves an IANA timezone name, falling back to UTC for
// empty or unknown names.
func LoadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// weekStart returns Monday 00:00 of t's ISO week.
func weekStart(t time.Time) time.Time {
	back := (int(t.Weekday()) - int(time.Monday) + 7) % 7
	return midnight(t).AddDate(0, 0, -back)
}
