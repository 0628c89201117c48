// Package xtime extends time.Duration parsing and formatting with day and
// week units.
package xtime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// units is ordered from largest to smallest, which is the order used when
// formatting.
var units = []struct {
	name string
	dur  time.Duration
}{
	{"w", Week},
	{"d", Day},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
	{"ms", time.Millisecond},
}

// ParseDuration parses a duration string made of a sequence of decimal
// numbers, each followed by a unit, e.g. "1w2d", "36h" or "1.5d".
// Supported units are "w", "d", "h", "m", "s" and "ms". A leading "-" negates
// the result.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	if s == "" {
		return 0, fmt.Errorf("invalid duration '%s'", orig)
	}

	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}
	if s == "0" {
		return 0, nil
	}

	var total time.Duration
	for s != "" {
		i := 0
		for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("invalid duration '%s': expected number", orig)
		}
		num, err := strconv.ParseFloat(s[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s': %w", orig, err)
		}
		s = s[i:]

		j := 0
		for j < len(s) && (s[j] < '0' || s[j] > '9') && s[j] != '.' {
			j++
		}
		unit, ok := lookupUnit(s[:j])
		if !ok {
			return 0, fmt.Errorf("invalid duration '%s': unknown unit '%s'", orig, s[:j])
		}
		s = s[j:]

		total += time.Duration(num * float64(unit))
	}

	if neg {
		total = -total
	}

	return total, nil
}

// FormatDuration formats d using the same units ParseDuration accepts,
// e.g. "1w2d", "15m" or "-3h30m". Components smaller than round are dropped.
func FormatDuration(d, round time.Duration) string {
	if round > 0 {
		d = d.Round(round)
	}
	if d == 0 {
		return "0s"
	}

	var sb strings.Builder
	if d < 0 {
		sb.WriteByte('-')
		d = -d
	}
	for _, u := range units {
		if u.dur < round {
			break
		}
		if n := d / u.dur; n > 0 {
			fmt.Fprintf(&sb, "%d%s", n, u.name)
			d -= n * u.dur
		}
	}

	return sb.String()
}

func lookupUnit(name string) (time.Duration, bool) {
	for _, u := range units {
		if u.name == name {
			return u.dur, true
		}
	}
	return 0, false
}
