package patterns

import (
	"fmt"
	"regexp"
	"time"
)

// Time and date formats are tried in a fixed priority order and the matched
// format is reported, so an ambiguous code is never guessed: anything that
// matches no format is a field-level failure.

// TimeFormat names the fixed-width format that matched a time code.
type TimeFormat string

const (
	TimeHHMM     TimeFormat = "HHMM"     // 0705
	TimeHHMMSS   TimeFormat = "HHMMSS"   // 120000
	TimeAAAAHHMM TimeFormat = "AAAAHHMM" // ZZZZ0705 (location prefix + time)
)

// DateFormat names the fixed-width format that matched a date code.
type DateFormat string

const (
	DateYYMMDD   DateFormat = "YYMMDD"   // 250201
	DateYYYYMMDD DateFormat = "YYYYMMDD" // 20250201
)

var (
	hhmmRe     = regexp.MustCompile(`^(\d{2})(\d{2})$`)
	hhmmssRe   = regexp.MustCompile(`^(\d{2})(\d{2})(\d{2})$`)
	aaaahhmmRe = regexp.MustCompile(`^[A-Z]{2,4}(\d{2})(\d{2})$`)
)

// ClockTime is a decoded time-of-day, combined with a date elsewhere.
type ClockTime struct {
	Hour, Minute, Second int
	Format               TimeFormat
}

// ParseClock decodes a fixed-width time code, trying HHMM, HHMMSS, then
// AAAAHHMM. 2400 is accepted and normalized by CombineDateTime.
func ParseClock(s string) (ClockTime, error) {
	type attempt struct {
		re     *regexp.Regexp
		format TimeFormat
	}
	for _, a := range []attempt{
		{hhmmRe, TimeHHMM},
		{hhmmssRe, TimeHHMMSS},
		{aaaahhmmRe, TimeAAAAHHMM},
	} {
		m := a.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		ct := ClockTime{Format: a.format}
		ct.Hour = atoi2(m[1])
		ct.Minute = atoi2(m[2])
		if a.format == TimeHHMMSS {
			ct.Second = atoi2(m[3])
		}
		if ct.Hour == 24 && ct.Minute == 0 && ct.Second == 0 {
			return ct, nil // midnight rollover, resolved when combined
		}
		if ct.Hour > 23 {
			return ClockTime{}, fmt.Errorf("hour out of range in %q", s)
		}
		if ct.Minute > 59 {
			return ClockTime{}, fmt.Errorf("minute out of range in %q", s)
		}
		if ct.Second > 59 {
			return ClockTime{}, fmt.Errorf("second out of range in %q", s)
		}
		return ct, nil
	}
	return ClockTime{}, fmt.Errorf("unrecognized time format: %q", s)
}

var (
	yymmddRe   = regexp.MustCompile(`^(\d{2})(\d{2})(\d{2})$`)
	yyyymmddRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
)

// ParseDate decodes a fixed-width date code (DOF and friends), trying YYMMDD
// then YYYYMMDD. Two-digit years are 2000-based per the telegram convention.
func ParseDate(s string) (time.Time, DateFormat, error) {
	if m := yymmddRe.FindStringSubmatch(s); m != nil {
		year := 2000 + atoi2(m[1])
		month := atoi2(m[2])
		day := atoi2(m[3])
		if t, ok := makeDate(year, month, day); ok {
			return t, DateYYMMDD, nil
		}
		return time.Time{}, "", fmt.Errorf("invalid calendar date: %q", s)
	}
	if m := yyyymmddRe.FindStringSubmatch(s); m != nil {
		year := atoi2(m[1][:2])*100 + atoi2(m[1][2:])
		month := atoi2(m[2])
		day := atoi2(m[3])
		if t, ok := makeDate(year, month, day); ok {
			return t, DateYYYYMMDD, nil
		}
		return time.Time{}, "", fmt.Errorf("invalid calendar date: %q", s)
	}
	return time.Time{}, "", fmt.Errorf("unrecognized date format: %q", s)
}

func makeDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (Feb 30 -> Mar 2); reject that.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// CombineDateTime anchors a clock time to a base date, in UTC. A 2400 clock
// rolls over to midnight of the following day.
func CombineDateTime(base time.Time, ct ClockTime) time.Time {
	day := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, time.UTC)
	if ct.Hour == 24 {
		return day.AddDate(0, 0, 1)
	}
	return day.Add(time.Duration(ct.Hour)*time.Hour +
		time.Duration(ct.Minute)*time.Minute +
		time.Duration(ct.Second)*time.Second)
}

func atoi2(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
