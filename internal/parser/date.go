package parser

import (
	"regexp"
	"strconv"
	"time"
)

// dateRegex matches "01/Jan/2018:08:32:20 +0100"
var dateRegex = regexp.MustCompile(`^(\d{2})/(\w{3})/(\d{4}):(\d{2}):(\d{2}):(\d{2}) ([+-])(\d{2})(\d{2})$`)

var months = map[string]time.Month{
	"Jan": time.January,
	"Feb": time.February,
	"Mar": time.March,
	"Apr": time.April,
	"May": time.May,
	"Jun": time.June,
	"Jul": time.July,
	"Aug": time.August,
	"Sep": time.September,
	"Oct": time.October,
	"Nov": time.November,
	"Dec": time.December,
}

// NormalizeDate converts an access-log timestamp into a UTC instant.
// Only the numeric offset is honoured; out-of-range components roll over
// the way time.Date normalizes them. Returns false when the string does not
// match the grammar or the month is unknown.
func NormalizeDate(s string) (time.Time, bool) {
	m := dateRegex.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	month, ok := months[m[2]]
	if !ok {
		return time.Time{}, false
	}

	day := atoi(m[1])
	year := atoi(m[3])
	hour := atoi(m[4])
	minute := atoi(m[5])
	second := atoi(m[6])
	offHours := atoi(m[8])
	offMinutes := atoi(m[9])

	if m[7] == "+" {
		hour -= offHours
		minute -= offMinutes
	} else {
		hour += offHours
		minute += offMinutes
	}

	return time.Date(year, month, day, hour, minute, second, 0, time.UTC), true
}

// atoi is only fed digit-only regex captures
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
