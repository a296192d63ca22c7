package membership

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultProgramYears is the fixed length of a degree program.
const DefaultProgramYears = 4

// A leading run of letters followed by the two-digit admission year, e.g. CEC21CS045.
var registrationPattern = regexp.MustCompile(`^[A-Z]+(\d{2})`)

// DeriveAdmissionYear returns 2000+yy for a registration number, or false when it does not parse.
func DeriveAdmissionYear(registrationNumber string) (int, bool) {
	raw := strings.ToUpper(strings.TrimSpace(registrationNumber))
	if raw == "" {
		return 0, false
	}
	match := registrationPattern.FindStringSubmatch(raw)
	if match == nil {
		return 0, false
	}
	yy, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return 2000 + yy, true
}

// IsExpired reports whether a four-year program that started in the admission year has ended.
// Unparseable registration numbers never expire. A student is still current during
// their final calendar year.
func IsExpired(registrationNumber string, now time.Time) bool {
	return isExpiredAfter(registrationNumber, now, DefaultProgramYears)
}

func isExpiredAfter(registrationNumber string, now time.Time, programYears int) bool {
	admission, ok := DeriveAdmissionYear(registrationNumber)
	if !ok {
		return false
	}
	return now.UTC().Year() > admission+programYears
}
