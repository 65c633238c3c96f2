package extraction

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp parses an HL7 v3 TS value: YYYY[MM[DD[HH[MM[SS[.F+]]]]]][+/-ZZZZ].
// Values without an offset are interpreted in loc (UTC when nil).
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if loc == nil {
		loc = time.UTC
	}
	if len(value) < 4 {
		return time.Time{}, fmt.Errorf("timestamp '%s' is shorter than a year", value)
	}

	// Split off the timezone offset.
	body, zone := value, ""
	if i := strings.IndexAny(value, "+-"); i > 0 {
		body, zone = value[:i], value[i:]
	}

	// Split off fractional seconds.
	frac, hasFrac := "", false
	if i := strings.IndexByte(body, '.'); i >= 0 {
		body, frac, hasFrac = body[:i], body[i+1:], true
	}

	if len(body) < 4 || len(body)%2 != 0 || len(body) > 14 {
		return time.Time{}, fmt.Errorf("timestamp '%s' has an invalid precision", value)
	}
	for _, r := range body {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("timestamp '%s' contains a non-digit", value)
		}
	}

	// An explicit offset fixes the zone; loc applies only to values without one.
	zoneLoc := loc
	if zone != "" {
		offset, err := parseOffset(zone)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp '%s': %w", value, err)
		}
		zoneLoc = time.FixedZone("", offset)
	}

	// Pad missing components: month and day default to 01, time to 00.
	padded := body + "0101000000"[len(body)-4:]
	t, err := time.ParseInLocation("20060102150405", padded, zoneLoc)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp '%s': %w", value, err)
	}

	if hasFrac {
		if len(body) != 14 {
			return time.Time{}, fmt.Errorf("timestamp '%s' has fractional seconds without seconds", value)
		}
		nanos, err := parseFraction(frac)
		if err != nil {
			return time.Time{}, fmt.Errorf("timestamp '%s': %w", value, err)
		}
		t = t.Add(time.Duration(nanos))
	}

	return t, nil
}

func parseFraction(frac string) (int, error) {
	if frac == "" || len(frac) > 9 {
		return 0, fmt.Errorf("invalid fractional seconds '%s'", frac)
	}
	n, err := strconv.Atoi(frac + strings.Repeat("0", 9-len(frac)))
	if err != nil {
		return 0, fmt.Errorf("invalid fractional seconds '%s'", frac)
	}
	return n, nil
}

func parseOffset(zone string) (int, error) {
	if len(zone) != 5 {
		return 0, fmt.Errorf("invalid timezone offset '%s'", zone)
	}
	hours, err := strconv.Atoi(zone[1:3])
	if err != nil {
		return 0, fmt.Errorf("invalid timezone offset '%s'", zone)
	}
	minutes, err := strconv.Atoi(zone[3:5])
	if err != nil || hours > 14 || minutes > 59 {
		return 0, fmt.Errorf("invalid timezone offset '%s'", zone)
	}
	seconds := hours*3600 + minutes*60
	if zone[0] == '-' {
		seconds = -seconds
	}
	return seconds, nil
}
