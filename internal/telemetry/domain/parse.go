package telemetry

import (
	"math"
	"strconv"
	"strings"
)

// Pair is one KEY:VALUE segment of a wire line. Key is upper-cased, both sides
// are trimmed.
type Pair struct {
	Key   string
	Value string
}

// ParseLine splits a wire line into its KEY:VALUE pairs. Segments without a
// colon or with an empty key are skipped; the rest of the line still parses.
func ParseLine(line string) []Pair {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil
	}
	segments := strings.Split(line, ",")
	pairs := make([]Pair, 0, len(segments))
	for _, segment := range segments {
		key, value, ok := strings.Cut(segment, ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		pairs = append(pairs, Pair{Key: key, Value: strings.TrimSpace(value)})
	}
	return pairs
}

// ParseReading coerces a raw wire value to a Reading. Values may carry a unit
// suffix ("91°C", "12.6V"); anything without a leading number is absent.
func ParseReading(raw string) Reading {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Absent
	}
	if value, err := strconv.ParseFloat(raw, 64); err == nil {
		return finite(value)
	}
	prefix := numericPrefix(raw)
	if prefix == "" {
		return Absent
	}
	value, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		return Absent
	}
	return finite(value)
}

func finite(value float64) Reading {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Absent
	}
	return Present(value)
}

// numericPrefix returns the longest leading [+-]digits[.digits] run.
func numericPrefix(raw string) string {
	end := 0
	if end < len(raw) && (raw[end] == '+' || raw[end] == '-') {
		end++
	}
	digits := 0
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
		digits++
	}
	if end < len(raw) && raw[end] == '.' {
		frac := end + 1
		for frac < len(raw) && raw[frac] >= '0' && raw[frac] <= '9' {
			frac++
			digits++
		}
		if frac > end+1 {
			end = frac
		}
	}
	if digits == 0 {
		return ""
	}
	return raw[:end]
}
