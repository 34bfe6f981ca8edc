package coerce

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	kilobyte = 1024
	megabyte = 1024 * kilobyte
	gigabyte = 1024 * megabyte
)

var byteUnits = map[string]float64{
	"":   1,
	"b":  1,
	"kb": kilobyte,
	"mb": megabyte,
	"gb": gigabyte,
}

const (
	millisecond = 1
	second      = 1000 * millisecond
	minute      = 60 * second
	hour        = 60 * minute
	day         = 24 * hour
)

var timeUnits = map[string]float64{
	"":   millisecond,
	"ms": millisecond,
	"s":  second,
	"m":  minute,
	"h":  hour,
	"d":  day,
}

var (
	byteSizeExpr = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(b|kb|mb|gb)?$`)
	timeUnitExpr = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(ms|s|m|h|d)?$`)
)

// ParseByteSize parses "<number><b|kb|mb|gb>" or a bare number of bytes.
func ParseByteSize(s string) (int64, error) {
	v, ok := parseUnit(s, byteSizeExpr, byteUnits)
	if !ok {
		return 0, fmt.Errorf("Invalid bytesize expression")
	}
	return v, nil
}

// ParseTimeUnit parses "<number><ms|s|m|h|d>" or a bare number of
// milliseconds, returning milliseconds.
func ParseTimeUnit(s string) (int64, error) {
	v, ok := parseUnit(s, timeUnitExpr, timeUnits)
	if !ok {
		return 0, fmt.Errorf("Invalid timeunit expression")
	}
	return v, nil
}

func parseUnit(s string, expr *regexp.Regexp, units map[string]float64) (int64, bool) {
	m := expr.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return fromFloat(math.Round(n * units[m[2]]))
}

// fromFloat converts n to int64, rejecting values outside its range.
func fromFloat(n float64) (int64, bool) {
	if math.IsNaN(n) || n >= math.MaxInt64 || n < math.MinInt64 {
		return 0, false
	}
	return int64(n), true
}

func byteSize(raw any) (any, error) {
	if n, ok := integral(raw); ok {
		return n, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("Invalid bytesize expression")
	}
	return ParseByteSize(s)
}

func timeUnit(raw any) (any, error) {
	if n, ok := integral(raw); ok {
		return n, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("Invalid timeunit expression")
	}
	return ParseTimeUnit(s)
}

// integral converts numeric values to int64, truncating fractions. Values
// outside the int64 range are rejected.
func integral(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return fromFloat(math.Trunc(float64(n)))
	case float64:
		return fromFloat(math.Trunc(n))
	}
	return 0, false
}
