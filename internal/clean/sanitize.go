package clean

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"flowguard/internal/model"
)

const (
	DefaultMaxValue = 1e6
	// Placeholder written for feature tokens that are not numbers. It is
	// written as-is and never passed through Clip.
	NonNumeric = "0.0"
)

// Clip maps NaN and infinities to 0 and clamps everything else to
// [-limit, limit].
func Clip(x, limit float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	if x > limit {
		return limit
	}
	if x < -limit {
		return -limit
	}
	return x
}

type Sanitizer struct {
	MaxValue float64
}

func NewSanitizer(maxValue float64) Sanitizer {
	if maxValue <= 0 {
		maxValue = DefaultMaxValue
	}
	return Sanitizer{MaxValue: maxValue}
}

// Line rewrites every feature column of one CSV row. The identifier columns
// and the trailing label column pass through untouched, and the field count
// never changes. line must not carry its line terminator.
func (s Sanitizer) Line(line string) string {
	fields := strings.Split(line, ",")
	for i := model.LeadingColumns; i < len(fields)-1; i++ {
		fields[i] = s.Field(fields[i])
	}
	return strings.Join(fields, ",")
}

func (s Sanitizer) Field(token string) string {
	v, ok := parseNumber(token)
	if !ok {
		return NonNumeric
	}
	return strconv.FormatFloat(Clip(v, s.MaxValue), 'f', 6, 64)
}

// parseNumber accepts leading whitespace and requires the rest of the token
// to be a number. Values too large for a float64 parse as infinities.
func parseNumber(token string) (float64, bool) {
	token = strings.TrimLeft(token, " \t\n\v\f\r")
	if token == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return v, true
		}
		return 0, false
	}
	return v, true
}
