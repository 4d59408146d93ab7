package extract

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparseable is returned when price text does not reduce to a finite number.
var ErrUnparseable = errors.New("price text is not a number")

var nonNumeric = regexp.MustCompile(`[^\d.,\-]`)

// ParsePrice converts scraped price text into a number. Both "1.234,56" and
// "1,234.56" read as 1234.56: whichever of ',' and '.' appears last is the
// decimal separator and the other one groups thousands.
func ParsePrice(text string) (float64, error) {
	s := nonNumeric.ReplaceAllString(text, "")
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, text)
	}
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	if lastComma >= 0 || lastDot >= 0 {
		decimal, group := ".", ","
		if lastComma > lastDot {
			decimal, group = ",", "."
		}
		s = strings.ReplaceAll(s, group, "")
		idx := strings.LastIndex(s, decimal)
		s = strings.ReplaceAll(s[:idx], decimal, "") + "." + s[idx+1:]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, text)
	}
	return v, nil
}
