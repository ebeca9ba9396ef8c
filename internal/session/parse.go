package session

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ErrParse is returned when a notification payload carries no number.
var ErrParse = errors.New("unparseable flow payload")

var flowPattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// ParseFlow extracts the first decimal number from a flow notification payload.
// Invalid UTF-8 is dropped; surrounding whitespace and NUL padding are ignored.
func ParseFlow(data []byte) (float64, error) {
	text := strings.ToValidUTF8(string(data), "")
	text = strings.TrimFunc(text, func(r rune) bool {
		return r == 0 || unicode.IsSpace(r)
	})

	match := flowPattern.FindString(text)
	if match == "" {
		return 0, fmt.Errorf("%w: %q", ErrParse, text)
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrParse, text, err)
	}
	return value, nil
}
