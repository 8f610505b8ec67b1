package envelope

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Layouts tried in order by parseWhen. Layouts without an offset are
// interpreted in the envelope location.
var whenLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"20060102T150405",
	"20060102",
}

// Shorter digit runs are years or basic dates, not epoch milliseconds.
const minEpochMillisDigits = 10

func parseWhen(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrValidation)
	}
	if isDigits(s) {
		if len(s) == len("20060102") {
			if t, err := time.ParseInLocation("20060102", s, loc); err == nil {
				return t, nil
			}
		}
		if len(s) < minEpochMillisDigits {
			return time.Time{}, fmt.Errorf("%w: ambiguous numeric timestamp %q", ErrValidation, raw)
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", ErrValidation, raw, err)
		}
		return time.UnixMilli(ms).In(loc), nil
	}
	for _, layout := range whenLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrValidation, raw)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

var b64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, enc := range b64Encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, fmt.Errorf("%w: payload is not base64: %v", ErrValidation, firstErr)
}

func normalizeTickers(raw []string) []string {
	out := make([]string, len(raw))
	for i, t := range raw {
		out[i] = strings.ToUpper(strings.TrimSpace(t))
	}
	return out
}
