package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"
)

var (
	errEmpty    = errors.New("empty value")
	errNegative = errors.New("negative value")
)

var currencySymbols = map[string]string{
	"US$": "USD",
	"C$":  "CAD",
	"A$":  "AUD",
	"$":   "USD",
	"€":   "EUR",
	"£":   "GBP",
	"¥":   "JPY",
	"₹":   "INR",
}

// symbolOrder tries multi-character symbols before "$".
var symbolOrder = []string{"US$", "C$", "A$", "$", "€", "£", "¥", "₹"}

// parsePrice converts a price value into a decimal and, when the value
// names one, its currency.
func parsePrice(v any) (decimal.Decimal, string, error) {
	switch p := v.(type) {
	case nil:
		return decimal.Zero, "", errEmpty
	case float64:
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return decimal.Zero, "", fmt.Errorf("invalid number %v", p)
		}
		return nonNegative(decimal.NewFromFloat(p))
	case float32:
		return parsePrice(float64(p))
	case int:
		return nonNegative(decimal.NewFromInt(int64(p)))
	case int64:
		return nonNegative(decimal.NewFromInt(p))
	case json.Number:
		d, err := decimal.NewFromString(p.String())
		if err != nil {
			return decimal.Zero, "", err
		}
		return nonNegative(d)
	case decimal.Decimal:
		return nonNegative(p)
	case string:
		return parsePriceString(p)
	default:
		return decimal.Zero, "", fmt.Errorf("unsupported price type %T", v)
	}
}

func nonNegative(d decimal.Decimal) (decimal.Decimal, string, error) {
	if d.IsNegative() {
		return decimal.Zero, "", errNegative
	}
	return d, "", nil
}

func parsePriceString(s string) (decimal.Decimal, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, "", errEmpty
	}

	currency := ""
	for _, sym := range symbolOrder {
		if strings.Contains(s, sym) {
			currency = currencySymbols[sym]
			s = strings.ReplaceAll(s, sym, "")
			break
		}
	}
	if code, rest, ok := stripISOCode(s); ok {
		currency, s = code, rest
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'', r == ' ':
		default:
			return decimal.Zero, "", fmt.Errorf("unexpected %q in price", r)
		}
	}
	num := normalizeSeparators(b.String())
	if num == "" {
		return decimal.Zero, "", errEmpty
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("price %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, "", errNegative
	}
	return d, currency, nil
}

// stripISOCode removes a leading or trailing three-letter currency code.
func stripISOCode(s string) (code, rest string, ok bool) {
	s = strings.TrimSpace(s)
	isCode := func(c string) bool {
		if len(c) != 3 {
			return false
		}
		for _, r := range c {
			if r < 'A' || r > 'Z' {
				return false
			}
		}
		return true
	}
	if len(s) >= 3 && isCode(strings.ToUpper(s[:3])) && (len(s) == 3 || !unicode.IsLetter(rune(s[3]))) {
		return strings.ToUpper(s[:3]), strings.TrimSpace(s[3:]), true
	}
	if n := len(s); n > 3 && isCode(strings.ToUpper(s[n-3:])) && !unicode.IsLetter(rune(s[n-4])) {
		return strings.ToUpper(s[n-3:]), strings.TrimSpace(s[:n-3]), true
	}
	return "", s, false
}

// normalizeSeparators rewrites a number using thousands separators and a
// decimal point or comma into plain "1234.56" form.
//
// When both ',' and '.' appear, the last one is the decimal separator. A
// lone ',' is a decimal comma unless exactly three digits follow it. Several
// '.' are thousands separators.
func normalizeSeparators(s string) string {
	commas, dots := strings.Count(s, ","), strings.Count(s, ".")
	switch {
	case commas > 0 && dots > 0:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case commas == 1:
		if len(s)-strings.Index(s, ",")-1 != 3 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case commas > 1:
		return strings.ReplaceAll(s, ",", "")
	case dots > 1:
		return strings.ReplaceAll(s, ".", "")
	default:
		return s
	}
}

// parseQuantity accepts integers, integral floats and strings such as
// "1,000 pcs" or "25 in stock".
func parseQuantity(v any) (int64, error) {
	switch q := v.(type) {
	case nil:
		return 0, nil
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
		if q != math.Trunc(q) || q < 0 || q >= 1<<63 {
			return 0, fmt.Errorf("invalid quantity %v", q)
		}
		return int64(q), nil
	case int:
		return nonNegativeInt(int64(q))
	case int64:
		return nonNegativeInt(q)
	case json.Number:
		n, err := q.Int64()
		if err != nil {
			f, ferr := q.Float64()
			if ferr != nil {
				return 0, err
			}
			return parseQuantity(f)
		}
		return nonNegativeInt(n)
	case string:
		s := strings.TrimSpace(q)
		if s == "" {
			return 0, nil
		}
		end := strings.IndexFunc(s, func(r rune) bool {
			return !unicode.IsDigit(r) && r != ',' && r != '.' && r != '-'
		})
		if end == 0 {
			return 0, fmt.Errorf("quantity %q has no leading number", s)
		}
		if end > 0 {
			s = s[:end]
		}
		s = strings.ReplaceAll(s, ",", "")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return parseQuantity(f)
		}
		return 0, fmt.Errorf("invalid quantity %q", q)
	default:
		return 0, fmt.Errorf("unsupported quantity type %T", v)
	}
}

func nonNegativeInt(n int64) (int64, error) {
	if n < 0 {
		return 0, errNegative
	}
	return n, nil
}

// unixMillisThreshold separates unix seconds from unix milliseconds.
const unixMillisThreshold = 1e12

// parseTimestamp accepts time values, unix seconds or milliseconds, and
// free-text dates interpreted in loc when they carry no zone.
func parseTimestamp(v any, loc *time.Location) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, errEmpty
	case time.Time:
		if t.IsZero() {
			return time.Time{}, errEmpty
		}
		return t.UTC(), nil
	case float64:
		return fromUnix(t), nil
	case int64:
		return fromUnix(float64(t)), nil
	case int:
		return fromUnix(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return fromUnix(f), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, errEmpty
		}
		if len(s) >= 10 {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return fromUnix(f), nil
			}
		}
		if loc == nil {
			loc = time.UTC
		}
		ts, err := dateparse.ParseIn(s, loc)
		if err != nil {
			return time.Time{}, err
		}
		return ts.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func fromUnix(f float64) time.Time {
	if math.Abs(f) >= unixMillisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// text renders a scalar field as a trimmed string.
func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
