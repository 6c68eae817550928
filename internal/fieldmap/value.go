// Package fieldmap resolves dotted paths inside decoded JSON documents and
// coerces whatever it finds into the canonical field types.
package fieldmap

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Epoch is the timestamp reported for absent or unparsable times.
var Epoch = time.Unix(0, 0).UTC()

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

// number is a JSON number literal kept as text by a UseNumber decoder.
type number interface {
	String() string
	Float64() (float64, error)
	Int64() (int64, error)
}

// Value is the result of resolving a path. The zero Value is absent.
type Value struct {
	raw     any
	present bool
}

// Present reports whether the path resolved to a non-null value.
func (v Value) Present() bool { return v.present }

// Raw returns the decoded JSON value.
func (v Value) Raw() any { return v.raw }

// Resolve walks obj along a dot separated path. Missing keys, JSON null,
// an empty path and stepping into a non-object all yield an absent Value.
func Resolve(obj map[string]any, path string) Value {
	if obj == nil || path == "" {
		return Value{}
	}
	var cur any = obj
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return Value{}
		}
		cur, ok = m[key]
		if !ok {
			return Value{}
		}
	}
	if cur == nil {
		return Value{}
	}
	return Value{raw: cur, present: true}
}

// Bool coerces the value: numbers are true when non-zero, strings when they
// equal "true" ignoring case.
func (v Value) Bool() (bool, bool) {
	if !v.present {
		return false, false
	}
	switch x := v.raw.(type) {
	case bool:
		return x, true
	case float64:
		return x != 0, true
	case string:
		return strings.EqualFold(x, "true"), true
	case number:
		f, _ := numberFloat(x)
		return f != 0, true
	}
	return false, true
}

// Long coerces the value to an int64, truncating numbers and parsing the
// leading integer of strings.
func (v Value) Long() (int64, bool) {
	if !v.present {
		return 0, false
	}
	switch x := v.raw.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case float64:
		return int64(x), true
	case string:
		return leadingInt(x), true
	case number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		f, _ := numberFloat(x)
		return int64(f), true
	}
	return 0, true
}

// Int is Long narrowed to int.
func (v Value) Int() (int, bool) {
	n, ok := v.Long()
	return int(n), ok
}

// Double coerces the value to a float64, parsing the leading number of strings.
func (v Value) Double() (float64, bool) {
	if !v.present {
		return 0, false
	}
	switch x := v.raw.(type) {
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case float64:
		return x, true
	case string:
		return leadingFloat(x), true
	case number:
		f, _ := numberFloat(x)
		return f, true
	}
	return 0, true
}

// String coerces the value to text. Integral numbers render without a
// fractional part; number literals keep every digit.
func (v Value) String() (string, bool) {
	if !v.present {
		return "", false
	}
	switch x := v.raw.(type) {
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return decimal.NewFromFloat(x).String(), true
	case string:
		return x, true
	case number:
		if d, err := decimal.NewFromString(x.String()); err == nil {
			return d.String(), true
		}
		return x.String(), true
	}
	return "", true
}

// Timestamp coerces the value to a UTC time. Numbers are epoch seconds.
func (v Value) Timestamp() (time.Time, bool) {
	if !v.present {
		return Epoch, false
	}
	switch x := v.raw.(type) {
	case bool:
		if x {
			return time.Unix(1, 0).UTC(), true
		}
		return Epoch, true
	case float64:
		return time.Unix(int64(x), 0).UTC(), true
	case string:
		return ParseTime(x), true
	case number:
		if n, err := x.Int64(); err == nil {
			return time.Unix(n, 0).UTC(), true
		}
		f, _ := numberFloat(x)
		return time.Unix(int64(f), 0).UTC(), true
	}
	return Epoch, true
}

// ParseTime reads the date formats brokers commonly emit. Anything else
// yields Epoch.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if len(s) > 19 {
		s = s[:19]
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return Epoch
}

func leadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func numberFloat(n number) (float64, error) {
	f, err := n.Float64()
	if err != nil {
		// out of range literals still carry their leading digits
		return leadingFloat(n.String()), err
	}
	return f, nil
}

// leadingFloat parses the numeric prefix of s: optional sign, digits,
// optional fraction and an exponent only when digits follow it.
func leadingFloat(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	mantissa := 0
	for end < len(s) && isDigit(s[end]) {
		end++
		mantissa++
	}
	if end < len(s) && s[end] == '.' {
		frac := end + 1
		for frac < len(s) && isDigit(s[frac]) {
			frac++
			mantissa++
		}
		end = frac
	}
	if mantissa == 0 {
		return 0
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '-' || s[exp] == '+') {
			exp++
		}
		digits := exp
		for exp < len(s) && isDigit(s[exp]) {
			exp++
		}
		if exp > digits {
			end = exp
		}
	}
	// out of range prefixes yield the signed infinity ParseFloat reports
	f, _ := strconv.ParseFloat(s[:end], 64)
	return f
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
