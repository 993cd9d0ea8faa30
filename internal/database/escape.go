package database

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gridforge/griddb/internal/errs"
)

// timeUnits are the unit keywords accepted as the first argument of
// TIMESTAMPDIFF / TIMESTAMPADD.
var timeUnits = map[string]bool{
	"MICROSECOND": true,
	"SECOND":      true,
	"MINUTE":      true,
	"HOUR":        true,
	"DAY":         true,
	"WEEK":        true,
	"MONTH":       true,
	"QUARTER":     true,
	"YEAR":        true,
}

// datetimeLayouts are the literal formats accepted inside time-function
// arguments.
var datetimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

// datetimeFormat is how time.Time values are rendered for MySQL.
const datetimeFormat = "2006-01-02 15:04:05"

// QuoteIdent quotes a table or column name with backticks, stripping any
// embedded backticks first. Identifiers are never value-escaped.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}

// QuoteIdentList quotes each name with QuoteIdent and joins them with
// commas. An empty list is a configuration error: it almost always means
// the caller forgot a table or field name.
func QuoteIdentList(names []string) (string, error) {
	if len(names) == 0 {
		return "", errs.New(errs.KindConfiguration, "empty identifier list")
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", "), nil
}

// EscapeValue renders a raw Go value as a safe SQL literal.
//
// Strings are backslash-escaped and double-quoted, except for verified
// time-function expressions (UTC_TIMESTAMP(), TIMESTAMPDIFF, TIMESTAMPADD)
// which pass through unescaped. Slices render as a parenthesized,
// comma-joined list of recursively escaped sub-values, used for
// composite-key IN lists. Booleans and numbers render as bare literals.
// Callers must pass raw values only — escaping an already-escaped value
// corrupts it.
func EscapeValue(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return escapeString(val)
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", val), nil
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", val), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case time.Time:
		return quote(escapeBackslash(val.UTC().Format(datetimeFormat))), nil
	case []any:
		return escapeList(val)
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return escapeList(list)
	case []int:
		list := make([]any, len(val))
		for i, n := range val {
			list[i] = n
		}
		return escapeList(list)
	case fmt.Stringer:
		return escapeString(val.String())
	default:
		return "", errs.Newf(errs.KindEscaping, "cannot escape value of type %T", v)
	}
}

// EscapeValues escapes every value in the list, preserving order.
func EscapeValues(values []any) ([]string, error) {
	escaped := make([]string, 0, len(values))
	for _, v := range values {
		e, err := EscapeValue(v)
		if err != nil {
			return nil, err
		}
		escaped = append(escaped, e)
	}
	return escaped, nil
}

func escapeList(values []any) (string, error) {
	parts, err := EscapeValues(values)
	if err != nil {
		return "", err
	}
	return "(" + strings.Join(parts, ", ") + ")", nil
}

// escapeString quotes a string literal, letting verified time-function
// expressions through untouched.
func escapeString(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "UTC_TIMESTAMP()" {
		return trimmed, nil
	}
	for _, fn := range []string{"TIMESTAMPDIFF", "TIMESTAMPADD"} {
		if strings.HasPrefix(trimmed, fn+"(") && strings.HasSuffix(trimmed, ")") {
			if validTimeFunc(trimmed, fn) {
				return trimmed, nil
			}
			return "", errs.Newf(errs.KindEscaping, "malformed time expression %q", s)
		}
	}
	return quote(escapeBackslash(s)), nil
}

// validTimeFunc checks a TIMESTAMPDIFF/TIMESTAMPADD call: the unit must be
// a known keyword and both operands must be alphanumeric identifiers or
// parseable datetime literals.
func validTimeFunc(expr, fn string) bool {
	inner := strings.TrimSuffix(strings.TrimPrefix(expr, fn+"("), ")")
	args := strings.Split(inner, ",")
	if len(args) != 3 {
		return false
	}
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	if !timeUnits[args[0]] {
		return false
	}
	return timeOperandOK(args[1]) && timeOperandOK(args[2])
}

func timeOperandOK(arg string) bool {
	if isAlnum(arg) {
		return true
	}
	return isDateTime(arg)
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return false
		}
	}
	return true
}

// isDateTime reports whether s (possibly quoted) parses as a datetime
// literal. UTC_TIMESTAMP() counts as a datetime.
func isDateTime(s string) bool {
	if s == "UTC_TIMESTAMP()" {
		return true
	}
	s = strings.Trim(s, `"'`)
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// escapeBackslash applies MySQL string escaping (the server's default
// mode; NO_BACKSLASH_ESCAPES is not supported by this layer).
func escapeBackslash(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case 0x00:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case 0x1a:
			b.WriteString(`\Z`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func quote(s string) string {
	return `"` + s + `"`
}
