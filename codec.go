package csvfile

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// timeLayout is used for writing time.Time values; parseTime accepts it back.
const timeLayout = time.RFC3339Nano

// fieldCodec quotes and escapes single field values for one separator/qualifier pair.
type fieldCodec struct {
	sep  rune
	qual rune
	// reserved marks runes below 256 that force quoting.
	reserved [256]bool
}

func newFieldCodec(sep, qual rune) *fieldCodec {
	c := &fieldCodec{sep: sep, qual: qual}
	for _, r := range []rune{'\r', '\n', sep, qual} {
		if r >= 0 && r < 256 {
			c.reserved[r] = true
		}
	}
	return c
}

// needsQuote reports whether s must be written inside qualifiers. Leading blanks count because
// the decoder skips them before a field.
func (c *fieldCodec) needsQuote(s string) bool {
	if s == "" {
		return false
	}
	if s[0] == ' ' || s[0] == '\t' {
		return true
	}
	for _, r := range s {
		if r < 256 {
			if c.reserved[r] {
				return true
			}
			continue
		}
		if r == c.sep || r == c.qual {
			return true
		}
	}
	return false
}

// appendField appends the encoded form of s to dst.
func (c *fieldCodec) appendField(dst []byte, s string) []byte {
	if !c.needsQuote(s) {
		return append(dst, s...)
	}
	dst = utf8.AppendRune(dst, c.qual)
	for {
		i := strings.IndexRune(s, c.qual)
		if i < 0 {
			break
		}
		dst = append(dst, s[:i]...)
		// Double the qualifier.
		dst = utf8.AppendRune(dst, c.qual)
		dst = utf8.AppendRune(dst, c.qual)
		s = s[i+utf8.RuneLen(c.qual):]
	}
	dst = append(dst, s...)
	return utf8.AppendRune(dst, c.qual)
}

func (c *fieldCodec) encode(s string) string {
	if !c.needsQuote(s) {
		return s
	}
	return string(c.appendField(make([]byte, 0, len(s)+2), s))
}

// appendLine appends fields joined by the separator.
func (c *fieldCodec) appendLine(dst []byte, fields []string) []byte {
	for i, f := range fields {
		if i > 0 {
			dst = utf8.AppendRune(dst, c.sep)
		}
		dst = c.appendField(dst, f)
	}
	return dst
}

// EncodeField returns the text form of v as it appears inside a line. A nil value and an empty
// string both encode to the empty string.
func EncodeField(v any, qualifier, separator rune) string {
	return newFieldCodec(separator, qualifier).encode(formatValue(v))
}

// DecodeRecord splits one logical record held in text into its raw field values. Quoted fields
// in text may span several lines.
func DecodeRecord(text string, qualifier, separator rune) ([]string, error) {
	def := Definition{Separator: separator, Qualifier: qualifier}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	t := newTokenizer(strings.NewReader(text), separator, qualifier, len(text)+1)
	fields, err := t.readRecord(-1)
	if err == io.EOF {
		return nil, nil
	}
	return fields, err
}

// formatValue converts v to its culture-invariant text form.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int:
		return strconv.Itoa(x)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(timeLayout)
	case fmt.Stringer:
		if rv := reflect.ValueOf(x); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return ""
		}
		return x.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return formatValue(rv.Elem().Interface())
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Slice, reflect.Map:
		if rv.IsNil() {
			return ""
		}
	}
	return fmt.Sprint(v)
}
