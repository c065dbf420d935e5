package csvfile

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

type status int

func (s status) String() string {
	if s == 1 {
		return "active"
	}
	return "inactive"
}

func TestEncodeField(t *testing.T) {
	t.Parallel()

	quoted := "x;y"
	tests := []struct {
		name      string
		value     any
		qualifier rune
		separator rune
		want      string
	}{
		{name: "nil", value: nil, want: ""},
		{name: "empty", value: "", want: ""},
		{name: "plain", value: "plain", want: "plain"},
		{name: "separatorForcesQuote", value: "a;b", want: "\"a;b\""},
		{name: "quoteEscaping", value: `He said "hi"`, want: `"He said ""hi"""`},
		{name: "newlineForcesQuote", value: "multi\nline", want: "\"multi\nline\""},
		{name: "carriageReturnForcesQuote", value: "cr\rhere", want: "\"cr\rhere\""},
		{name: "leadingSpaceForcesQuote", value: " lead", want: "\" lead\""},
		{name: "leadingTabForcesQuote", value: "\tlead", want: "\"\tlead\""},
		{name: "trailingSpaceUnquoted", value: "trail ", want: "trail "},
		{name: "latin1NotReserved", value: "café", want: "café"},
		{name: "commaUnquotedWithSemicolon", value: "a,b", want: "a,b"},
		{name: "customSeparator", value: "a,b", separator: ',', want: "\"a,b\""},
		{name: "customQualifier", value: "it's", qualifier: '\'', want: "'it''s'"},
		{name: "wideSeparator", value: "a│b", separator: '│', want: "\"a│b\""},
		{name: "wideQualifier", value: "«x»", qualifier: '»', want: "»«x»»»"},
		{name: "int", value: 42, want: "42"},
		{name: "int32", value: int32(-7), want: "-7"},
		{name: "float", value: 3.5, want: "3.5"},
		{name: "bool", value: true, want: "true"},
		{name: "time", value: time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), want: "2024-03-01T10:30:00Z"},
		{name: "stringer", value: status(1), want: "active"},
		{name: "nilPointer", value: (*string)(nil), want: ""},
		{name: "pointer", value: &quoted, want: "\"x;y\""},
		{name: "nilSlice", value: []int(nil), want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			qualifier, separator := tc.qualifier, tc.separator
			if qualifier == 0 {
				qualifier = '"'
			}
			if separator == 0 {
				separator = ';'
			}
			if got := EncodeField(tc.value, qualifier, separator); got != tc.want {
				t.Fatalf("EncodeField(%#v) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}

func TestDecodeRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "empty", text: "", want: nil},
		{name: "plain", text: "a;b;c", want: []string{"a", "b", "c"}},
		{name: "doubledQualifier", text: `"He said ""hi"""`, want: []string{`He said "hi"`}},
		{name: "multiLine", text: "name;\"line1\nline2\";city", want: []string{"name", "line1\nline2", "city"}},
		{name: "onlyFirstRecord", text: "a;b\nc;d\n", want: []string{"a", "b"}},
		{name: "trailingSeparator", text: "a;", want: []string{"a", ""}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := DecodeRecord(tc.text, '"', ';')
			if err != nil {
				t.Fatalf("DecodeRecord() error = %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("DecodeRecord(%q) = %#v, want %#v", tc.text, got, tc.want)
			}
		})
	}
}

func TestInvalidRunes(t *testing.T) {
	t.Parallel()

	if _, err := DecodeRecord("a;b", -1, ';'); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("DecodeRecord() with qualifier -1 error = %v, want %v", err, ErrInvalidDefinition)
	}
	if _, err := DecodeRecord("a;b", '"', 0xD800); !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("DecodeRecord() with surrogate separator error = %v, want %v", err, ErrInvalidDefinition)
	}
	// EncodeField has no error result; an invalid rune never matches, so the value passes through.
	if got := EncodeField("plain", -1, ';'); got != "plain" {
		t.Fatalf("EncodeField() with qualifier -1 = %q", got)
	}
}

func TestEncodeDecodeField(t *testing.T) {
	t.Parallel()

	values := []string{
		"plain",
		`He said "hi"`,
		"a;b",
		"line1\r\nline2",
		"lone\rcr",
		"  padded  ",
		`"`,
		`""`,
		"naïve ☃",
	}
	for _, v := range values {
		encoded := EncodeField(v, '"', ';')
		got, err := DecodeRecord(encoded, '"', ';')
		if err != nil {
			t.Fatalf("DecodeRecord(%q) error = %v", encoded, err)
		}
		if len(got) != 1 || got[0] != v {
			t.Fatalf("round trip of %q through %q = %#v", v, encoded, got)
		}
	}
}

func TestNeedsQuoteTable(t *testing.T) {
	t.Parallel()

	c := newFieldCodec('│', '"')
	if !c.reserved['"'] || !c.reserved['\r'] || !c.reserved['\n'] {
		t.Fatalf("qualifier and line breaks must be reserved")
	}
	if c.reserved[';'] {
		t.Fatalf("';' must not be reserved when the separator is '│'")
	}
	if !c.needsQuote("a│b") {
		t.Fatalf("separator outside latin-1 must force quoting")
	}
	if c.needsQuote("a;b") {
		t.Fatalf("';' must not force quoting when the separator is '│'")
	}
}
