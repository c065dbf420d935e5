package csvfile

import (
	"bytes"
	"testing"
)

type fuzzRecord struct {
	A string
	B string
	N int64
}

func FuzzRoundTrip(f *testing.F) {
	seeds := []struct {
		a, b string
		n    int64
	}{
		{"", "", 0},
		{"a", "b", 1},
		{"a;b", "\"quoted\"", -1},
		{"line1\nline2", "cr\rlf\r\n", 42},
		{" leading", "\ttab", 7},
		{"\"", "\"\"", 0},
		{"naïve", "☃;☃", 9},
	}
	for _, seed := range seeds {
		f.Add(seed.a, seed.b, seed.n)
	}

	f.Fuzz(func(t *testing.T, a, b string, n int64) {
		if len(a)+len(b) > 1<<12 {
			t.Skip()
		}
		want := fuzzRecord{A: a, B: b, N: n}

		var buf bytes.Buffer
		w, err := NewWriter[fuzzRecord](&buf, WithSyncWrites())
		if err != nil {
			t.Fatalf("NewWriter() error = %v", err)
		}
		if err := w.Append(want); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		r, err := NewReader[fuzzRecord](bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("NewReader() error = %v", err)
		}
		got, err := r.ReadAll()
		if err != nil {
			t.Fatalf("ReadAll() error = %v input=%q", err, truncateForMessage(buf.String()))
		}
		if len(got) != 1 || got[0] != want {
			t.Fatalf("round trip mismatch:\n got: %#v\nwant: %#v\ninput=%q", got, want, truncateForMessage(buf.String()))
		}
	})
}

func truncateForMessage(s string) string {
	const limit = 256
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}
