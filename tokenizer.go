package csvfile

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"
)

const byteOrderMark = "\ufeff"

type tokenizerState uint8

const (
	stateBeforeRecord tokenizerState = iota
	stateInRecord
	stateAwaitingContinuation
	stateExhausted
)

// tokenizer splits a text stream into logical records. It reads physical lines through its own
// byte buffer and keeps each line's terminator, so line breaks inside quoted fields come back
// exactly as they were written.
type tokenizer struct {
	src io.Reader

	sep     rune
	qual    rune
	qualStr string
	// stops holds the runes that end an unquoted field.
	stops string

	buf    []byte
	bufPos int
	bufLen int
	bufErr error

	lineBuf []byte
	line    string
	pos     int
	lineNo  int

	field []byte
	state tokenizerState
}

func newTokenizer(src io.Reader, sep, qual rune, bufSize int) *tokenizer {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return &tokenizer{
		src:     src,
		sep:     sep,
		qual:    qual,
		qualStr: string(qual),
		stops:   string(sep) + "\r\n",
		buf:     make([]byte, bufSize),
		lineBuf: make([]byte, 0, 256),
		field:   make([]byte, 0, 64),
	}
}

// lines returns the number of physical lines consumed so far.
func (t *tokenizer) lines() int { return t.lineNo }

// readRecord parses the next logical record. It keeps at most limit fields (all of them when limit
// is negative) and still consumes the rest of the record. A line that ends early yields a short
// record. io.EOF signals that no record remains.
func (t *tokenizer) readRecord(limit int) ([]string, error) {
	if t.state == stateExhausted {
		return nil, io.EOF
	}
	if err := t.nextLine(); err != nil {
		if err == io.EOF {
			t.state = stateExhausted
		}
		return nil, err
	}
	t.state = stateInRecord

	var fields []string
	if limit > 0 {
		fields = make([]string, 0, limit)
	}
	if t.atLineEnd() {
		// Blank line.
		t.state = stateBeforeRecord
		return fields, nil
	}
	for {
		f, err := t.decodeToken()
		if err != nil {
			return nil, err
		}
		if limit < 0 || len(fields) < limit {
			fields = append(fields, f)
		}
		if t.pos >= len(t.line) {
			break
		}
		r, size := t.peekRune()
		if r != t.sep {
			break
		}
		t.pos += size
	}
	if t.state != stateExhausted {
		t.state = stateBeforeRecord
	}
	return fields, nil
}

// decodeToken reads one raw field starting at the cursor, leaving the cursor on the character
// that ended it.
func (t *tokenizer) decodeToken() (string, error) {
	for t.pos < len(t.line) && (t.line[t.pos] == ' ' || t.line[t.pos] == '\t') {
		t.pos++
	}
	if t.pos >= len(t.line) {
		return "", nil
	}
	if r, size := t.peekRune(); r == t.qual {
		t.pos += size
		return t.decodeQuoted()
	}

	rest := t.line[t.pos:]
	end := strings.IndexAny(rest, t.stops)
	if end < 0 {
		end = len(rest)
	}
	t.pos += end
	return rest[:end], nil
}

// decodeQuoted reads the body of a quoted field, pulling continuation lines while the closing
// qualifier has not been seen. An unterminated field at end of input returns what was read.
func (t *tokenizer) decodeQuoted() (string, error) {
	qlen := utf8.RuneLen(t.qual)
	t.field = t.field[:0]
	for {
		if t.pos >= len(t.line) {
			t.state = stateAwaitingContinuation
			if err := t.nextLine(); err != nil {
				if err == io.EOF {
					t.state = stateExhausted
					return string(t.field), nil
				}
				return "", err
			}
			t.state = stateInRecord
			continue
		}

		rest := t.line[t.pos:]
		i := strings.IndexRune(rest, t.qual)
		if i < 0 {
			t.field = append(t.field, rest...)
			t.pos = len(t.line)
			continue
		}
		t.field = append(t.field, rest[:i]...)
		t.pos += i + qlen
		if strings.HasPrefix(t.line[t.pos:], t.qualStr) {
			// Doubled qualifier is a literal one.
			t.field = utf8.AppendRune(t.field, t.qual)
			t.pos += qlen
			continue
		}
		return string(t.field), nil
	}
}

func (t *tokenizer) peekRune() (rune, int) {
	if b := t.line[t.pos]; b < utf8.RuneSelf {
		return rune(b), 1
	}
	return utf8.DecodeRuneInString(t.line[t.pos:])
}

func (t *tokenizer) atLineEnd() bool {
	if t.pos >= len(t.line) {
		return true
	}
	b := t.line[t.pos]
	return b == '\r' || b == '\n'
}

// nextLine loads the next physical line, terminator included. CRLF, LF and a lone CR all end a
// line.
func (t *tokenizer) nextLine() error {
	t.lineBuf = t.lineBuf[:0]
	for {
		if t.bufPos >= t.bufLen {
			if err := t.fill(); err != nil {
				if err == io.EOF && len(t.lineBuf) > 0 {
					t.setLine()
					return nil
				}
				return err
			}
		}

		data := t.buf[t.bufPos:t.bufLen]
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			t.lineBuf = append(t.lineBuf, data...)
			t.bufPos = t.bufLen
			continue
		}
		t.lineBuf = append(t.lineBuf, data[:i+1]...)
		t.bufPos += i + 1
		if data[i] == '\r' {
			next, err := t.peekByte()
			if err == nil && next == '\n' {
				t.lineBuf = append(t.lineBuf, '\n')
				t.bufPos++
			} else if err != nil && err != io.EOF {
				return err
			}
		}
		t.setLine()
		return nil
	}
}

// setLine publishes lineBuf as the current line. A byte order mark before the first line is
// dropped.
func (t *tokenizer) setLine() {
	t.line = string(t.lineBuf)
	if t.lineNo == 0 {
		t.line = strings.TrimPrefix(t.line, byteOrderMark)
	}
	t.pos = 0
	t.lineNo++
}

// fill pulls the next chunk from the source. Errors are sticky.
func (t *tokenizer) fill() error {
	for {
		if t.bufErr != nil {
			return t.bufErr
		}
		n, err := t.src.Read(t.buf)
		t.bufPos = 0
		t.bufLen = n
		t.bufErr = err
		if n > 0 {
			return nil
		}
	}
}

// peekByte returns the next buffered byte, refilling from src as needed.
func (t *tokenizer) peekByte() (byte, error) {
	if t.bufPos < t.bufLen {
		return t.buf[t.bufPos], nil
	}
	if err := t.fill(); err != nil {
		return 0, err
	}
	return t.buf[t.bufPos], nil
}
