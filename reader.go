package csvfile

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ErrUnsupportedOperation is returned when a Reader's sequence is iterated a second time.
var ErrUnsupportedOperation = errors.New("csvfile: reader sequence cannot be restarted")

// ParseError reports a field value that could not be converted to its field's type.
type ParseError struct {
	// Line is the physical line on which the record starts.
	Line int
	// Column is the 1-based position of the field within the record.
	Column int
	// Name is the column name from the header.
	Name  string
	Value string
	Err   error
}

// Error formats the parse error message with the stored location and Err value.
func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("csvfile: parse error on line %d, column %d (%s): %q: %v", e.Line, e.Column, e.Name, e.Value, e.Err)
}

// Unwrap returns the underlying Err so ParseError participates in errors.Unwrap.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Reader decodes typed records from a CSV text stream. Columns come from a header line, or from
// Definition.Header when one is supplied.
//
// A Reader is forward-only and not safe for concurrent use.
type Reader[T any] struct {
	src     io.Reader
	tok     *tokenizer
	shape   recordShape
	columns []string
	setters []setter

	logger  log.Logger
	metrics *Metrics

	iterated bool
	closed   bool
}

// NewReader reads the header from src (unless the Definition supplies one) and binds the header
// columns to T's fields. Binding errors, such as a column bound to a field of an unsupported
// type, are returned before any record is read.
func NewReader[T any](src io.Reader, opts ...Option) (*Reader[T], error) {
	if src == nil {
		return nil, errors.New("csvfile: reader source cannot be nil")
	}
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	shape, err := shapeOf[T]()
	if err != nil {
		return nil, err
	}

	def := cfg.def
	r := &Reader[T]{
		src:     src,
		tok:     newTokenizer(src, def.Separator, def.Qualifier, cfg.bufferSize),
		shape:   shape,
		logger:  cfg.logger,
		metrics: cfg.metrics,
	}

	if def.Header != "" {
		r.columns, err = DecodeRecord(def.Header, def.Qualifier, def.Separator)
	} else {
		r.columns, err = r.tok.readRecord(-1)
		if err == io.EOF {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("csvfile: reading header: %w", err)
	}

	r.setters, err = cfg.binder.bindSetters(shape.rt, r.columns)
	if err != nil {
		return nil, err
	}

	level.Debug(r.logger).Log("msg", "opened csv reader", "type", shape.rt, "columns", strings.Join(r.columns, ","))
	for i, s := range r.setters {
		if s == nil {
			level.Debug(r.logger).Log("msg", "column has no matching field", "column", r.columns[i], "type", shape.rt)
		}
	}
	return r, nil
}

// Columns returns the header columns in file order.
func (r *Reader[T]) Columns() []string {
	return r.columns
}

// Read decodes the next record. It returns io.EOF when no records remain. Fields missing from a
// short line, and fields whose column has no matching struct field, keep their zero values.
func (r *Reader[T]) Read() (rec T, err error) {
	if r == nil || r.closed {
		return rec, io.EOF
	}

	line := r.tok.lines() + 1
	fields, err := r.tok.readRecord(len(r.setters))
	if err != nil {
		return rec, err
	}

	if r.shape.ptr {
		rec = newStruct[T](r.shape)
	}
	p := recordPointer(r.shape, &rec)
	for i, f := range fields {
		s := r.setters[i]
		if s == nil {
			continue
		}
		if err := s(p, f); err != nil {
			r.metrics.ParseErrors.Inc()
			var zero T
			return zero, &ParseError{Line: line, Column: i + 1, Name: r.columns[i], Value: f, Err: err}
		}
	}
	r.metrics.RecordsRead.Inc()
	return rec, nil
}

// ReadAll reads the remaining records, stopping at the first error.
func (r *Reader[T]) ReadAll() ([]T, error) {
	var records []T
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

// All returns the records as a single-pass sequence. Iteration stops after the first error is
// yielded. Only one iteration is allowed; a second one yields ErrUnsupportedOperation.
func (r *Reader[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if r.iterated {
			yield(zero, ErrUnsupportedOperation)
			return
		}
		r.iterated = true
		for {
			rec, err := r.Read()
			if err == io.EOF {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the source when it is an io.Closer. Later calls to Read return io.EOF.
func (r *Reader[T]) Close() error {
	if r == nil || r.closed {
		return nil
	}
	r.closed = true
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Read returns the records of src as a sequence and closes src, when it is an io.Closer, once
// iteration ends. Construction errors are yielded as the first element. When the sequence runs
// to its end, a failing Close is yielded as the last element.
func Read[T any](src io.Reader, opts ...Option) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		r, err := NewReader[T](src, opts...)
		if err != nil {
			if c, ok := src.(io.Closer); ok {
				// The construction error is the one reported.
				_ = c.Close()
			}
			yield(zero, err)
			return
		}
		for rec, err := range r.All() {
			if !yield(rec, err) {
				_ = r.Close()
				return
			}
		}
		if err := r.Close(); err != nil {
			yield(zero, err)
		}
	}
}

// ReadFile opens path and returns its records as a sequence. The file is closed when iteration
// ends.
func ReadFile[T any](path string, opts ...Option) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for rec, err := range Read[T](f, opts...) {
			if !yield(rec, err) {
				return
			}
		}
	}
}
