package csvfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
	"unsafe"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var (
	// ErrNilRecord is returned when a nil pointer record is encoded or appended.
	ErrNilRecord = errors.New("csvfile: record cannot be nil")
	// ErrWriterClosed is returned by Append after Close.
	ErrWriterClosed = errors.New("csvfile: writer is closed")

	errWriterNoTarget = errors.New("csvfile: writer destination cannot be nil")
)

// Writer encodes typed records as CSV lines. The header line is written when the Writer is
// created. By default Append hands records to a background pipeline; Close waits until every
// appended record has been written.
//
// Append must not be called concurrently.
type Writer[T any] struct {
	dst    *bufio.Writer
	closer io.Closer

	codec   *fieldCodec
	eol     string
	shape   recordShape
	columns []string
	getters []getter

	pipe *pipeline[T]
	// line is the scratch buffer for synchronous appends.
	line []byte

	logger  log.Logger
	metrics *Metrics

	err    error
	closed bool
}

// NewWriter writes the header to dst and returns a Writer for T. Columns come from
// Definition.Columns, or are inferred from T's fields. If dst is an io.Closer, Close closes it.
func NewWriter[T any](dst io.Writer, opts ...Option) (*Writer[T], error) {
	if dst == nil {
		return nil, errWriterNoTarget
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
	columns := def.Columns
	if len(columns) == 0 {
		columns = cfg.binder.inferColumns(shape.rt)
	}

	w := &Writer[T]{
		dst:     bufio.NewWriterSize(dst, cfg.bufferSize),
		codec:   newFieldCodec(def.Separator, def.Qualifier),
		eol:     def.EndOfLine,
		shape:   shape,
		columns: columns,
		logger:  cfg.logger,
		metrics: cfg.metrics,
	}
	if c, ok := dst.(io.Closer); ok {
		w.closer = c
	}

	if err := w.writeHeader(); err != nil {
		return nil, err
	}
	w.getters = cfg.binder.bindGetters(shape.rt, columns)

	if !cfg.sync {
		w.pipe = newPipeline(w.appendRecord, w.writeRecord, cfg)
	}

	level.Debug(w.logger).Log("msg", "opened csv writer", "type", shape.rt, "columns", strings.Join(columns, ","), "async", !cfg.sync)
	return w, nil
}

// Create opens a file for T's records at path, creating missing parent directories and adding a
// ".csv" extension when path lacks one.
func Create[T any](path string, opts ...Option) (*Writer[T], error) {
	path, err := csvPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter[T](f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func csvPath(path string) (string, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("csvfile: creating directory: %w", err)
	}
	if filepath.Ext(path) != ".csv" {
		path += ".csv"
	}
	return path, nil
}

// Columns returns the written columns in file order.
func (w *Writer[T]) Columns() []string {
	return w.columns
}

func (w *Writer[T]) writeHeader() error {
	line := w.codec.appendLine(nil, w.columns)
	return w.writeLine(string(line))
}

// Encode returns rec as one CSV line without the line terminator. Columns with no matching
// field are written empty.
func (w *Writer[T]) Encode(rec T) (string, error) {
	if recordPointer(w.shape, &rec) == nil {
		return "", ErrNilRecord
	}
	return string(w.appendRecord(nil, &rec)), nil
}

// appendRecord appends the encoded fields of *rec to dst. It only reads shared state, so the
// pipeline may call it from several goroutines.
func (w *Writer[T]) appendRecord(dst []byte, rec *T) []byte {
	p := recordPointer(w.shape, rec)
	for i, g := range w.getters {
		if i > 0 {
			dst = utf8.AppendRune(dst, w.codec.sep)
		}
		if g == nil {
			continue
		}
		dst = w.codec.appendField(dst, g(p))
	}
	return dst
}

func (w *Writer[T]) writeLine(line string) error {
	if _, err := w.dst.WriteString(line); err != nil {
		return err
	}
	_, err := w.dst.WriteString(w.eol)
	return err
}

func (w *Writer[T]) writeRecord(line string) error {
	if err := w.writeLine(line); err != nil {
		return err
	}
	w.metrics.RecordsWritten.Inc()
	return nil
}

// Append writes rec. In asynchronous mode the line may reach the output after Append returns;
// write errors from the background goroutine are returned by later Append calls and by Close.
func (w *Writer[T]) Append(rec T) error {
	if w == nil {
		return errWriterNoTarget
	}
	if w.closed {
		return ErrWriterClosed
	}
	if recordPointer(w.shape, &rec) == nil {
		return ErrNilRecord
	}
	if w.pipe != nil {
		return w.pipe.submit(rec)
	}

	if w.err != nil {
		return w.err
	}
	w.line = w.appendRecord(w.line[:0], &rec)
	// The line is copied into the bufio buffer before w.line is reused.
	if err := w.writeRecord(unsafe.String(unsafe.SliceData(w.line), len(w.line))); err != nil {
		w.err = err
		return err
	}
	return nil
}

// Close drains the pipeline, flushes buffered lines and closes the destination. It returns the
// first error met while writing. Calling Close again is a no-op.
func (w *Writer[T]) Close() error {
	if w == nil || w.closed {
		return nil
	}
	w.closed = true

	err := w.err
	if w.pipe != nil {
		if perr := w.pipe.close(); err == nil {
			err = perr
		}
	}
	if ferr := w.dst.Flush(); err == nil {
		err = ferr
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		level.Error(w.logger).Log("msg", "closing csv writer", "err", err)
	} else {
		level.Debug(w.logger).Log("msg", "closed csv writer", "type", w.shape.rt)
	}
	return err
}
