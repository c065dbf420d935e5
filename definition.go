package csvfile

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/go-kit/log"
)

const (
	defaultSeparator = ';'
	defaultQualifier = '"'
	defaultEndOfLine = "\r\n"

	defaultBufferSize = 1 << 16 // 64 KiB
	// defaultQueueSize bounds the number of encoded lines waiting for the background writer.
	defaultQueueSize = 5000
	// defaultBackpressureThreshold is the in-flight count at which Append encodes inline.
	defaultBackpressureThreshold = 10000
)

// ErrInvalidDefinition is returned when a Definition cannot describe a readable file.
var ErrInvalidDefinition = errors.New("csvfile: invalid definition")

// Definition describes the layout of a CSV file.
//
// Zero-valued fields fall back to DefaultDefinition.
type Definition struct {
	// Separator delimits fields within a line. Default is ';'.
	Separator rune
	// Qualifier quotes fields holding reserved characters. Default is '"'.
	Qualifier rune
	// EndOfLine terminates every written line. Default is "\r\n".
	EndOfLine string
	// Columns fixes the written column list. Empty means infer it from the record type.
	// Readers ignore it: their columns always come from a header.
	Columns []string
	// Header, when set, is parsed as the header line instead of reading one from the source.
	Header string
}

// DefaultDefinition returns the semicolon/double-quote/CRLF layout.
func DefaultDefinition() Definition {
	return Definition{
		Separator: defaultSeparator,
		Qualifier: defaultQualifier,
		EndOfLine: defaultEndOfLine,
	}
}

func (d Definition) withDefaults() Definition {
	if d.Separator == 0 {
		d.Separator = defaultSeparator
	}
	if d.Qualifier == 0 {
		d.Qualifier = defaultQualifier
	}
	if d.EndOfLine == "" {
		d.EndOfLine = defaultEndOfLine
	}
	return d
}

// Validate reports whether d, after defaults are applied, can be used for reading and writing.
func (d Definition) Validate() error {
	d = d.withDefaults()
	if !utf8.ValidRune(d.Separator) {
		return fmt.Errorf("%w: separator %U is not a valid rune", ErrInvalidDefinition, d.Separator)
	}
	if !utf8.ValidRune(d.Qualifier) {
		return fmt.Errorf("%w: qualifier %U is not a valid rune", ErrInvalidDefinition, d.Qualifier)
	}
	if d.Separator == d.Qualifier {
		return fmt.Errorf("%w: separator and qualifier are both %q", ErrInvalidDefinition, d.Separator)
	}
	if isLineBreak(d.Separator) {
		return fmt.Errorf("%w: separator %q is a line break", ErrInvalidDefinition, d.Separator)
	}
	if isLineBreak(d.Qualifier) {
		return fmt.Errorf("%w: qualifier %q is a line break", ErrInvalidDefinition, d.Qualifier)
	}
	seen := make(map[string]struct{}, len(d.Columns))
	for _, c := range d.Columns {
		if _, ok := seen[c]; ok {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidDefinition, c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

func isLineBreak(r rune) bool { return r == '\r' || r == '\n' }

type config struct {
	def        Definition
	logger     log.Logger
	metrics    *Metrics
	binder     *Binder
	sync       bool
	queueSize  int
	threshold  int
	bufferSize int
}

// Option configures a Reader or Writer.
type Option func(*config)

// WithDefinition sets the file layout. Without it DefaultDefinition is used.
func WithDefinition(def Definition) Option {
	return func(c *config) {
		c.def = def
	}
}

// WithLogger sets the logger used for session events.
func WithLogger(logger log.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records session activity into m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithBinder shares b's accessor cache with the session.
func WithBinder(b *Binder) Option {
	return func(c *config) {
		if b != nil {
			c.binder = b
		}
	}
}

// WithSyncWrites makes Append encode and write on the caller's goroutine.
func WithSyncWrites() Option {
	return func(c *config) {
		c.sync = true
	}
}

// WithQueueSize bounds the number of encoded lines waiting for the background writer.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithBackpressureThreshold sets the in-flight record count at which Append stops deferring
// encodes and runs them on the caller's goroutine.
func WithBackpressureThreshold(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithBufferSize sets the size of the read and write buffers.
func WithBufferSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

func newConfig(opts []Option) (*config, error) {
	c := &config{
		def:        DefaultDefinition(),
		queueSize:  defaultQueueSize,
		threshold:  defaultBackpressureThreshold,
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.def = c.def.withDefaults()
	if err := c.def.Validate(); err != nil {
		return nil, err
	}
	if c.logger == nil {
		c.logger = log.NewNopLogger()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.binder == nil {
		c.binder = NewBinder()
	}
	return c, nil
}
