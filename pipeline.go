package csvfile

import (
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

// job is one accepted append: a record still to be encoded, or a line the caller already
// encoded after the backpressure threshold was crossed.
type job[T any] struct {
	rec     T
	line    string
	encoded bool
}

// pipeline moves appended records to the output in two stages. The encoder goroutine takes jobs
// in FIFO order, so encodes run one at a time and in call order; the writer goroutine is the only
// one that touches the output once the pipeline runs.
type pipeline[T any] struct {
	jobs  chan job[T]
	lines chan string

	encode func(dst []byte, rec *T) []byte
	write  func(line string) error

	// inFlight counts records accepted but not yet handed to the writer goroutine. It only
	// drives the backpressure decision, so approximate reads are fine.
	inFlight  atomic.Int64
	threshold int64
	throttled atomic.Bool

	g errgroup.Group

	mu  sync.Mutex
	err error

	logger  log.Logger
	metrics *Metrics
}

func newPipeline[T any](encode func([]byte, *T) []byte, write func(string) error, cfg *config) *pipeline[T] {
	p := &pipeline[T]{
		// Below the threshold the job queue never fills, so submit does not block.
		jobs:      make(chan job[T], cfg.threshold),
		lines:     make(chan string, cfg.queueSize),
		encode:    encode,
		write:     write,
		threshold: int64(cfg.threshold),
		logger:    cfg.logger,
		metrics:   cfg.metrics,
	}
	p.g.Go(p.encodeLoop)
	p.g.Go(p.writeLoop)
	return p
}

// submit accepts rec for writing. Under the threshold the encode is deferred to the encoder
// goroutine; at or above it rec is encoded here and the finished line joins the same queue,
// which keeps the output in call order.
func (p *pipeline[T]) submit(rec T) error {
	if err := p.failure(); err != nil {
		return err
	}

	n := p.inFlight.Add(1)
	p.metrics.InFlight.Inc()
	if n < p.threshold {
		if p.throttled.CompareAndSwap(true, false) {
			level.Debug(p.logger).Log("msg", "in-flight records below threshold, deferring encodes", "in_flight", n)
		}
		p.jobs <- job[T]{rec: rec}
		return nil
	}

	if p.throttled.CompareAndSwap(false, true) {
		level.Debug(p.logger).Log("msg", "in-flight threshold reached, encoding on caller", "in_flight", n, "threshold", p.threshold)
	}
	p.metrics.InlineEncodes.Inc()
	line := string(p.encode(nil, &rec))
	p.jobs <- job[T]{line: line, encoded: true}
	return nil
}

func (p *pipeline[T]) encodeLoop() error {
	defer close(p.lines)

	var scratch []byte
	for j := range p.jobs {
		line := j.line
		if !j.encoded {
			scratch = p.encode(scratch[:0], &j.rec)
			line = string(scratch)
		}
		p.lines <- line
		p.inFlight.Add(-1)
		p.metrics.InFlight.Dec()
	}
	return nil
}

// writeLoop writes lines in arrival order. After a write error it keeps draining the queue so
// producers never block on a dead consumer.
func (p *pipeline[T]) writeLoop() error {
	var werr error
	for line := range p.lines {
		if werr != nil {
			continue
		}
		if err := p.write(line); err != nil {
			werr = err
			p.fail(err)
			level.Error(p.logger).Log("msg", "failed to write csv line", "err", err)
		}
	}
	return werr
}

func (p *pipeline[T]) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *pipeline[T]) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// close waits for every accepted record to be encoded and written, in that order: no more jobs
// are accepted, the encoder drains the job queue and closes the line queue, and the writer
// drains the line queue.
func (p *pipeline[T]) close() error {
	close(p.jobs)
	return p.g.Wait()
}
