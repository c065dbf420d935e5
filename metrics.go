package csvfile

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by readers and writers.
type Metrics struct {
	RecordsRead    prometheus.Counter
	RecordsWritten prometheus.Counter
	ParseErrors    prometheus.Counter
	// InlineEncodes counts appends encoded on the caller's goroutine because the in-flight
	// threshold was reached.
	InlineEncodes prometheus.Counter
	InFlight      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg leaves them
// unregistered, which is what sessions without WithMetrics use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	recordsRead := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csvfile_records_read_total",
		Help: "Total records decoded by readers",
	})

	recordsWritten := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csvfile_records_written_total",
		Help: "Total record lines written by writers",
	})

	parseErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csvfile_parse_errors_total",
		Help: "Total field values that failed to convert while reading",
	})

	inlineEncodes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "csvfile_inline_encodes_total",
		Help: "Total appends encoded on the caller goroutine after the backpressure threshold was reached",
	})

	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "csvfile_inflight_records",
		Help: "Records accepted by asynchronous writers and not yet queued for writing",
	})

	if reg != nil {
		reg.MustRegister(recordsRead, recordsWritten, parseErrors, inlineEncodes, inFlight)
	}

	return &Metrics{
		RecordsRead:    recordsRead,
		RecordsWritten: recordsWritten,
		ParseErrors:    parseErrors,
		InlineEncodes:  inlineEncodes,
		InFlight:       inFlight,
	}
}
