// # csvfile: Typed CSV Files for Go
//
// csvfile converts between Go structs and delimited text files. A Reader turns a text stream
// into a lazy, single-pass sequence of typed records; a Writer turns records back into lines and,
// by default, hands the physical writes to a background goroutine so producers are not held up by
// disk I/O.
//
// # Features
//
// - Header-driven column binding: columns match struct fields case-insensitively, tolerate
// embedded spaces, honour `csv:"name"` tags, and `csv:"-"` keeps a field out of inferred columns.
// - Accessor tables are resolved once per (type, column list) and cached in a Binder.
// - Quoted fields may contain the separator, doubled qualifiers, and line breaks.
// - Asynchronous writes through a bounded queue with an in-flight backpressure threshold; record
// order is always preserved.
// - Structured errors: `ParseError`, `UnsupportedTypeError`, `ErrUnsupportedOperation`,
// `ErrNilRecord`.
// - go-kit logging and Prometheus metrics, both optional.
//
// # Format
//
// The default Definition uses `;` as separator, `"` as qualifier and CRLF line endings. A file
// is one header line of encoded column names followed by one encoded line per record.
//
// # Getting Started
//
//	w, err := csvfile.Create[Client]("out/clients")
//	...
//	for _, c := range clients {
//		if err := w.Append(c); err != nil { ... }
//	}
//	err = w.Close()
//
//	for c, err := range csvfile.ReadFile[Client]("out/clients.csv") { ... }
package csvfile
