package csvfile

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"
)

// tagName is the struct tag consulted for column names. `csv:"-"` keeps a field out of inferred
// column lists.
const tagName = "csv"

var timeType = reflect.TypeOf(time.Time{})

// timeLayouts are tried in order when a time.Time field is read.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// UnsupportedTypeError is returned when a record type, or a field bound to a read column, has no
// conversion from text.
type UnsupportedTypeError struct {
	// Type is the record type being bound.
	Type reflect.Type
	// Field is the Go field name, empty when Type itself cannot hold records.
	Field string
	// FieldType is the type of Field.
	FieldType reflect.Type
}

// Error describes the record type and field that could not be bound.
func (e *UnsupportedTypeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return fmt.Sprintf("csvfile: unsupported record type %v: need a struct or pointer to struct", e.Type)
	}
	return fmt.Sprintf("csvfile: unsupported type %v for field %s of %v", e.FieldType, e.Field, e.Type)
}

// setter assigns the text s to one field of the struct at p.
type setter func(p unsafe.Pointer, s string) error

// getter returns the unencoded text of one field of the struct at p.
type getter func(p unsafe.Pointer) string

type member struct {
	// name is the column name: the tag name if present, else the Go field name.
	name string
	// field is the Go selector, e.g. "Address.City" for promoted fields.
	field   string
	offset  uintptr
	typ     reflect.Type
	depth   int
	ignored bool
}

type typeIndex struct {
	members []member
}

type tableKey struct {
	rt      reflect.Type
	n       int
	columns string
}

// Binder resolves column lists to field accessors and caches the result per record type and
// column list. A Binder is safe for concurrent use; sessions that share one skip re-resolving
// types they have already seen.
type Binder struct {
	indexes sync.Map // reflect.Type -> *typeIndex
	setters sync.Map // tableKey -> []setter
	getters sync.Map // tableKey -> []getter
}

// NewBinder returns an empty Binder.
func NewBinder() *Binder { return &Binder{} }

// recordShape is the struct behind a record type T, which is either the struct or a pointer to it.
type recordShape struct {
	rt  reflect.Type
	ptr bool
}

func shapeOf[T any]() (recordShape, error) {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	switch {
	case rt.Kind() == reflect.Struct && rt != timeType:
		return recordShape{rt: rt}, nil
	case rt.Kind() == reflect.Pointer && rt.Elem().Kind() == reflect.Struct && rt.Elem() != timeType:
		return recordShape{rt: rt.Elem(), ptr: true}, nil
	}
	return recordShape{}, &UnsupportedTypeError{Type: rt}
}

// recordPointer returns the address of the struct held by *rec, or nil for a nil pointer record.
func recordPointer[T any](s recordShape, rec *T) unsafe.Pointer {
	if s.ptr {
		return *(*unsafe.Pointer)(unsafe.Pointer(rec))
	}
	return unsafe.Pointer(rec)
}

// newStruct allocates the struct behind a pointer record type.
func newStruct[T any](s recordShape) T {
	return reflect.New(s.rt).Interface().(T)
}

// InferColumns returns the column names of T's exported fields in declaration order, with
// promoted fields of embedded structs inlined and `csv:"-"` fields left out.
func InferColumns[T any]() ([]string, error) {
	s, err := shapeOf[T]()
	if err != nil {
		return nil, err
	}
	return NewBinder().inferColumns(s.rt), nil
}

func (b *Binder) inferColumns(rt reflect.Type) []string {
	idx := b.index(rt)
	seen := make(map[string]struct{}, len(idx.members))
	columns := make([]string, 0, len(idx.members))
	for _, m := range idx.members {
		if m.ignored {
			continue
		}
		key := strings.ToLower(m.name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		columns = append(columns, m.name)
	}
	return columns
}

func (b *Binder) index(rt reflect.Type) *typeIndex {
	if v, ok := b.indexes.Load(rt); ok {
		return v.(*typeIndex)
	}
	idx := buildTypeIndex(rt)
	v, _ := b.indexes.LoadOrStore(rt, idx)
	return v.(*typeIndex)
}

func buildTypeIndex(rt reflect.Type) *typeIndex {
	idx := &typeIndex{}

	var walk func(t reflect.Type, base uintptr, prefix string, depth int)
	walk = func(t reflect.Type, base uintptr, prefix string, depth int) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			name, ignored := parseTag(sf.Tag.Get(tagName))
			if sf.Anonymous && name == "" && !ignored && sf.Type.Kind() == reflect.Struct && sf.Type != timeType {
				walk(sf.Type, base+sf.Offset, prefix+sf.Name+".", depth+1)
				continue
			}
			if !sf.IsExported() {
				continue
			}
			if name == "" {
				name = sf.Name
			}
			idx.members = append(idx.members, member{
				name:    name,
				field:   prefix + sf.Name,
				offset:  base + sf.Offset,
				typ:     sf.Type,
				depth:   depth,
				ignored: ignored,
			})
		}
	}
	walk(rt, 0, "", 0)
	return idx
}

// parseTag supports "-", "name" and "name,opts" (options are ignored).
func parseTag(tag string) (name string, ignored bool) {
	if tag == "-" {
		return "", true
	}
	if i := strings.IndexByte(tag, ','); i >= 0 {
		tag = tag[:i]
	}
	return tag, false
}

// resolve finds the member bound to column. Names compare case-insensitively, shallower fields
// win over promoted ones, and a column with spaces is retried with the spaces removed.
func (idx *typeIndex) resolve(column string) (member, bool) {
	if m, ok := idx.lookup(column); ok {
		return m, true
	}
	if strings.IndexByte(column, ' ') >= 0 {
		return idx.lookup(strings.ReplaceAll(column, " ", ""))
	}
	return member{}, false
}

func (idx *typeIndex) lookup(name string) (member, bool) {
	found := -1
	for i, m := range idx.members {
		if !strings.EqualFold(m.name, name) {
			continue
		}
		if found < 0 || m.depth < idx.members[found].depth {
			found = i
		}
	}
	if found < 0 {
		return member{}, false
	}
	return idx.members[found], true
}

func makeKey(rt reflect.Type, columns []string) tableKey {
	return tableKey{rt: rt, n: len(columns), columns: strings.Join(columns, "\x00")}
}

// bindSetters returns one setter per column, nil where no field matches. A matched field of a
// type without a text conversion fails the whole binding.
func (b *Binder) bindSetters(rt reflect.Type, columns []string) ([]setter, error) {
	key := makeKey(rt, columns)
	if v, ok := b.setters.Load(key); ok {
		return v.([]setter), nil
	}

	idx := b.index(rt)
	setters := make([]setter, len(columns))
	for i, c := range columns {
		m, ok := idx.resolve(c)
		if !ok {
			continue
		}
		s, ok := makeSetter(m)
		if !ok {
			return nil, &UnsupportedTypeError{Type: rt, Field: m.field, FieldType: m.typ}
		}
		setters[i] = s
	}
	v, _ := b.setters.LoadOrStore(key, setters)
	return v.([]setter), nil
}

// bindGetters returns one getter per column, nil where no field matches.
func (b *Binder) bindGetters(rt reflect.Type, columns []string) []getter {
	key := makeKey(rt, columns)
	if v, ok := b.getters.Load(key); ok {
		return v.([]getter)
	}

	idx := b.index(rt)
	getters := make([]getter, len(columns))
	for i, c := range columns {
		if m, ok := idx.resolve(c); ok {
			getters[i] = makeGetter(m)
		}
	}
	v, _ := b.getters.LoadOrStore(key, getters)
	return v.([]getter)
}

// makeSetter reports false when m's type has no conversion from text.
func makeSetter(m member) (setter, bool) {
	off := m.offset
	if m.typ == timeType {
		return func(p unsafe.Pointer, s string) error {
			v, err := parseTime(s)
			if err != nil {
				return err
			}
			*(*time.Time)(unsafe.Add(p, off)) = v
			return nil
		}, true
	}

	switch m.typ.Kind() {
	case reflect.String:
		return func(p unsafe.Pointer, s string) error {
			*(*string)(unsafe.Add(p, off)) = s
			return nil
		}, true
	case reflect.Int:
		return func(p unsafe.Pointer, s string) error {
			v, err := parseInt(s, strconv.IntSize)
			if err != nil {
				return err
			}
			*(*int)(unsafe.Add(p, off)) = int(v)
			return nil
		}, true
	case reflect.Int32:
		return func(p unsafe.Pointer, s string) error {
			v, err := parseInt(s, 32)
			if err != nil {
				return err
			}
			*(*int32)(unsafe.Add(p, off)) = int32(v)
			return nil
		}, true
	case reflect.Int64:
		return func(p unsafe.Pointer, s string) error {
			v, err := parseInt(s, 64)
			if err != nil {
				return err
			}
			*(*int64)(unsafe.Add(p, off)) = v
			return nil
		}, true
	}
	return nil, false
}

func makeGetter(m member) getter {
	off := m.offset
	ft := m.typ
	if ft == timeType {
		return func(p unsafe.Pointer) string {
			return (*time.Time)(unsafe.Add(p, off)).Format(timeLayout)
		}
	}
	// Kinds with a read conversion are written by kind, even when the type has a String method,
	// so the text reads back into the same value.
	switch ft.Kind() {
	case reflect.String:
		return func(p unsafe.Pointer) string {
			return *(*string)(unsafe.Add(p, off))
		}
	case reflect.Int:
		return func(p unsafe.Pointer) string {
			return strconv.Itoa(*(*int)(unsafe.Add(p, off)))
		}
	case reflect.Int32:
		return func(p unsafe.Pointer) string {
			return strconv.FormatInt(int64(*(*int32)(unsafe.Add(p, off))), 10)
		}
	case reflect.Int64:
		return func(p unsafe.Pointer) string {
			return strconv.FormatInt(*(*int64)(unsafe.Add(p, off)), 10)
		}
	}
	return func(p unsafe.Pointer) string {
		return formatValue(reflect.NewAt(ft, unsafe.Add(p, off)).Elem().Interface())
	}
}

func parseInt(s string, bitSize int) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, bitSize)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
