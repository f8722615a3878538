// Package trace records register accesses as a CBOR sequence so that a
// session can be inspected or replayed later.
package trace

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/tinyrange/vcan/internal/devices/vcan"
)

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Record is one access as stored in a trace.
type Record struct {
	Time   time.Time `cbor:"1,keyasint"`
	Op     string    `cbor:"2,keyasint"`
	Offset uint32    `cbor:"3,keyasint"`
	Size   uint8     `cbor:"4,keyasint"`
	Value  uint64    `cbor:"5,keyasint"`
	Kind   string    `cbor:"6,keyasint,omitempty"`
	Err    string    `cbor:"7,keyasint,omitempty"`
}

// Failed reports whether the access failed.
func (r Record) Failed() bool {
	return r.Err != ""
}

// FromAccess converts a controller access into a record.
func FromAccess(a vcan.Access) Record {
	r := Record{
		Time:   a.Time.UTC(),
		Op:     a.Op.String(),
		Offset: a.Offset,
		Size:   a.Size,
		Value:  a.Value,
	}
	if a.Err != nil {
		r.Kind = vcan.Classify(a.Err).String()
		r.Err = a.Err.Error()
	}
	return r
}

// Writer appends records to a stream. It implements vcan.Observer; the
// first encoding error is kept and later records are dropped.
type Writer struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	n   int
	err error
}

// NewWriter returns a Writer encoding to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: encMode.NewEncoder(w)}
}

// Write appends one record.
func (w *Writer) Write(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if err := w.enc.Encode(r); err != nil {
		w.err = fmt.Errorf("trace: encode record: %w", err)
		return w.err
	}
	w.n++
	return nil
}

// ObserveAccess implements vcan.Observer.
func (w *Writer) ObserveAccess(a vcan.Access) {
	w.Write(FromAccess(a))
}

// Len returns the number of records written.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Err returns the first error encountered while writing.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Reader decodes records from a trace stream.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader returns a Reader decoding from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the trace.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("trace: decode record: %w", err)
	}
	return rec, nil
}

// Records reads every record from r.
func Records(r io.Reader) ([]Record, error) {
	tr := NewReader(r)
	var out []Record
	for {
		rec, err := tr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
