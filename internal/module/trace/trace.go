// Package trace records an optional per-step execution trace as a stream of
// CBOR-encoded records, one per dispatched instruction. It mirrors
// chazu-maggie/vm/dist/wire.go's use of a canonical cbor.EncMode for compact
// structured records rather than a text log.
package trace

import (
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: failed to create CBOR enc mode: %v", err))
	}
	return em
}

// Step is one dispatched instruction, recorded before operand decoding so
// PC reflects the opcode's own address rather than the post-fetch value.
type Step struct {
	ThreadID uint64 `cbor:"tid"`
	PC       uint64 `cbor:"pc"`
	Opcode   string `cbor:"op"`
}

// Recorder appends CBOR-encoded Steps to an underlying writer. A nil
// *Recorder is valid and Record is then a no-op, so callers can hold one
// unconditionally the way vmlog holds a possibly-nil *log.Logger.
type Recorder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewRecorder wraps w for step recording.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: w}
}

// Record encodes and appends step. Steps are written back-to-back as a
// concatenated CBOR stream; a reader decodes them with a single
// cbor.Decoder, calling Decode repeatedly until io.EOF.
func (r *Recorder) Record(step Step) error {
	if r == nil {
		return nil
	}
	data, err := encMode.Marshal(step)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.w.Write(data)
	return err
}

// Decode reads every Step from r until EOF.
func Decode(r io.Reader) ([]Step, error) {
	dec := cbor.NewDecoder(r)
	var steps []Step
	for {
		var s Step
		if err := dec.Decode(&s); err != nil {
			if err == io.EOF {
				return steps, nil
			}
			return nil, err
		}
		steps = append(steps, s)
	}
}
