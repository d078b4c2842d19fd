package backend

import (
	"errors"
	"sync"
	"time"

	"github.com/lucasnoah/patchpilot/internal/normalize"
)

// Error kinds carried on a CallRecord.
const (
	ErrorKindTransport = "transport"
	ErrorKindShape     = "shape"
	ErrorKindOther     = "other"
)

// CallRecord describes one settled adapter call. It is diagnostic only and
// plays no part in pipeline correctness.
type CallRecord struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	Endpoint     string        `json:"endpoint"`
	Method       string        `json:"method"`
	Request      any           `json:"request,omitempty"`
	RequestSize  int           `json:"request_size"`
	Response     any           `json:"response,omitempty"`
	ResponseSize int           `json:"response_size"`
	StatusCode   int           `json:"status_code,omitempty"`
	Duration     time.Duration `json:"duration"`

	Err           error    `json:"-"`
	ErrorKind     string   `json:"error_kind,omitempty"`
	ErrorMessage  string   `json:"error,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// DurationMs returns the call duration in milliseconds.
func (r CallRecord) DurationMs() int64 {
	return r.Duration.Milliseconds()
}

// OK reports whether the call succeeded.
func (r CallRecord) OK() bool {
	return r.Err == nil
}

// setError classifies err onto the record.
func (r *CallRecord) setError(err error) {
	r.Err = err
	if err == nil {
		return
	}
	r.ErrorMessage = err.Error()

	var te *TransportError
	var se *normalize.ShapeError
	switch {
	case errors.As(err, &te):
		r.ErrorKind = ErrorKindTransport
		r.StatusCode = te.StatusCode
	case errors.As(err, &se):
		r.ErrorKind = ErrorKindShape
		r.MissingFields = append([]string(nil), se.MissingFields...)
	default:
		r.ErrorKind = ErrorKindOther
	}
}

type listener struct {
	id int
	fn func(CallRecord)
}

// Recorder fans CallRecords out to subscribers and keeps the most recent one.
// Records are delivered in emission order; nothing beyond the last record is
// buffered.
type Recorder struct {
	mu        sync.Mutex
	listeners []listener
	nextID    int
	last      *CallRecord

	emitMu sync.Mutex
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (r *Recorder) Subscribe(fn func(CallRecord)) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, listener{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, l := range r.listeners {
				if l.id == id {
					r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Last returns the most recently emitted record.
func (r *Recorder) Last() (CallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return CallRecord{}, false
	}
	return *r.last, true
}

// Emit stores rec as the last record and delivers it to every subscriber.
func (r *Recorder) Emit(rec CallRecord) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	r.last = &rec
	ls := make([]listener, len(r.listeners))
	copy(ls, r.listeners)
	r.mu.Unlock()

	for _, l := range ls {
		l.fn(rec)
	}
}
