package timeline

import (
	"sync"
	"time"
)

// Phase tags a timeline record.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
	PhaseDone  Phase = "done"
)

// Record is one timeline transition for one tensor.
type Record struct {
	Tensor   string    `json:"tensor"`
	Activity string    `json:"activity,omitempty"`
	Phase    Phase     `json:"phase"`
	At       time.Time `json:"at"`
}

// Recorder keeps an ordered in-memory trace of timeline records. It is safe
// for concurrent use and is the backing store for assertions in tests.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewRecorder creates an enabled in-memory timeline.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Initialized() bool { return true }

func (r *Recorder) ActivityStart(tensor, activity string) {
	r.append(Record{Tensor: tensor, Activity: activity, Phase: PhaseStart, At: time.Now()})
}

func (r *Recorder) ActivityEnd(tensor string) {
	r.append(Record{Tensor: tensor, Phase: PhaseEnd, At: time.Now()})
}

func (r *Recorder) End(tensor string) {
	r.append(Record{Tensor: tensor, Phase: PhaseDone, At: time.Now()})
}

func (r *Recorder) append(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// Records returns a copy of the trace in arrival order.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Activities returns the start-phase activity labels recorded for one
// tensor, in order.
func (r *Recorder) Activities(tensor string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, rec := range r.records {
		if rec.Tensor == tensor && rec.Phase == PhaseStart {
			names = append(names, rec.Activity)
		}
	}
	return names
}

// Ended reports whether End was recorded for the tensor.
func (r *Recorder) Ended(tensor string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Tensor == tensor && rec.Phase == PhaseDone {
			return true
		}
	}
	return false
}
