package wizard

import "encoding/json"

// Phase tags the load state of a cached resource.
type Phase string

const (
	PhaseNotLoaded Phase = "NOT_LOADED"
	PhaseLoading   Phase = "LOADING"
	PhaseLoaded    Phase = "LOADED"
	PhaseFailed    Phase = "FAILED"
)

// Resource is a cached server value with its load phase.
//
// A refresh of a loaded value keeps the old value visible while LOADING and
// falls back to LOADED if the refresh fails, so a failed call never discards
// data. FAILED is only reachable when nothing was loaded before.
type Resource[T any] struct {
	phase Phase
	value T
	has   bool
	err   string
}

// Phase returns the current phase; the zero Resource is NOT_LOADED.
func (r Resource[T]) Phase() Phase {
	if r.phase == "" {
		return PhaseNotLoaded
	}
	return r.phase
}

// Get returns the cached value and whether one exists.
func (r Resource[T]) Get() (T, bool) {
	return r.value, r.has
}

// Err returns the failure message of a FAILED resource.
func (r Resource[T]) Err() string {
	return r.err
}

func (r *Resource[T]) begin() {
	r.phase = PhaseLoading
	r.err = ""
}

func (r *Resource[T]) set(v T) {
	r.phase = PhaseLoaded
	r.value = v
	r.has = true
	r.err = ""
}

func (r *Resource[T]) fail(msg string) {
	if r.has {
		r.phase = PhaseLoaded
		return
	}
	r.phase = PhaseFailed
	r.err = msg
}

type resourceJSON[T any] struct {
	Phase Phase  `json:"phase"`
	Value *T     `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// MarshalJSON renders {"phase":..., "value":..., "error":...}.
func (r Resource[T]) MarshalJSON() ([]byte, error) {
	out := resourceJSON[T]{Phase: r.Phase(), Error: r.err}
	if r.has {
		v := r.value
		out.Value = &v
	}
	return json.Marshal(out)
}

// Loaded builds a LOADED resource; used when restoring a persisted session.
func Loaded[T any](v T) Resource[T] {
	var r Resource[T]
	r.set(v)
	return r
}
