// Package stage provides the building blocks shared by every pipeline stage:
// a status state machine with synchronous observers, a single-consumer
// executor that owns all mutable pipeline state, and a background runner
// that executes inference work off the consumer and marshals results back.
package stage

// Status is the lifecycle state of a stage.
type Status int

const (
	// StatusInit is the state before loading and after a failed load.
	StatusInit Status = iota
	// StatusLoading indicates the stage engine is being loaded in the background.
	StatusLoading
	// StatusReady indicates the stage accepts work.
	StatusReady
	// StatusGenerating indicates work is in flight.
	StatusGenerating
	// StatusError is terminal until Reset.
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusGenerating:
		return "generating"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}
