package call

import "errors"

// Status is the outcome of a call
type Status uint8

const (
	// StatusPending means the call has not reached a terminal state yet
	StatusPending Status = iota
	// StatusSuccess means the backend answered and the answer was converted
	StatusSuccess
	// StatusTooBusy means the pool rejected the call, the body never ran
	StatusTooBusy
	// StatusTimedOut means the call was aborted after its timeout elapsed
	StatusTimedOut
	// StatusBackendFailure means the executor reported an error
	StatusBackendFailure
	// StatusInternalFailure means the engine failed (panic, converter error, interruption)
	StatusInternalFailure
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusTooBusy:
		return "too-busy"
	case StatusTimedOut:
		return "timed-out"
	case StatusBackendFailure:
		return "backend-failure"
	case StatusInternalFailure:
		return "internal-failure"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status ends a call
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

var (
	// ErrTimedOut is the error of a result that was aborted by its timeout
	ErrTimedOut = errors.New("call timed out")
	// ErrTooBusy is the error of a result whose submission was rejected
	ErrTooBusy = errors.New("call rejected, pool too busy")
	// ErrInterrupted is the error of a result whose caller stopped waiting
	ErrInterrupted = errors.New("call interrupted")
	// ErrAlreadySubmitted is returned when an envelope is submitted a second time
	ErrAlreadySubmitted = errors.New("envelope already submitted")
	// ErrAborted is returned by executors that observed an abort
	ErrAborted = errors.New("call aborted")
)
