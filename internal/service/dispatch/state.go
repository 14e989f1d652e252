package dispatch

// State is the per-recipient dispatch state.
type State string

const (
	StatePending             State = "PENDING"
	StateRateLimitWait       State = "RATE_LIMIT_WAIT"
	StateAttempting          State = "ATTEMPTING"
	StateRetryWait           State = "RETRY_WAIT"
	StateSuccess             State = "SUCCESS"
	StateNonRetryableFailure State = "NON_RETRYABLE_FAILURE"
	StateExhaustedFailure    State = "EXHAUSTED_FAILURE"
	// StateCancelled ends a recipient whose context was cancelled mid-send.
	StateCancelled State = "CANCELLED"
)

// Terminal reports whether the state ends a recipient's processing.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateNonRetryableFailure, StateExhaustedFailure, StateCancelled:
		return true
	}
	return false
}

func (s State) level() string {
	switch s {
	case StateNonRetryableFailure, StateExhaustedFailure:
		return "error"
	case StateRetryWait, StateCancelled:
		return "warn"
	case StateSuccess:
		return "info"
	default:
		return "debug"
	}
}

func (s *Service) transition(email string, st State, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any, 2)
	}
	fields["email"] = email
	fields["state"] = string(st)
	s.events.Record(st.level(), "recipient state", fields)
}
