package engine

// Outcome is the terminal state of one request attempt. Every attempt ends
// in exactly one outcome and the engine returns to idle.
type Outcome int

const (
	// OutcomeQuotaDenied is a non-error outcome: nothing was persisted,
	// nothing was sent, the upgrade signal was raised.
	OutcomeQuotaDenied Outcome = iota
	OutcomeSucceeded
	OutcomeCancelled
	// OutcomeRecoverableFailure covers timeouts and connectivity loss; a
	// sentinel message was inserted and the conversation remains usable.
	OutcomeRecoverableFailure
	// OutcomeProviderFailure covers validation/auth/rate-limit answers; the
	// conversation is left in its pre-call state.
	OutcomeProviderFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeQuotaDenied:
		return "quota-denied"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeRecoverableFailure:
		return "recoverable-failure"
	case OutcomeProviderFailure:
		return "provider-failure"
	default:
		return "unknown"
	}
}

// Result carries a request's outcome. Reply is set only for
// OutcomeSucceeded; Err only for the failure outcomes.
type Result struct {
	Outcome Outcome
	Reply   string
	Err     error
}

// Pending is the caller's handle on an issued request. Done resolves exactly
// once; discarded (superseded or stale) requests resolve as cancelled.
type Pending struct {
	done chan Result
}

func newPending() *Pending {
	return &Pending{done: make(chan Result, 1)}
}

func resolvedPending(r Result) *Pending {
	p := newPending()
	p.resolve(r)
	return p
}

func (p *Pending) resolve(r Result) {
	select {
	case p.done <- r:
	default:
	}
}

// Done yields the request's single terminal result.
func (p *Pending) Done() <-chan Result {
	return p.done
}

// Wait blocks until the result is available.
func (p *Pending) Wait() Result {
	return <-p.done
}
