package pipeline

import "fmt"

// OutcomeKind classifies the result of processing one job attempt
type OutcomeKind int

const (
	// OutcomeSucceeded means the order reached completed; ack the job.
	OutcomeSucceeded OutcomeKind = iota
	// OutcomeRetry means the attempt failed but a redelivery may
	// succeed; nack the job so the queue reschedules it.
	OutcomeRetry
	// OutcomeFatal means no retry can help (malformed payload,
	// invariant violation); the job goes straight to dead-letter.
	OutcomeFatal
)

// Outcome is the explicit result of one processing attempt. Workers
// branch on Kind instead of inspecting error values, so the retry
// decision is made in exactly one place.
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Succeeded returns the success outcome
func Succeeded() Outcome {
	return Outcome{Kind: OutcomeSucceeded}
}

// Retry returns a retryable failure outcome
func Retry(err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Err: err}
}

// Fatal returns a non-retryable failure outcome
func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRetry:
		return fmt.Sprintf("retry: %v", o.Err)
	case OutcomeFatal:
		return fmt.Sprintf("fatal: %v", o.Err)
	default:
		return "unknown"
	}
}
