package evaluate

// Terminal session statuses. Defined here, next to the categories they
// map onto, so the session and the classifier share one vocabulary.
const (
	StatusCompleted           = "completed"
	StatusAPITimeout          = "api_timeout"
	StatusSessionTimeout      = "session_timeout"
	StatusShardTimeout        = "shard_timeout"
	StatusMaxTurns            = "max_turns_exceeded"
	StatusFormatUnrecoverable = "format_unrecoverable"
	StatusStuckInSearch       = "stuck_in_search"
	StatusTransportFailure    = "transport_failure"
	StatusAuthRejected        = "auth_rejected"
	StatusAPIRejected         = "api_rejected"
)

// Error categories attached to failed results.
const (
	CategoryFormat        = "format"
	CategoryTimeout       = "timeout"
	CategoryDependency    = "dependency"
	CategoryParameter     = "parameter"
	CategoryToolSelection = "tool-selection"
	CategorySequenceOrder = "sequence-order"
	CategoryMaxTurns      = "max-turns"
	CategoryOther         = "other"
)

// Outcome summarizes a finished session for classification.
type Outcome struct {
	Status       string // terminal session status
	Completed    bool   // reached a completion signal
	Score        Score
	ToolFailures int // tool invocations that came back failed
	ArgErrors    int // tool invocations missing required arguments
}

// Classifier assigns an error category to a failed session. External
// classifiers may plug in here; the pipeline never depends on one being
// available.
type Classifier interface {
	Classify(outcome Outcome) string
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(outcome Outcome) string

func (f ClassifierFunc) Classify(outcome Outcome) string { return f(outcome) }

// Heuristic is the built-in fallback classifier. Terminal statuses map
// directly; completed-but-failed sessions are classified from the score
// breakdown, most specific dimension first.
type Heuristic struct{}

func (Heuristic) Classify(outcome Outcome) string {
	switch outcome.Status {
	case StatusFormatUnrecoverable:
		return CategoryFormat
	case StatusAPITimeout, StatusSessionTimeout, StatusShardTimeout:
		return CategoryTimeout
	case StatusMaxTurns:
		return CategoryMaxTurns
	case StatusStuckInSearch:
		return CategoryToolSelection
	case StatusTransportFailure, StatusAuthRejected:
		return CategoryDependency
	}
	if !outcome.Completed {
		return CategoryOther
	}
	switch {
	case outcome.Score.ToolSelection < 1:
		return CategoryToolSelection
	case outcome.Score.Ordering < 1:
		return CategorySequenceOrder
	case outcome.ArgErrors > 0:
		return CategoryParameter
	case outcome.ToolFailures > 0:
		return CategoryDependency
	default:
		return CategoryOther
	}
}
