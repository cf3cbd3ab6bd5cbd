package route

import "github.com/gosom/courier-routes/models"

// State is a step of the route computation.
type State int

const (
	StateStart State = iota
	StateTryRouting
	StateTryMatrix
	StateRetryReexpand
	StateRetryGeocode
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateTryRouting:
		return "try_routing"
	case StateTryMatrix:
		return "try_matrix"
	case StateRetryReexpand:
		return "retry_reexpand"
	case StateRetryGeocode:
		return "retry_geocode"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome tags the result of running one tier.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSkipped
	OutcomeNoPath
	OutcomeNotFound
	OutcomeInconsistent
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeNoPath:
		return "no_path"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInconsistent:
		return "inconsistent"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Markers records which one shot retry tiers already ran.
type Markers struct {
	Reexpanded bool
	Geocoded   bool
}

// Next is the transition function. It depends only on its arguments.
func Next(state State, outcome Outcome, m Markers) State {
	switch state {
	case StateStart:
		return StateTryRouting
	case StateTryRouting:
		switch outcome {
		case OutcomeSuccess:
			return StateSuccess
		case OutcomeUnavailable:
			return StateFailed
		default:
			return StateTryMatrix
		}
	case StateTryMatrix:
		switch outcome {
		case OutcomeSuccess:
			return StateSuccess
		case OutcomeNotFound, OutcomeInconsistent:
			return nextRetry(m)
		default:
			return StateFailed
		}
	case StateRetryReexpand:
		switch outcome {
		case OutcomeSuccess:
			return StateTryMatrix
		case OutcomeUnavailable:
			return StateFailed
		default:
			if m.Geocoded {
				return StateFailed
			}

			return StateRetryGeocode
		}
	case StateRetryGeocode:
		if outcome == OutcomeSuccess {
			return StateTryMatrix
		}

		return StateFailed
	default:
		return state
	}
}

func nextRetry(m Markers) State {
	switch {
	case !m.Reexpanded:
		return StateRetryReexpand
	case !m.Geocoded:
		return StateRetryGeocode
	default:
		return StateFailed
	}
}

// failureCode maps the outcome that led to Failed to the taxonomy.
func failureCode(o Outcome) models.Code {
	switch o {
	case OutcomeNoPath:
		return models.CodeNoRouteFound
	case OutcomeNotFound:
		return models.CodeEndpointNotFound
	case OutcomeUnavailable:
		return models.CodeNoConnectivity
	default:
		return models.CodeUpstreamInconsistent
	}
}

// maxTransitions bounds the state loop of a single computation.
const maxTransitions = 16
