package valuation

// State is a stage of an AUM refresh.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateExtracting
	StateRepricing
	StatePersisting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateExtracting:
		return "extracting"
	case StateRepricing:
		return "repricing"
	case StatePersisting:
		return "persisting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
