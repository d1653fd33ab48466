package orchestrator

import "fmt"

// State is a step of the bootstrap state machine. Transitions are linear:
// AwaitingDependencies, CheckingLedger, RunningStages, HandingOff, then one
// of the terminal states.
type State int

const (
	AwaitingDependencies State = iota
	CheckingLedger
	RunningStages
	HandingOff
	Completed
	Failed
)

// States lists every state in transition order.
var States = []State{AwaitingDependencies, CheckingLedger, RunningStages, HandingOff, Completed, Failed}

func (s State) String() string {
	switch s {
	case AwaitingDependencies:
		return "awaiting_dependencies"
	case CheckingLedger:
		return "checking_ledger"
	case RunningStages:
		return "running_stages"
	case HandingOff:
		return "handing_off"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Policy decides how the ledger is consulted.
type Policy string

const (
	// PolicyOnce runs the stages at most once per deployment.
	PolicyOnce Policy = "once"
	// PolicyAlways runs the stages on every start. Only allowed when every
	// stage is idempotent.
	PolicyAlways Policy = "always"
)

// ParsePolicy maps a plan value onto a Policy, empty meaning once.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyOnce:
		return PolicyOnce, nil
	case PolicyAlways:
		return PolicyAlways, nil
	default:
		return "", fmt.Errorf("unknown policy %q (want %q or %q)", s, PolicyOnce, PolicyAlways)
	}
}
