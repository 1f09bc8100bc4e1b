package settlement

// State 结算状态机
type State string

const (
	StateValidating   State = "validating"
	StatePendingWrite State = "pending_write"
	StateStreaming    State = "streaming"
	StateSettling     State = "settling"
	StateDone         State = "done"
	StateAborting     State = "aborting"
)

var transitions = map[State][]State{
	StateValidating:   {StatePendingWrite},
	StatePendingWrite: {StateStreaming, StateAborting},
	StateStreaming:    {StateSettling, StateAborting},
	StateSettling:     {StateDone, StateAborting},
}

// CanTransition 判断状态流转是否合法
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
