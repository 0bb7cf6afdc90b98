package coordinator

// SacState is the opaque Single-Active-Consumer sub-machine state the
// coordinator carries but does not interpret. Only its embedding contract
// is specified: apply and handle_down.
type SacState struct {
	// Inner is left opaque; a real SAC sub-machine implementation owns its
	// shape. Kept as a map so migrations can add fields without a schema
	// change here.
	Inner map[string]interface{}
}

// NewSacState returns an empty SAC state, as introduced by the v2->v3
// migration.
func NewSacState() SacState {
	return SacState{Inner: make(map[string]interface{})}
}

// SacMachine embeds the Single-Active-Consumer sub-machine. The coordinator
// owns SacState as an opaque field and delegates sac(...) commands and
// down(pid) notifications relevant to SAC-registered pids here.
type SacMachine interface {
	Apply(cmd interface{}, s SacState) (SacState, interface{}, []interface{})
	HandleDown(pid Pid, s SacState) (SacState, []interface{})
}

// noopSacMachine is the default SacMachine: the sub-machine's own logic is
// out of scope, so it accepts commands without effect and never claims a
// down(pid) as its own.
type noopSacMachine struct{}

// NewNoopSacMachine returns a SacMachine that never mutates state.
func NewNoopSacMachine() SacMachine { return noopSacMachine{} }

func (noopSacMachine) Apply(cmd interface{}, s SacState) (SacState, interface{}, []interface{}) {
	return s, "ok", nil
}

func (noopSacMachine) HandleDown(pid Pid, s SacState) (SacState, []interface{}) {
	return s, nil
}
