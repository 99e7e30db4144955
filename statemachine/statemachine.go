// Package statemachine implements the per-interface finite state
// machine: the states an interface can be in, and the three kinds of
// event that move it between them (an edge-triggered flag change, a
// helper script exiting, and the level-triggered re-poll used to seed
// state for interfaces the daemon has not seen flap).
//
// States are rendered as a sum type: an interface with one
// implementation per state, each carrying exactly the payload that
// state needs. A state either has a running helper (and so carries its
// pid) or it doesn't — there is no separate "worker" field that could
// drift out of sync with the state, because the type system doesn't
// allow constructing, say, Active with a worker pid attached.
package statemachine

import (
	"fmt"

	"golang.org/x/sys/unix"

	"netplugd/errors"
)

// IFF_* flag bits this package inspects. Named locally (rather than
// imported per use-site) because the state machine's transition rules
// are defined entirely in terms of these two bits.
const (
	IFF_UP      = unix.IFF_UP
	IFF_RUNNING = unix.IFF_RUNNING
)

// State is implemented by every state-machine state. It is a closed sum
// type: only the variants in this package implement it.
type State interface {
	state()
	// Name returns the state's name, for logging.
	Name() string
}

// Down is the initial state, and the state a Probing interface returns
// to when its probe script exits: the interface is administratively
// down and no helper is running.
type Down struct{}

// DownAndOut is an interface whose "out" script is still running after
// the interface has already gone administratively down.
type DownAndOut struct{ Worker int }

// Probing is an interface with a "probe" script running, trying to
// coax the link up.
type Probing struct{ Worker int }

// ProbingUp is a Probing interface whose UP flag came back while the
// probe script was still running.
type ProbingUp struct{ Worker int }

// Inactive is an administratively up interface with no carrier and no
// helper running.
type Inactive struct{}

// Inning is an interface with an "in" script running after carrier
// appeared.
type Inning struct{ Worker int }

// WaitIn is an Inning interface whose carrier dropped before the "in"
// script finished; the "out" script will run as soon as it does.
type WaitIn struct{}

// Active is an interface with carrier and no helper running: the
// interface is fully plugged in.
type Active struct{}

// Outing is an interface with an "out" script running after carrier
// was lost.
type Outing struct{ Worker int }

// Insane is a quarantined interface: flapped too fast for its scripts
// to make sense of. There is no automatic exit from this state; nothing
// in this daemon clears it once entered.
type Insane struct{}

func (Down) state()       {}
func (DownAndOut) state() {}
func (Probing) state()    {}
func (ProbingUp) state()  {}
func (Inactive) state()   {}
func (Inning) state()     {}
func (WaitIn) state()     {}
func (Active) state()     {}
func (Outing) state()     {}
func (Insane) state()     {}

func (Down) Name() string       { return "DOWN" }
func (DownAndOut) Name() string { return "DOWNANDOUT" }
func (Probing) Name() string    { return "PROBING" }
func (ProbingUp) Name() string  { return "PROBING_UP" }
func (Inactive) Name() string   { return "INACTIVE" }
func (Inning) Name() string     { return "INNING" }
func (WaitIn) Name() string     { return "WAIT_IN" }
func (Active) Name() string     { return "ACTIVE" }
func (Outing) Name() string     { return "OUTING" }
func (Insane) Name() string     { return "INSANE" }

// Worker returns the running helper pid carried by s, if s is a variant
// that has one running.
func Worker(s State) (int, bool) {
	switch v := s.(type) {
	case DownAndOut:
		return v.Worker, true
	case Probing:
		return v.Worker, true
	case ProbingUp:
		return v.Worker, true
	case Inning:
		return v.Worker, true
	case Outing:
		return v.Worker, true
	default:
		return 0, false
	}
}

// Supervisor is the narrow view of the child-process supervisor the
// state machine needs: launch a helper script for an action and get its
// pid back, or synchronously kill one off.
type Supervisor interface {
	Launch(ifaceName, action string) (pid int, err error)
	Kill(pid int) error
}

// TransitionFlags applies an edge-triggered flag change (UP or RUNNING
// flipping) to state, launching or killing helper scripts as needed.
// It is a no-op if neither bit changed.
func TransitionFlags(state State, name string, oldFlags, newFlags uint32, sup Supervisor) (State, error) {
	changed := (oldFlags ^ newFlags) & (IFF_RUNNING | IFF_UP)
	if changed == 0 {
		return state, nil
	}

	next := state

	if changed&IFF_UP != 0 {
		if newFlags&IFF_UP != 0 {
			switch state.(type) {
			case Down:
				next = Inactive{}
			case Probing:
				next = ProbingUp{Worker: state.(Probing).Worker}
			default:
				return state, errors.WrapWithInterface(
					fmt.Errorf("unexpected state %s for UP", state.Name()),
					errors.ErrInvariant, "TransitionFlags", name)
			}
		} else {
			switch v := state.(type) {
			case Outing:
				next = DownAndOut{Worker: v.Worker}
			case Down:
				// already down
			case Probing:
				// already probing, don't do anything rash
			case ProbingUp:
				next = Probing{Worker: v.Worker}
			default:
				if w, ok := Worker(state); ok {
					if err := sup.Kill(w); err != nil {
						return state, err
					}
				}
				pid, err := sup.Launch(name, "probe")
				if err != nil {
					return state, err
				}
				next = Probing{Worker: pid}
			}
		}
	}

	if changed&IFF_RUNNING != 0 {
		switch next.(type) {
		case Inactive:
			pid, err := sup.Launch(name, "in")
			if err != nil {
				return state, err
			}
			next = Inning{Worker: pid}
		case Inning:
			next = WaitIn{}
		case Active:
			pid, err := sup.Launch(name, "out")
			if err != nil {
				return state, err
			}
			next = Outing{Worker: pid}
		default:
			// WaitIn, Outing, Probing, ProbingUp, Insane, Down, and
			// DownAndOut are all unaffected by RUNNING changing.
		}
	}

	return next, nil
}

// TransitionExit applies a helper script's termination to state,
// chaining into the next helper launch where the state machine calls
// for one. exitOK reports whether the script exited zero.
func TransitionExit(state State, name string, exitOK bool, sup Supervisor) (State, error) {
	switch v := state.(type) {
	case Probing:
		return Down{}, nil

	case ProbingUp:
		return Inactive{}, nil

	case DownAndOut:
		pid, err := sup.Launch(name, "probe")
		if err != nil {
			return state, err
		}
		return Probing{Worker: pid}, nil

	case Inning:
		if exitOK {
			return Active{}, nil
		}
		return Insane{}, nil

	case Outing:
		return Inactive{}, nil

	case WaitIn:
		pid, err := sup.Launch(name, "out")
		if err != nil {
			return state, err
		}
		return Outing{Worker: pid}, nil

	default:
		return state, errors.WrapWithInterface(
			fmt.Errorf("bad state %s for script termination", v.Name()),
			errors.ErrInvariant, "TransitionExit", name)
	}
}

// Repoll re-evaluates state against the interface's current flags,
// seeding a helper launch for interfaces the daemon is seeing for the
// first time (or re-checking after a re-poll) rather than via an edge
// trigger.
func Repoll(state State, name string, flags uint32, sup Supervisor) (State, error) {
	switch v := state.(type) {
	case Down:
		if flags&(IFF_UP|IFF_RUNNING) == 0 {
			return state, nil
		}
		return repollInactiveLike(name, flags, sup)

	case Inactive:
		return repollInactiveLike(name, flags, sup)

	case Probing, ProbingUp, WaitIn, DownAndOut, Insane:
		return state, nil

	case Inning:
		if flags&IFF_RUNNING == 0 {
			return WaitIn{}, nil
		}
		return state, nil

	case Active:
		if flags&IFF_RUNNING == 0 {
			pid, err := sup.Launch(name, "out")
			if err != nil {
				return state, err
			}
			return Outing{Worker: pid}, nil
		}
		return state, nil

	case Outing:
		if flags&IFF_UP == 0 {
			return DownAndOut{Worker: v.Worker}, nil
		}
		return state, nil

	default:
		return state, nil
	}
}

func repollInactiveLike(name string, flags uint32, sup Supervisor) (State, error) {
	if flags&IFF_UP == 0 {
		pid, err := sup.Launch(name, "probe")
		if err != nil {
			return Inactive{}, err
		}
		return Probing{Worker: pid}, nil
	}
	if flags&IFF_RUNNING != 0 {
		pid, err := sup.Launch(name, "in")
		if err != nil {
			return Inactive{}, err
		}
		return Inning{Worker: pid}, nil
	}
	return Inactive{}, nil
}
