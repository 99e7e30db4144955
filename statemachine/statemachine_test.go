package statemachine

import (
	"testing"
)

// fakeSupervisor records Launch/Kill calls instead of spawning anything,
// matching the teacher's style of hand-rolled fakes in container tests
// rather than a generated mock.
type fakeSupervisor struct {
	nextPID int
	killed  []int
	launchedAction string
}

func (f *fakeSupervisor) Launch(ifaceName, action string) (int, error) {
	f.nextPID++
	f.launchedAction = action
	return f.nextPID, nil
}

func (f *fakeSupervisor) Kill(pid int) error {
	f.killed = append(f.killed, pid)
	return nil
}

func TestTransitionFlags_DownToInactive(t *testing.T) {
	sup := &fakeSupervisor{}
	next, err := TransitionFlags(Down{}, "eth0", 0, IFF_UP, sup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := next.(Inactive); !ok {
		t.Errorf("next = %T, want Inactive", next)
	}
}

func TestTransitionFlags_InactiveRunningLaunchesIn(t *testing.T) {
	sup := &fakeSupervisor{}
	next, err := TransitionFlags(Inactive{}, "eth0", IFF_UP, IFF_UP|IFF_RUNNING, sup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inning, ok := next.(Inning)
	if !ok {
		t.Fatalf("next = %T, want Inning", next)
	}
	if inning.Worker != 1 {
		t.Errorf("Worker = %d, want 1", inning.Worker)
	}
	if sup.launchedAction != "in" {
		t.Errorf("launched action = %q, want in", sup.launchedAction)
	}
}

func TestTransitionFlags_ActiveLosesRunningLaunchesOut(t *testing.T) {
	sup := &fakeSupervisor{}
	next, err := TransitionFlags(Active{}, "eth0", IFF_UP|IFF_RUNNING, IFF_UP, sup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	outing, ok := next.(Outing)
	if !ok {
		t.Fatalf("next = %T, want Outing", next)
	}
	if sup.launchedAction != "out" {
		t.Errorf("launched action = %q, want out", sup.launchedAction)
	}
	if outing.Worker != 1 {
		t.Errorf("Worker = %d, want 1", outing.Worker)
	}
}

func TestTransitionFlags_OutingLosesUpGoesDownAndOut(t *testing.T) {
	sup := &fakeSupervisor{}
	next, err := TransitionFlags(Outing{Worker: 42}, "eth0", IFF_UP, 0, sup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dao, ok := next.(DownAndOut)
	if !ok {
		t.Fatalf("next = %T, want DownAndOut", next)
	}
	if dao.Worker != 42 {
		t.Errorf("Worker = %d, want 42 (preserved)", dao.Worker)
	}
}

func TestTransitionFlags_ActiveLosesUpKillsAndProbes(t *testing.T) {
	sup := &fakeSupervisor{}
	// Active carries no worker, so nothing should be killed, but a probe
	// script should still launch for the "all other states" branch.
	next, err := TransitionFlags(Active{}, "eth0", IFF_UP|IFF_RUNNING, IFF_RUNNING, sup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := next.(Probing); !ok {
		t.Fatalf("next = %T, want Probing", next)
	}
	if len(sup.killed) != 0 {
		t.Errorf("killed = %v, want none (Active carries no worker)", sup.killed)
	}
}

func TestTransitionFlags_InningLosesUpKillsWorker(t *testing.T) {
	sup := &fakeSupervisor{}
	next, err := TransitionFlags(Inning{Worker: 7}, "eth0", IFF_UP|IFF_RUNNING, IFF_RUNNING, sup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := next.(Probing); !ok {
		t.Fatalf("next = %T, want Probing", next)
	}
	if len(sup.killed) != 1 || sup.killed[0] != 7 {
		t.Errorf("killed = %v, want [7]", sup.killed)
	}
}

func TestTransitionFlags_NoChangeIsNoop(t *testing.T) {
	sup := &fakeSupervisor{}
	next, err := TransitionFlags(Active{}, "eth0", IFF_UP|IFF_RUNNING, IFF_UP|IFF_RUNNING, sup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := next.(Active); !ok {
		t.Errorf("next = %T, want Active unchanged", next)
	}
	if sup.nextPID != 0 {
		t.Error("no scripts should have launched")
	}
}

func TestTransitionFlags_UnexpectedStateForUp(t *testing.T) {
	sup := &fakeSupervisor{}
	_, err := TransitionFlags(Active{}, "eth0", 0, IFF_UP, sup)
	if err == nil {
		t.Fatal("expected an error for an unreachable UP transition")
	}
}

func TestTransitionExit(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		exitOK  bool
		want    string
		launch  string
	}{
		{"probing exits", Probing{Worker: 1}, true, "DOWN", ""},
		{"probing_up exits", ProbingUp{Worker: 1}, true, "INACTIVE", ""},
		{"downandout exits", DownAndOut{Worker: 1}, true, "PROBING", "probe"},
		{"inning exits ok", Inning{Worker: 1}, true, "ACTIVE", ""},
		{"inning exits bad", Inning{Worker: 1}, false, "INSANE", ""},
		{"outing exits", Outing{Worker: 1}, true, "INACTIVE", ""},
		{"wait_in exits", WaitIn{}, true, "OUTING", "out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup := &fakeSupervisor{}
			next, err := TransitionExit(tt.state, "eth0", tt.exitOK, sup)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if next.Name() != tt.want {
				t.Errorf("next = %s, want %s", next.Name(), tt.want)
			}
			if tt.launch != "" && sup.launchedAction != tt.launch {
				t.Errorf("launched = %q, want %q", sup.launchedAction, tt.launch)
			}
		})
	}
}

func TestTransitionExit_BadStateIsInvariantError(t *testing.T) {
	sup := &fakeSupervisor{}
	for _, s := range []State{Down{}, Inactive{}, Active{}, Insane{}} {
		_, err := TransitionExit(s, "eth0", true, sup)
		if err == nil {
			t.Errorf("%s: expected invariant error, got nil", s.Name())
		}
	}
}

func TestRepoll_DownWithFlagsSetLaunchesProbeOrIn(t *testing.T) {
	sup := &fakeSupervisor{}
	// RUNNING without UP: the interface needs bringing up, so probe.
	next, err := Repoll(Down{}, "eth0", IFF_RUNNING, sup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := next.(Probing); !ok {
		t.Errorf("next = %T, want Probing", next)
	}

	sup = &fakeSupervisor{}
	next, err = Repoll(Down{}, "eth0", IFF_UP|IFF_RUNNING, sup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := next.(Inning); !ok {
		t.Errorf("next = %T, want Inning", next)
	}
}

func TestRepoll_DownWithNoFlagsIsNoop(t *testing.T) {
	sup := &fakeSupervisor{}
	next, err := Repoll(Down{}, "eth0", 0, sup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := next.(Down); !ok {
		t.Errorf("next = %T, want Down unchanged", next)
	}
	if sup.nextPID != 0 {
		t.Error("no scripts should have launched")
	}
}

func TestRepoll_StableStatesAreIdempotent(t *testing.T) {
	sup := &fakeSupervisor{}
	states := []State{Probing{Worker: 1}, ProbingUp{Worker: 1}, WaitIn{}, DownAndOut{Worker: 1}, Insane{}}
	for _, s := range states {
		next, err := Repoll(s, "eth0", IFF_UP|IFF_RUNNING, sup)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", s.Name(), err)
		}
		if next != s {
			t.Errorf("%s: Repoll should be a no-op, got %v", s.Name(), next)
		}
	}
}

func TestWorker(t *testing.T) {
	tests := []struct {
		state   State
		wantPID int
		wantOK  bool
	}{
		{Down{}, 0, false},
		{DownAndOut{Worker: 5}, 5, true},
		{Probing{Worker: 6}, 6, true},
		{ProbingUp{Worker: 7}, 7, true},
		{Inactive{}, 0, false},
		{Inning{Worker: 8}, 8, true},
		{WaitIn{}, 0, false},
		{Active{}, 0, false},
		{Outing{Worker: 9}, 9, true},
		{Insane{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.Name(), func(t *testing.T) {
			pid, ok := Worker(tt.state)
			if pid != tt.wantPID || ok != tt.wantOK {
				t.Errorf("Worker(%v) = (%d, %v), want (%d, %v)", tt.state, pid, ok, tt.wantPID, tt.wantOK)
			}
		})
	}
}
