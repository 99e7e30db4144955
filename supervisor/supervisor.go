// Package supervisor launches the external helper script for a link
// event, tracks its process group, and reaps its exit asynchronously.
//
// The helper always runs as NP_SCRIPT <ifname> <probe|in|out>, forked
// into its own process group so a synchronous group-kill can stop it
// (and anything it spawned) without touching the daemon's own group.
package supervisor

import (
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"netplugd/errors"
	"netplugd/logging"
)

// DefaultScript is the helper script path, analogous to NP_SCRIPT.
const DefaultScript = "/etc/netplug/netplug"

// GracePeriod is how long Kill waits after SIGTERM before escalating to
// SIGKILL, matching kill_script's one-second sleep.
const GracePeriod = 1 * time.Second

// Exit is a reaped child's pid and wait status, the typed record a
// Reaper delivers in place of doing anything inside a signal handler.
type Exit struct {
	PID    int
	Status unix.WaitStatus
}

// ExitOK reports whether the child exited with status zero.
func (e Exit) ExitOK() bool {
	return e.Status.Exited() && e.Status.ExitStatus() == 0
}

// Reaper asynchronously collects helper exits and delivers them on a
// channel as typed Exit values. It renders the self-pipe trick in Go:
// os/signal.Notify is itself the async-signal-safe boundary, so no
// hand-rolled pipe is needed to get signal delivery out of a handler.
//
// mu also doubles as the mutual-exclusion device between this
// background reaping and Supervisor.Kill's own synchronous wait4 on a
// specific pid — the direct equivalent of kill_script blocking SIGCHLD
// before it waits.
type Reaper struct {
	mu     sync.Mutex
	sigCh  chan os.Signal
	exitCh chan Exit
	stopCh chan struct{}
}

// NewReaper starts a goroutine that wakes on SIGCHLD and reaps every
// exited child with a non-blocking wait4, delivering each as an Exit on
// the returned channel. Call Stop to shut it down.
func NewReaper() *Reaper {
	r := &Reaper{
		sigCh:  make(chan os.Signal, 1),
		exitCh: make(chan Exit, 16),
		stopCh: make(chan struct{}),
	}
	signal.Notify(r.sigCh, syscall.SIGCHLD)
	go r.run()
	return r
}

// Exits returns the channel Exit values are delivered on.
func (r *Reaper) Exits() <-chan Exit {
	return r.exitCh
}

// Stop stops watching for SIGCHLD and terminates the reaper goroutine.
func (r *Reaper) Stop() {
	signal.Stop(r.sigCh)
	close(r.stopCh)
}

func (r *Reaper) run() {
	for {
		select {
		case <-r.stopCh:
			return
		case <-r.sigCh:
			r.reapAll()
		}
	}
}

// reapAll drains every currently-exited child with WNOHANG, since a
// single SIGCHLD can coalesce more than one exit.
func (r *Reaper) reapAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		r.exitCh <- Exit{PID: pid, Status: status}
	}
}

// suspend blocks out a concurrent reapAll for the duration of a
// synchronous wait elsewhere (Kill), so the background reaper can't
// steal the very exit Kill is waiting on. A nil Reaper (tests, or a
// Supervisor used without one) is a no-op.
func (r *Reaper) suspend() func() {
	if r == nil {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// Supervisor launches and reaps the helper script for interface events.
type Supervisor struct {
	script string
	reaper *Reaper
}

// New returns a Supervisor that launches scriptPath for every action. An
// empty scriptPath uses DefaultScript. reaper may be nil if the caller
// does not need asynchronous reaping (e.g. in tests that only exercise
// Launch/Kill directly).
func New(scriptPath string, reaper *Reaper) *Supervisor {
	if scriptPath == "" {
		scriptPath = DefaultScript
	}
	return &Supervisor{script: scriptPath, reaper: reaper}
}

// Launch forks the helper script for ifaceName and action ("probe",
// "in", or "out") into its own process group and returns its pid
// without waiting for it, mirroring run_netplug_bg.
func (s *Supervisor) Launch(ifaceName, action string) (int, error) {
	cmd := exec.Command(s.script, ifaceName, action)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, errors.WrapWithInterface(err, errors.ErrSupervisor, "Launch", ifaceName)
	}

	logging.Default().Info("launched helper",
		"interface", ifaceName, "action", action, "pid", cmd.Process.Pid)

	// The child is detached from this *exec.Cmd; its exit is collected
	// by the Reaper's own wait4 loop, not cmd.Wait, so the process
	// table entry doesn't leak waiting on a Wait nobody calls.
	return cmd.Process.Pid, nil
}

// Probe synchronously runs the helper script for ifaceName with action
// "probe" and reports whether it exited zero, mirroring try_probe's use
// of run_netplug. The Reaper is suspended for the duration, the same as
// Kill, so its background wait4 can't steal this child's exit out from
// under cmd.Wait and turn a successful probe into a reported ECHILD
// failure.
func (s *Supervisor) Probe(ifaceName string) bool {
	resume := s.reaper.suspend()
	defer resume()

	cmd := exec.Command(s.script, ifaceName, "probe")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd.Run() == nil
}

// Kill synchronously stops the process group led by pid: SIGTERM, sleep
// for GracePeriod, then, if the leader has not exited, SIGKILL and a
// final blocking wait. The
// Reaper's background collection is suspended for the duration so it
// can't steal the exit out from under this synchronous wait, mirroring
// kill_script's SIGCHLD-blocking.
func (s *Supervisor) Kill(pid int) error {
	if pid <= 0 {
		return nil
	}

	resume := s.reaper.suspend()
	defer resume()

	if err := unix.Kill(-pid, unix.SIGTERM); err != nil {
		return errors.WrapWithDetail(err, errors.ErrSupervisor, "Kill", "SIGTERM to process group failed")
	}

	time.Sleep(GracePeriod)

	var status unix.WaitStatus
	ret, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrSupervisor, "Kill", "wait4 failed")
	}
	if ret == 0 {
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
			return errors.WrapWithDetail(err, errors.ErrSupervisor, "Kill", "SIGKILL to process group failed")
		}
		if _, err := unix.Wait4(pid, &status, 0, nil); err != nil {
			return errors.WrapWithDetail(err, errors.ErrSupervisor, "Kill", "wait4 after SIGKILL failed")
		}
	}

	return nil
}
