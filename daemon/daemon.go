// Package daemon wires the netlink feed, the pattern-matched interface
// table, the state machine, and the helper-script supervisor together
// into netplugd's main event loop.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"netplugd/iface"
	"netplugd/logging"
	"netplugd/netlink"
	"netplugd/pattern"
	"netplugd/statemachine"
	"netplugd/supervisor"
)

// DefaultRepollInterval is how often the daemon re-reads every matched
// interface's flags from the kernel as a backstop against a missed or
// coalesced netlink event, mirroring poll_interfaces being called once
// per trip around the main loop.
const DefaultRepollInterval = 1 * time.Second

// Config carries the daemon's startup options, the Go-side analogue of
// main.c's getopt-parsed globals.
type Config struct {
	// Script is the helper program run for probe/in/out actions.
	Script string
	// PidFilePath is where to record this process's pid, or "" to skip it.
	PidFilePath string
	// Probe, if true, autoprobes interfaces matching a literal or
	// partially-literal pattern at startup.
	Probe bool
	// RepollInterval overrides DefaultRepollInterval if non-zero.
	RepollInterval time.Duration
}

// flagGetter is the narrow kernel-query surface Daemon needs to back up
// netlink with a periodic ioctl poll; an interface so tests can supply a
// fake instead of a real socket.
type flagGetter interface {
	Flags(name string) (uint32, error)
}

// helperRunner is the narrow view of *supervisor.Supervisor the event
// loop and autoprobe need: an interface so tests can supply a fake that
// doesn't fork real processes.
type helperRunner interface {
	Launch(ifaceName, action string) (int, error)
	Kill(pid int) error
	Probe(ifaceName string) bool
}

// Daemon owns every long-lived resource netplugd needs and runs the main
// event loop over them.
type Daemon struct {
	cfg      Config
	nl       *netlink.Socket
	table    *iface.Table
	patterns *pattern.Set
	sup      helperRunner
	reaper   *supervisor.Reaper
	flags    flagGetter
	pidFile  *PidFile
	log      *slog.Logger
}

// New opens the netlink socket and the kernel ioctl socket, and wires up
// a Supervisor and Reaper for cfg.Script. Call Close when done.
func New(cfg Config, patterns *pattern.Set) (*Daemon, error) {
	if cfg.RepollInterval == 0 {
		cfg.RepollInterval = DefaultRepollInterval
	}

	nl, err := netlink.Open()
	if err != nil {
		return nil, err
	}

	kf, err := newKernelFlags()
	if err != nil {
		nl.Close()
		return nil, err
	}

	reaper := supervisor.NewReaper()
	sup := supervisor.New(cfg.Script, reaper)

	return &Daemon{
		cfg:      cfg,
		nl:       nl,
		table:    iface.NewTable(),
		patterns: patterns,
		sup:      sup,
		reaper:   reaper,
		flags:    kf,
		pidFile:  NewPidFile(cfg.PidFilePath),
		log:      logging.Default(),
	}, nil
}

// Close releases the daemon's sockets and background goroutines, and
// removes any pid file this process wrote.
func (d *Daemon) Close() error {
	d.reaper.Stop()
	err := d.nl.Close()
	if kf, ok := d.flags.(*kernelFlags); ok {
		kf.Close()
	}
	if pidErr := d.pidFile.Remove(); pidErr != nil && err == nil {
		err = pidErr
	}
	return err
}

// Run seeds the interface table from an initial dump, writes the pid
// file, autoprobes if configured, and then services netlink events,
// reaped helper exits, and the periodic repoll ticker until ctx is
// cancelled or an unrecoverable error occurs, mirroring main's
// dump-then-poll-loop structure.
func (d *Daemon) Run(ctx context.Context) error {
	seq, err := d.nl.RequestDump()
	if err != nil {
		return err
	}
	if err := d.nl.Dump(seq, d.observeDump); err != nil {
		return err
	}

	if err := d.pidFile.Write(); err != nil {
		d.log.Warn("could not write pid file", "error", err)
	}

	if d.cfg.Probe {
		probed, unprobeable := d.patterns.Probe(d.sup)
		d.log.Info("autoprobe complete", "probed", probed, "unprobeable", unprobeable)
	}

	d.initialRepoll()

	msgCh := make(chan netlink.LinkMessage, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.nl.Listen(func(msg netlink.LinkMessage) error {
			select {
			case msgCh <- msg:
			case <-ctx.Done():
			}
			return nil
		})
	}()

	ticker := time.NewTicker(d.cfg.RepollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg := <-msgCh:
			if err := d.observe(msg); err != nil {
				d.log.Error("failed to process link event", "interface", msg.Name, "error", err)
			}

		case exit := <-d.reaper.Exits():
			if err := d.onExit(exit); err != nil {
				d.log.Error("failed to process helper exit", "pid", exit.PID, "error", err)
			}

		case <-ticker.C:
			d.repollAll()

		case err := <-errCh:
			return err
		}
	}
}

// observeDump applies one frame of the initial interface dump to the
// table without running it through the state machine: the dump only
// establishes starting flags, it isn't itself a flag change.
func (d *Daemon) observeDump(msg netlink.LinkMessage) error {
	if msg.Flags&unix.IFF_LOOPBACK != 0 {
		return nil
	}
	rec, _ := d.table.GetOrCreate(msg.Index)
	rec.Flags = msg.Flags
	rec.Update(msg.Name, msg.Type, msg.Address)
	return nil
}

// observe applies a live NEWLINK/DELLINK event to its record, mirroring
// handle_interface: loopback interfaces are ignored outright, and an
// interface whose name doesn't match any configured pattern is logged
// and otherwise left alone.
func (d *Daemon) observe(msg netlink.LinkMessage) error {
	if msg.Flags&unix.IFF_LOOPBACK != 0 {
		return nil
	}
	if !d.patterns.Matches(msg.Name) {
		d.log.Info("ignoring event", "interface", msg.Name)
		return nil
	}

	rec, _ := d.table.GetOrCreate(msg.Index)
	oldFlags := rec.Flags

	next, err := statemachine.TransitionFlags(rec.State, msg.Name, oldFlags, msg.Flags, d.sup)
	rec.Flags = msg.Flags
	rec.Update(msg.Name, msg.Type, msg.Address)
	if oldFlags&(unix.IFF_UP|unix.IFF_RUNNING) != msg.Flags&(unix.IFF_UP|unix.IFF_RUNNING) {
		rec.LastChange = time.Now().Unix()
	}
	if err != nil {
		return err
	}
	rec.State = next
	return nil
}

// onExit applies a reaped helper's exit to whichever record was waiting
// on that pid, mirroring ifsm_scriptdone's for_each_iface(find_pid) scan.
// A pid nothing is waiting on (already handled, or a zombie from this
// process's own exec machinery) is not an error.
func (d *Daemon) onExit(exit supervisor.Exit) error {
	rec := d.table.FindByWorker(exit.PID)
	if rec == nil {
		return nil
	}

	next, err := statemachine.TransitionExit(rec.State, rec.Name, exit.ExitOK(), d.sup)
	if err != nil {
		return err
	}
	rec.State = next
	return nil
}

// initialRepoll runs every matched interface through Repoll using the
// flags the dump already established, mirroring the one-shot
// for_each_iface(poll_flags) call made just before main's loop starts.
func (d *Daemon) initialRepoll() {
	d.table.ForEach(func(r *iface.Record) bool {
		if !d.patterns.Matches(r.Name) {
			return true
		}
		next, err := statemachine.Repoll(r.State, r.Name, r.Flags, d.sup)
		if err != nil {
			d.log.Error("repoll failed", "interface", r.Name, "error", err)
			return true
		}
		r.State = next
		return true
	})
}

// repollAll re-reads every matched interface's flags from the kernel and
// runs both a flag-change and a repoll against the state machine,
// mirroring poll_interfaces: a netlink notification can be coalesced or
// simply missed, so this is the backstop that catches up regardless.
func (d *Daemon) repollAll() {
	d.table.ForEach(func(r *iface.Record) bool {
		if !d.patterns.Matches(r.Name) {
			return true
		}

		newFlags, err := d.flags.Flags(r.Name)
		if err != nil {
			d.log.Error("can't get flags", "interface", r.Name, "error", err)
			return true
		}

		next, err := statemachine.TransitionFlags(r.State, r.Name, r.Flags, newFlags, d.sup)
		if r.Flags&(unix.IFF_UP|unix.IFF_RUNNING) != newFlags&(unix.IFF_UP|unix.IFF_RUNNING) {
			r.LastChange = time.Now().Unix()
		}
		r.Flags = newFlags
		if err != nil {
			d.log.Error("repoll flag change failed", "interface", r.Name, "error", err)
			return true
		}
		r.State = next

		next, err = statemachine.Repoll(r.State, r.Name, r.Flags, d.sup)
		if err != nil {
			d.log.Error("repoll failed", "interface", r.Name, "error", err)
			return true
		}
		r.State = next
		return true
	})
}
