// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Kernel transport errors (spec §4.1, §7).
var (
	// ErrSocketOpen indicates the rtnetlink socket could not be opened or bound.
	ErrSocketOpen = &DaemonError{
		Kind:   ErrKernel,
		Detail: "could not open or bind netlink socket",
	}

	// ErrMalformedFrame indicates a truncated or length-inconsistent netlink frame.
	ErrMalformedFrame = &DaemonError{
		Kind:   ErrKernel,
		Detail: "malformed netlink frame",
	}

	// ErrAlienSender indicates a datagram with a sender address of the wrong size.
	ErrAlienSender = &DaemonError{
		Kind:   ErrKernel,
		Detail: "unexpected sender address length",
	}

	// ErrKernelReply indicates an NLMSG_ERROR reply during the initial dump.
	ErrKernelReply = &DaemonError{
		Kind:   ErrKernel,
		Detail: "error reply from rtnetlink",
	}
)

// Configuration errors (spec §6).
var (
	// ErrBadPattern indicates a glob pattern that fails to glob-evaluate.
	ErrBadPattern = &DaemonError{
		Kind:   ErrPattern,
		Detail: "bad pattern",
	}

	// ErrUnknownFlag indicates an unrecognized command-line flag.
	ErrUnknownFlag = &DaemonError{
		Kind:   ErrConfig,
		Detail: "unknown flag",
	}
)

// Supervisor errors (spec §4.4, §7).
var (
	// ErrForkExec indicates a fork/exec failure launching a helper.
	ErrForkExec = &DaemonError{
		Kind:   ErrSupervisor,
		Detail: "failed to launch helper",
	}

	// ErrSignalDelivery indicates a failure delivering a signal to a helper group.
	ErrSignalDelivery = &DaemonError{
		Kind:   ErrSupervisor,
		Detail: "failed to signal helper group",
	}
)

// State-machine invariant errors (spec §4.5, §7 — "programming error").
var (
	// ErrUnexpectedState indicates a flag-change or script-termination
	// transition reached a state the specification does not allow.
	ErrUnexpectedState = &DaemonError{
		Kind:   ErrInvariant,
		Detail: "unexpected state for transition",
	}
)

// Resource errors (pid file, self-pipe).
var (
	// ErrPidFile indicates a failure writing or removing the pid file.
	ErrPidFile = &DaemonError{
		Kind:   ErrResource,
		Detail: "pid file error",
	}
)
