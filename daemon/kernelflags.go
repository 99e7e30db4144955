package daemon

import (
	"golang.org/x/sys/unix"

	"netplugd/errors"
)

// kernelFlags backs flagGetter with a real SIOCGIFFLAGS ioctl over a
// dummy AF_INET/SOCK_DGRAM socket, mirroring poll_interfaces's
// once-opened, close-on-exec socket used purely as an ioctl handle.
type kernelFlags struct {
	fd int
}

// newKernelFlags opens the ioctl socket.
func newKernelFlags() (*kernelFlags, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_IP)
	if err != nil {
		return nil, errors.WrapWithDetail(err, errors.ErrKernel, "newKernelFlags", "can't create interface socket")
	}
	if _, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); errno != 0 {
		unix.Close(fd)
		return nil, errors.WrapWithDetail(errno, errors.ErrKernel, "newKernelFlags", "could not set close-on-exec")
	}
	return &kernelFlags{fd: fd}, nil
}

// Flags reads name's current IFF_* flag word via SIOCGIFFLAGS, mirroring
// poll_interfaces's ioctl call.
func (k *kernelFlags) Flags(name string) (uint32, error) {
	flags, err := unix.IoctlGetIfreqFlags(k.fd, name)
	if err != nil {
		return 0, errors.WrapWithDetail(err, errors.ErrKernel, "Flags", "can't get flags for "+name)
	}
	return uint32(flags), nil
}

// Close releases the ioctl socket.
func (k *kernelFlags) Close() error {
	return unix.Close(k.fd)
}
