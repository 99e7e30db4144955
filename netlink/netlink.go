// Package netlink speaks just enough of the rtnetlink wire protocol to
// track link-level (IFLA) events: opening and binding an RTMGRP_LINK
// socket, requesting and receiving the initial interface dump, and
// decoding NEWLINK/DELLINK frames into attribute tables.
//
// Frames are decoded by hand rather than through a netlink client
// library: the length-tagged nlmsghdr/ifinfomsg/rtattr framing is the
// one piece of this daemon that earns raw syscalls.
package netlink

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"netplugd/errors"
	"netplugd/logging"
)

// Message types this package cares about, from linux/rtnetlink.h.
const (
	RTM_NEWLINK = 16
	RTM_DELLINK = 17
	RTM_GETLINK = 18
)

// nlmsghdr flags for the initial dump request.
const (
	NLM_F_REQUEST = 0x1
	NLM_F_ROOT    = 0x100
	NLM_F_MATCH   = 0x200
)

const (
	nlmsgAlignTo = 4
	nlmsgHdrLen  = 16 // struct nlmsghdr: len(4) type(2) flags(2) seq(4) pid(4)
	ifinfoLen    = 16 // struct ifinfomsg: family(1) pad(1) type(2) index(4) flags(4) change(4)
	rtattrHdrLen = 4  // struct rtattr: len(2) type(2)
)

// IFLA attribute ids this package decodes.
const (
	IFLA_ADDRESS = 1
	IFLA_IFNAME  = 3
)

func nlmsgAlign(n int) int {
	return (n + nlmsgAlignTo - 1) &^ (nlmsgAlignTo - 1)
}

// Header is the decoded nlmsghdr of one netlink message.
type Header struct {
	Len   uint32
	Type  uint16
	Flags uint16
	Seq   uint32
	PID   uint32
}

// LinkMessage is a decoded RTM_NEWLINK/RTM_DELLINK payload: the fixed
// ifinfomsg fields plus the attributes this daemon needs.
type LinkMessage struct {
	Header  Header
	Index   int32
	Type    uint16
	Flags   uint32
	Name    string
	Address []byte
}

// Socket is an open, bound AF_NETLINK/NETLINK_ROUTE socket subscribed to
// RTMGRP_LINK.
type Socket struct {
	fd  int
	seq uint32
}

// Open creates and binds an rtnetlink socket subscribed to link-state
// change notifications, mirroring netlink_open's sequence of socket,
// close-on-exec, bind, and getsockname sanity checks.
func Open() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, errors.WrapWithDetail(err, errors.ErrKernel, "open", "could not create netlink socket")
	}

	if _, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); errno != 0 {
		unix.Close(fd)
		return nil, errors.WrapWithDetail(errno, errors.ErrKernel, "open", "could not set close-on-exec")
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: unix.RTMGRP_LINK}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, errors.WrapWithDetail(err, errors.ErrKernel, "open", "could not bind netlink socket")
	}

	got, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, errors.WrapWithDetail(err, errors.ErrKernel, "open", "could not get socket details")
	}
	if _, ok := got.(*unix.SockaddrNetlink); !ok {
		unix.Close(fd)
		return nil, errors.WrapWithDetail(fmt.Errorf("%T", got), errors.ErrKernel, "open", "the kernel gave us an insane address family")
	}

	return &Socket{fd: fd}, nil
}

// Fd returns the underlying file descriptor, for use in a select/poll
// loop alongside other event sources.
func (s *Socket) Fd() int {
	return s.fd
}

// Close releases the socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// RequestDump sends an RTM_GETLINK dump request and returns the sequence
// number the kernel will echo back on every reply frame.
func (s *Socket) RequestDump() (uint32, error) {
	s.seq++
	seq := s.seq

	req := make([]byte, nlmsgHdrLen+4) // + rtgenmsg (family + 3 pad bytes)
	binary.LittleEndian.PutUint32(req[0:4], uint32(len(req)))
	binary.LittleEndian.PutUint16(req[4:6], RTM_GETLINK)
	binary.LittleEndian.PutUint16(req[6:8], NLM_F_ROOT|NLM_F_MATCH|NLM_F_REQUEST)
	binary.LittleEndian.PutUint32(req[8:12], seq)
	binary.LittleEndian.PutUint32(req[12:16], 0)
	req[16] = unix.AF_UNSPEC

	to := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	if err := unix.Sendto(s.fd, req, 0, to); err != nil {
		return 0, errors.WrapWithDetail(err, errors.ErrKernel, "dump", "could not request interface dump")
	}
	return seq, nil
}

// frame is one raw netlink message plus the decoded header, as handed to
// the done/skip bookkeeping in Listen and Dump.
type frame struct {
	hdr  Header
	body []byte
}

// receive performs one recvfrom and validates the sender, mirroring
// netlink.c's receive(): EINTR is retried, a non-kernel sender is dropped
// and the caller is told to keep listening, and a transient overrun
// (ENOBUFS) is logged and also leaves the caller listening rather than
// tearing down the loop.
func (s *Socket) receive(buf []byte) (n int, ok bool, err error) {
	for {
		nn, from, rerr := unix.Recvfrom(s.fd, buf, 0)
		if rerr != nil {
			if rerr == unix.EINTR {
				continue
			}
			if rerr == unix.ENOBUFS {
				logging.Warn("netlink receive overrun, continuing", "error", rerr)
				return 0, false, nil
			}
			return 0, false, errors.Wrap(rerr, errors.ErrKernel, "receive")
		}
		if nn == 0 {
			return 0, false, errors.WrapWithDetail(nil, errors.ErrKernel, "receive", "unexpected EOF on netlink")
		}

		nl, ok := from.(*unix.SockaddrNetlink)
		if !ok {
			return 0, false, errors.ErrAlienSender
		}
		if nl.Pid != 0 {
			logging.Warn("dropping netlink packet from non-kernel sender", "pid", nl.Pid)
			return 0, false, nil
		}
		return nn, true, nil
	}
}

// splitFrames walks a raw netlink read, decoding each nlmsghdr in turn
// and handing the remaining payload to fn. fn returns false to stop
// iterating without error (e.g. NLMSG_DONE).
func splitFrames(buf []byte, fn func(Header, []byte) (cont bool, err error)) error {
	for len(buf) >= nlmsgHdrLen {
		length := int(binary.LittleEndian.Uint32(buf[0:4]))
		if length < nlmsgHdrLen || length > len(buf) {
			return errors.ErrMalformedFrame
		}

		hdr := Header{
			Len:   uint32(length),
			Type:  binary.LittleEndian.Uint16(buf[4:6]),
			Flags: binary.LittleEndian.Uint16(buf[6:8]),
			Seq:   binary.LittleEndian.Uint32(buf[8:12]),
			PID:   binary.LittleEndian.Uint32(buf[12:16]),
		}

		cont, err := fn(hdr, buf[nlmsgHdrLen:length])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}

		adv := nlmsgAlign(length)
		if adv > len(buf) {
			break
		}
		buf = buf[adv:]
	}
	return nil
}

// Callback is invoked once per decoded link message during Listen or Dump.
type Callback func(LinkMessage) error

// Dump reads dump replies until NLMSG_DONE, matching each frame's
// sequence number against seq and stopping on the first NLMSG_ERROR,
// mirroring netlink_receive_dump.
func (s *Socket) Dump(seq uint32, cb Callback) error {
	buf := make([]byte, 8192)

	for {
		n, ok, err := s.receive(buf)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		done := false
		err = splitFrames(buf[:n], func(hdr Header, body []byte) (bool, error) {
			if hdr.Seq != seq {
				return true, nil // skip junk, keep scanning this batch
			}
			if hdr.Type == unix.NLMSG_DONE {
				done = true
				return false, nil
			}
			if hdr.Type == unix.NLMSG_ERROR {
				return false, decodeNlmsgerr(body)
			}
			return true, decodeAndDispatch(hdr, body, cb)
		})
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Listen reads link-state notifications forever, dispatching each
// RTM_NEWLINK/RTM_DELLINK frame to cb, mirroring netlink_listen.
func (s *Socket) Listen(cb Callback) error {
	buf := make([]byte, 8192)

	for {
		n, ok, err := s.receive(buf)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if err := splitFrames(buf[:n], func(hdr Header, body []byte) (bool, error) {
			return true, decodeAndDispatch(hdr, body, cb)
		}); err != nil {
			return err
		}
	}
}

func decodeNlmsgerr(body []byte) error {
	if len(body) < 4 {
		return errors.WrapWithDetail(nil, errors.ErrKernel, "dump", "netlink message truncated")
	}
	code := int32(binary.LittleEndian.Uint32(body[0:4]))
	return errors.WrapWithDetail(fmt.Errorf("errno %d", -code), errors.ErrKernel, "dump", "error reply from rtnetlink")
}

// decodeAndDispatch decodes an ifinfomsg + rtattr table and, if it is a
// NEWLINK/DELLINK frame naming an interface, calls cb.
func decodeAndDispatch(hdr Header, body []byte, cb Callback) error {
	if hdr.Type != RTM_NEWLINK && hdr.Type != RTM_DELLINK {
		return nil
	}
	if len(body) < ifinfoLen {
		return nil
	}

	msg := LinkMessage{
		Header: hdr,
		Index:  int32(binary.LittleEndian.Uint32(body[4:8])),
		Flags:  binary.LittleEndian.Uint32(body[8:12]),
		Type:   binary.LittleEndian.Uint16(body[2:4]),
	}

	attrs, err := parseAttrs(body[ifinfoLen:])
	if err != nil {
		return err
	}

	name, ok := attrs[IFLA_IFNAME]
	if !ok {
		return nil
	}
	msg.Name = cString(name)
	if addr, ok := attrs[IFLA_ADDRESS]; ok {
		msg.Address = append([]byte(nil), addr...)
	}

	if cb != nil {
		return cb(msg)
	}
	return nil
}

// parseAttrs walks a run of rtattr TLVs, mirroring parse_rtattrs.
func parseAttrs(buf []byte) (map[uint16][]byte, error) {
	tb := make(map[uint16][]byte)

	for len(buf) >= rtattrHdrLen {
		length := int(binary.LittleEndian.Uint16(buf[0:2]))
		kind := binary.LittleEndian.Uint16(buf[2:4])
		if length < rtattrHdrLen || length > len(buf) {
			return nil, errors.ErrMalformedFrame
		}

		tb[kind] = buf[rtattrHdrLen:length]

		adv := nlmsgAlign(length)
		if adv > len(buf) {
			break
		}
		buf = buf[adv:]
	}
	return tb, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
