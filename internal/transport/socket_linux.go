//go:build linux

// File: internal/transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux socket calls via golang.org/x/sys/unix.

package transport

import (
	"time"

	"github.com/samber/oops"
	"golang.org/x/sys/unix"

	"github.com/momentics/sockcore/api"
)

// Supported reports whether raw sockets are available on this platform.
const Supported = true

func sockaddr(ip uint32, port int) *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: port, Addr: api.IPv4Bytes(ip)}
}

func socket() (int, error) {
	return unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
}

// SetOptions applies the per-connection socket options: no Nagle delay and
// linger disabled so close never blocks.
func SetOptions(fd int) {
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	_ = unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 0, Linger: 0})
}

// Listen opens a non-blocking listening socket on ip:port. Port 0 picks an
// ephemeral port; see LocalPort.
func Listen(ip uint32, port, backlog int) (int, error) {
	errb := oops.In("transport").With("addr", api.FormatIPv4(ip)).With("port", port)
	fd, err := socket()
	if err != nil {
		return -1, errb.Wrapf(err, "socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errb.Wrapf(err, "setsockopt SO_REUSEADDR")
	}
	if err := unix.Bind(fd, sockaddr(ip, port)); err != nil {
		unix.Close(fd)
		return -1, errb.Wrapf(err, "bind")
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, errb.Wrapf(err, "listen")
	}
	return fd, nil
}

// LocalPort returns the port fd is bound to.
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, oops.In("transport").With("fd", fd).Wrapf(err, "getsockname")
	}
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		return in4.Port, nil
	}
	return 0, oops.In("transport").With("fd", fd).Wrapf(api.ErrNotSupported, "non-IPv4 socket")
}

// Accept takes one pending connection from lfd. It returns ErrWouldBlock
// when the backlog is empty.
func Accept(lfd int) (int, uint32, error) {
	for {
		fd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return -1, 0, api.ErrWouldBlock
		default:
			return -1, 0, oops.In("transport").With("listener", lfd).Wrapf(err, "accept")
		}
		var ip uint32
		if in4, ok := sa.(*unix.SockaddrInet4); ok {
			ip = uint32(in4.Addr[0])<<24 | uint32(in4.Addr[1])<<16 | uint32(in4.Addr[2])<<8 | uint32(in4.Addr[3])
		}
		return fd, ip, nil
	}
}

// Connect opens an outbound connection, waiting at most timeout for the
// handshake. The timeout must be positive. The descriptor is non-blocking on
// return and closed on failure.
func Connect(ip uint32, port int, timeout time.Duration) (int, error) {
	errb := oops.In("transport").With("addr", api.FormatIPv4(ip)).With("port", port)
	if timeout <= 0 {
		return -1, errb.With("timeout", timeout).Wrapf(api.ErrInvalidArgument, "unbounded connect")
	}
	fd, err := socket()
	if err != nil {
		return -1, errb.Wrapf(err, "socket")
	}
	SetOptions(fd)
	err = unix.Connect(fd, sockaddr(ip, port))
	if err == nil {
		return fd, nil
	}
	if err != unix.EINPROGRESS && err != unix.EINTR {
		unix.Close(fd)
		return -1, errb.Wrapf(err, "connect")
	}
	ms := int(timeout.Milliseconds())
	deadline := time.Now().Add(timeout)
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			ms = int(time.Until(deadline).Milliseconds())
			if ms < 0 {
				ms = 0
			}
			continue
		}
		if err != nil {
			unix.Close(fd)
			return -1, errb.Wrapf(err, "poll")
		}
		if n == 0 {
			unix.Close(fd)
			return -1, errb.With("timeout", timeout).Wrapf(api.ErrConnectTimeout, "connect")
		}
		break
	}
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soerr != 0 {
		err = unix.Errno(soerr)
	}
	if err != nil {
		unix.Close(fd)
		return -1, errb.Wrapf(err, "connect")
	}
	return fd, nil
}

// Recv reads into p. An orderly shutdown by the peer yields ErrPeerClosed;
// no data yet yields ErrWouldBlock.
func Recv(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, api.ErrWouldBlock
		case err != nil:
			return 0, oops.In("transport").With("fd", fd).Wrapf(err, "recv")
		case n == 0 && len(p) > 0:
			return 0, api.ErrPeerClosed
		}
		return n, nil
	}
}

// Send writes as much of p as the kernel takes without blocking. A full
// socket buffer yields 0 and ErrWouldBlock.
func Send(fd int, p []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(fd, p, nil, nil, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, api.ErrWouldBlock
		}
		return 0, oops.In("transport").With("fd", fd).Wrapf(err, "send")
	}
}

// Shutdown stops both directions without releasing the descriptor.
func Shutdown(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_RDWR)
}

// Close releases the descriptor.
func Close(fd int) error {
	return unix.Close(fd)
}

// MaxDescriptors returns the soft RLIMIT_NOFILE, the natural bound for
// descriptor-indexed handles.
func MaxDescriptors() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil || rl.Cur > 1<<20 {
		return 1 << 20
	}
	return int(rl.Cur)
}
