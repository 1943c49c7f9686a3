//go:build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
//
// Level-triggered epoll(7) driver.

package reactor

import (
	"time"

	"github.com/samber/oops"
	"golang.org/x/sys/unix"

	"github.com/momentics/sockcore/api"
)

const defaultDriver = "epoll"

func init() { register("epoll", newEpoll) }

type epollDriver struct {
	epfd   int
	events []unix.EpollEvent
}

func newEpoll() (api.Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, oops.In("reactor").Wrapf(err, "epoll create")
	}
	return &epollDriver{epfd: epfd, events: make([]unix.EpollEvent, 64)}, nil
}

func (d *epollDriver) Name() string { return "epoll" }

// Add registers fd for EPOLLIN. Hangups and errors are reported through the
// same readiness so the following recv observes them.
func (d *epollDriver) Add(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return oops.In("reactor").With("fd", fd).Wrapf(err, "epoll ctl add")
	}
	return nil
}

func (d *epollDriver) Remove(fd int) error {
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return oops.In("reactor").With("fd", fd).Wrapf(err, "epoll ctl del")
	}
	return nil
}

func (d *epollDriver) Wait(timeout time.Duration, ready []int) (int, error) {
	if len(ready) == 0 {
		return 0, nil
	}
	if len(d.events) < len(ready) {
		d.events = make([]unix.EpollEvent, len(ready))
	}
	n, err := unix.EpollWait(d.epfd, d.events[:len(ready)], millis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, oops.In("reactor").Wrapf(err, "epoll wait")
	}
	for i := 0; i < n; i++ {
		ready[i] = int(d.events[i].Fd)
	}
	return n, nil
}

func (d *epollDriver) Close() error {
	return unix.Close(d.epfd)
}
