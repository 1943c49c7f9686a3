//go:build unix

// File: reactor/poll_unix.go
// Author: momentics <momentics@gmail.com>
//
// Portable poll(2) driver.

package reactor

import (
	"time"

	"github.com/samber/oops"
	"golang.org/x/sys/unix"

	"github.com/momentics/sockcore/api"
)

func init() { register("poll", newPoll) }

type pollDriver struct {
	fds   []unix.PollFd
	index map[int]int
}

func newPoll() (api.Poller, error) {
	return &pollDriver{index: make(map[int]int)}, nil
}

func (d *pollDriver) Name() string { return "poll" }

func (d *pollDriver) Add(fd int) error {
	if _, ok := d.index[fd]; ok {
		return oops.In("reactor").With("fd", fd).Wrapf(api.ErrHandleInUse, "poll add")
	}
	d.index[fd] = len(d.fds)
	d.fds = append(d.fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	return nil
}

func (d *pollDriver) Remove(fd int) error {
	i, ok := d.index[fd]
	if !ok {
		return oops.In("reactor").With("fd", fd).Wrapf(api.ErrInvalidHandle, "poll remove")
	}
	last := len(d.fds) - 1
	if i != last {
		d.fds[i] = d.fds[last]
		d.index[int(d.fds[i].Fd)] = i
	}
	d.fds = d.fds[:last]
	delete(d.index, fd)
	return nil
}

// Wait reports at most len(ready) descriptors; the rest stay ready for the
// next call since polling is level-triggered.
func (d *pollDriver) Wait(timeout time.Duration, ready []int) (int, error) {
	if len(d.fds) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return 0, nil
	}
	n, err := unix.Poll(d.fds, millis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, oops.In("reactor").Wrapf(err, "poll")
	}
	out := 0
	for i := range d.fds {
		if n == 0 || out == len(ready) {
			break
		}
		if d.fds[i].Revents != 0 {
			ready[out] = int(d.fds[i].Fd)
			out++
			n--
		}
	}
	return out, nil
}

func (d *pollDriver) Close() error {
	d.fds = nil
	clear(d.index)
	return nil
}
