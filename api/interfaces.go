// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package api

import "time"

// Handle is the small integer identifying a session. It doubles as the
// socket descriptor for socket-backed sessions. Handle 0 is reserved.
type Handle int

// Valid reports whether h may identify a real peer.
func (h Handle) Valid() bool { return h > 0 }

// Poller abstracts the readiness primitive the reactor waits on.
type Poller interface {
	// Name identifies the driver ("epoll", "poll").
	Name() string
	// Add registers fd for read readiness.
	Add(fd int) error
	// Remove drops fd from the interest set.
	Remove(fd int) error
	// Wait blocks up to timeout and writes ready descriptors into ready.
	// A negative timeout blocks until an event arrives.
	Wait(timeout time.Duration, ready []int) (int, error)
	// Close releases the driver.
	Close() error
}

// Clock supplies the reactor's notion of now.
type Clock func() time.Time
