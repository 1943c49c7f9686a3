//go:build !unix

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// No readiness driver exists on this platform; New reports ErrNotSupported.

package reactor

const defaultDriver = "none"
