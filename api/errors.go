// Package api
// Author: momentics <momentics@gmail.com>
//
// Sentinel errors shared across sockcore packages.

package api

import "errors"

// Common errors used across the library.
var (
	// ErrFatal marks conditions after which the process cannot serve its
	// purpose (own listener setup). Callers test it with errors.Is and exit.
	ErrFatal           = errors.New("fatal")
	ErrNotSupported    = errors.New("operation not supported")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidHandle   = errors.New("invalid session handle")
	ErrReservedHandle  = errors.New("handle 0 is reserved")
	ErrHandleLimit     = errors.New("handle exceeds descriptor bound")
	ErrHandleInUse     = errors.New("handle already in use")
	ErrSessionClosed   = errors.New("session is closed")
	ErrConnectTimeout  = errors.New("connect timed out")
	ErrWouldBlock      = errors.New("operation would block")
	ErrPeerClosed      = errors.New("peer closed connection")
	ErrBackpressure    = errors.New("write queue ceiling exceeded")
	ErrPacketDropped   = errors.New("packet dropped")
)
