// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking IPv4 TCP sockets for the reactor: listen, accept,
// bounded-time connect, recv and send. Descriptors double as session
// handles, so everything here works on plain ints.

package transport
