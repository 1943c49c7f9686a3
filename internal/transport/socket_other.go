//go:build !linux

// File: internal/transport/socket_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Placeholder for platforms without the raw socket layer.

package transport

import (
	"time"

	"github.com/momentics/sockcore/api"
)

const Supported = false

func SetOptions(int) {}

func Listen(uint32, int, int) (int, error) { return -1, api.ErrNotSupported }

func LocalPort(int) (int, error) { return 0, api.ErrNotSupported }

func Accept(int) (int, uint32, error) { return -1, 0, api.ErrNotSupported }

func Connect(uint32, int, time.Duration) (int, error) { return -1, api.ErrNotSupported }

func Recv(int, []byte) (int, error) { return 0, api.ErrNotSupported }

func Send(int, []byte) (int, error) { return 0, api.ErrNotSupported }

func Shutdown(int) error { return api.ErrNotSupported }

func Close(int) error { return api.ErrNotSupported }

func MaxDescriptors() int { return 1024 }
