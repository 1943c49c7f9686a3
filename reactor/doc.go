// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness drivers the server loop waits on:
// level-triggered epoll(7) on Linux and poll(2) on every unix.
package reactor
