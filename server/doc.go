// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The socket core facade: connection factory, admission, the single-threaded
// reactor loop, timers, periodic stats and configuration reloads. Every
// method except Reload must be called from the goroutine driving Run or
// Step.
package server
