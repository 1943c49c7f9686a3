// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration control for the socket core: the typed Config, the
// line-oriented directive loader with import support, a reload-aware
// store, the fsnotify file watcher and runtime debug probes.
//
// Values resolve in this order: command-line flags bound to the loader's
// viper instance, SOCKCORE_* environment variables, directive files, then
// the built-in defaults.
package control
