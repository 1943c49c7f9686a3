//go:build unix && !linux

package reactor

const defaultDriver = "poll"
