// Package admission
// Author: momentics <momentics@gmail.com>
//
// Inbound connection gate: ordered allow/deny address rules plus a
// per-address sliding-window counter that flags flooding sources.
package admission
