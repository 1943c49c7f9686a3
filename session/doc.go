// Package session
// Author: momentics <momentics@gmail.com>
//
// Session records and the handle-indexed registry that owns them.
// Protocol code reaches received bytes through Unread/Reader/Skip and queues
// replies through WriteHead/Writer/WriteSet; nothing else crosses the core
// boundary.
package session
