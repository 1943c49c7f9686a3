// Package pool
// Author: momentics <momentics@gmail.com>
//
// FIFO buffer manager for sockcore sessions.
// One reusable byte array per direction per session: the read FIFO keeps a
// consumed cursor, the write FIFO keeps a pending length and grows in coarse
// steps. Backing arrays are recycled through a size-classed BytePool.
// Reader and Writer give bounds-checked little-endian access at fixed offsets.
package pool
