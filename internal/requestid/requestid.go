// Package requestid holds the single process-wide atomic request-id
// source described in spec §3 and §9: a monotonically increasing 32-bit
// counter starting at 1, used only for uniqueness per connection and
// debuggability across them (design note: "a single process-wide
// monotonic source is acceptable and expected").
package requestid

import "sync/atomic"

var counter uint32

// Next returns the next request id. It wraps past math.MaxUint32 back to
// 1, never returning 0. Every outbound message, OP_KILL_CURSORS
// included, takes its id from here.
func Next() int32 {
	for {
		v := atomic.AddUint32(&counter, 1)
		if v != 0 {
			return int32(v)
		}
		// v == 0 means the counter wrapped exactly onto zero; skip it.
	}
}
