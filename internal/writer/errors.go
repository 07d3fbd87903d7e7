package writer

import "errors"

// ErrQueueFull is returned by a batcher's Add when its queue cap is already reached; the bus consumer treats this as the
// signal to pause rather than accept more work.
var ErrQueueFull = errors.New("writer: queue at capacity")
