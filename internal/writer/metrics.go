package writer

import "time"

// Metrics is the subset of health.Registry every per-type batcher reports
// into. Kept as a
// small local interface, the same way bus.Publisher takes a FailureNotifier
// rather than importing the health package directly.
type Metrics interface {
	RecordQueueDepth(dataType string, depth int)
	RecordInsertLatency(dataType string, d time.Duration)
}

// metricsHook is embedded in every per-type batcher so SetMetrics and the
// two report helpers are promoted without repeating them eight times.
// Left zero-valued (metrics == nil), every report call is a silent no-op —
// every existing test constructing a batcher directly keeps working
// without calling SetMetrics.
type metricsHook struct {
	metrics  Metrics
	dataType string
}

// SetMetrics wires m to report this batcher's queue depth and insert
// latency under dataType (e.g. "trade", "orderbook").
func (h *metricsHook) SetMetrics(m Metrics, dataType string) {
	h.metrics = m
	h.dataType = dataType
}

func (h *metricsHook) reportQueueDepth(depth int) {
	if h.metrics != nil {
		h.metrics.RecordQueueDepth(h.dataType, depth)
	}
}

func (h *metricsHook) reportInsertLatency(d time.Duration) {
	if h.metrics != nil {
		h.metrics.RecordInsertLatency(h.dataType, d)
	}
}
