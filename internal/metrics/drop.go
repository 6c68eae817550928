package metrics

import "restbridge/logger"

// EmitDropMetric records one event dropped on its way to the host.
func EmitDropMetric(log *logger.Log, channel, kind string) {
	if eventsDropped != nil {
		eventsDropped.Inc()
	}
	fields := logger.Fields{"channel": channel}
	if kind != "" {
		fields["kind"] = kind
	}
	EmitMetric(log, "channel", "events_dropped", int64(1), "counter", fields)
}
