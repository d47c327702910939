// Package health reports the health of pipeline components and of the
// pipeline as a whole.
//
// # Health States
//
// A Status is healthy, degraded or unhealthy. FromComponent derives one from
// a component's lifecycle state:
//
//	INVALID                      unhealthy, message is the sanitized cause
//	PAUSED, WAIT_FOR_RESOURCES   degraded
//	anything else                healthy
//
// # Monitor
//
// Monitor holds one Status per name and is safe for concurrent use. Track
// subscribes to a component's state changes so its status follows the
// lifecycle without polling:
//
//	monitor := health.NewMonitor()
//	for _, c := range components {
//	    defer monitor.Track(c)()
//	}
//	status := monitor.AggregateHealth("pipeline")
//
// Aggregation is worst case: a single unhealthy status makes the aggregate
// unhealthy, otherwise a single degraded one makes it degraded.
//
// # Sanitization
//
// Messages taken from component errors have URLs, file and device paths, IP
// addresses, ports and credentials replaced by placeholders, so health
// documents can be served on an unauthenticated endpoint:
//
//	"open /dev/video0: rtsp://admin:pw@10.0.0.5 refused"
//	→ "open [PATH]: [URL] refused"
//
// Status values are immutable; WithMetrics and WithSubStatus return copies.
// The package returns no errors: a Status is the outcome of error handling,
// not part of it.
package health
