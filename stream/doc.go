// Package stream provides content streams: buffered byte channels that
// sources and sinks read from and write to, with windowed seeking and
// readiness callbacks.
//
// A Provider owns content under one URI scheme ("mem", "file"). Create makes
// new content and returns a stream on it; Open attaches another stream with
// its own cursor and access mode. Providers implementing Replacer also
// supersede existing content. The Registry routes URIs to providers:
//
//	streams := stream.NewRegistry(deps)
//	_ = streams.Register(memory.NewProvider(deps, settings))
//	w, _ := streams.Create("mem:frames")
//	r, _ := streams.Open("mem:frames", stream.AccessRead)
//
// Positions are absolute byte offsets. START is offset zero and END the end
// of everything written; FIRST and LAST bound the window that is still
// available, which is narrower than START..END when consumed bytes have been
// discarded. Seeking outside FIRST..LAST fails with errors.ErrOutOfWindow.
//
// Readiness is pushed, not polled. OnBytesAvailableToRead and
// OnBytesAvailableToWrite fire once when their threshold is met, at once if
// it already is. OnEOS fires once after the last writer finishes and
// OnDisconnect once if the transport fails. Callbacks of a stream run one at
// a time on a notification goroutine owned by that stream; long work belongs
// on another goroutine.
package stream
