// Package engine builds a pipeline of components from configuration and
// drives it through its lifecycle.
//
// # Overview
//
// New validates a config.Config, creates the content stream registry (mem:
// and file:) and populates a component registry with the configured
// providers. Build instantiates every pipeline node from that registry,
// applies its properties and controls, then connects the ports named by the
// connections:
//
//	pipeline:
//	  nodes:
//	    - component: pattern
//	      properties: {frames: 100, frame_size: 4096}
//	      controls: {pattern: gradient}
//	    - component: writer
//	      properties: {uri: "file:capture.raw"}
//	  connections:
//	    - {from: pattern.0, to: writer.0}
//
// # Lifecycle
//
// Start runs in two phases. Every node is first moved to IDLE, which
// negotiates buffers on every connection, and only then are all nodes moved
// to EXECUTING. Nodes of one phase transition concurrently so that
// connected peers can negotiate with each other.
//
// Stop mirrors Start: every processing node returns to IDLE before any node
// unloads, so no buffer is released while a peer may still hold it. A
// stopped pipeline stays built and can be started again. Close stops,
// disconnects and releases every node and closes the stream providers.
//
// Run starts the pipeline and blocks until every sink reports it has
// finished, a node becomes INVALID, Stop is called or the context ends. It
// then stops the pipeline within timeouts.shutdown:
//
//	eng, err := engine.New(cfg, engine.Options{Logger: logger, MetricsRegistry: reg})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close(context.Background())
//	if err := eng.Build(ctx); err != nil {
//	    return err
//	}
//	return eng.Run(ctx)
//
// # Health and Metrics
//
// Every node is tracked by a health.Monitor; Health aggregates them under
// "pipeline". With a metric.MetricsRegistry the engine records build, start
// and stop counts and durations, node failures and the number of built
// nodes in the mediaflow_engine_* family.
package engine
