// Package mediaflow is a framework for building media pipelines from
// components that exchange buffers through negotiated ports.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│               engine                │  Build, start, stop
//	│   (config -> nodes -> connections)  │  Health and metrics
//	└─────────────────────────────────────┘
//	           ↓ instantiates through
//	┌─────────────────────────────────────┐
//	│   component.Registry + providers    │  Static and discovered
//	│       (componentregistry)           │  component kinds
//	└─────────────────────────────────────┘
//	           ↓ creates
//	┌─────────────────────────────────────┐
//	│             components              │  State machine, ports,
//	│  (input, processor, output kinds)   │  control tree
//	└─────────────────────────────────────┘
//	           ↓ read and write
//	┌─────────────────────────────────────┐
//	│          content streams            │  mem: and file: URIs
//	│              (stream)               │
//	└─────────────────────────────────────┘
//
// A component moves through UNLOADED, LOADED, WAIT_FOR_RESOURCES, IDLE,
// EXECUTING and PAUSED. Moving a connected component to IDLE negotiates the
// buffer count and size of each connection with its peer; buffers then
// circulate between the two ports and are owned by exactly one side at a
// time. Any component can be invalidated; INVALID is terminal.
//
// # Packages
//
// Core:
//   - component: Component state machine, ports, connections, providers and registry
//   - control: Typed control tree with device synchronization
//   - stream: Content stream registry and window semantics
//   - stream/memory, stream/file: mem: and file: providers
//
// Pipeline:
//   - config: YAML configuration with layers, environment overrides and reload
//   - componentregistry: Built-in kinds arranged into configured providers
//   - engine: Pipeline build and lifecycle
//   - health: Component health derived from lifecycle state
//   - metric: Prometheus metrics and the metrics/health HTTP server
//   - errors: Error classes and kinds
//
// Components:
//   - input/pattern: Test frame source
//   - input/reader: Content stream source
//   - processor/passthrough: Forwards buffers unchanged
//   - processor/splitter: Fixed-size re-chunking
//   - output/writer: Content stream sink
//
// Utilities:
//   - pkg/arena: Buffer arena shared by a connection
//   - pkg/buffer: Circular queue of buffer handles in flight on a connection
//   - pkg/property: Typed property values
//   - pkg/devwatch: Device path discovery with hotplug
//   - pkg/retry: Backoff and polling
//   - pkg/worker: Worker pool for stream callbacks
//
// # Binary
//
//	# Run a pipeline until its sinks finish or it is interrupted
//	./bin/mediaflow --config configs/pipeline.yaml
//
//	# Check configuration and wiring without starting anything
//	./bin/mediaflow --config configs/pipeline.yaml --validate
//
//	# Show available components and stream schemes
//	./bin/mediaflow --config configs/pipeline.yaml --list
package mediaflow
