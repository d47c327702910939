// Package config loads and validates mediaflow pipeline configuration.
//
// Configuration is YAML. Every file layer is checked against an embedded JSON
// schema (see Schema), decoded strictly so unknown keys fail, then the merged
// result passes semantic validation: name rules, unique nodes, and
// connections that refer to declared nodes.
//
// # Document Layout
//
//	version: "1"
//	providers:
//	  - name: builtin
//	    components:
//	      - {name: cam, kind: pattern}
//	      - {name: sink, kind: writer}
//	  - name: devices
//	    discover: ["/dev/video*"]
//	    components:
//	      - {name: capture, kind: reader}
//	streams:
//	  capacity: 1048576
//	  notify_queue: 64
//	  ready_timeout: 5s
//	  file_root: ./media
//	timeouts:
//	  negotiation: 5s
//	  control: 2s
//	  shutdown: 10s
//	pipeline:
//	  nodes:
//	    - component: cam
//	      properties: {frames: 100, frame_size: 4096}
//	      controls: {level: 200}
//	    - component: sink
//	      properties: {uri: "file:out/cam.raw"}
//	  connections:
//	    - {from: cam.0, to: sink.0}
//
// Ports are addressed as "node.index". A node's name defaults to its
// component name.
//
// # Loading
//
//	loader := config.NewLoader()
//	loader.AddLayer("pipeline.yaml")
//	loader.AddLayer("site.yaml") // overrides
//	cfg, err := loader.Load()
//
// Environment variables prefixed MEDIAFLOW_ override stream settings and
// timeouts after all layers, e.g. MEDIAFLOW_NEGOTIATION_TIMEOUT=10s.
//
// # Reloading
//
// Manager keeps the current configuration in a SafeConfig and reloads it when
// the file changes on disk, publishing successful reloads on OnChange
// channels. An invalid edit is logged and the previous configuration stays.
package config
