// Package testutil provides helpers for tests that build pipelines.
//
// PipelineBuilder assembles a config.Config without YAML:
//
//	cfg := testutil.NewPipelineBuilder(t.TempDir()).
//	    Node("pattern", map[string]any{"frames": 3}).
//	    Node("writer", map[string]any{"uri": "file:out.raw"}).
//	    Connect("pattern.0", "writer.0").
//	    Build()
//
// Builders hold no domain defaults beyond config.Default; every node and
// connection is stated by the caller.
package testutil
