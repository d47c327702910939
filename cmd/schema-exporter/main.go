// Command schema-exporter writes the pipeline configuration schema and a
// catalog of the built-in component kinds, so editors and UIs can validate
// and offer pipeline documents without linking the framework.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

func main() {
	// Parse command-line flags
	outDir := flag.String("out", "./schemas", "Output directory for schemas")
	example := flag.String("validate", "", "Optional pipeline YAML to check against the exported schema")
	flag.Parse()

	log.Printf("Schema Exporter")
	log.Printf("  Output dir: %s", *outDir)

	files, err := export(*outDir)
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	for _, f := range files {
		log.Printf("  ✓ Generated: %s", f)
	}

	if *example != "" {
		if err := validateDocument(*example); err != nil {
			log.Fatalf("Validation failed for %s: %v", *example, err)
		}
		log.Printf("  ✓ Valid: %s", *example)
	}

	log.Printf("✅ Schema generation complete!")
}

// export writes the configuration schema and the component catalog to dir
// and returns the written paths.
func export(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	catalog, err := buildCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	if err := validateCatalog(catalog); err != nil {
		return nil, err
	}

	pipelinePath := filepath.Join(dir, "pipeline.v1.json")
	if err := os.WriteFile(pipelinePath, pipelineSchema(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write pipeline schema: %w", err)
	}

	catalogPath := filepath.Join(dir, "components.v1.json")
	if err := writeJSON(catalogPath, catalog); err != nil {
		return nil, fmt.Errorf("failed to write catalog: %w", err)
	}
	return []string{pipelinePath, catalogPath}, nil
}

// writeJSON writes v as indented JSON
func writeJSON(filename string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
