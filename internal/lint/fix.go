package lint

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

// Apply rewrites the affected files, deleting every duplicate occurrence
// the report did not keep. The edit works on the YAML document tree so
// comments and formatting outside the removed entries survive.
func Apply(report *Report) error {
	for path, indices := range report.Removals() {
		if err := removeTests(path, indices); err != nil {
			return fmt.Errorf("fixing %s: %w", path, err)
		}
		logging.Info("Lint", "Removed %d duplicate test(s) from %s", len(indices), path)
	}
	return nil
}

func removeTests(path string, indices []int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	tests := testsSequence(&doc)
	if tests == nil {
		return fmt.Errorf("no tests sequence found")
	}

	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(tests.Content) {
			return fmt.Errorf("test index %d out of range (%d tests)", i, len(tests.Content))
		}
		drop[i] = true
	}
	kept := tests.Content[:0]
	for i, node := range tests.Content {
		if !drop[i] {
			kept = append(kept, node)
		}
	}
	tests.Content = kept

	out, err := yaml.Marshal(doc.Content[0])
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

// testsSequence finds the top-level tests sequence node.
func testsSequence(doc *yaml.Node) *yaml.Node {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	mapping := doc.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		if key.Value == "tests" && value.Kind == yaml.SequenceNode {
			return value
		}
	}
	return nil
}
